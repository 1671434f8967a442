package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/api"
	"github.com/meikuraledutech/flow/schedule"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, workers and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			registry, err := newRegistry(cfg.Executors)
			if err != nil {
				return err
			}
			broker := flow.NewBroker(cfg.Engine.SubscriberBuffer)
			orch := flow.NewOrchestrator(store, registry, broker,
				flow.WithParallelism(cfg.Engine.Parallelism),
				flow.WithLogger(logger),
			)

			worker := flow.NewWorker(orch, store, flow.WorkerConfig{
				Concurrency:  cfg.Engine.Workers,
				QueueSize:    cfg.Engine.QueueSize,
				PollInterval: cfg.Engine.PollInterval,
			}, logger)
			worker.Start(ctx)
			if err := worker.Recover(ctx); err != nil {
				logger.Error("recover jobs", "error", err)
			}

			queue := flow.NewQueue(store, store, worker, logger, flow.WithTopicCloser(broker))

			sched := schedule.New(queue, nil, logger)
			for _, e := range cfg.Schedules {
				if err := sched.Add(e); err != nil {
					return err
				}
			}
			sched.Start()

			srv := api.New(store, queue, broker, api.Config{
				JWTSecret: []byte(cfg.Auth.JWTSecret),
				Issuer:    cfg.Auth.Issuer,
				Logger:    logger,
			})
			if len(cfg.Auth.JWTSecret) == 0 {
				logger.Warn("authentication disabled, callers are identified by the " + api.DevUserHeader + " header")
			}

			errc := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
				errc <- srv.Listen(cfg.Server.Addr)
			}()

			select {
			case <-ctx.Done():
			case err = <-errc:
				stop()
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Error("api shutdown", "error", serr)
			}
			<-sched.Stop().Done()
			worker.Wait()

			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
