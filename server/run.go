package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/config"
	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/memory"
)

func newRunCmd() *cobra.Command {
	var (
		input       string
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a workflow JSON file once, in memory, and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg := log.DefaultConfig()
			log.ApplyEnv(logCfg)
			logger := log.New(logCfg)
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var g flow.Graph
			if err := json.Unmarshal(data, &g); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if g.WorkflowID == "" {
				g.WorkflowID = "local"
			}
			g.OwnerID = ""

			var payload flow.ManualPayload
			if input != "" {
				if err := json.Unmarshal([]byte(input), &payload.Input); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}

			store := memory.New()
			if err := store.SaveWorkflow(ctx, &g); err != nil {
				return err
			}
			registry, err := newRegistry(config.Default().Executors)
			if err != nil {
				return err
			}
			broker := flow.NewBroker(0)
			orch := flow.NewOrchestrator(store, registry, broker,
				flow.WithParallelism(parallelism),
				flow.WithLogger(logger),
			)
			queue := flow.NewQueue(store, store, nil, logger)

			jobID, err := queue.Enqueue(ctx, flow.TriggerRequest{WorkflowID: g.WorkflowID, Payload: payload})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sub := broker.Subscribe(flow.JobTopic(jobID))
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for ev := range sub.Events() {
					line := fmt.Sprintf("%-20s %s", ev.NodeID, ev.Status)
					if ev.Error != "" {
						line += "  " + ev.Error
					}
					fmt.Fprintln(out, line)
				}
			}()

			result, err := orch.Run(ctx, jobID)
			sub.Close()
			<-printed
			if err != nil {
				return err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.Status != flow.JobSucceeded {
				return fmt.Errorf("job %s %s", jobID, result.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "manual trigger input as a JSON object")
	cmd.Flags().IntVar(&parallelism, "parallelism", flow.DefaultParallelism, "nodes run at once")
	return cmd
}
