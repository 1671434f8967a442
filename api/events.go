package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/flow"
)

// jobEvents streams the status events of one job as Server-Sent Events.
// The stream ends with a "done" event once the job has finished.
func (s *Server) jobEvents(c fiber.Ctx) error {
	jobID := c.Params("id")

	// Subscribe before reading the job so no event falls in between.
	sub := s.broker.Subscribe(flow.JobTopic(jobID))
	job, err := s.ownedJob(c)
	if err != nil {
		sub.Close()
		return s.writeError(c, err)
	}
	if job.Status.Terminal() {
		sub.Close()
	}

	setStreamHeaders(c)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		if !s.stream(w, sub) {
			return
		}
		final, err := s.store.GetJob(context.Background(), jobID)
		if err != nil {
			return
		}
		writeEvent(w, "done", fiber.Map{"job_id": final.ID, "status": final.Status, "error": final.Error})
		w.Flush()
	})
}

// workflowEvents streams the status events of every job of a workflow
// until the client disconnects.
func (s *Server) workflowEvents(c fiber.Ctx) error {
	g, err := s.ownedGraph(c)
	if err != nil {
		return s.writeError(c, err)
	}
	sub := s.broker.Subscribe(flow.WorkflowTopic(g.WorkflowID))

	setStreamHeaders(c)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		s.stream(w, sub)
	})
}

func setStreamHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}

// stream copies events to w until the subscription closes, returning true,
// or the client goes away, returning false.
func (s *Server) stream(w *bufio.Writer, sub *flow.Subscription) bool {
	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			writeEvent(w, "status", ev)
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		if err := w.Flush(); err != nil {
			return false
		}
	}
}

func writeEvent(w *bufio.Writer, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
