package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/flow"
)

type runRequest struct {
	Input map[string]any `json:"input"`
}

// putWorkflow stores a workflow snapshot. The caller becomes the owner of a
// new workflow; an existing workflow may only be replaced by its owner.
func (s *Server) putWorkflow(c fiber.Ctx) error {
	var g flow.Graph
	if err := c.Bind().JSON(&g); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	g.WorkflowID = c.Params("id")
	user := caller(c)

	existing, err := s.store.LoadGraph(c.Context(), g.WorkflowID)
	switch {
	case errors.Is(err, flow.ErrWorkflowNotFound):
		if user != "" {
			g.OwnerID = user
		}
	case err != nil:
		return s.writeError(c, err)
	default:
		if existing.OwnerID != "" && existing.OwnerID != user {
			return s.writeError(c, flow.ErrUnauthorized)
		}
		g.OwnerID = existing.OwnerID
	}

	if err := s.store.SaveWorkflow(c.Context(), &g); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(g)
}

func (s *Server) getWorkflow(c fiber.Ctx) error {
	g, err := s.ownedGraph(c)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(g)
}

// ownedGraph loads the workflow named in the path. Workflows of other users
// are reported as missing.
func (s *Server) ownedGraph(c fiber.Ctx) (*flow.Graph, error) {
	g, err := s.store.LoadGraph(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if g.OwnerID != "" && g.OwnerID != caller(c) {
		return nil, flow.ErrWorkflowNotFound
	}
	return g, nil
}

func (s *Server) runWorkflow(c fiber.Ctx) error {
	var req runRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
	}

	jobID, err := s.queue.Enqueue(c.Context(), flow.TriggerRequest{
		WorkflowID: c.Params("id"),
		UserID:     caller(c),
		Payload:    flow.ManualPayload{Input: req.Input},
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": jobID})
}

func (s *Server) webhook(c fiber.Ctx) error {
	payload := flow.WebhookPayload{
		Method:  c.Method(),
		Path:    c.Path(),
		Headers: make(map[string]string),
		Query:   c.Queries(),
		Body:    webhookBody(c.Body()),
	}
	for k, v := range c.GetReqHeaders() {
		if len(v) > 0 && k != fiber.HeaderAuthorization && k != fiber.HeaderCookie {
			payload.Headers[k] = v[0]
		}
	}

	jobID, err := s.queue.Enqueue(c.Context(), flow.TriggerRequest{
		WorkflowID: c.Params("id"),
		Payload:    payload,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": jobID})
}

// webhookBody keeps JSON bodies and wraps anything else as a JSON string.
func webhookBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	s, _ := json.Marshal(string(body))
	return s
}

// ownedJob loads the job named in the path. Jobs of other users are
// reported as missing.
func (s *Server) ownedJob(c fiber.Ctx) (*flow.Job, error) {
	job, err := s.store.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if job.UserID != "" && job.UserID != caller(c) {
		return nil, flow.ErrJobNotFound
	}
	return job, nil
}

func (s *Server) getJob(c fiber.Ctx) error {
	job, err := s.ownedJob(c)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(job)
}

func (s *Server) cancelJob(c fiber.Ctx) error {
	job, err := s.ownedJob(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.queue.Cancel(c.Context(), job.ID); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"job_id": job.ID, "status": flow.JobCanceled})
}
