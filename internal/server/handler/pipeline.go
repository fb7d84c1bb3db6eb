package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// JobTrigger starts scheduled jobs out of schedule.
type JobTrigger interface {
	Trigger(name string) error
	Jobs() []string
}

// JobsHandler lets an operator run the sweep or report job immediately.
type JobsHandler struct {
	jobs   JobTrigger
	logger *slog.Logger
}

func NewJobsHandler(jobs JobTrigger, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, logger: logger}
}

// List returns the scheduled job names.
// GET /api/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Jobs()})
}

// Trigger enqueues one run of the named job.
// POST /api/jobs/{name}
func (h *JobsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.jobs.Trigger(name); err != nil {
		writeDomainError(w, r, h.logger, "trigger job", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: job triggered",
		slog.String("job", name),
		slog.String("identity", r.Header.Get(IdentityHeader)),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"job":          name,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
