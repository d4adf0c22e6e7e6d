package jobs

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ZerkerEOD/krakenwifi/internal/engine"
	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	jobstate "github.com/ZerkerEOD/krakenwifi/internal/jobs"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/internal/repository"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
	"github.com/ZerkerEOD/krakenwifi/pkg/httputil"
)

// JobService is the part of the engine the HTTP API drives
type JobService interface {
	Submit(ctx context.Context, req models.AttackRequest) (*models.Job, error)
	Restart(ctx context.Context, jobID string) (*models.Job, error)
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Stop(ctx context.Context, jobID string) error
	GetStatus(ctx context.Context, jobID string) (*models.Job, error)
	GetResults(ctx context.Context, jobID string) ([]models.CrackResult, error)
	GetProgress(ctx context.Context, jobID string) ([]models.ProgressSnapshot, error)
	List(ctx context.Context, filter repository.JobFilter) ([]*models.Job, error)
	Stats() engine.Stats
}

type JobHandler struct {
	service JobService
}

func NewJobHandler(service JobService) *JobHandler {
	return &JobHandler{service: service}
}

// SubmitResponse is returned by a successful submit
type SubmitResponse struct {
	JobID string          `json:"job_id"`
	State models.JobState `json:"state"`
}

// ActionResponse acknowledges a pause, resume or stop request. The state change itself is
// observable through GetJob.
type ActionResponse struct {
	JobID  string          `json:"job_id"`
	Action string          `json:"action"`
	State  models.JobState `json:"state"`
}

// SubmitJob handles job submission
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req models.AttackRequest
	if err := httputil.ParseJSONBody(r, &req); err != nil {
		debug.Warning("failed to decode attack request: %v", err)
		httputil.RespondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "submit job")
		return
	}
	httputil.RespondWithJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, State: job.State})
}

// ListJobs handles listing jobs, optionally filtered by state
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := repository.JobFilter{
		State:  models.JobState(httputil.GetQueryParam(r, "state")),
		Limit:  httputil.GetIntQueryParam(r, "limit", 0),
		Offset: httputil.GetIntQueryParam(r, "offset", 0),
	}
	if filter.State != "" && !filter.State.Valid() {
		httputil.RespondWithError(w, http.StatusBadRequest, "Unknown state: "+string(filter.State))
		return
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err, "list jobs")
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	httputil.RespondWithJSON(w, http.StatusOK, list)
}

// GetJob handles retrieving a single job
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "get job")
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, job)
}

// GetResults handles retrieving the results recovered so far
func (h *JobHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.GetResults(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "get results")
		return
	}
	if results == nil {
		results = []models.CrackResult{}
	}
	httputil.RespondWithJSON(w, http.StatusOK, results)
}

// GetProgress handles retrieving the progress history
func (h *JobHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.GetProgress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "get progress")
		return
	}
	if history == nil {
		history = []models.ProgressSnapshot{}
	}
	httputil.RespondWithJSON(w, http.StatusOK, history)
}

func (h *JobHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "pause", h.service.Pause)
}

func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "resume", h.service.Resume)
}

func (h *JobHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "stop", h.service.Stop)
}

// RestartJob submits a new job from a finished job's request
func (h *JobHandler) RestartJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Restart(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "restart job")
		return
	}
	httputil.RespondWithJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, State: job.State})
}

// Health reports scheduler load
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.service.Stats(),
	})
}

func (h *JobHandler) act(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	id := mux.Vars(r)["id"]
	debug.Info("%s requested for job %s", action, id)

	if err := fn(r.Context(), id); err != nil {
		h.respondError(w, err, action+" job")
		return
	}

	resp := ActionResponse{JobID: id, Action: action}
	if job, err := h.service.GetStatus(r.Context(), id); err == nil {
		resp.State = job.State
	}
	httputil.RespondWithJSON(w, http.StatusOK, resp)
}

// respondError maps engine errors onto status codes
func (h *JobHandler) respondError(w http.ResponseWriter, err error, action string) {
	var invalid *hashcat.InvalidAttackParametersError
	switch {
	case errors.As(err, &invalid):
		httputil.RespondWithErrorDetails(w, http.StatusBadRequest, hashcat.ErrInvalidAttackParameters.Error(), invalid.Violations)
	case errors.Is(err, engine.ErrJobNotFound):
		httputil.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrDuplicateJob),
		errors.Is(err, engine.ErrJobActive),
		errors.Is(err, jobstate.ErrInvalidTransition),
		errors.Is(err, jobstate.ErrUnsupportedOperation),
		errors.Is(err, jobstate.ErrJobTerminal):
		httputil.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		debug.Error("failed to %s: %v", action, err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
