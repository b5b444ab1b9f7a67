package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/scheduler"
)

// JobStatusReader 任务状态
type JobStatusReader interface {
	GetJobStatus(ctx context.Context, job string) (*models.JobStatus, error)
}

// JobRunner 手动触发
type JobRunner interface {
	Jobs() []scheduler.Job
	RunJob(ctx context.Context, name string) (bool, error)
}

// JobHandler 任务状态接口
// 距上次成功超过两个周期（或从未成功）视为 stale
type JobHandler struct {
	statuses JobStatusReader
	runner   JobRunner
	clock    func() time.Time
	logger   *zap.Logger
}

func NewJobHandler(statuses JobStatusReader, runner JobRunner, logger *zap.Logger) *JobHandler {
	return &JobHandler{statuses: statuses, runner: runner, clock: time.Now, logger: logger}
}

func (h *JobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, apiPrefix+"/jobs")
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListJobs(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetJob(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "run":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.RunJob(w, r, parts[0])
	default:
		notFound(w)
	}
}

func (h *JobHandler) findJob(name string) (scheduler.Job, bool) {
	for _, j := range h.runner.Jobs() {
		if j.Name == name {
			return j, true
		}
	}
	return scheduler.Job{}, false
}

func (h *JobHandler) status(ctx context.Context, job scheduler.Job) (*models.JobStatus, error) {
	status, err := h.statuses.GetJobStatus(ctx, job.Name)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = &models.JobStatus{Job: job.Name}
	}
	status.Stale = isStale(status, job.Interval, h.clock())
	return status, nil
}

func isStale(status *models.JobStatus, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	if status.LastSuccessAt == nil {
		return true
	}
	return now.Sub(*status.LastSuccessAt) > 2*interval
}

// ListJobs GET /api/v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.runner.Jobs()
	items := make([]*models.JobStatus, 0, len(jobs))
	for _, job := range jobs {
		status, err := h.status(r.Context(), job)
		if err != nil {
			writeError(w, h.logger, "GetJobStatus", err)
			return
		}
		items = append(items, status)
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": items, "total": len(items)}))
}

// GetJob GET /api/v1/jobs/{name}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request, name string) {
	job, ok := h.findJob(name)
	if !ok {
		notFound(w)
		return
	}
	status, err := h.status(r.Context(), job)
	if err != nil {
		writeError(w, h.logger, "GetJobStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// RunJob POST /api/v1/jobs/{name}/run
// 同名任务正在运行时 ran=false
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request, name string) {
	ran, err := h.runner.RunJob(r.Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		notFound(w)
		return
	}
	if err != nil {
		writeError(w, h.logger, "RunJob", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"job": name, "ran": ran}))
}
