package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// AlertManager 报警查询与处理
type AlertManager interface {
	ListActive(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error)
	GetAlertByID(ctx context.Context, alertID string) (*models.Alert, error)
	Stats(ctx context.Context, now time.Time) (models.AlertStats, error)
	Resolve(ctx context.Context, alertID, resolvedBy, resolvedAction string) (*models.ResolveOutcome, error)
	Escalate(ctx context.Context, alertID string, priority models.AlertPriority) (bool, error)
}

// AlertHandler 报警接口
type AlertHandler struct {
	alerts AlertManager
	clock  func() time.Time
	logger *zap.Logger
}

func NewAlertHandler(alerts AlertManager, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, clock: time.Now, logger: logger}
}

func (h *AlertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, apiPrefix+"/alerts")
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListActive(w, r)
	case len(parts) == 1 && parts[0] == "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Stats(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetAlert(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Resolve(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "escalate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Escalate(w, r, parts[0])
	default:
		notFound(w)
	}
}

// ListActive GET /api/v1/alerts?type=overdue_loan&priority=critical&limit=50
func (h *AlertHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.AlertFilters{Limit: parseInt(q.Get("limit"), 0)}
	if v := q.Get("type"); v != "" {
		t := models.AlertType(v)
		filters.Type = &t
	}
	if v := q.Get("priority"); v != "" {
		p := models.AlertPriority(v)
		filters.Priority = &p
	}

	alerts, err := h.alerts.ListActive(r.Context(), filters)
	if err != nil {
		writeError(w, h.logger, "ListActive", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": alerts,
		"total": len(alerts),
	}))
}

// Stats GET /api/v1/alerts/stats
func (h *AlertHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context(), h.clock())
	if err != nil {
		writeError(w, h.logger, "AlertStats", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

// GetAlert GET /api/v1/alerts/{id}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	alert, err := h.alerts.GetAlertByID(r.Context(), alertID)
	if err != nil {
		writeError(w, h.logger, "GetAlert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

type resolveRequest struct {
	ResolvedBy     string `json:"resolvedBy"`
	ResolvedAction string `json:"resolvedAction"`
}

// Resolve POST /api/v1/alerts/{id}/resolve
// 审计日志写入失败时仍返回成功，type 为 warning
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request, alertID string) {
	var req resolveRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = r.Header.Get("X-User-Id")
	}

	outcome, err := h.alerts.Resolve(r.Context(), alertID, req.ResolvedBy, req.ResolvedAction)
	if err != nil {
		writeError(w, h.logger, "ResolveAlert", err)
		return
	}
	if outcome.AuditErr != nil {
		writeJSON(w, http.StatusOK, Warn(outcome.Alert, "resolved, but audit log write failed"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(outcome.Alert))
}

type escalateRequest struct {
	Priority models.AlertPriority `json:"priority"`
}

// Escalate POST /api/v1/alerts/{id}/escalate
func (h *AlertHandler) Escalate(w http.ResponseWriter, r *http.Request, alertID string) {
	var req escalateRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	applied, err := h.alerts.Escalate(r.Context(), alertID, req.Priority)
	if err != nil {
		writeError(w, h.logger, "EscalateAlert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"escalated": applied}))
}
