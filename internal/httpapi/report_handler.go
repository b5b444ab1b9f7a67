package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// ReportReader 报告访问
type ReportReader interface {
	GetReportHistory(ctx context.Context, filters models.ReportFilters, limit int) ([]*models.ReportSnapshot, error)
	GetLatestReport(ctx context.Context, reportType models.ReportType) (*models.ReportSnapshot, error)
	GetReportByID(ctx context.Context, reportID string) (*models.ReportSnapshot, error)
	MarkReportViewed(ctx context.Context, reportID, adminID string) error
	ExportReport(ctx context.Context, reportID string) (*models.ReportSnapshot, error)
}

// ReportHandler 报告接口
type ReportHandler struct {
	reports ReportReader
	logger  *zap.Logger
}

func NewReportHandler(reports ReportReader, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, apiPrefix+"/reports")
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListReports(w, r)
	case len(parts) == 1 && parts[0] == "latest":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetLatest(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetReport(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "viewed":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.MarkViewed(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Export(w, r, parts[0])
	default:
		notFound(w)
	}
}

// ListReports GET /api/v1/reports?type=daily_summary&limit=30
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters models.ReportFilters
	if v := q.Get("type"); v != "" {
		t := models.ReportType(v)
		filters.ReportType = &t
	}

	reports, err := h.reports.GetReportHistory(r.Context(), filters, parseInt(q.Get("limit"), 0))
	if err != nil {
		writeError(w, h.logger, "GetReportHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": reports,
		"total": len(reports),
	}))
}

// GetLatest GET /api/v1/reports/latest?type=weekly_utilization
func (h *ReportHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	reportType := models.ReportType(r.URL.Query().Get("type"))
	report, err := h.reports.GetLatestReport(r.Context(), reportType)
	if err != nil {
		writeError(w, h.logger, "GetLatestReport", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// GetReport GET /api/v1/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request, reportID string) {
	report, err := h.reports.GetReportByID(r.Context(), reportID)
	if err != nil {
		writeError(w, h.logger, "GetReport", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

type viewedRequest struct {
	AdminID string `json:"adminId"`
}

// MarkViewed POST /api/v1/reports/{id}/viewed
func (h *ReportHandler) MarkViewed(w http.ResponseWriter, r *http.Request, reportID string) {
	var req viewedRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.AdminID == "" {
		req.AdminID = r.Header.Get("X-User-Id")
	}
	if err := h.reports.MarkReportViewed(r.Context(), reportID, req.AdminID); err != nil {
		writeError(w, h.logger, "MarkReportViewed", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"reportId": reportID}))
}

// Export GET /api/v1/reports/{id}/export?format=json|xlsx
// json 只导出 data 字段；每次导出下载次数 +1
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request, reportID string) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "xlsx" {
		writeJSON(w, http.StatusBadRequest, Fail("format must be json or xlsx"))
		return
	}

	report, err := h.reports.ExportReport(r.Context(), reportID)
	if err != nil {
		writeError(w, h.logger, "ExportReport", err)
		return
	}

	switch format {
	case "xlsx":
		content, err := GenerateReportWorkbook(report)
		if err != nil {
			writeError(w, h.logger, "GenerateReportWorkbook", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, report.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, report.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(report.Data)
	}
}
