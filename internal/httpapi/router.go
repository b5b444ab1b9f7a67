// Package httpapi 管理端 HTTP 接口
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterAlertRoutes
//   - GET  /api/v1/alerts?type=&priority=&limit=
//   - GET  /api/v1/alerts/stats
//   - GET  /api/v1/alerts/{id}
//   - POST /api/v1/alerts/{id}/resolve
//   - POST /api/v1/alerts/{id}/escalate
func (r *Router) RegisterAlertRoutes(h *AlertHandler) {
	r.Handle(apiPrefix+"/alerts", h.ServeHTTP)
	r.Handle(apiPrefix+"/alerts/", h.ServeHTTP)
}

// RegisterReportRoutes
//   - GET  /api/v1/reports?type=&limit=
//   - GET  /api/v1/reports/latest?type=
//   - GET  /api/v1/reports/{id}
//   - POST /api/v1/reports/{id}/viewed
//   - GET  /api/v1/reports/{id}/export?format=json|xlsx
func (r *Router) RegisterReportRoutes(h *ReportHandler) {
	r.Handle(apiPrefix+"/reports", h.ServeHTTP)
	r.Handle(apiPrefix+"/reports/", h.ServeHTTP)
}

// RegisterReliabilityRoutes GET /api/v1/users/{id}/reliability
func (r *Router) RegisterReliabilityRoutes(h *ReliabilityHandler) {
	r.Handle(apiPrefix+"/users/", h.ServeHTTP)
}

// RegisterJobRoutes
//   - GET  /api/v1/jobs
//   - GET  /api/v1/jobs/{name}
//   - POST /api/v1/jobs/{name}/run
func (r *Router) RegisterJobRoutes(h *JobHandler) {
	r.Handle(apiPrefix+"/jobs", h.ServeHTTP)
	r.Handle(apiPrefix+"/jobs/", h.ServeHTTP)
}

// RegisterOpsRoutes /metrics 与 /healthz
func (r *Router) RegisterOpsRoutes() {
	r.HandleHandler("/metrics", promhttp.Handler())
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}
