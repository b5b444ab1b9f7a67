package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// ReliabilityReader 用户可靠性画像
type ReliabilityReader interface {
	GetUserReliabilityProfile(ctx context.Context, userID string, now time.Time) (*models.ReliabilityProfile, error)
}

// ReliabilityHandler GET /api/v1/users/{id}/reliability
type ReliabilityHandler struct {
	profiles ReliabilityReader
	clock    func() time.Time
	logger   *zap.Logger
}

func NewReliabilityHandler(profiles ReliabilityReader, logger *zap.Logger) *ReliabilityHandler {
	return &ReliabilityHandler{profiles: profiles, clock: time.Now, logger: logger}
}

func (h *ReliabilityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, apiPrefix+"/users")
	if len(parts) != 2 || parts[1] != "reliability" {
		notFound(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	profile, err := h.profiles.GetUserReliabilityProfile(r.Context(), parts[0], h.clock())
	if err != nil {
		writeError(w, h.logger, "GetUserReliabilityProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(profile))
}
