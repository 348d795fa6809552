package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"isxlicense/internal/middleware"
)

// EntitlementsResponse describes what the admitted license grants
type EntitlementsResponse struct {
	LicenseID string     `json:"license_id"`
	Tier      string     `json:"tier"`
	Features  []string   `json:"features"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	TraceID   string     `json:"trace_id"`
}

// Entitlements handles GET /api/entitlements. It is mounted behind
// LicenseGuard and answers from the status the guard admitted with.
func Entitlements(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.LicenseFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	features := make([]string, 0, len(res.Features))
	for _, f := range res.Features {
		features = append(features, string(f))
	}

	render.JSON(w, r, EntitlementsResponse{
		LicenseID: res.LicenseID,
		Tier:      string(res.Tier),
		Features:  features,
		ExpiresAt: res.ExpiresAt,
		TraceID:   middleware.GetRequestID(r.Context()),
	})
}
