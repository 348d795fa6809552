package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"isxlicense/internal/audit"
	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/exporter"
	"isxlicense/internal/middleware"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 10000
)

// AuditHandler serves the audit trail
type AuditHandler struct {
	reader audit.Reader
	errors *apierrors.ErrorHandler
	logger *slog.Logger
	now    func() time.Time
}

// AuditListResponse is the body of GET /api/audit
type AuditListResponse struct {
	Events  []audit.Event `json:"events"`
	Count   int           `json:"count"`
	TraceID string        `json:"trace_id"`
}

// NewAuditHandler creates an audit handler over any audit backend
func NewAuditHandler(reader audit.Reader, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		reader: reader,
		errors: errorHandler,
		logger: logger.With(slog.String("handler", "audit")),
		now:    time.Now,
	}
}

// Routes returns the audit endpoints mounted at /api/audit
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/export", h.Export)
	return r
}

// List handles GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r, defaultAuditLimit)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	events, err := h.reader.Events(r.Context(), filter)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	render.JSON(w, r, AuditListResponse{
		Events:  events,
		Count:   len(events),
		TraceID: middleware.GetRequestID(r.Context()),
	})
}

// Export handles GET /api/audit/export?format=csv|xlsx
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := exporter.ParseFormat(queryDefault(r, "format", string(exporter.FormatCSV)))
	if err != nil {
		h.errors.HandleError(w, r, apierrors.ErrValidation("format", err.Error()))
		return
	}

	filter, err := parseAuditFilter(r, 0)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	events, err := h.reader.Events(r.Context(), filter)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("audit_%s.%s", h.now().UTC().Format("20060102_150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := exporter.Write(w, format, events); err != nil {
		// Headers are gone; all that is left is to log.
		h.logger.ErrorContext(r.Context(), "audit export failed",
			slog.String("format", string(format)),
			slog.String("error", err.Error()))
		return
	}

	h.logger.InfoContext(r.Context(), "audit exported",
		slog.String("format", string(format)),
		slog.Int("record_count", len(events)))
}

func queryDefault(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return v
	}
	return def
}

// parseAuditFilter reads license_id, type, since, until and limit
func parseAuditFilter(r *http.Request, defaultLimit int) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		LicenseID: strings.TrimSpace(q.Get("license_id")),
		Limit:     defaultLimit,
	}

	if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t != "" {
				filter.Types = append(filter.Types, audit.EventType(t))
			}
		}
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apierrors.ErrValidation(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = ts
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			return filter, apierrors.ErrValidation("limit", fmt.Sprintf("must be between 1 and %d", maxAuditLimit))
		}
		filter.Limit = n
	}
	return filter, nil
}
