package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
)

// StatusChecker re-validates the installed license
type StatusChecker interface {
	Status(ctx context.Context) (*license.StatusResult, error)
}

type licenseContextKey struct{}

// LicenseFromContext returns the status the guard admitted the request with
func LicenseFromContext(ctx context.Context) (*license.StatusResult, bool) {
	res, ok := ctx.Value(licenseContextKey{}).(*license.StatusResult)
	return res, ok
}

// LicenseGuard gates routes behind an active license. Every gated request
// calls Status; the active flag is never cached between requests.
type LicenseGuard struct {
	checker          StatusChecker
	logger           *slog.Logger
	excludedPaths    map[string]struct{}
	excludedPrefixes []string
	decisions        metric.Int64Counter
}

// GuardOption configures a LicenseGuard
type GuardOption func(*LicenseGuard)

// WithExcludedPaths lets exact paths through without a license
func WithExcludedPaths(paths ...string) GuardOption {
	return func(g *LicenseGuard) {
		for _, p := range paths {
			g.excludedPaths[p] = struct{}{}
		}
	}
}

// WithExcludedPrefixes lets every path under the prefixes through
func WithExcludedPrefixes(prefixes ...string) GuardOption {
	return func(g *LicenseGuard) {
		g.excludedPrefixes = append(g.excludedPrefixes, prefixes...)
	}
}

// NewLicenseGuard creates the guard. Health, metrics, the event stream and
// the license API itself are always reachable.
func NewLicenseGuard(checker StatusChecker, logger *slog.Logger, opts ...GuardOption) *LicenseGuard {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	g := &LicenseGuard{
		checker:          checker,
		logger:           logger.With(slog.String("component", "license_guard")),
		excludedPaths:    make(map[string]struct{}),
		excludedPrefixes: []string{"/api/license/", "/api/health"},
	}
	WithExcludedPaths("/", "/healthz", "/metrics", "/ws", "/api/version")(g)
	for _, opt := range opts {
		opt(g)
	}

	counter, err := otel.Meter(infrastructure.MeterName).Int64Counter(
		"license_guard_decisions_total",
		metric.WithDescription("Requests admitted or rejected by the license guard"),
	)
	if err == nil {
		g.decisions = counter
	}
	return g
}

func (g *LicenseGuard) excluded(path string) bool {
	if _, ok := g.excludedPaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *LicenseGuard) record(ctx context.Context, decision string) {
	if g.decisions != nil {
		g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	}
}

// Handler implements the chi middleware
func (g *LicenseGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		traceID := GetRequestID(ctx)

		res, err := g.checker.Status(ctx)
		if err != nil {
			g.logger.ErrorContext(ctx, "license status check failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			g.record(ctx, "error")
			render.Render(w, r, apierrors.MapLicenseError(err, traceID))
			return
		}

		if res.State == license.StateActive {
			g.record(ctx, "admitted")
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, licenseContextKey{}, res)))
			return
		}

		g.logger.InfoContext(ctx, "request rejected by license guard",
			slog.String("path", r.URL.Path),
			slog.String("state", string(res.State)),
			slog.String("outcome", string(res.Outcome)))
		g.record(ctx, "rejected")

		if res.Outcome != "" && res.Outcome != license.OutcomeActive {
			render.Render(w, r, apierrors.NewOutcomeProblem(string(res.Outcome), res.Reason, traceID))
			return
		}
		render.Render(w, r, apierrors.MapLicenseError(apierrors.ErrLicenseNotActive, traceID))
	})
}

// RequireFeature rejects requests whose admitted license lacks feature.
// It must run behind LicenseGuard.
func RequireFeature(feature license.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := LicenseFromContext(r.Context())
			if ok && slices.Contains(res.Features, feature) {
				next.ServeHTTP(w, r)
				return
			}

			traceID := GetRequestID(r.Context())
			problem := apierrors.NewProblemDetails(
				http.StatusForbidden,
				apierrors.TypeForbidden,
				"Feature Not Licensed",
				"The installed license does not include this feature.",
				r.URL.Path+"#"+traceID,
			).WithExtension("trace_id", traceID).
				WithExtension("feature", string(feature))
			render.Render(w, r, problem)
		})
	}
}
