package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/dashboard"
	"github.com/Davelummy/taxagent/internal/intake"
	"github.com/Davelummy/taxagent/internal/obs"
	"github.com/Davelummy/taxagent/internal/profile"
	"github.com/Davelummy/taxagent/internal/ratelimit"
	"github.com/Davelummy/taxagent/internal/uploads"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe checks the database when one is wired.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain operations the HTTP layer exposes.
type Services struct {
	Intake    *intake.Manager
	Uploads   *uploads.Recorder
	Pipeline  *uploads.Pipeline
	Profiles  *profile.Service
	Dashboard *dashboard.Service
}

// API is the HTTP layer.
type API struct {
	guard       *auth.Guard
	svc         Services
	ready       ReadyProbe
	version     string
	production  bool
	origins     []string
	proxies     TrustedProxies
	apiLimit    *ratelimit.Limiter
	intakeLimit *ratelimit.Limiter
}

// Option configures API.
type Option func(*API)

// WithReadyProbe sets the readiness check.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.ready = rp }
}

// WithProduction enables HSTS.
func WithProduction(on bool) Option {
	return func(a *API) { a.production = on }
}

// WithAllowedOrigins sets the CORS allow-list.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

// WithTrustedProxies sets the proxies whose X-Forwarded-For is honoured.
func WithTrustedProxies(p TrustedProxies) Option {
	return func(a *API) { a.proxies = p }
}

// WithLimits installs the /api and /api/intake limiters. Either may be nil.
func WithLimits(api, intake *ratelimit.Limiter) Option {
	return func(a *API) {
		a.apiLimit = api
		a.intakeLimit = intake
	}
}

func New(guard *auth.Guard, svc Services, version string, opts ...Option) *API {
	a := &API{guard: guard, svc: svc, version: version}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(ClientAddr(a.proxies), RequestID, AccessLog, obs.Instrument, SecurityHeaders(a.production), CORS(a.origins))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(a.apiLimit, "api", msgTooManyRequests))

		r.Route("/intake", func(r chi.Router) {
			r.Use(RateLimit(a.intakeLimit, "intake", msgTooManyIntakes, http.MethodPost, http.MethodPatch))
			r.Post("/", a.createIntake)
			r.Patch("/", a.updateIntake)
			r.Get("/latest", a.latestIntake)
			r.Get("/status", a.intakeStatus)
			r.Patch("/status", a.setIntakeStatus)
		})

		r.Post("/uploads", a.uploadBatch)
		r.Post("/uploads/record", a.recordUpload)
		r.Get("/uploads/records", a.listUploadRecords)

		r.Post("/profile", a.syncClientProfile)
		r.Post("/contact", a.submitContact)

		r.Route("/preparer", func(r chi.Router) {
			r.Get("/uploads", a.preparerUploads)
			r.Post("/uploads/hide", a.hideUpload)
			r.Post("/profile", a.syncPreparerProfile)
			r.Get("/validate-client", a.validateClient)
			r.Get("/overview", a.overview)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "taxagent-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
