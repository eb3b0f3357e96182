package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sahayata.org/internal/authz"
	"sahayata.org/internal/disburse"
	"sahayata.org/internal/notify"
	"sahayata.org/internal/obs"
	"sahayata.org/internal/region"
	"sahayata.org/internal/scheme"
	"sahayata.org/internal/workflow"
)

// ReadyProbe reports readiness, pinging the database when one is wired.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the domain services the API fronts.
type Deps struct {
	Authz        *authz.Service
	Resolver     *authz.Resolver
	Applications *workflow.Service
	Schemes      *scheme.Service
	Ledger       disburse.Service
	Regions      region.Store
	Stream       *notify.Dispatcher
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authz        *authz.Service
	resolver     *authz.Resolver
	applications *workflow.Service
	schemes      *scheme.Service
	ledger       disburse.Service
	regions      region.Store
	stream       *notify.Dispatcher

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		authz:        deps.Authz,
		resolver:     deps.Resolver,
		applications: deps.Applications,
		schemes:      deps.Schemes,
		ledger:       deps.Ledger,
		regions:      deps.Regions,
		stream:       deps.Stream,
		rateBurst:    50,
		ratePerSec:   25,
		maxBody:      1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/bindings", a.handleBindingsCollection)
	a.mux.HandleFunc("/v1/bindings/", a.handleBindingResource)
	a.mux.HandleFunc("/v1/regions", a.handleRegionsCollection)
	a.mux.HandleFunc("/v1/regions/", a.handleRegionResource)
	a.mux.HandleFunc("/v1/schemes", a.handleSchemesCollection)
	a.mux.HandleFunc("/v1/schemes/", a.handleSchemeResource)
	a.mux.HandleFunc("/v1/applications", a.handleApplicationsCollection)
	a.mux.HandleFunc("/v1/applications/", a.handleApplicationResource)
	a.mux.HandleFunc("/v1/payments", a.handlePayments)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RequestID(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sahayata-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sahayata-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

// actor returns the authenticated user or writes a 401.
func (a *API) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := authz.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

// require resolves perm for the authenticated user and writes the
// refusal when the decision is negative.
func (a *API) require(w http.ResponseWriter, r *http.Request, perm string, rc authz.Context) (string, bool) {
	uid, ok := a.actor(w, r)
	if !ok {
		return "", false
	}
	dec, err := a.resolver.Resolve(r.Context(), uid, perm, rc)
	if err != nil {
		if errors.Is(err, authz.ErrIntegrity) {
			writeError(w, r, http.StatusInternalServerError, "authorization data is inconsistent")
			return "", false
		}
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return "", false
	}
	if !dec.Allowed {
		writeError(w, r, http.StatusForbidden, perm+": "+dec.Reason)
		return "", false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := requestIDFrom(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
