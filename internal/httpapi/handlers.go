package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"caselink.org/internal/obs"
	"caselink.org/internal/securelink"
)

// ReadyProbe checks the persistence backend for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the secure link service.
type API struct {
	mux        *http.ServeMux
	links      *securelink.Service
	readyProbe ReadyProbe
	version    string
	devMode    bool
	adminToken string

	rateBurst  int
	ratePerSec int
}

// New wires the routes. adminToken guards the administrative link endpoints;
// devMode relaxes the Secure cookie flag for local development.
func New(rp ReadyProbe, version string, links *securelink.Service, adminToken string, devMode bool) *API {
	a := &API{
		mux:        http.NewServeMux(),
		links:      links,
		readyProbe: rp,
		version:    version,
		devMode:    devMode,
		adminToken: adminToken,
		rateBurst:  10,
		ratePerSec: 5,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// public link validation + session
	a.mux.HandleFunc("GET /q/{token}", a.handleValidate)
	a.mux.HandleFunc("GET /v1/session", a.handleGetSession)
	a.mux.HandleFunc("DELETE /v1/session", a.handleClearSession)

	// administrative link management
	a.mux.Handle("POST /v1/links", a.withAdminAuth(http.HandlerFunc(a.handleIssueLink)))
	a.mux.Handle("POST /v1/links/batch", a.withAdminAuth(http.HandlerFunc(a.handleIssueBatch)))
	a.mux.Handle("GET /v1/links", a.withAdminAuth(http.HandlerFunc(a.handleListLinks)))
	a.mux.Handle("POST /v1/links/{id}/revoke", a.withAdminAuth(http.HandlerFunc(a.handleRevokeLink)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "caselink-api",
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
		"name":    "caselink-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
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
