package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"synthscan/internal/detect"
)

type API struct {
	auth     *Auth
	store    Store
	analyzer AnalyzerService
	obs      *Observability
}

func NewAPI(auth *Auth, store Store, analyzer AnalyzerService, obs *Observability) *API {
	return &API{
		auth:     auth,
		store:    store,
		analyzer: analyzer,
		obs:      obs,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	mux.HandleFunc("POST /api/v1/analyze/{modality}", a.handleAnalyze)
	mux.HandleFunc("GET /api/v1/verdicts/{id}", a.handleGetVerdict)
	mux.HandleFunc("GET /api/v1/verdicts/{id}/events", a.handleVerdictEventsSSE)

	mux.Handle("GET /api/v1/admin/verdicts", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListVerdicts)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminOverview)))
	mux.Handle("GET /api/v1/admin/audit", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminAudit)))

	wrapped := otelhttp.NewHandler(mux, "synthscan-api-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	modality, ok := detect.ParseModality(r.PathValue("modality"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_modality", fmt.Sprintf("unsupported modality %q", r.PathValue("modality")))
		return
	}
	var req AnalyzeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	ipHash, uaHash := actorHashes(r)
	actor := RequestActor{IPHash: ipHash, UAHash: uaHash}
	if principal, err := a.auth.AuthenticateRequest(r); err == nil {
		actor.Subject = principal.Subject
	}

	response, err := a.analyzer.Analyze(r.Context(), modality, req, actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
		case errors.Is(err, ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "empty_content", err.Error())
		case errors.Is(err, ErrContentTooLarge):
			writeError(w, http.StatusBadRequest, "content_too_large", err.Error())
		case errors.Is(err, ErrInvalidContent):
			writeError(w, http.StatusBadRequest, "invalid_content", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "analysis failed unexpectedly")
		}
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "missing verdict id")
		return
	}
	record, ok := a.store.GetVerdict(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "verdict not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleVerdictEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "missing verdict id")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_streaming", "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []VerdictEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: verdict_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListVerdictEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListVerdictEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func (a *API) handleAdminListVerdicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"verdicts": a.store.ListVerdicts(100),
	})
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(200),
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorHashes(r *http.Request) (string, string) {
	ip, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return sha256Hex(ip)[:16], sha256Hex(r.UserAgent())[:16]
}
