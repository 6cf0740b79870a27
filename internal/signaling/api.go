package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/st-user/ojm-dronw-remote/internal/auth"
	"github.com/st-user/ojm-dronw-remote/internal/httpserver"
	"github.com/st-user/ojm-dronw-remote/internal/metrics"
)

// API serves the pre-signaling HTTP surface: token validation, room key
// generation, and ticket issuance.
type API struct {
	log      *slog.Logger
	verifier auth.TokenVerifier
	tickets  *TicketIssuer
	local    *LocalServer
	metrics  *metrics.Metrics
}

func NewAPI(logger *slog.Logger, verifier auth.TokenVerifier, tickets *TicketIssuer, local *LocalServer, m *metrics.Metrics) *API {
	if m == nil {
		m = metrics.New()
	}
	return &API{
		log:      logger,
		verifier: verifier,
		tickets:  tickets,
		local:    local,
		metrics:  m,
	}
}

// RegisterRoutes attaches the signaling endpoints to mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /validateAccessToken", a.handleValidateAccessToken)
	mux.HandleFunc("GET /generateKey", a.handleGenerateKey)
	mux.HandleFunc("POST /ticket", a.handleTicket)
	mux.Handle("GET /signaling", a.local)
}

func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	token, err := auth.BearerFromHeader(r.Header.Get("Authorization"))
	if err == nil {
		err = a.verifier.Verify(token)
	}
	if err != nil {
		a.metrics.Inc(metrics.AuthFailure)
		a.log.Warn("access token rejected", "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Bearer realm="signaling"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (a *API) handleValidateAccessToken(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (a *API) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}

	startKey := uuid.NewString()
	if err := a.local.SetStartKey(r.Context(), startKey); err != nil {
		a.log.Error("failed to register room", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	a.log.Info("room registered", "startKey", truncateKey(startKey, 5))
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"startKey": startKey})
}

type ticketRequest struct {
	StartKey string `json:"startKey"`
}

func (a *API) handleTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ticket, err := a.tickets.Issue(r.Context(), req.StartKey)
	if err != nil {
		if errors.Is(err, ErrUnknownRoom) {
			a.metrics.Inc(metrics.AuthFailure)
			a.log.Warn("ticket requested for unknown room", "startKey", truncateKey(req.StartKey, 5))
			http.Error(w, "Invalid startKey", http.StatusUnauthorized)
			return
		}
		a.log.Error("ticket issuance failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"ticket": ticket})
}
