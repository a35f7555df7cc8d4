package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/auction/snapshot"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// HTTPHandler serves the REST endpoints and the websocket upgrade.
type HTTPHandler struct {
	connections *ConnectionManager
	rooms       *room.Manager
	auctions    *auction.Service
	snapshots   snapshot.Provider
	store       store.Store
}

func NewHTTPHandler(connections *ConnectionManager, rooms *room.Manager, auctions *auction.Service, snapshots snapshot.Provider, st store.Store) *HTTPHandler {
	return &HTTPHandler{
		connections: connections,
		rooms:       rooms,
		auctions:    auctions,
		snapshots:   snapshots,
		store:       st,
	}
}

// RegisterRoutes registers every gateway route with an HTTP mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("POST /api/auctions", h.HandleCreateAuction)
	mux.HandleFunc("POST /api/auctions/{id}/cancel", h.HandleCancelAuction)
	mux.HandleFunc("GET /api/auctions/{id}/state", h.HandleGetAuctionState)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleAuctionConnection upgrades a viewer connection. Rooms are joined over the socket.
func (h *HTTPHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connections.UpgradeConnection(w, r); err != nil {
		// The upgrader has already written an HTTP error response.
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *HTTPHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connections.GetConnectionStats()
	rooms := h.rooms.Stats()
	stats["active_auctions"] = len(rooms)
	stats["auction_participants"] = rooms
	writeJSON(w, http.StatusOK, stats)
}

// HandleCreateAuction handles POST /api/auctions
func (h *HTTPHandler) HandleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var def models.AuctionDefinition
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		writeError(w, auctionerrors.Validation("invalid auction definition: %v", err))
		return
	}

	a, err := h.auctions.CreateAuction(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot.Summary(a))
}

// HandleCancelAuction handles POST /api/auctions/{id}/cancel
func (h *HTTPHandler) HandleCancelAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAuctionID(w, r)
	if !ok {
		return
	}

	a, err := h.auctions.CancelAuction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Summary(a))
}

// HandleGetAuctionState handles GET /api/auctions/{id}/state
func (h *HTTPHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAuctionID(w, r)
	if !ok {
		return
	}

	snap, err := h.snapshots.GetSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleHealth handles GET /health
func (h *HTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathAuctionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, auctionerrors.Validation("invalid auction id format"))
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auctionerrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, auctionerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, auctionerrors.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{
		"error":  msg,
		"reason": auctionerrors.ReasonFor(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
