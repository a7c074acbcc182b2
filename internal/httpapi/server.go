package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bistbroker/internal/algolab"
	"bistbroker/internal/domain"
	"bistbroker/internal/pipeline"
	"bistbroker/internal/store"
	"bistbroker/internal/stream"
)

// Compile-time interface checks.
var _ OrderService = (*pipeline.Pipeline)(nil)
var _ SessionLog = (*store.SQLiteStore)(nil)

// OrderService is the order pipeline surface the API exposes.
type OrderService interface {
	Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	Cancel(ctx context.Context, brokerOrderID, userID string) (*domain.Order, error)
	Modify(ctx context.Context, brokerOrderID, userID string, mod domain.ModifyRequest) (*domain.Order, error)
	ActiveOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

// SessionLog is the read side of the session audit store.
type SessionLog interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
}

// TickReader is the read side of the latest-tick cache.
type TickReader interface {
	Latest(ctx context.Context, symbol string) (*stream.Tick, error)
}

// Server routes REST calls to the pipeline, audit log, and tick cache.
type Server struct {
	orders   OrderService
	sessions SessionLog
	ticks    TickReader
	log      *slog.Logger
}

// NewServer builds the API server. sessions and ticks may be nil; their
// routes then answer 404.
func NewServer(orders OrderService, sessions SessionLog, ticks TickReader, log *slog.Logger) *Server {
	return &Server{orders: orders, sessions: sessions, ticks: ticks, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", s.handleSubmit)
	mux.HandleFunc("GET /api/orders", s.handleActiveOrders)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancel)
	mux.HandleFunc("PATCH /api/orders/{id}", s.handleModify)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/ticks/{symbol}", s.handleTick)
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, algolab.NewError(algolab.KindValidation, "invalid request body"))
		return
	}

	order, err := s.orders.Submit(r.Context(), body.toRequest())
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, algolab.NewError(algolab.KindValidation, "user query parameter is required"))
		return
	}

	orders, err := s.orders.ActiveOrders(r.Context(), userID)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Cancel(r.Context(), r.PathValue("id"), r.URL.Query().Get("user"))
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var body ModifyOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, algolab.NewError(algolab.KindValidation, "invalid request body"))
		return
	}

	order, err := s.orders.Modify(r.Context(), r.PathValue("id"), body.UserID, body.toRequest())
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.NotFound(w, r)
		return
	}
	recs, err := s.sessions.ListSessions(r.Context(), 50)
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.ticks == nil {
		http.NotFound(w, r)
		return
	}
	tick, err := s.ticks.Latest(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	if tick == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// writeClassified maps error kinds back onto HTTP statuses.
func (s *Server) writeClassified(w http.ResponseWriter, err error) {
	cerr := algolab.Classify(err)

	status := http.StatusInternalServerError
	switch cerr.Kind {
	case algolab.KindValidation:
		status = http.StatusBadRequest
	case algolab.KindAuthentication:
		status = http.StatusUnauthorized
	case algolab.KindOrder:
		status = http.StatusUnprocessableEntity
	case algolab.KindRateLimit:
		status = http.StatusTooManyRequests
	case algolab.KindMarketData:
		status = http.StatusServiceUnavailable
	case algolab.KindTimeout:
		status = http.StatusGatewayTimeout
	case algolab.KindConnection, algolab.KindServer:
		status = http.StatusBadGateway
	}

	s.log.Warn("request failed", "kind", cerr.Kind, "status", status, "err", cerr)
	writeError(w, status, cerr)
}

func writeError(w http.ResponseWriter, status int, cerr *algolab.Error) {
	writeJSON(w, status, ErrorJSON{Kind: string(cerr.Kind), Message: cerr.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		slog.Warn("encoding response", "err", err)
	}
}
