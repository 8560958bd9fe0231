// Package httpapi exposes a small read-only view of the marketplace:
// order status for buyers, sales and stats for sellers. All writes go
// through Discord.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/websocket"
)

type Server struct {
	orders *ledger.Service
	ws     *websocket.Handler
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(orders *ledger.Service, ws *websocket.Handler, logger *slog.Logger) *Server {
	s := &Server{
		orders: orders,
		ws:     ws,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("GET /orders/{orderID}/transactions", s.orderTransactions)
	s.mux.HandleFunc("GET /buyers/{buyerID}/orders", s.buyerOrders)
	s.mux.HandleFunc("GET /guilds/{guildID}/sales", s.guildSales)
	s.mux.HandleFunc("GET /guilds/{guildID}/stats", s.guildStats)
	if s.ws != nil {
		s.mux.HandleFunc("GET /ws/orders/{orderID}", s.ws.ServeWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), r.PathValue("orderID"))
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) orderTransactions(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	if _, err := s.orders.Get(r.Context(), orderID); err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	txs, err := s.orders.Transactions(r.Context(), orderID)
	if err != nil {
		s.logger.Error("list transactions", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) buyerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.ByBuyer(r.Context(), r.PathValue("buyerID"))
	if err != nil {
		s.logger.Error("list buyer orders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) guildSales(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.orders.Sold(r.Context(), r.PathValue("guildID"), r.URL.Query().Get("seller"), since)
	if err != nil {
		s.logger.Error("list sales", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) guildStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orders.Stats(r.Context(), r.PathValue("guildID"), r.URL.Query().Get("seller"))
	if err != nil {
		s.logger.Error("guild stats", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// sinceParam parses an optional ?since=RFC3339 filter; absent means the
// beginning of time.
func sinceParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid since parameter, want RFC3339")
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func WithServer(ctx context.Context, addr string, srv http.Handler) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: srv,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server
}
