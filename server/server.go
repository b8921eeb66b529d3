package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"autosell/logger"
	"autosell/models"
	"autosell/registry"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

const maxBatchTxids = 20

// EngineState is the read-only view of the engine the server exposes.
type EngineState interface {
	InitialPassComplete() bool
	Balances() map[string]decimal.Decimal
	BalanceOf(asset string) (decimal.Decimal, bool)
	TrackedOrder(txid string) (models.Order, bool)
}

// FeedState reports stream health.
type FeedState interface {
	Connected() bool
	Degraded() bool
	LastHeartbeat() time.Time
}

// OrderQuerier fetches order detail from the exchange for orders the
// engine no longer retains.
type OrderQuerier interface {
	QueryOrder(ctx context.Context, txid string) (*models.Order, error)
}

// Server is the read-only status surface. It never mutates engine
// state.
type Server struct {
	engine  EngineState
	feed    FeedState
	orders  OrderQuerier
	log     *logger.Log
	started time.Time

	http *http.Server
}

// New wires the status routes over the given state providers.
func New(port int, engine EngineState, feed FeedState, orders OrderQuerier) *Server {
	s := &Server{
		engine:  engine,
		feed:    feed,
		orders:  orders,
		log:     logger.GetLogger(),
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auto-sell/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/balance/{asset}", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/trade/{txid}", s.handleTrade).Methods(http.MethodGet)
	r.HandleFunc("/trades/batch", s.handleTradesBatch).Methods(http.MethodPost)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving. A bind failure (port in
// use) is returned synchronously so startup can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.http.Addr, err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("server").WithError(err).Error("http server failed")
		}
	}()

	s.log.WithComponent("server").WithFields(logger.Fields{"addr": s.http.Addr}).Info("status server listening")
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.log.WithComponent("server").Info("stopping status server")
	return s.http.Shutdown(ctx)
}

type statusResponse struct {
	Running             bool                       `json:"running"`
	InitialPassComplete bool                       `json:"initial_pass_complete"`
	FeedConnected       bool                       `json:"feed_connected"`
	FeedDegraded        bool                       `json:"feed_degraded"`
	FeedLastHeartbeat   time.Time                  `json:"feed_last_heartbeat"`
	Balances            map[string]decimal.Decimal `json:"balances"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Running:             true,
		InitialPassComplete: s.engine.InitialPassComplete(),
		FeedConnected:       s.feed.Connected(),
		FeedDegraded:        s.feed.Degraded(),
		FeedLastHeartbeat:   s.feed.LastHeartbeat(),
		Balances:            s.engine.Balances(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset := registry.Standardize(mux.Vars(r)["asset"])
	amount, ok := s.engine.BalanceOf(asset)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown asset %s", asset))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset,
		"amount": amount,
	})
}

// handleTrade serves the engine's record when retained and falls back
// to a live exchange query otherwise.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	if txid == "" {
		writeError(w, http.StatusBadRequest, "missing txid")
		return
	}

	if order, ok := s.engine.TrackedOrder(txid); ok {
		writeJSON(w, http.StatusOK, order)
		return
	}

	order, err := s.orders.QueryOrder(r.Context(), txid)
	if err != nil {
		s.writeQueryError(w, txid, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type batchRequest struct {
	TxIDs []string `json:"txids"`
}

type batchEntry struct {
	Order *models.Order `json:"order,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) handleTradesBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.TxIDs) == 0 {
		writeError(w, http.StatusBadRequest, "txids must be non-empty")
		return
	}
	if len(req.TxIDs) > maxBatchTxids {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d txids per batch", maxBatchTxids))
		return
	}

	out := make(map[string]batchEntry, len(req.TxIDs))
	for _, txid := range req.TxIDs {
		if txid == "" {
			out[txid] = batchEntry{Error: "empty txid"}
			continue
		}
		if order, ok := s.engine.TrackedOrder(txid); ok {
			o := order
			out[txid] = batchEntry{Order: &o}
			continue
		}
		order, err := s.orders.QueryOrder(r.Context(), txid)
		if err != nil {
			out[txid] = batchEntry{Error: err.Error()}
			continue
		}
		out[txid] = batchEntry{Order: order}
	}
	writeJSON(w, http.StatusOK, out)
}
