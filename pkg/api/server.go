package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/metrics"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

const (
	maxTxBytes        = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Server handles REST API and WebSocket connections
type Server struct {
	ex      *dex.Exchange
	tokens  *token.Registry
	txs     *dex.TxProcessor
	metrics *metrics.Metrics
	router  *mux.Router
	hub     *Hub // WebSocket hub
	origins []string
	log     *zap.SugaredLogger

	unsubscribe func()
}

// NewServer creates a new API server and subscribes its WebSocket hub to
// the exchange's events
func NewServer(ex *dex.Exchange, tokens *token.Registry, txs *dex.TxProcessor, m *metrics.Metrics, origins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ex:      ex,
		tokens:  tokens,
		txs:     txs,
		metrics: m,
		router:  mux.NewRouter(),
		origins: origins,
		log:     log,
	}
	var observer ConnObserver
	if m != nil {
		observer = m
	}
	s.hub = NewHub(observer, log)
	s.unsubscribe = ex.Subscribe(s.hub.Publish)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")

	// Token endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/wallets/{owner}", s.handleGetWallet).Methods("GET")

	// Internal balances
	api.HandleFunc("/balances/{token}/{owner}", s.handleGetBalance).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Signed transaction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the full HTTP handler with CORS applied
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx ends, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.log.Infow("api_stopped")
		return err
	}
}

// Close detaches the hub from the exchange
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// requestID tags every request with an X-Request-ID, honoring one supplied by the client
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugw("http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start))
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	response := ExchangeInfo{
		Address:      s.ex.Address().Hex(),
		FeeAccount:   s.ex.FeeAccount().Hex(),
		FeePercent:   s.ex.FeePercent(),
		OrderCount:   s.ex.OrderCount(),
		LastEventSeq: s.ex.LastEventSeq(),
		StateHash:    s.ex.StateHash().Hex(),
	}
	if s.txs != nil {
		response.PendingTxs = s.txs.Pending()
	}
	respondJSON(w, response)
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.tokens.List()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = s.tokenInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(w, "token", vars["token"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", vars["owner"])
	if !ok {
		return
	}

	t, found := s.tokens.Token(asset)
	if !found {
		respondError(w, http.StatusNotFound, "token not found", asset.Hex())
		return
	}

	balance := t.BalanceOf(owner)
	allowance := t.Allowance(owner, s.ex.Address())
	respondJSON(w, WalletInfo{
		Token:            asset.Hex(),
		Owner:            owner.Hex(),
		Symbol:           t.Symbol(),
		Balance:          balance.Dec(),
		BalanceDisplay:   token.FormatUnits(balance, t.Decimals()),
		Allowance:        allowance.Dec(),
		AllowanceDisplay: token.FormatUnits(allowance, t.Decimals()),
	})
}

// handleGetBalance answers for any asset id; one never deposited reads as zero
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(w, "token", vars["token"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", vars["owner"])
	if !ok {
		return
	}

	balance := s.ex.TotalBalanceOf(asset, owner)
	response := BalanceInfo{
		Token:          asset.Hex(),
		Owner:          owner.Hex(),
		Balance:        balance.Dec(),
		BalanceDisplay: s.display(asset, balance),
	}
	if t, found := s.tokens.Token(asset); found {
		response.Symbol = t.Symbol()
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, status, found := s.ex.Order(id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", dex.ErrOrderNotFound.Error())
		return
	}
	respondJSON(w, s.orderInfo(o, status))
}

// handleListOrders serves /orders?status=open&creator=0x...
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status, ok := parseStatusFilter(w, r)
	if !ok {
		return
	}

	var creator *common.Address
	if v := r.URL.Query().Get("creator"); v != "" {
		addr, ok := parseAddress(w, "creator", v)
		if !ok {
			return
		}
		creator = &addr
	}
	respondJSON(w, s.orderInfos(s.ex.Orders(creator, status)))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, "address", mux.Vars(r)["address"])
	if !ok {
		return
	}
	status, ok := parseStatusFilter(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.orderInfos(s.ex.Orders(&addr, status)))
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, "address", mux.Vars(r)["address"])
	if !ok {
		return
	}
	if s.txs == nil {
		respondError(w, http.StatusServiceUnavailable, "signed transactions disabled", "")
		return
	}
	nonce, err := s.txs.Nonce(addr)
	if err != nil {
		s.log.Errorw("nonce_lookup_failed", "account", addr.Hex(), "err", err)
		respondError(w, http.StatusInternalServerError, "nonce lookup failed", err.Error())
		return
	}
	respondJSON(w, NonceInfo{Account: addr.Hex(), Nonce: nonce})
}

// handleGetEvents serves /events?from=1&limit=100
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := uint64(1)
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return
		}
		from = n
	}

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.ex.Events(from, limit)
	if err != nil {
		s.log.Errorw("event_read_failed", "from", from, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to read events", err.Error())
		return
	}
	respondJSON(w, events)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if s.txs == nil {
		respondError(w, http.StatusServiceUnavailable, "signed transactions disabled", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	rcpt, err := s.txs.Apply(body)
	if err != nil {
		status, label := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Errorw("tx_failed", "request_id", w.Header().Get("X-Request-ID"), "err", err)
		} else {
			s.log.Debugw("tx_rejected", "request_id", w.Header().Get("X-Request-ID"), "err", err)
		}
		respondError(w, status, label, err.Error())
		return
	}

	s.log.Infow("tx_applied",
		"request_id", w.Header().Get("X-Request-ID"),
		"type", rcpt.Type,
		"account", rcpt.Account.Hex(),
		"nonce", rcpt.Nonce,
		"order_id", rcpt.OrderID)

	respondJSON(w, TxResponse{
		Status:  "applied",
		Type:    string(rcpt.Type),
		Account: rcpt.Account.Hex(),
		Nonce:   rcpt.Nonce,
		OrderID: rcpt.OrderID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// statusFor maps an operation error to an HTTP status and a short label
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "malformed transaction"
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized, "bad signature"
	case errors.Is(err, transaction.ErrNonceTooLow):
		return http.StatusConflict, "nonce too low"
	case errors.Is(err, dex.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "unknown token"
	case errors.Is(err, dex.ErrNotOwner), errors.Is(err, dex.ErrSelfFill), errors.Is(err, dex.ErrCustodyAccount):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, dex.ErrOrderFilled), errors.Is(err, dex.ErrOrderCancelled):
		return http.StatusConflict, "order closed"
	case errors.Is(err, dex.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient balance"
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusBadRequest, "amount overflow"
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInvalidRecipient):
		return http.StatusBadRequest, "token transfer failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(w http.ResponseWriter, field, v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid "+field, v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func parseOrderID(v string) (uint64, error) {
	return strconv.ParseUint(v, 10, 64)
}

// parseStatusFilter reads ?status=; absent means every status
func parseStatusFilter(w http.ResponseWriter, r *http.Request) (*orderbook.Status, bool) {
	v := r.URL.Query().Get("status")
	if v == "" {
		return nil, true
	}
	status, err := orderbook.ParseStatus(v)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid status", err.Error())
		return nil, false
	}
	return &status, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
