package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"termlend/native/auditor"
	"termlend/native/common"
	"termlend/native/fixedlending"
	"termlend/observability"
	"termlend/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// intentHeader carries the caller-chosen idempotency key for mutating
	// methods. Replays with the same key and payload return the original
	// response verbatim.
	intentHeader = "Idempotency-Key"
)

const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeUnauthorized    = -32001
	codeServerError     = -32000
	codeDuplicateIntent = -32010
	codeRateLimited     = -32020
)

// Server exposes every registered market over a JSON-RPC surface. Mutating
// methods require the bearer token from TERMLEND_RPC_TOKEN; query methods
// are open.
type Server struct {
	mu       sync.Mutex
	engines  map[string]*fixedlending.Engine
	order    []string
	receipts *ReceiptStore

	authToken string
	logger    *slog.Logger

	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	burst     int
}

// NewServer builds a server with no markets registered. The auth token is
// read from the environment at construction so rotating it requires a
// restart, matching how the daemon treats the rest of its configuration.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engines:   make(map[string]*fixedlending.Engine),
		authToken: strings.TrimSpace(os.Getenv("TERMLEND_RPC_TOKEN")),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Limit(50),
		burst:     100,
	}
}

// RegisterEngine adds a market to the dispatch table. Registration order
// does not matter; listings are sorted by market id.
func (s *Server) RegisterEngine(engine *fixedlending.Engine) {
	if s == nil || engine == nil || engine.MarketID() == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.engines[engine.MarketID()]; !exists {
		s.order = append(s.order, engine.MarketID())
		sort.Strings(s.order)
	}
	s.engines[engine.MarketID()] = engine
}

// SetReceiptStore enables idempotent replay of mutating requests.
func (s *Server) SetReceiptStore(store *ReceiptStore) {
	if s == nil {
		return
	}
	s.receipts = store
}

// SetRateLimit overrides the default per-client request budget.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if s == nil || perSecond <= 0 || burst <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = rate.Limit(perSecond)
	s.burst = burst
	s.limiters = make(map[string]*rate.Limiter)
}

// Handler returns the HTTP routing surface: JSON-RPC on POST /, a liveness
// probe on /healthz and the Prometheus scrape endpoint on /metrics.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Post("/", s.handle)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	return router
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	start := time.Now()

	if !s.allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutatingMethods[method] {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}

	intentKey := strings.TrimSpace(r.Header.Get(intentHeader))
	var requestHash string
	if intentKey != "" && s.receipts != nil && mutatingMethods[method] {
		requestHash = payloadHash(body)
		stored, found, err := s.receipts.Lookup(r.Context(), intentKey, requestHash)
		switch {
		case errors.Is(err, ErrIntentMismatch):
			writeError(w, http.StatusConflict, req.ID, codeDuplicateIntent, "idempotency key reused with a different payload", nil)
			return
		case err != nil:
			s.logger.Error("receipt lookup failed", "requestId", requestID, "method", method, "error", err.Error())
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "receipt store unavailable", nil)
			return
		case found:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(stored)
			return
		}
	}

	result, market, rpcErr := s.dispatch(&req, method)

	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	status := http.StatusOK
	if rpcErr != nil {
		resp.Error = rpcErr
		status = httpStatusFor(rpcErr.Code)
	} else {
		resp.Result = result
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("response encoding failed", "requestId", requestID, "method", method, "error", err.Error())
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}

	if intentKey != "" && s.receipts != nil && mutatingMethods[method] && rpcErr == nil {
		if err := s.receipts.Save(r.Context(), intentKey, requestHash, encoded); err != nil {
			s.logger.Error("receipt save failed", "requestId", requestID, "method", method, "error", err.Error())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_, _ = w.Write(encoded)

	duration := time.Since(start)
	observability.ModuleMetrics().Observe(market, method, rpcErr != nil, statusLabel(rpcErr), duration)
	if rpcErr != nil {
		s.logger.Warn("rpc request failed", "requestId", requestID, "method", method, "market", market, "code", rpcErr.Code, "message", rpcErr.Message)
	} else {
		s.logger.Debug("rpc request served", "requestId", requestID, "method", method, "market", market, "durationMs", duration.Milliseconds())
	}
}

// mutatingMethods lists the operations that move funds and therefore
// require authentication and support idempotent replay.
var mutatingMethods = map[string]bool{
	"term_supply":               true,
	"term_withdrawFloating":     true,
	"term_borrowFloating":       true,
	"term_repayFloating":        true,
	"term_depositAtMaturity":    true,
	"term_borrowAtMaturity":     true,
	"term_repayAtMaturity":      true,
	"term_withdrawAtMaturity":   true,
	"term_withdrawTreasuryFees": true,
}

func (s *Server) dispatch(req *RPCRequest, method string) (interface{}, string, *RPCError) {
	switch method {
	case "term_supply":
		return s.handleSupply(req)
	case "term_withdrawFloating":
		return s.handleWithdrawFloating(req)
	case "term_borrowFloating":
		return s.handleBorrowFloating(req)
	case "term_repayFloating":
		return s.handleRepayFloating(req)
	case "term_depositAtMaturity":
		return s.handleDepositAtMaturity(req)
	case "term_borrowAtMaturity":
		return s.handleBorrowAtMaturity(req)
	case "term_repayAtMaturity":
		return s.handleRepayAtMaturity(req)
	case "term_withdrawAtMaturity":
		return s.handleWithdrawAtMaturity(req)
	case "term_withdrawTreasuryFees":
		return s.handleWithdrawTreasuryFees(req)
	case "term_getFixedPool":
		return s.handleGetFixedPool(req)
	case "term_getFloatingPool":
		return s.handleGetFloatingPool(req)
	case "term_getUserAccount":
		return s.handleGetUserAccount(req)
	case "term_getAccountSnapshot":
		return s.handleGetAccountSnapshot(req)
	case "term_previewBorrow":
		return s.handlePreviewBorrow(req)
	case "term_getMarkets":
		return s.handleGetMarkets(req)
	default:
		return nil, "", &RPCError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "server has no auth token configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allow(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientID(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rpcErrorFor translates engine failures into JSON-RPC error objects.
// Validation failures surface as invalid params; state rejections keep the
// engine's message under the generic server error code.
func rpcErrorFor(err error) *RPCError {
	switch {
	case errors.Is(err, fixedlending.ErrInvalidAmount),
		errors.Is(err, fixedlending.ErrInvalidMaturity),
		errors.Is(err, fixedlending.ErrMaturityPassed),
		errors.Is(err, fixedlending.ErrMaturityTooFar):
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, common.ErrModulePaused), errors.Is(err, common.ErrActionPaused):
		return &RPCError{Code: codeServerError, Message: err.Error(), Data: "paused"}
	case errors.Is(err, auditor.ErrUndercollateralised),
		errors.Is(err, fixedlending.ErrInsufficientBackupLiquidity),
		errors.Is(err, fixedlending.ErrInsufficientLiquidity),
		errors.Is(err, fixedlending.ErrInsufficientPoolSupply),
		errors.Is(err, fixedlending.ErrInsufficientShares),
		errors.Is(err, fixedlending.ErrRepayExceedsDebt),
		errors.Is(err, fixedlending.ErrTooMuchSlippage),
		errors.Is(err, fixedlending.ErrNoPosition),
		errors.Is(err, fixedlending.ErrNoDebtToRepay),
		errors.Is(err, fixedlending.ErrBorrowCapExceeded),
		errors.Is(err, fixedlending.ErrTreasuryFeesExceeded):
		return &RPCError{Code: codeServerError, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: err.Error()}
	}
}

func httpStatusFor(code int) int {
	switch code {
	case codeInvalidParams, codeInvalidRequest, codeParseError:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeMethodNotFound:
		return http.StatusNotFound
	case codeDuplicateIntent:
		return http.StatusConflict
	case codeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnprocessableEntity
	}
}

func statusLabel(rpcErr *RPCError) string {
	if rpcErr == nil {
		return "ok"
	}
	switch rpcErr.Code {
	case codeInvalidParams:
		return "invalid_params"
	case codeUnauthorized:
		return "unauthorized"
	case codeMethodNotFound:
		return "method_not_found"
	case codeDuplicateIntent:
		return "duplicate_intent"
	case codeRateLimited:
		return "rate_limited"
	default:
		return "rejected"
	}
}

// RefreshMarketGauges pushes every registered market's pool state to the
// Prometheus gauges. The daemon calls this on a timer so dashboards stay
// fresh even when no requests arrive.
func (s *Server) RefreshMarketGauges() {
	s.mu.Lock()
	engines := make([]*fixedlending.Engine, 0, len(s.order))
	for _, id := range s.order {
		engines = append(engines, s.engines[id])
	}
	s.mu.Unlock()
	for _, engine := range engines {
		refreshGauges(engine)
	}
}

// refreshGauges pushes the market's pool state to the Prometheus gauges
// after a successful mutation.
func refreshGauges(engine *fixedlending.Engine) {
	floating, err := engine.FloatingSnapshot()
	if err != nil {
		return
	}
	metrics.Market().UpdatePool(engine.MarketID(), floating.TotalAssets, floating.TotalBorrowed, floating.BackupBorrowed, floating.TotalFixedBorrowed)
	if fees, err := engine.TreasuryFees(); err == nil {
		metrics.Market().UpdateTreasury(engine.MarketID(), fees)
	}
}
