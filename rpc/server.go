package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowmarket/core"
	"escrowmarket/core/runtime"
	"escrowmarket/core/state"
	"escrowmarket/crypto"
	"escrowmarket/native/common"
	"escrowmarket/native/market"
	"escrowmarket/native/token"
	"escrowmarket/observability"
	"escrowmarket/observability/logging"
	"escrowmarket/storage/eventlog"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// EventReader serves the committed event history.
type EventReader interface {
	List(ctx context.Context, filter eventlog.Filter) ([]eventlog.Entry, error)
}

type ServerConfig struct {
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
	// Events backs events_list. When nil the method reports that the event
	// log is disabled.
	Events EventReader
}

type handlerFunc func(ctx context.Context, req *RPCRequest) (interface{}, *RPCError)

type Server struct {
	node    *core.Node
	events  EventReader
	limiter *RateLimiter
	logger  *slog.Logger
	nowFn   func() time.Time

	mu     sync.Mutex
	seen   map[string]time.Time
	routes map[string]handlerFunc
}

func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    node,
		events:  cfg.Events,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger,
		nowFn:   time.Now,
		seen:    make(map[string]time.Time),
	}
	s.routes = map[string]handlerFunc{
		MethodMarketList:       s.handleMarketList,
		MethodMarketBuy:        s.handleMarketBuy,
		"market_getListing":    s.handleMarketGetListing,
		"market_deriveListing": s.handleMarketDeriveListing,
		"token_getAccount":     s.handleTokenGetAccount,
		MethodTokenCreateMint:  s.handleTokenCreateMint,
		"token_openAccount":    s.handleTokenOpenAccount,
		MethodTokenMintTo:      s.handleTokenMintTo,
		"events_list":          s.handleEventsList,
	}
	return s, nil
}

// Handler returns the HTTP surface: POST /rpc, GET /healthz and GET /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/rpc", s.handle)
	})
	return otelhttp.NewHandler(r, "marketd-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, nil, newError(status, codeInvalidRequest, "failed to read request body", err.Error()))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, nil, newError(http.StatusBadRequest, codeInvalidRequest, "request body required", nil))
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, nil, newError(http.StatusBadRequest, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}
	handler, ok := s.routes[req.Method]
	if !ok {
		writeError(w, req.ID, newError(http.StatusNotFound, codeMethodNotFound, "method not found", req.Method))
		return
	}

	start := time.Now()
	result, rpcErr := handler(r.Context(), req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.RPC().Observe(req.Method, code, time.Since(start))
	if rpcErr != nil {
		s.logger.Debug("rpc call failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("message", rpcErr.Message))
		writeError(w, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

func decodeParam(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object required", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err)
	}
	return nil
}

// decodeSigned verifies a signed parameter object, rejects replays and
// returns the recovered signer.
func (s *Server) decodeSigned(req *RPCRequest, out interface{}) (crypto.Address, *RPCError) {
	var params SignedParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return crypto.Address{}, rpcErr
	}
	now := s.nowFn()
	signer, digest, rpcErr := params.verify(req.Method, out, now)
	if rpcErr != nil {
		return crypto.Address{}, rpcErr
	}
	if !s.rememberDigest(digest, now) {
		return crypto.Address{}, newError(http.StatusConflict, codeDuplicate, "payload has already been submitted", digest)
	}
	s.logger.Debug("signed request accepted",
		slog.String("method", req.Method),
		slog.String("signer", signer.String()),
		logging.MaskField("signature", params.Signature))
	return signer, nil
}

func (s *Server) rememberDigest(digest string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d, seenAt := range s.seen {
		if now.Sub(seenAt) > digestTTL {
			delete(s.seen, d)
		}
	}
	if _, exists := s.seen[digest]; exists {
		return false
	}
	s.seen[digest] = now
	return true
}

func parseAddress(field, raw string) (crypto.Address, *RPCError) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, invalidParams(fmt.Sprintf("invalid %s", field), err)
	}
	return addr, nil
}

func parseOptionalAddress(field, raw string) (crypto.Address, *RPCError) {
	if raw == "" {
		return crypto.Address{}, nil
	}
	return parseAddress(field, raw)
}

// mapError converts engine and ledger failures into JSON-RPC errors carrying
// the sentinel message as data.
func mapError(err error) *RPCError {
	switch {
	case errors.Is(err, market.ErrListingNotFound),
		errors.Is(err, token.ErrAccountNotFound),
		errors.Is(err, token.ErrMintNotFound):
		return newError(http.StatusNotFound, codeNotFound, "not found", err.Error())
	case errors.Is(err, runtime.ErrMissingSignature),
		errors.Is(err, market.ErrAddressMismatch),
		errors.Is(err, market.ErrSellerAccountMismatch),
		errors.Is(err, token.ErrOwnerMismatch):
		return newError(http.StatusForbidden, codeUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, market.ErrAlreadySold),
		errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrWrongPaymentUnit),
		errors.Is(err, market.ErrAssetMissing),
		errors.Is(err, market.ErrItemIDTooLong),
		errors.Is(err, market.ErrListingExists),
		errors.Is(err, state.ErrAccountExists),
		errors.Is(err, market.ErrInvalidListing),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrNotTokenAccount),
		errors.Is(err, token.ErrOverflow),
		errors.Is(err, crypto.ErrMaxSeedLengthExceeded):
		return newError(http.StatusConflict, codeRejected, "rejected", err.Error())
	case errors.Is(err, common.ErrModulePaused):
		return newError(http.StatusServiceUnavailable, codeRejected, "market paused", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(http.StatusServiceUnavailable, codeServerError, "request cancelled", err.Error())
	default:
		return newError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}
