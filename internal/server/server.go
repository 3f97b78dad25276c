package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mailrails/internal/config"
	"mailrails/internal/escrow"
	"mailrails/internal/hmacauth"
	"mailrails/internal/idempotency"
	"mailrails/internal/mirror"
)

// EscrowService is the façade surface the server depends on.
type EscrowService interface {
	CreateOnchainTransfer(ctx context.Context, in escrow.CreateTransferInput) (escrow.CreateResult, error)
	ClaimOnchainTransfer(ctx context.Context, transferID, recipientAddress, recipientEmail string) (escrow.OpResult, error)
	RefundOnchainTransfer(ctx context.Context, transferID, refundAddress string) (escrow.OpResult, error)
	GetOnchainTransfer(ctx context.Context, transferID string) (*escrow.Transfer, error)
	EscrowStatus(ctx context.Context) (escrow.EscrowState, error)
	IsMockMode() bool
	Ping(ctx context.Context) error
}

type Server struct {
	cfg        *config.AppConfig
	svc        EscrowService
	mirror     mirror.Store
	replay     idempotency.Store
	hmac       *hmacauth.Verifier
	onramp     *OnrampClient
	metrics    *metricsRegistry
	logger     *zap.Logger
	httpServer *http.Server
	dbHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, svc EscrowService, mirrorStore mirror.Store, replay idempotency.Store, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		mirror: mirrorStore,
		replay: replay,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		onramp: &OnrampClient{
			SessionURL: cfg.Onramp.SessionURL,
			APIKey:     cfg.Onramp.APIKey,
		},
		metrics: newMetricsRegistry(),
		logger:  logger,
	}

	if checker, ok := replay.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/transfers", s.hmac.Middleware(http.HandlerFunc(s.handleCreateTransfer))).Methods(http.MethodPost)
	api.Handle("/transfers/{id}", s.hmac.Middleware(http.HandlerFunc(s.handleGetTransfer))).Methods(http.MethodGet)
	api.Handle("/transfers/{id}/claim", s.hmac.Middleware(http.HandlerFunc(s.handleClaimTransfer))).Methods(http.MethodPost)
	api.Handle("/transfers/{id}/refund", s.hmac.Middleware(http.HandlerFunc(s.handleRefundTransfer))).Methods(http.MethodPost)
	api.Handle("/escrow/status", s.hmac.Middleware(http.HandlerFunc(s.handleEscrowStatus))).Methods(http.MethodGet)
	api.Handle("/onramp/session", s.hmac.Middleware(http.HandlerFunc(s.handleOnrampSession))).Methods(http.MethodPost)
	api.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(r),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr), zap.Bool("mock_mode", s.svc.IsMockMode()))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecordSweep feeds sweeper outcomes into the server's metrics registry.
func (s *Server) RecordSweep(result string) {
	s.metrics.incSweep(result)
}

type createTransferRequest struct {
	RecipientEmail string `json:"recipientEmail"`
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	TokenAddress   string `json:"tokenAddress,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Expiry         uint64 `json:"expiry,omitempty"`
}

type createTransferResponse struct {
	TransferID    string `json:"transferId"`
	RecipientHash string `json:"recipientHash"`
	Expiry        uint64 `json:"expiry"`
	TxHash        string `json:"txHash"`
}

type claimTransferRequest struct {
	RecipientAddress string `json:"recipientAddress"`
	RecipientEmail   string `json:"recipientEmail"`
}

type refundTransferRequest struct {
	RefundAddress string `json:"refundAddress"`
}

type opResponse struct {
	TransferID string `json:"transferId"`
	TxHash     string `json:"txHash"`
}

type transferResponse struct {
	TransferID    string `json:"transferId"`
	Sender        string `json:"sender"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	RecipientHash string `json:"recipientHash"`
	Expiry        uint64 `json:"expiry"`
	Status        string `json:"status"`
	Source        string `json:"source"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "missing X-Idempotency-Key header")
		return
	}

	// Get-then-Save is not atomic: two in-flight requests carrying the same
	// key can both reach the backend. The cache guards against client
	// retries, not concurrent duplicates. A degraded cache read falls
	// through to a fresh submission rather than failing the request.
	ctx := r.Context()
	existing, err := s.replay.Get(ctx, key)
	if err != nil {
		s.logger.Warn("replay cache read failed", zap.String("key", key), zap.Error(err))
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incTransfer("create", "cached")
		return
	}

	var payload createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	result, err := s.svc.CreateOnchainTransfer(ctx, escrow.CreateTransferInput{
		RecipientEmail: payload.RecipientEmail,
		Amount:         payload.Amount,
		Decimals:       payload.Decimals,
		TokenAddress:   payload.TokenAddress,
		Sender:         payload.Sender,
		Expiry:         payload.Expiry,
	})
	if err != nil {
		s.metrics.incTransfer("create", "failed")
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	s.mirrorCreate(ctx, payload, result)

	respBody := createTransferResponse{
		TransferID:    result.TransferID,
		RecipientHash: result.RecipientHash,
		Expiry:        result.Expiry,
		TxHash:        result.TxHash,
	}
	b, _ := json.Marshal(respBody)

	record := idempotency.Record{
		StatusCode: http.StatusCreated,
		Response:   b,
		TransferID: result.TransferID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	_ = s.replay.Save(ctx, key, record)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(b)
	s.metrics.incTransfer("create", "created")
	s.metrics.pendingDelta(1)
}

func (s *Server) handleClaimTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]

	var payload claimTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if payload.RecipientEmail == "" || payload.RecipientAddress == "" {
		s.writeError(w, http.StatusBadRequest, "recipientAddress and recipientEmail are required")
		return
	}

	ctx := r.Context()
	result, err := s.svc.ClaimOnchainTransfer(ctx, transferID, payload.RecipientAddress, payload.RecipientEmail)
	if err != nil {
		s.metrics.incTransfer("claim", "failed")
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	if err := s.mirror.Advance(ctx, transferID, mirror.StatusClaimed, result.TxHash); err != nil {
		s.logger.Warn("mirror advance failed", zap.String("transfer_id", transferID), zap.Error(err))
	}

	s.writeJSON(w, http.StatusOK, opResponse{TransferID: result.TransferID, TxHash: result.TxHash})
	s.metrics.incTransfer("claim", "claimed")
	s.metrics.pendingDelta(-1)
}

func (s *Server) handleRefundTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]

	var payload refundTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	refundAddress := payload.RefundAddress
	if refundAddress == "" {
		refundAddress = s.cfg.Escrow.TreasuryWallet
	}
	if refundAddress == "" {
		s.writeError(w, http.StatusBadRequest, "refundAddress is required")
		return
	}

	ctx := r.Context()
	result, err := s.svc.RefundOnchainTransfer(ctx, transferID, refundAddress)
	if err != nil {
		s.metrics.incTransfer("refund", "failed")
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	if err := s.mirror.Advance(ctx, transferID, mirror.StatusRefunded, result.TxHash); err != nil {
		s.logger.Warn("mirror advance failed", zap.String("transfer_id", transferID), zap.Error(err))
	}

	s.writeJSON(w, http.StatusOK, opResponse{TransferID: result.TransferID, TxHash: result.TxHash})
	s.metrics.incTransfer("refund", "refunded")
	s.metrics.pendingDelta(-1)
}

// handleGetTransfer prefers the on-chain record and falls back to the mirror
// when the chain reports not-found (mock mode keeps no chain state at all).
// Read failures surface as 502, distinct from 404.
func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]
	ctx := r.Context()

	t, err := s.svc.GetOnchainTransfer(ctx, transferID)
	if err == nil {
		s.writeJSON(w, http.StatusOK, transferResponse{
			TransferID:    t.ID.Hex(),
			Sender:        t.Sender.Hex(),
			Token:         t.Token.Hex(),
			Amount:        t.Amount.String(),
			RecipientHash: t.RecipientHash.Hex(),
			Expiry:        t.Expiry,
			Status:        t.Status.String(),
			Source:        "onchain",
		})
		return
	}
	if !errors.Is(err, escrow.ErrTransferNotFound) {
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	rec, mErr := s.mirror.Get(ctx, transferID)
	if mErr != nil {
		s.logger.Warn("mirror read failed", zap.String("transfer_id", transferID), zap.Error(mErr))
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	s.writeJSON(w, http.StatusOK, transferResponse{
		TransferID:    rec.TransferID,
		Sender:        rec.Sender,
		Token:         rec.Token,
		Amount:        rec.Amount,
		RecipientHash: rec.RecipientHash,
		Expiry:        uint64(rec.Expiry.Unix()),
		Status:        rec.Status,
		Source:        "mirror",
	})
}

type escrowStatusResponse struct {
	Paused        bool   `json:"paused"`
	LockedBalance string `json:"lockedBalance"`
}

// handleEscrowStatus reports the contract pause switch and the custody total
// for the configured token.
func (s *Server) handleEscrowStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.EscrowStatus(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, escrowStatusResponse{
		Paused:        state.Paused,
		LockedBalance: state.LockedBalance.String(),
	})
}

type onrampSessionRequest struct {
	Address string `json:"address"`
}

type onrampSessionResponse struct {
	SessionToken string `json:"sessionToken"`
}

func (s *Server) handleOnrampSession(w http.ResponseWriter, r *http.Request) {
	var payload onrampSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.incOnramp("bad_request")
		s.writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if !isHexAddress(payload.Address) {
		s.metrics.incOnramp("bad_request")
		s.writeError(w, http.StatusBadRequest, "a wallet address is required")
		return
	}

	token, err := s.onramp.CreateSession(r.Context(), payload.Address)
	if err != nil {
		switch {
		case errors.Is(err, ErrOnrampNotConfigured):
			s.metrics.incOnramp("error")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		case errors.Is(err, ErrOnrampUpstream):
			s.metrics.incOnramp("upstream_error")
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.metrics.incOnramp("error")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.metrics.incOnramp("created")
	s.writeJSON(w, http.StatusOK, onrampSessionResponse{SessionToken: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(rpcCtx); err != nil {
		rpcInfo.Error = err.Error()
		overallHealthy = false
	} else {
		rpcInfo.Connected = true
		rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	s.writeJSON(w, httpStatus, struct {
		Status   string      `json:"status"`
		MockMode bool        `json:"mock_mode"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
	}{
		Status:   status,
		MockMode: s.svc.IsMockMode(),
		RPC:      rpcInfo,
		Database: dbInfo,
	})
}

// mirrorCreate writes the freshly created transfer through to the mirror.
// Best effort: the chain already holds the truth, so a mirror failure is
// logged and the request still succeeds.
func (s *Server) mirrorCreate(ctx context.Context, payload createTransferRequest, result escrow.CreateResult) {
	token := payload.TokenAddress
	if token == "" {
		token = s.cfg.Escrow.TokenAddress
	}
	rec := mirror.Record{
		TransferID:    result.TransferID,
		Sender:        payload.Sender,
		Token:         token,
		Amount:        result.Amount,
		RecipientHash: result.RecipientHash,
		Expiry:        time.Unix(int64(result.Expiry), 0).UTC(),
		Status:        mirror.StatusPending,
		CreateTxHash:  result.TxHash,
	}
	if err := s.mirror.Upsert(ctx, rec); err != nil {
		s.logger.Warn("mirror write failed", zap.String("transfer_id", result.TransferID), zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// statusForError maps the escrow error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrTransferExists):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrDriverUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, escrow.ErrUnsupportedChain),
		errors.Is(err, escrow.ErrZeroAmount),
		errors.Is(err, escrow.ErrAmountOverflow),
		errors.Is(err, escrow.ErrExpiryOverflow),
		errors.Is(err, escrow.ErrExpiryPast),
		errors.Is(err, escrow.ErrInvalidTransferID),
		errors.Is(err, escrow.ErrInvalidAddress),
		errors.Is(err, escrow.ErrInvalidEmail):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		next.ServeHTTP(w, r)
	})
}
