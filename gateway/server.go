package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"elastivault/crypto"
	"elastivault/native/vault"
	"elastivault/observability"
)

const (
	maxRequestBody  = 1 << 20
	headerRequestID = "X-Request-Id"
)

// Server exposes the vault engine over HTTP. Engine calls are serialized with
// a mutex; the engine itself does not lock.
type Server struct {
	mu           sync.Mutex
	engine       *vault.Engine
	log          *slog.Logger
	metrics      *observability.VaultMetrics
	secretHeader string
	secret       string
}

// NewServer constructs a gateway server around the given engine.
func NewServer(engine *vault.Engine, cfg Config, log *slog.Logger) *Server {
	if engine == nil {
		panic("engine required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:       engine,
		log:          log,
		metrics:      observability.Vault(),
		secretHeader: cfg.SharedSecretHeader,
		secret:       cfg.SharedSecretValue,
	}
}

// Handler builds the gateway router. Mutating routes sit behind the shared
// secret check when a secret is configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/vault", s.handleVault)
	r.Get("/rate", s.handleRate)
	r.Get("/users/{address}", s.handleUser)

	r.Group(func(pr chi.Router) {
		pr.Use(s.authorize)
		pr.Post("/deposit", s.handleDeposit)
		pr.Post("/redeem", s.handleRedeem)
		pr.Post("/accrue", s.handleAccrue)
	})

	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" {
			presented := r.Header.Get(s.secretHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret)) != 1 {
				s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid shared secret"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type depositRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type depositResponse struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
	RateBps uint64 `json:"rateBps"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.Deposit(addr, amount)
	var info *vault.UserInfo
	if err == nil {
		info, err = s.engine.GetUserInfo(addr)
	}
	s.observeTotalsLocked()
	s.mu.Unlock()

	s.metrics.Observe("deposit", err, time.Since(started))
	if err != nil {
		s.metrics.RecordRejection("deposit", rejectionReason(err))
		s.writeEngineError(w, err)
		return
	}
	s.log.Info("deposit accepted", "address", addr.String(), "amount", amount.String())
	s.writeJSON(w, http.StatusOK, depositResponse{
		Address: addr.String(),
		Amount:  amount.String(),
		Balance: info.Balance.String(),
		RateBps: info.RateBps,
	})
}

type redeemRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	MinOut  string `json:"minOut,omitempty"`
}

type redeemResponse struct {
	Address string `json:"address"`
	Paid    string `json:"paid"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	minOut := big.NewInt(0)
	if req.MinOut != "" {
		minOut, err = parseAmount(req.MinOut)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.mu.Lock()
	paid, err := s.engine.RedeemWithMinOut(addr, amount, minOut)
	s.observeTotalsLocked()
	s.mu.Unlock()

	s.metrics.Observe("redeem", err, time.Since(started))
	if err != nil {
		s.metrics.RecordRejection("redeem", rejectionReason(err))
		s.writeEngineError(w, err)
		return
	}
	s.log.Info("redeem paid", "address", addr.String(), "paid", paid.String())
	s.writeJSON(w, http.StatusOK, redeemResponse{Address: addr.String(), Paid: paid.String()})
}

type accrueResponse struct {
	Applied     bool   `json:"applied"`
	Minted      string `json:"minted"`
	FeeMinted   string `json:"feeMinted"`
	CapClamped  bool   `json:"capClamped"`
	RateBpsUsed uint64 `json:"rateBpsUsed"`
	AccruedAt   int64  `json:"accruedAt"`
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	s.mu.Lock()
	result, err := s.engine.AccrueInterest()
	s.observeTotalsLocked()
	s.mu.Unlock()

	s.metrics.Observe("accrue", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if result.Applied {
		s.metrics.RecordAccrual()
		s.log.Info("interest accrued",
			"minted", result.Minted.String(),
			"fee", result.FeeMinted.String(),
			"rateBps", result.RateBpsUsed,
			"clamped", result.CapClamped)
	}
	s.writeJSON(w, http.StatusOK, accrueResponse{
		Applied:     result.Applied,
		Minted:      stringOrZero(result.Minted),
		FeeMinted:   stringOrZero(result.FeeMinted),
		CapClamped:  result.CapClamped,
		RateBpsUsed: result.RateBpsUsed,
		AccruedAt:   result.AccruedAt,
	})
}

type vaultResponse struct {
	TotalDeposited string `json:"totalDeposited"`
	TotalSupply    string `json:"totalSupply"`
	TotalShares    string `json:"totalShares"`
	CurrentRateBps uint64 `json:"currentRateBps"`
	BlendedRateBps uint64 `json:"blendedRateBps"`
	NextAccrualAt  int64  `json:"nextAccrualAt"`
}

func (s *Server) handleVault(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	deposited, err := s.engine.TotalDeposited()
	var (
		current uint64
		blended uint64
		nextAt  int64
	)
	if err == nil {
		current, err = s.engine.CurrentInterestRate()
	}
	if err == nil {
		blended, err = s.engine.BlendedRate()
	}
	if err == nil {
		nextAt, err = s.engine.NextAccrualAt()
	}
	supply := s.engine.Ledger().TotalSupply()
	shares := s.engine.Ledger().TotalShares()
	s.mu.Unlock()

	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse{
		TotalDeposited: deposited.String(),
		TotalSupply:    supply.String(),
		TotalShares:    shares.String(),
		CurrentRateBps: current,
		BlendedRateBps: blended,
		NextAccrualAt:  nextAt,
	})
}

type rateResponse struct {
	CurrentRateBps uint64 `json:"currentRateBps"`
	BlendedRateBps uint64 `json:"blendedRateBps"`
}

func (s *Server) handleRate(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	current, err := s.engine.CurrentInterestRate()
	var blended uint64
	if err == nil {
		blended, err = s.engine.BlendedRate()
	}
	s.mu.Unlock()

	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rateResponse{CurrentRateBps: current, BlendedRateBps: blended})
}

type userResponse struct {
	Address         string `json:"address"`
	Shares          string `json:"shares"`
	Balance         string `json:"balance"`
	Deposited       string `json:"deposited"`
	RateBps         uint64 `json:"rateBps"`
	LastAccrualTime int64  `json:"lastAccrualTime"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
		return
	}

	s.mu.Lock()
	info, err := s.engine.GetUserInfo(addr)
	s.mu.Unlock()

	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse{
		Address:         addr.String(),
		Shares:          info.Shares.String(),
		Balance:         info.Balance.String(),
		Deposited:       info.Deposited.String(),
		RateBps:         info.RateBps,
		LastAccrualTime: info.LastAccrualTime,
	})
}

// RunAccrualLoop drives periodic upkeep until the context is cancelled. Each
// tick checks whether an accrual round is due and applies it under the same
// lock the HTTP handlers use.
func (s *Server) RunAccrualLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		result, err := s.engine.PerformUpkeep()
		s.observeTotalsLocked()
		s.mu.Unlock()

		if err != nil {
			s.log.Error("accrual upkeep failed", "error", err)
			continue
		}
		if result != nil && result.Applied {
			s.metrics.RecordAccrual()
			s.log.Info("interest accrued",
				"minted", result.Minted.String(),
				"fee", result.FeeMinted.String(),
				"rateBps", result.RateBpsUsed,
				"clamped", result.CapClamped)
		}
	}
}

// observeTotalsLocked refreshes the principal and supply gauges. Callers hold
// s.mu.
func (s *Server) observeTotalsLocked() {
	deposited, err := s.engine.TotalDeposited()
	if err != nil {
		return
	}
	s.metrics.SetTotals(deposited, s.engine.Ledger().TotalSupply())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func stringOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	s.writeError(w, statusForEngineError(err), err)
}

func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, vault.ErrDepositsPaused), errors.Is(err, vault.ErrRedeemsPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrNotAllowlisted),
		errors.Is(err, vault.ErrOnlyOwner),
		errors.Is(err, vault.ErrOnlyGovernance),
		errors.Is(err, vault.ErrUnauthorizedBridge):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrSlippageTooHigh), errors.Is(err, vault.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, vault.ErrAmountZero),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrMinDepositNotMet),
		errors.Is(err, vault.ErrDepositCapExceeded),
		errors.Is(err, vault.ErrTvlCapExceeded),
		errors.Is(err, vault.ErrInsufficientDeposit),
		errors.Is(err, vault.ErrNoTokensToRedeem),
		errors.Is(err, vault.ErrTokenNotSweepable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, vault.ErrDepositsPaused):
		return "deposits_paused"
	case errors.Is(err, vault.ErrRedeemsPaused):
		return "redeems_paused"
	case errors.Is(err, vault.ErrNotAllowlisted):
		return "not_allowlisted"
	case errors.Is(err, vault.ErrMinDepositNotMet):
		return "min_deposit"
	case errors.Is(err, vault.ErrDepositCapExceeded):
		return "user_cap"
	case errors.Is(err, vault.ErrTvlCapExceeded):
		return "tvl_cap"
	case errors.Is(err, vault.ErrSlippageTooHigh):
		return "slippage"
	case errors.Is(err, vault.ErrNoTokensToRedeem):
		return "no_balance"
	case errors.Is(err, vault.ErrAmountZero):
		return "zero_amount"
	default:
		return "other"
	}
}
