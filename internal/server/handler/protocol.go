package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/settlement"
)

// ProtocolEngine is the part of the settlement engine the protocol routes use.
type ProtocolEngine interface {
	InitProtocol(ctx context.Context, caller domain.Identity, in settlement.ProtocolInit) (domain.ProtocolConfig, error)
	UpdateProtocol(ctx context.Context, caller domain.Identity, upd domain.ProtocolUpdate) (domain.ProtocolConfig, error)
	SweepTreasury(ctx context.Context, caller domain.Identity, amount uint64, dest domain.Account) error
}

// ProtocolReader reads the committed protocol config.
type ProtocolReader interface {
	Protocol(ctx context.Context) (domain.ProtocolConfig, error)
}

// ProtocolHandler serves /api/protocol.
type ProtocolHandler struct {
	engine ProtocolEngine
	reads  ProtocolReader
	logger *slog.Logger
}

func NewProtocolHandler(engine ProtocolEngine, reads ProtocolReader, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{engine: engine, reads: reads, logger: logger}
}

type feesRequest struct {
	CreatorBps uint16 `json:"creator_bps"`
	DevBps     uint16 `json:"dev_bps"`
	BurnBps    uint16 `json:"burn_bps"`
}

type initProtocolRequest struct {
	DevAccount      domain.Account `json:"dev_account"`
	TreasuryAccount domain.Account `json:"treasury_account"`
	BurnMint        string         `json:"burn_mint"`
	Fees            feesRequest    `json:"fees"`
	LockedPayoutBps uint16         `json:"locked_payout_bps"`
	LockedFeeBps    uint16         `json:"locked_fee_bps"`
	EarlyExitBps    uint16         `json:"early_exit_bps"`
	// SweepCooldown is a Go duration string such as "72h".
	SweepCooldown string `json:"sweep_cooldown"`
}

type updateProtocolRequest struct {
	DevAccount      *domain.Account `json:"dev_account"`
	BurnMint        *string         `json:"burn_mint"`
	CreatorBps      *uint16         `json:"creator_bps"`
	DevBps          *uint16         `json:"dev_bps"`
	BurnBps         *uint16         `json:"burn_bps"`
	LockedPayoutBps *uint16         `json:"locked_payout_bps"`
	LockedFeeBps    *uint16         `json:"locked_fee_bps"`
	EarlyExitBps    *uint16         `json:"early_exit_bps"`
	SweepCooldown   *string         `json:"sweep_cooldown"`
}

type sweepTreasuryRequest struct {
	Amount      uint64         `json:"amount"`
	Destination domain.Account `json:"destination"`
}

func parseCooldown(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("sweep_cooldown %q: %v: %w", s, err, domain.ErrInvalidFees)
	}
	return d, nil
}

// Get returns the protocol config.
// GET /api/protocol
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.reads.Protocol(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "get protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Init creates the protocol with the caller as authority.
// POST /api/protocol
func (h *ProtocolHandler) Init(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req initProtocolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := settlement.ProtocolInit{
		DevAccount:      req.DevAccount,
		TreasuryAccount: req.TreasuryAccount,
		BurnMint:        req.BurnMint,
		Fees:            domain.FeeSchedule(req.Fees),
		LockedPayoutBps: req.LockedPayoutBps,
		LockedFeeBps:    req.LockedFeeBps,
		EarlyExitBps:    req.EarlyExitBps,
	}
	if req.SweepCooldown != "" {
		d, err := parseCooldown(req.SweepCooldown)
		if err != nil {
			writeDomainError(w, r, h.logger, "init protocol", err)
			return
		}
		in.SweepCooldown = d
	}

	cfg, err := h.engine.InitProtocol(r.Context(), who, in)
	if err != nil {
		writeDomainError(w, r, h.logger, "init protocol", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// Update applies a partial protocol update.
// PATCH /api/protocol
func (h *ProtocolHandler) Update(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateProtocolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upd := domain.ProtocolUpdate{
		DevAccount:      req.DevAccount,
		BurnMint:        req.BurnMint,
		CreatorBps:      req.CreatorBps,
		DevBps:          req.DevBps,
		BurnBps:         req.BurnBps,
		LockedPayoutBps: req.LockedPayoutBps,
		LockedFeeBps:    req.LockedFeeBps,
		EarlyExitBps:    req.EarlyExitBps,
	}
	if req.SweepCooldown != nil {
		d, err := parseCooldown(*req.SweepCooldown)
		if err != nil {
			writeDomainError(w, r, h.logger, "update protocol", err)
			return
		}
		upd.SweepCooldown = &d
	}

	cfg, err := h.engine.UpdateProtocol(r.Context(), who, upd)
	if err != nil {
		writeDomainError(w, r, h.logger, "update protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SweepTreasury moves funds out of the shared treasury.
// POST /api/protocol/treasury/sweep
func (h *ProtocolHandler) SweepTreasury(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req sweepTreasuryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.SweepTreasury(r.Context(), who, req.Amount, req.Destination); err != nil {
		writeDomainError(w, r, h.logger, "sweep treasury", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":      req.Amount,
		"destination": req.Destination,
	})
}
