package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/service"
	"github.com/alanyoungcy/polybet/internal/settlement"
)

// BetEngine is the part of the settlement engine a bettor drives.
type BetEngine interface {
	PlaceBet(ctx context.Context, user domain.Identity, marketID string, outcome uint8, amount uint64) (domain.VoteRecord, error)
	EarlyExit(ctx context.Context, user domain.Identity, marketID string) (uint64, error)
	Claim(ctx context.Context, user domain.Identity, marketID string) (settlement.ClaimResult, error)
}

// AccountReader is the read side of user positions and balances.
type AccountReader interface {
	UserVotes(ctx context.Context, user domain.Identity, opts domain.ListOpts) ([]domain.VoteRecord, error)
	Account(ctx context.Context, account domain.Account, opts domain.ListOpts) (service.AccountView, error)
}

// BetHandler serves the bettor routes and account reads.
type BetHandler struct {
	engine BetEngine
	reads  AccountReader
	logger *slog.Logger
}

func NewBetHandler(engine BetEngine, reads AccountReader, logger *slog.Logger) *BetHandler {
	return &BetHandler{engine: engine, reads: reads, logger: logger}
}

type placeBetRequest struct {
	Outcome *uint8 `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

// PlaceBet stakes amount on an outcome for the caller.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	v, err := h.engine.PlaceBet(r.Context(), who, r.PathValue("id"), *req.Outcome, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Claim pays out or refunds the caller's stake.
// POST /api/markets/{id}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Claim(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Exit withdraws the caller's stake before resolution, less the exit fee.
// POST /api/markets/{id}/exit
func (h *BetHandler) Exit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	refund, err := h.engine.EarlyExit(r.Context(), who, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "early exit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "refund": refund})
}

// UserVotes lists a user's votes across markets.
// GET /api/users/{user}/votes
func (h *BetHandler) UserVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.reads.UserVotes(r.Context(), domain.Identity(r.PathValue("user")), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "user votes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

// Ledger returns an account balance and its recent journal.
// GET /api/ledger/{account}
func (h *BetHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	view, err := h.reads.Account(r.Context(), domain.Account(r.PathValue("account")), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
