package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
	"github.com/alanyoungcy/polybet/internal/payout"
	"github.com/alanyoungcy/polybet/internal/service"
)

// MarketEngine is the part of the settlement engine the market routes use.
type MarketEngine interface {
	InitMarket(ctx context.Context, caller domain.Identity, p market.Params) (domain.Market, error)
	Resolve(ctx context.Context, caller domain.Identity, marketID string, outcome uint8) (domain.Market, error)
	ResolveWithAttestation(ctx context.Context, marketID string, outcome uint8, signature []byte) (domain.Market, error)
	Cancel(ctx context.Context, caller domain.Identity, marketID string) (domain.Market, error)
	SetPaused(ctx context.Context, caller domain.Identity, marketID string, paused bool) (domain.Market, error)
	DistributeFees(ctx context.Context, marketID string) (payout.FeeSplit, error)
	Sweep(ctx context.Context, caller domain.Identity, marketID string) (uint64, error)
}

// MarketReader is the read side the market routes use.
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	View(m domain.Market) service.MarketView
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	Votes(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.VoteRecord, error)
	Vote(ctx context.Context, marketID string, user domain.Identity) (domain.VoteRecord, error)
	Quote(ctx context.Context, marketID string, outcome uint8, amount uint64) (service.QuoteView, error)
}

// MarketHandler serves /api/markets.
type MarketHandler struct {
	engine  MarketEngine
	reads   MarketReader
	reports domain.ReportArchiver
	logger  *slog.Logger
}

// NewMarketHandler returns a MarketHandler. reports may be nil, in which case
// the report route answers 404.
func NewMarketHandler(engine MarketEngine, reads MarketReader, reports domain.ReportArchiver, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: engine, reads: reads, reports: reports, logger: logger}
}

type createMarketRequest struct {
	ID               string              `json:"id"`
	Authority        domain.Identity     `json:"authority"`
	Question         string              `json:"question"`
	OutcomeNames     []string            `json:"outcome_names"`
	OutcomeCount     uint8               `json:"outcome_count"`
	EndTime          time.Time           `json:"end_time"`
	VirtualLiquidity uint64              `json:"virtual_liquidity"`
	Weights          []uint64            `json:"weights"`
	MinBet           uint64              `json:"min_bet"`
	MaxBet           uint64              `json:"max_bet"`
	Oracle           domain.Identity     `json:"oracle"`
	ExternalRef      string              `json:"external_ref"`
	MetadataURL      string              `json:"metadata_url"`
	Policy           domain.PayoutPolicy `json:"policy"`
}

type outcomeRequest struct {
	Outcome *uint8 `json:"outcome"`
}

type attestRequest struct {
	Outcome   *uint8 `json:"outcome"`
	Signature string `json:"signature"`
}

type listMarketsResponse struct {
	Markets []service.MarketView `json:"markets"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// List returns markets, optionally filtered by ?state=open,resolved.
// GET /api/markets
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.MarketFilter{ListOpts: opts}
	if s := r.URL.Query().Get("state"); s != "" {
		for _, st := range strings.Split(s, ",") {
			f.States = append(f.States, domain.MarketState(strings.TrimSpace(st)))
		}
	}
	if b, err := strconv.ParseBool(r.URL.Query().Get("external")); err == nil {
		f.HasExternalRef = b
	}

	markets, err := h.reads.ListMarkets(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	views := make([]service.MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, h.reads.View(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Limit: opts.Limit, Offset: opts.Offset})
}

// Get returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.reads.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.reads.View(m))
}

// Create opens a new market with the caller as creator.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.engine.InitMarket(r.Context(), who, market.Params{
		ID:               req.ID,
		Authority:        req.Authority,
		Creator:          who,
		Question:         req.Question,
		OutcomeNames:     req.OutcomeNames,
		OutcomeCount:     req.OutcomeCount,
		EndTime:          req.EndTime,
		VirtualLiquidity: req.VirtualLiquidity,
		Weights:          req.Weights,
		MinBet:           req.MinBet,
		MaxBet:           req.MaxBet,
		Oracle:           req.Oracle,
		ExternalRef:      req.ExternalRef,
		MetadataURL:      req.MetadataURL,
		Policy:           req.Policy,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.reads.View(m))
}

// Resolve sets the winning outcome as the market authority.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req outcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	m, err := h.engine.Resolve(r.Context(), who, r.PathValue("id"), *req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, h.reads.View(m))
}

// Attest resolves the market with a signed oracle attestation. The signature
// authorizes the call, so no identity header is needed.
// POST /api/markets/{id}/attest
func (h *MarketHandler) Attest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	sig, err := crypto.DecodeSignature(req.Signature)
	if err != nil {
		writeDomainError(w, r, h.logger, "attest", err)
		return
	}
	m, err := h.engine.ResolveWithAttestation(r.Context(), r.PathValue("id"), *req.Outcome, sig)
	if err != nil {
		writeDomainError(w, r, h.logger, "attest", err)
		return
	}
	writeJSON(w, http.StatusOK, h.reads.View(m))
}

// Cancel cancels the market so every stake is refundable.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	m, err := h.engine.Cancel(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, h.reads.View(m))
}

// Pause stops betting and early exits.
// POST /api/markets/{id}/pause
func (h *MarketHandler) Pause(w http.ResponseWriter, r *http.Request) { h.setPaused(w, r, true) }

// Unpause resumes betting.
// POST /api/markets/{id}/unpause
func (h *MarketHandler) Unpause(w http.ResponseWriter, r *http.Request) { h.setPaused(w, r, false) }

func (h *MarketHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	m, err := h.engine.SetPaused(r.Context(), who, r.PathValue("id"), paused)
	if err != nil {
		writeDomainError(w, r, h.logger, "set paused", err)
		return
	}
	writeJSON(w, http.StatusOK, h.reads.View(m))
}

// DistributeFees runs the market's one-time fee distribution.
// POST /api/markets/{id}/fees
func (h *MarketHandler) DistributeFees(w http.ResponseWriter, r *http.Request) {
	split, err := h.engine.DistributeFees(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute fees", err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

// Sweep moves the market's residual custody to the dev account.
// POST /api/markets/{id}/sweep
func (h *MarketHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	amount, err := h.engine.Sweep(r.Context(), who, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "amount": amount})
}

// Votes lists the market's votes, oldest first.
// GET /api/markets/{id}/votes
func (h *MarketHandler) Votes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.reads.Votes(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list votes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

// Vote returns one user's vote.
// GET /api/markets/{id}/votes/{user}
func (h *MarketHandler) Vote(w http.ResponseWriter, r *http.Request) {
	v, err := h.reads.Vote(r.Context(), r.PathValue("id"), domain.Identity(r.PathValue("user")))
	if err != nil {
		writeDomainError(w, r, h.logger, "get vote", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Quote projects the claim of a hypothetical stake.
// GET /api/markets/{id}/quote?outcome=0&amount=100
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome, err := parseUint8(q.Get("outcome"))
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	view, err := h.reads.Quote(r.Context(), r.PathValue("id"), outcome, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Report streams the archived CSV settlement report. The report HMAC is
// returned in X-Polybet-Signature when one was recorded.
// GET /api/markets/{id}/report
func (h *MarketHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive is not configured")
		return
	}
	body, info, err := h.reports.OpenReport(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no report archived for this market")
			return
		}
		writeDomainError(w, r, h.logger, "open report", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if sig := info.Metadata[domain.ReportMetaSignature]; sig != "" {
		w.Header().Set("X-Polybet-Signature", sig)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: report stream interrupted", slog.String("error", err.Error()))
	}
}
