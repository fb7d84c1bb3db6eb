package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
	"github.com/alanyoungcy/polybet/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// stubVerifier accepts a signature equal to the signer's identity.
type stubVerifier struct{}

func (stubVerifier) Recover(_ string, _ uint8, sig []byte) (domain.Identity, error) {
	if len(sig) == 0 {
		return "", domain.ErrInvalidSignature
	}
	return domain.Identity(sig), nil
}

func (stubVerifier) Normalize(id domain.Identity) (domain.Identity, error) { return id, nil }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (s *recordingSink) Emit(_ context.Context, evs ...domain.SettlementEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

const (
	admin   domain.Identity = "admin"
	creator domain.Identity = "creator"
	alice   domain.Identity = "alice"
	bob     domain.Identity = "bob"
	carol   domain.Identity = "carol"
)

var (
	start   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	devAcct = domain.Account("dev")
)

type CoordinatorSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	clock *fakeClock
	sink  *recordingSink
	c     *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.clock = &fakeClock{now: start}
	s.sink = &recordingSink{}
	s.c = NewCoordinator(Deps{
		Store:    s.store,
		Clock:    s.clock,
		Verifier: stubVerifier{},
		Events:   s.sink,
		Audit:    s.store,
	})

	_, err := s.c.InitProtocol(s.ctx, admin, ProtocolInit{
		DevAccount: devAcct,
		BurnMint:   "POLY",
		Fees:       domain.FeeSchedule{CreatorBps: 500, DevBps: 200, BurnBps: 300},
	})
	s.Require().NoError(err)

	for _, u := range []domain.Identity{alice, bob, carol} {
		s.Require().NoError(s.store.Credit(s.ctx, domain.UserAccount(u), 10_000))
	}
}

func (s *CoordinatorSuite) newMarket(policy domain.PayoutPolicy, outcomes uint8) domain.Market {
	m, err := s.c.InitMarket(s.ctx, creator, market.Params{
		Question:     "Who wins?",
		OutcomeCount: outcomes,
		EndTime:      start.Add(48 * time.Hour),
		Policy:       policy,
		Oracle:       "oracle",
	})
	s.Require().NoError(err)
	return m
}

func (s *CoordinatorSuite) balance(a domain.Account) uint64 {
	b, err := s.store.Ledger().Balance(s.ctx, a)
	s.Require().NoError(err)
	return b
}

func (s *CoordinatorSuite) bet(u domain.Identity, id string, outcome uint8, amount uint64) {
	_, err := s.c.PlaceBet(s.ctx, u, id, outcome, amount)
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TestInitProtocolOnce() {
	_, err := s.c.InitProtocol(s.ctx, admin, ProtocolInit{DevAccount: devAcct})
	s.Require().ErrorIs(err, domain.ErrAlreadyExists)
}

func (s *CoordinatorSuite) TestUpdateProtocol() {
	bps := uint16(9000)
	_, err := s.c.UpdateProtocol(s.ctx, alice, domain.ProtocolUpdate{BurnBps: &bps})
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	_, err = s.c.UpdateProtocol(s.ctx, admin, domain.ProtocolUpdate{BurnBps: &bps})
	s.Require().ErrorIs(err, domain.ErrInvalidFees)

	bps = 100
	cfg, err := s.c.UpdateProtocol(s.ctx, admin, domain.ProtocolUpdate{BurnBps: &bps})
	s.Require().NoError(err)
	s.Equal(uint16(100), cfg.Fees.BurnBps)
	s.Equal(uint16(500), cfg.Fees.CreatorBps)
}

func (s *CoordinatorSuite) TestLosingPoolSettlement() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 50)
	s.bet(carol, m.ID, 0, 50)

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(200), got.TotalPool)
	s.Equal(uint64(150), got.OutcomeTotals[0])
	s.Equal(uint64(50), got.OutcomeTotals[1])

	_, err = s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(127), res.Payout)
	s.Require().NotNil(res.Fees)
	s.Equal(uint64(5), res.Fees.Creator)
	s.Equal(uint64(2), res.Fees.Burn)

	res, err = s.c.Claim(s.ctx, carol, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(63), res.Payout)
	s.Nil(res.Fees)

	_, err = s.c.Claim(s.ctx, bob, m.ID)
	s.Require().ErrorIs(err, domain.ErrLoser)

	vault := domain.VaultAccount(m.ID)
	s.Equal(uint64(3), s.balance(vault))
	s.Equal(uint64(5), s.balance(domain.UserAccount(creator)))
	s.Equal(uint64(2), s.store.Burned("POLY"))
	// Conservation: payouts + fees + burn + dust == pool.
	s.Equal(uint64(200), 127+63+5+2+s.balance(vault))

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Second))
	swept, err := s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(3), swept)
	s.Zero(s.balance(vault))
	s.Equal(uint64(3), s.balance(devAcct))
}

func (s *CoordinatorSuite) TestFeeScheduleSettlement() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyFeeSchedule}, 2)
	s.bet(alice, m.ID, 0, 600)
	s.bet(bob, m.ID, 1, 400)
	_, err := s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	split, err := s.c.DistributeFees(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(50), split.Creator)
	s.Equal(uint64(20), split.Dev)
	s.Equal(uint64(30), split.Burn)

	_, err = s.c.DistributeFees(s.ctx, m.ID)
	s.Require().ErrorIs(err, domain.ErrFeesAlreadyDistributed)

	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(900), res.Payout)
	s.Nil(res.Fees)
	s.Equal(uint64(10_000-600+900), s.balance(domain.UserAccount(alice)))
	s.Zero(s.balance(domain.VaultAccount(m.ID)))
}

func (s *CoordinatorSuite) TestClaimIdempotent() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyFeeSchedule}, 2)
	s.bet(alice, m.ID, 0, 100)
	_, err := s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	_, err = s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	entries := len(s.store.Journal())
	before := s.balance(domain.UserAccount(alice))

	_, err = s.c.Claim(s.ctx, alice, m.ID)
	s.Require().ErrorIs(err, domain.ErrAlreadyClaimed)
	s.Equal(domain.KindStateConflict, domain.KindOf(err))
	s.Len(s.store.Journal(), entries)
	s.Equal(before, s.balance(domain.UserAccount(alice)))
}

func (s *CoordinatorSuite) TestClaimBeforeResolution() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyFeeSchedule}, 2)
	s.bet(alice, m.ID, 0, 100)
	_, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().ErrorIs(err, domain.ErrNotResolved)
	s.Equal(domain.KindTemporal, domain.KindOf(err))

	_, err = s.c.Claim(s.ctx, bob, m.ID)
	s.Require().ErrorIs(err, domain.ErrNoActiveBet)
}

func (s *CoordinatorSuite) TestResolveImmutable() {
	m := s.newMarket(domain.PayoutPolicy{}, 3)
	_, err := s.c.Resolve(s.ctx, alice, m.ID, 1)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	_, err = s.c.Resolve(s.ctx, creator, m.ID, 3)
	s.Require().ErrorIs(err, domain.ErrInvalidOutcome)

	_, err = s.c.Resolve(s.ctx, creator, m.ID, 1)
	s.Require().NoError(err)
	_, err = s.c.Resolve(s.ctx, creator, m.ID, 2)
	s.Require().ErrorIs(err, domain.ErrAlreadyResolved)

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(uint8(1), *got.WinningOutcome)
}

func (s *CoordinatorSuite) TestResolveWithAttestation() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	_, err := s.c.ResolveWithAttestation(s.ctx, m.ID, 1, []byte("mallory"))
	s.Require().ErrorIs(err, domain.ErrUnauthorized)
	_, err = s.c.ResolveWithAttestation(s.ctx, m.ID, 1, nil)
	s.Require().ErrorIs(err, domain.ErrInvalidSignature)

	got, err := s.c.ResolveWithAttestation(s.ctx, m.ID, 1, []byte("oracle"))
	s.Require().NoError(err)
	s.Equal(uint8(1), *got.WinningOutcome)
}

func (s *CoordinatorSuite) TestBetTimeGate() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.clock.Set(m.EndTime.Add(-time.Second))
	s.bet(alice, m.ID, 0, 10)

	s.clock.Set(m.EndTime)
	_, err := s.c.PlaceBet(s.ctx, alice, m.ID, 0, 10)
	s.Require().ErrorIs(err, domain.ErrMarketClosed)
	s.Equal(domain.KindTemporal, domain.KindOf(err))
}

func (s *CoordinatorSuite) TestBetFailureLeavesNoTrace() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	_, err := s.c.PlaceBet(s.ctx, alice, m.ID, 0, 20_000)
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Zero(got.TotalPool)
	_, err = s.store.Votes().Get(s.ctx, m.ID, alice)
	s.Require().ErrorIs(err, domain.ErrNotFound)
	s.Equal(uint64(10_000), s.balance(domain.UserAccount(alice)))
}

func (s *CoordinatorSuite) TestOutcomeSwitchRejected() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(alice, m.ID, 0, 10)
	s.bet(alice, m.ID, 0, 15)
	_, err := s.c.PlaceBet(s.ctx, alice, m.ID, 1, 10)
	s.Require().ErrorIs(err, domain.ErrOutcomeSwitch)

	v, err := s.store.Votes().Get(s.ctx, m.ID, alice)
	s.Require().NoError(err)
	s.Equal(uint64(25), v.Amount)
}

func (s *CoordinatorSuite) TestEarlyExit() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 40)

	refund, err := s.c.EarlyExit(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(90), refund)

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Zero(got.OutcomeTotals[0])
	s.Equal(uint64(40), got.TotalPool)
	s.Equal(uint64(50), s.balance(domain.VaultAccount(m.ID)))

	_, err = s.c.EarlyExit(s.ctx, alice, m.ID)
	s.Require().ErrorIs(err, domain.ErrAlreadyClaimed)
}

func (s *CoordinatorSuite) TestEarlyExitPaused() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(alice, m.ID, 0, 100)
	_, err := s.c.SetPaused(s.ctx, alice, m.ID, true)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)
	_, err = s.c.SetPaused(s.ctx, creator, m.ID, true)
	s.Require().NoError(err)

	_, err = s.c.EarlyExit(s.ctx, alice, m.ID)
	s.Require().ErrorIs(err, domain.ErrMarketPaused)
	_, err = s.c.PlaceBet(s.ctx, alice, m.ID, 0, 1)
	s.Require().ErrorIs(err, domain.ErrMarketPaused)
}

func (s *CoordinatorSuite) TestCancelRefund() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 3)
	s.bet(alice, m.ID, 2, 75)
	s.bet(bob, m.ID, 0, 30)

	_, err := s.c.Cancel(s.ctx, alice, m.ID)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)
	_, err = s.c.Cancel(s.ctx, creator, m.ID)
	s.Require().NoError(err)

	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.True(res.Refund)
	s.Equal(uint64(75), res.Payout)
	s.Equal(uint64(10_000), s.balance(domain.UserAccount(alice)))

	_, err = s.c.DistributeFees(s.ctx, m.ID)
	s.Require().ErrorIs(err, domain.ErrMarketCancelled)
	_, err = s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().ErrorIs(err, domain.ErrAlreadyResolved)
}

func (s *CoordinatorSuite) TestSweepKeepsUnclaimedFunds() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 50)
	s.bet(carol, m.ID, 0, 50)
	_, err := s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	_, err = s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().ErrorIs(err, domain.ErrSweepTooEarly)

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Hour))
	_, err = s.c.Sweep(s.ctx, creator, m.ID)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	swept, err := s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().NoError(err)
	// 200 - 7 fees - 127 - 63 owed to alice and carol.
	s.Equal(uint64(3), swept)

	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(127), res.Payout)

	_, err = s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().ErrorIs(err, domain.ErrAlreadySwept)
}

func (s *CoordinatorSuite) TestExitRateFixedAtCreation() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.Equal(uint16(domain.DefaultEarlyExitBps), m.EarlyExitBps)
	s.bet(alice, m.ID, 0, 100)

	rate := uint16(1000)
	_, err := s.c.UpdateProtocol(s.ctx, admin, domain.ProtocolUpdate{EarlyExitBps: &rate})
	s.Require().NoError(err)

	refund, err := s.c.EarlyExit(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(90), refund)

	later := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(bob, later.ID, 1, 100)
	refund, err = s.c.EarlyExit(s.ctx, bob, later.ID)
	s.Require().NoError(err)
	s.Equal(uint64(10), refund)
}

func (s *CoordinatorSuite) TestSweepCooldownFixedAtCreation() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 50)
	s.bet(carol, m.ID, 0, 50)
	_, err := s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	longer := 365 * 24 * time.Hour
	_, err = s.c.UpdateProtocol(s.ctx, admin, domain.ProtocolUpdate{SweepCooldown: &longer})
	s.Require().NoError(err)

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Hour))
	swept, err := s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(3), swept)
}

func (s *CoordinatorSuite) TestSweepCancelledAfterEarlyExit() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 50)

	refund, err := s.c.EarlyExit(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(90), refund)
	_, err = s.c.Cancel(s.ctx, creator, m.ID)
	s.Require().NoError(err)

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Hour))
	swept, err := s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().NoError(err)
	// Only the exit penalty is residual; bob's refund stays in custody.
	s.Equal(uint64(10), swept)
	s.Equal(uint64(10), s.balance(devAcct))
	s.Equal(uint64(50), s.balance(domain.VaultAccount(m.ID)))

	res, err := s.c.Claim(s.ctx, bob, m.ID)
	s.Require().NoError(err)
	s.True(res.Refund)
	s.Equal(uint64(50), res.Payout)
	s.Equal(uint64(10_000), s.balance(domain.UserAccount(bob)))
	s.Zero(s.balance(domain.VaultAccount(m.ID)))

	_, err = s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().ErrorIs(err, domain.ErrAlreadySwept)
}

func (s *CoordinatorSuite) TestSweepWithoutResidual() {
	m := s.newMarket(domain.PayoutPolicy{Kind: domain.PolicyLosingPool}, 2)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 50)
	_, err := s.c.Cancel(s.ctx, creator, m.ID)
	s.Require().NoError(err)

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Hour))
	_, err = s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().ErrorIs(err, domain.ErrNoDustToSweep)
	s.Equal(domain.KindPrecondition, domain.KindOf(err))

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(domain.MarketCancelled, got.State)
	s.Equal(uint64(150), s.balance(domain.VaultAccount(m.ID)))
	s.Zero(s.balance(devAcct))
}

func (s *CoordinatorSuite) TestLockedPolicyPaysFromTreasury() {
	_, err := s.c.InitMarket(s.ctx, creator, market.Params{
		Question:     "locked",
		OutcomeCount: 2,
		EndTime:      start.Add(time.Hour),
		Policy:       domain.PayoutPolicy{Kind: domain.PolicyLocked},
	})
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	m, err := s.c.InitMarket(s.ctx, admin, market.Params{
		Question:         "locked",
		OutcomeCount:     2,
		EndTime:          start.Add(time.Hour),
		VirtualLiquidity: 1000,
		Policy:           domain.PayoutPolicy{Kind: domain.PolicyLocked},
	})
	s.Require().NoError(err)
	s.Equal(domain.TreasuryAccount, m.Custody)
	s.Require().NoError(s.store.Credit(s.ctx, domain.TreasuryAccount, 500))

	v, err := s.c.PlaceBet(s.ctx, alice, m.ID, 0, 100)
	s.Require().NoError(err)
	s.Equal(uint64(180), v.LockedPayout)
	s.Equal(uint64(19), v.LockedFee)

	_, err = s.c.Resolve(s.ctx, admin, m.ID, 0)
	s.Require().NoError(err)
	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(180), res.Payout)
	s.Equal(uint64(19), res.Fee)
	s.Equal(uint64(19), s.balance(devAcct))
	s.Equal(uint64(500+100-180-19), s.balance(domain.TreasuryAccount))

	s.clock.Set(m.EndTime.Add(domain.DefaultSweepCooldown + time.Hour))
	_, err = s.c.Sweep(s.ctx, admin, m.ID)
	s.Require().ErrorIs(err, domain.ErrSharedCustody)

	s.Require().NoError(s.c.SweepTreasury(s.ctx, admin, 100, ""))
	s.Equal(uint64(119), s.balance(devAcct))
	s.Require().ErrorIs(s.c.SweepTreasury(s.ctx, admin, 10_000, ""), domain.ErrInsufficientFunds)
}

func (s *CoordinatorSuite) TestSweepTreasuryKeepsLockedLiabilities() {
	m, err := s.c.InitMarket(s.ctx, admin, market.Params{
		Question:         "locked",
		OutcomeCount:     2,
		EndTime:          start.Add(time.Hour),
		VirtualLiquidity: 1000,
		Policy:           domain.PayoutPolicy{Kind: domain.PolicyLocked},
	})
	s.Require().NoError(err)
	s.bet(alice, m.ID, 0, 100)
	s.bet(bob, m.ID, 1, 100)
	s.Equal(uint64(200), s.balance(domain.TreasuryAccount))

	// Both stakes are still owed while the market is open.
	err = s.c.SweepTreasury(s.ctx, admin, 200, "")
	s.Require().ErrorIs(err, domain.ErrNoDustToSweep)
	s.Require().ErrorIs(s.c.SweepTreasury(s.ctx, admin, 1, ""), domain.ErrNoDustToSweep)
	s.Equal(uint64(200), s.balance(domain.TreasuryAccount))
	s.Zero(s.balance(devAcct))

	_, err = s.c.Resolve(s.ctx, admin, m.ID, 0)
	s.Require().NoError(err)
	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(180), res.Payout)
	s.Equal(uint64(19), res.Fee)

	// Bob lost, so only the remainder is free.
	s.Require().ErrorIs(s.c.SweepTreasury(s.ctx, admin, 2, ""), domain.ErrInsufficientFunds)
	s.Require().NoError(s.c.SweepTreasury(s.ctx, admin, 1, ""))
	s.Zero(s.balance(domain.TreasuryAccount))
	s.Equal(uint64(19+1), s.balance(devAcct))
}

func (s *CoordinatorSuite) TestSweepTreasuryPartialHeadroom() {
	m, err := s.c.InitMarket(s.ctx, admin, market.Params{
		Question:     "locked",
		OutcomeCount: 2,
		EndTime:      start.Add(time.Hour),
		Policy:       domain.PayoutPolicy{Kind: domain.PolicyLocked},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Credit(s.ctx, domain.TreasuryAccount, 1_000))
	s.bet(alice, m.ID, 0, 100)

	v, err := s.store.Votes().Get(s.ctx, m.ID, alice)
	s.Require().NoError(err)
	owed := max(v.Amount, v.LockedPayout+v.LockedFee)
	free := 1_100 - owed

	err = s.c.SweepTreasury(s.ctx, admin, free+1, "")
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)
	s.Require().NoError(s.c.SweepTreasury(s.ctx, admin, free, "ops"))
	s.Equal(free, s.balance("ops"))
	s.Equal(owed, s.balance(domain.TreasuryAccount))
}

func (s *CoordinatorSuite) TestConcurrentBetsConserve() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := []domain.Identity{alice, bob, carol}[i%3]
			_, _ = s.c.PlaceBet(s.ctx, u, m.ID, uint8(i%3)%2, 7)
		}(i)
	}
	wg.Wait()

	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Require().NoError(market.CheckInvariant(got))
	s.Equal(got.TotalPool, s.balance(domain.VaultAccount(m.ID)))
}

func (s *CoordinatorSuite) TestEventsEmittedOnCommitOnly() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(alice, m.ID, 0, 10)
	_, err := s.c.PlaceBet(s.ctx, alice, m.ID, 1, 10)
	s.Require().Error(err)

	s.Equal([]domain.EventType{
		domain.EventProtocolInitialized,
		domain.EventMarketCreated,
		domain.EventBetPlaced,
	}, s.sink.types())

	entries, err := s.store.List(s.ctx, domain.ListOpts{Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(string(domain.EventBetPlaced), entries[0].Event)
}

// burnFailStore makes every burn fail so fee distribution cannot complete.
type burnFailStore struct{ *memory.Store }

func (b burnFailStore) Atomic(ctx context.Context, scope string, fn func(context.Context, domain.Tx) error) error {
	return b.Store.Atomic(ctx, scope, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, burnFailTx{tx})
	})
}

type burnFailTx struct{ domain.Tx }

func (t burnFailTx) Ledger() domain.Ledger { return burnFailLedger{t.Tx.Ledger()} }

type burnFailLedger struct{ domain.Ledger }

func (burnFailLedger) Burn(context.Context, string, domain.Account, domain.Identity, uint64) error {
	return errors.New("mint frozen")
}

func (s *CoordinatorSuite) TestAutoDistributeFailureFailsClaim() {
	m := s.newMarket(domain.PayoutPolicy{}, 2)
	s.bet(alice, m.ID, 0, 100)
	_, err := s.c.Resolve(s.ctx, creator, m.ID, 0)
	s.Require().NoError(err)

	failing := NewCoordinator(Deps{Store: burnFailStore{s.store}, Clock: s.clock})
	_, err = failing.Claim(s.ctx, alice, m.ID)
	s.Require().Error(err)

	v, err := s.store.Votes().Get(s.ctx, m.ID, alice)
	s.Require().NoError(err)
	s.False(v.Claimed)
	got, err := s.store.Markets().GetByID(s.ctx, m.ID)
	s.Require().NoError(err)
	s.False(got.FeesDistributed())
	s.Equal(uint64(100), s.balance(domain.VaultAccount(m.ID)))

	res, err := s.c.Claim(s.ctx, alice, m.ID)
	s.Require().NoError(err)
	s.Equal(uint64(90), res.Payout)
}
