package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"elastivault/crypto"
	"elastivault/native/elastic"
)

type mockState struct {
	users      map[crypto.Address]*UserAccount
	meta       *Meta
	ledgerSnap *elastic.Snapshot
}

func newMockState() *mockState {
	return &mockState{users: make(map[crypto.Address]*UserAccount)}
}

func (m *mockState) GetUserAccount(addr crypto.Address) (*UserAccount, error) {
	return m.users[addr], nil
}

func (m *mockState) PutUserAccount(account *UserAccount) error {
	if account == nil {
		return nil
	}
	m.users[account.Address] = account
	return nil
}

func (m *mockState) DeleteUserAccount(addr crypto.Address) error {
	delete(m.users, addr)
	return nil
}

func (m *mockState) GetMeta() (*Meta, error) { return m.meta, nil }

func (m *mockState) PutMeta(meta *Meta) error {
	m.meta = meta
	return nil
}

func (m *mockState) PutLedger(snapshot *elastic.Snapshot) error {
	m.ledgerSnap = snapshot
	return nil
}

type mockTreasury struct {
	balance      *big.Int
	failTransfer bool
	transfers    int
	reenter      func() error
	reentryErr   error
}

func newMockTreasury() *mockTreasury {
	return &mockTreasury{balance: big.NewInt(0)}
}

func (m *mockTreasury) Credit(amount *big.Int) error {
	m.balance = new(big.Int).Add(m.balance, amount)
	return nil
}

func (m *mockTreasury) Transfer(_ crypto.Address, amount *big.Int) error {
	if m.reenter != nil {
		m.reentryErr = m.reenter()
		m.reenter = nil
	}
	if m.failTransfer {
		return errors.New("send failed")
	}
	m.transfers++
	m.balance = new(big.Int).Sub(m.balance, amount)
	return nil
}

func (m *mockTreasury) Balance() *big.Int { return new(big.Int).Set(m.balance) }

type mockTokenMover struct {
	moved map[string]*big.Int
	fail  bool
}

func (m *mockTokenMover) Move(token string, _ crypto.Address, amount *big.Int) error {
	if m.fail {
		return errors.New("token transfer failed")
	}
	if m.moved == nil {
		m.moved = make(map[string]*big.Int)
	}
	m.moved[token] = new(big.Int).Set(amount)
	return nil
}

type sinkRecorder struct {
	events []*Event
}

func (s *sinkRecorder) AppendEvent(event *Event) {
	s.events = append(s.events, event)
}

func testAddr(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(raw)
}

func wei(eth int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(eth), big.NewInt(1_000_000_000_000_000_000))
}

type fixture struct {
	engine   *Engine
	state    *mockState
	treasury *mockTreasury
	tokens   *mockTokenMover
	sink     *sinkRecorder
	owner    crypto.Address
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	owner := testAddr(0xaa)
	start := time.Unix(1_700_000_000, 0)

	f := &fixture{
		engine:   NewEngine(owner, "ELV"),
		state:    newMockState(),
		treasury: newMockTreasury(),
		tokens:   &mockTokenMover{},
		sink:     &sinkRecorder{},
		owner:    owner,
		clock:    &start,
	}
	f.engine.SetState(f.state)
	f.engine.SetTreasury(f.treasury)
	f.engine.SetTokenMover(f.tokens)
	f.engine.SetEventSink(f.sink)
	f.engine.SetClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) warp(d time.Duration) {
	next := f.clock.Add(d)
	*f.clock = next
}

func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDepositMintsBalanceAndLocksCeilingRate(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)

	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	if balance := f.engine.Ledger().BalanceOf(alice); balance.Cmp(wei(10)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
	info, err := f.engine.GetUserInfo(alice)
	requireNoErr(t, err)
	if info.RateBps != 1000 {
		t.Fatalf("expected initial ceiling rate 1000, got %d", info.RateBps)
	}
	if info.Deposited.Cmp(wei(10)) != 0 {
		t.Fatalf("unexpected principal: %s", info.Deposited)
	}
}

func TestSecondDepositorLocksSteppedDownRate(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	requireNoErr(t, f.engine.Deposit(alice, wei(10)))
	requireNoErr(t, f.engine.Deposit(bob, wei(11)))

	bobInfo, err := f.engine.GetUserInfo(bob)
	requireNoErr(t, err)
	if bobInfo.RateBps != 900 {
		t.Fatalf("expected one tier step down to 900, got %d", bobInfo.RateBps)
	}
	aliceInfo, err := f.engine.GetUserInfo(alice)
	requireNoErr(t, err)
	if aliceInfo.RateBps != 1000 {
		t.Fatalf("first depositor's locked rate changed: %d", aliceInfo.RateBps)
	}
}

func TestRepeatDepositKeepsLockedRate(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)

	requireNoErr(t, f.engine.Deposit(alice, wei(10)))
	requireNoErr(t, f.engine.Deposit(alice, wei(15)))

	info, err := f.engine.GetUserInfo(alice)
	requireNoErr(t, err)
	if info.RateBps != 1000 {
		t.Fatalf("locked rate must not change on repeat deposit, got %d", info.RateBps)
	}
	if info.Deposited.Cmp(wei(25)) != 0 {
		t.Fatalf("unexpected cumulative principal: %s", info.Deposited)
	}
}

func TestRateMonotonicityAndBounds(t *testing.T) {
	f := newFixture(t)
	curve := f.engine.curve

	prev := curve.RateFor(big.NewInt(0))
	if prev != curve.BaseRateBps {
		t.Fatalf("rate at zero deposits must be the ceiling, got %d", prev)
	}
	for eth := int64(1); eth <= 200; eth += 7 {
		rate := curve.RateFor(wei(eth))
		if rate > prev {
			t.Fatalf("rate curve increased at %d ETH: %d -> %d", eth, prev, rate)
		}
		if rate < curve.MinRateBps || rate > curve.BaseRateBps {
			t.Fatalf("rate %d outside [%d, %d]", rate, curve.MinRateBps, curve.BaseRateBps)
		}
		prev = rate
	}
	if curve.RateFor(wei(10_000)) != curve.MinRateBps {
		t.Fatal("deep tiers must floor at the minimum rate")
	}
}

func TestRateForFloorsWhenTierCountWouldOverflow(t *testing.T) {
	curve := RateCurve{
		BaseRateBps: 1000,
		RateStepBps: 100,
		MinRateBps:  200,
		TierSize:    big.NewInt(1),
	}
	// Tier counts beyond uint64 range, and counts whose step product would
	// wrap uint64, both sit far past the floor.
	huge := new(big.Int).Exp(big.NewInt(2), big.NewInt(80), nil)
	if got := curve.RateFor(huge); got != curve.MinRateBps {
		t.Fatalf("expected floor rate for oversized tier count, got %d", got)
	}
	wrapping := new(big.Int).SetUint64(1 << 63)
	if got := curve.RateFor(wrapping); got != curve.MinRateBps {
		t.Fatalf("expected floor rate when reduction would wrap, got %d", got)
	}
	flat := RateCurve{BaseRateBps: 1000, MinRateBps: 200, TierSize: big.NewInt(1)}
	if got := flat.RateFor(huge); got != flat.BaseRateBps {
		t.Fatalf("zero step must keep the ceiling rate, got %d", got)
	}
}

func TestDepositBelowMinimumCarriesBothAmounts(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.SetMinDeposit(f.owner, wei(1)))

	err := f.engine.Deposit(alice, big.NewInt(5))
	if !errors.Is(err, ErrMinDepositNotMet) {
		t.Fatalf("expected ErrMinDepositNotMet, got %v", err)
	}
	var minErr *MinDepositError
	if !errors.As(err, &minErr) {
		t.Fatalf("expected MinDepositError, got %T", err)
	}
	if minErr.Amount.Cmp(big.NewInt(5)) != 0 || minErr.Minimum.Cmp(wei(1)) != 0 {
		t.Fatalf("error parameters wrong: %+v", minErr)
	}
}

func TestDepositCapAndTvlCap(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	requireNoErr(t, f.engine.SetDepositCaps(f.owner, wei(15), wei(20)))

	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	err := f.engine.Deposit(alice, wei(6))
	if !errors.Is(err, ErrDepositCapExceeded) {
		t.Fatalf("expected per-user cap error, got %v", err)
	}
	var capErr *DepositCapError
	if !errors.As(err, &capErr) || capErr.NewTotal.Cmp(wei(16)) != 0 || capErr.Cap.Cmp(wei(15)) != 0 {
		t.Fatalf("unexpected cap error parameters: %v", err)
	}

	err = f.engine.Deposit(bob, wei(11))
	if !errors.Is(err, ErrTvlCapExceeded) {
		t.Fatalf("expected tvl cap error, got %v", err)
	}
	var tvlErr *TvlCapError
	if !errors.As(err, &tvlErr) || tvlErr.NewTotal.Cmp(wei(21)) != 0 || tvlErr.Cap.Cmp(wei(20)) != 0 {
		t.Fatalf("unexpected tvl error parameters: %v", err)
	}

	// Rejected deposits must not leave partial state behind.
	total, err := f.engine.TotalDeposited()
	requireNoErr(t, err)
	if total.Cmp(wei(10)) != 0 {
		t.Fatalf("rejected deposits mutated state: %s", total)
	}
}

func TestZeroDepositRejected(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)

	if err := f.engine.Deposit(alice, big.NewInt(0)); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if err := f.engine.Deposit(alice, nil); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit for nil, got %v", err)
	}
}

func TestAllowlistGate(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	requireNoErr(t, f.engine.SetAllowlistEnabled(f.owner, true))
	requireNoErr(t, f.engine.SetAllowlistStatus(f.owner, alice, true))

	requireNoErr(t, f.engine.Deposit(alice, wei(1)))
	if err := f.engine.Deposit(bob, wei(1)); !errors.Is(err, ErrNotAllowlisted) {
		t.Fatalf("expected ErrNotAllowlisted, got %v", err)
	}

	requireNoErr(t, f.engine.SetAllowlistEnabled(f.owner, false))
	requireNoErr(t, f.engine.Deposit(bob, wei(1)))
}

func TestPauseSwitches(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(5)))

	requireNoErr(t, f.engine.SetDepositsPaused(f.owner, true))
	if err := f.engine.Deposit(alice, wei(1)); !errors.Is(err, ErrDepositsPaused) {
		t.Fatalf("expected ErrDepositsPaused, got %v", err)
	}
	if _, err := f.engine.Redeem(alice, wei(1)); err != nil {
		t.Fatalf("redeem must stay open while deposits paused: %v", err)
	}

	requireNoErr(t, f.engine.PauseAll(f.owner))
	if _, err := f.engine.Redeem(alice, wei(1)); !errors.Is(err, ErrRedeemsPaused) {
		t.Fatalf("expected ErrRedeemsPaused, got %v", err)
	}

	requireNoErr(t, f.engine.UnpauseAll(f.owner))
	requireNoErr(t, f.engine.Deposit(alice, wei(1)))

	if err := f.engine.PauseAll(testAddr(0x09)); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("pause must be owner gated, got %v", err)
	}
}

func TestRedeemPaysOutAndShrinksPrincipal(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	paid, err := f.engine.Redeem(alice, wei(4))
	requireNoErr(t, err)
	if paid.Cmp(wei(4)) != 0 {
		t.Fatalf("unexpected payout: %s", paid)
	}

	info, err := f.engine.GetUserInfo(alice)
	requireNoErr(t, err)
	if info.Deposited.Cmp(wei(6)) != 0 {
		t.Fatalf("principal not reduced proportionally: %s", info.Deposited)
	}
	total, err := f.engine.TotalDeposited()
	requireNoErr(t, err)
	if total.Cmp(wei(6)) != 0 {
		t.Fatalf("unexpected total deposited: %s", total)
	}
	if f.treasury.Balance().Cmp(total) != 0 {
		t.Fatalf("solvency broken: treasury %s, ledger %s", f.treasury.Balance(), total)
	}
}

func TestFullRedeemClearsAccount(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	_, err := f.engine.Redeem(alice, wei(10))
	requireNoErr(t, err)

	if _, ok := f.state.users[alice]; ok {
		t.Fatal("account must be cleared on full redemption")
	}
	info, err := f.engine.GetUserInfo(alice)
	requireNoErr(t, err)
	if info.RateBps != 0 || info.Deposited.Sign() != 0 {
		t.Fatalf("cleared account still carries state: %+v", info)
	}
}

func TestRedeemPreconditions(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(2)))

	if _, err := f.engine.Redeem(alice, big.NewInt(0)); !errors.Is(err, ErrNoTokensToRedeem) {
		t.Fatalf("expected ErrNoTokensToRedeem, got %v", err)
	}
	if _, err := f.engine.Redeem(alice, wei(3)); !errors.Is(err, elastic.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRedeemSlippageGuard(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(5)))

	_, err := f.engine.RedeemWithMinOut(alice, wei(2), wei(3))
	if !errors.Is(err, ErrSlippageTooHigh) {
		t.Fatalf("expected ErrSlippageTooHigh, got %v", err)
	}
	var slip *SlippageError
	if !errors.As(err, &slip) || slip.Out.Cmp(wei(2)) != 0 || slip.MinOut.Cmp(wei(3)) != 0 {
		t.Fatalf("unexpected slippage parameters: %v", err)
	}

	// A failed redemption must not partially execute.
	if balance := f.engine.Ledger().BalanceOf(alice); balance.Cmp(wei(5)) != 0 {
		t.Fatalf("balance changed on aborted redeem: %s", balance)
	}
	if f.treasury.transfers != 0 {
		t.Fatal("no payout may happen on an aborted redeem")
	}

	paid, err := f.engine.RedeemWithMinOut(alice, wei(2), wei(2))
	requireNoErr(t, err)
	if paid.Cmp(wei(2)) != 0 {
		t.Fatalf("payout below stated minimum: %s", paid)
	}
}

func TestRedeemTransferFailureAborts(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(5)))

	f.treasury.failTransfer = true
	if _, err := f.engine.Redeem(alice, wei(5)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if balance := f.engine.Ledger().BalanceOf(alice); balance.Cmp(wei(5)) != 0 {
		t.Fatalf("failed transfer must not burn tokens: %s", balance)
	}
	total, err := f.engine.TotalDeposited()
	requireNoErr(t, err)
	if total.Cmp(wei(5)) != 0 {
		t.Fatalf("failed transfer mutated accounting: %s", total)
	}
}

func TestRedeemReentrancyBlocked(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(5)))

	f.treasury.reenter = func() error {
		_, err := f.engine.EmergencyWithdraw(f.owner, f.owner, wei(1))
		return err
	}
	_, err := f.engine.Redeem(alice, wei(1))
	requireNoErr(t, err)
	if !errors.Is(f.treasury.reentryErr, ErrReentrantCall) {
		t.Fatalf("expected reentrant call to be blocked, got %v", f.treasury.reentryErr)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	recovery := testAddr(0x0f)
	requireNoErr(t, f.engine.Deposit(alice, wei(8)))

	if _, err := f.engine.EmergencyWithdraw(alice, recovery, wei(1)); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("expected ErrOnlyOwner, got %v", err)
	}
	var zero crypto.Address
	if _, err := f.engine.EmergencyWithdraw(f.owner, zero, wei(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}

	withdrawn, err := f.engine.EmergencyWithdraw(f.owner, recovery, big.NewInt(0))
	requireNoErr(t, err)
	if withdrawn.Cmp(wei(8)) != 0 {
		t.Fatalf("zero amount must mean everything, got %s", withdrawn)
	}
	if f.treasury.Balance().Sign() != 0 {
		t.Fatalf("treasury not drained: %s", f.treasury.Balance())
	}
	if _, err := f.engine.EmergencyWithdraw(f.owner, recovery, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero on empty treasury, got %v", err)
	}
}

func TestSweepToken(t *testing.T) {
	f := newFixture(t)
	recovery := testAddr(0x0f)

	if err := f.engine.SweepToken(f.owner, "ELV", recovery, wei(1)); !errors.Is(err, ErrTokenNotSweepable) {
		t.Fatalf("own token must not be sweepable, got %v", err)
	}
	requireNoErr(t, f.engine.SweepToken(f.owner, "USDX", recovery, wei(2)))
	if f.tokens.moved["USDX"].Cmp(wei(2)) != 0 {
		t.Fatalf("token not moved: %v", f.tokens.moved)
	}

	f.tokens.fail = true
	if err := f.engine.SweepToken(f.owner, "USDX", recovery, wei(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestGovernanceDualAuthorization(t *testing.T) {
	f := newFixture(t)
	governance := testAddr(0x10)
	outsider := testAddr(0x11)

	if err := f.engine.SetMinDeposit(governance, wei(1)); !errors.Is(err, ErrOnlyGovernance) {
		t.Fatalf("expected ErrOnlyGovernance before designation, got %v", err)
	}
	requireNoErr(t, f.engine.SetGovernance(f.owner, governance))

	requireNoErr(t, f.engine.SetMinDeposit(governance, wei(1)))
	requireNoErr(t, f.engine.SetMinDeposit(f.owner, wei(2)))
	if err := f.engine.SetMinDeposit(outsider, wei(3)); !errors.Is(err, ErrOnlyGovernance) {
		t.Fatalf("expected ErrOnlyGovernance for outsider, got %v", err)
	}
}

func TestSetAccrualConfigBounds(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetAccrualConfig(f.owner, AccrualConfig{Period: 30 * time.Minute, DailyCapBps: 1000})
	if !errors.Is(err, ErrInvalidAccrualPeriod) {
		t.Fatalf("expected ErrInvalidAccrualPeriod below bound, got %v", err)
	}
	err = f.engine.SetAccrualConfig(f.owner, AccrualConfig{Period: 8 * 24 * time.Hour, DailyCapBps: 1000})
	if !errors.Is(err, ErrInvalidAccrualPeriod) {
		t.Fatalf("expected ErrInvalidAccrualPeriod above bound, got %v", err)
	}
	err = f.engine.SetAccrualConfig(f.owner, AccrualConfig{Period: time.Hour, DailyCapBps: 10_001})
	if !errors.Is(err, ErrInvalidAccrualCap) {
		t.Fatalf("expected ErrInvalidAccrualCap, got %v", err)
	}
	requireNoErr(t, f.engine.SetAccrualConfig(f.owner, AccrualConfig{Period: time.Hour, DailyCapBps: 10_000}))
}

func TestBridgeMintBurnGated(t *testing.T) {
	f := newFixture(t)
	bridge := testAddr(0x20)
	alice := testAddr(0x01)

	if err := f.engine.BridgeMint(bridge, alice, wei(1)); !errors.Is(err, ErrUnauthorizedBridge) {
		t.Fatalf("expected ErrUnauthorizedBridge before designation, got %v", err)
	}
	requireNoErr(t, f.engine.SetBridge(f.owner, bridge))

	requireNoErr(t, f.engine.BridgeMint(bridge, alice, wei(3)))
	if balance := f.engine.Ledger().BalanceOf(alice); balance.Cmp(wei(3)) != 0 {
		t.Fatalf("bridge mint missing: %s", balance)
	}
	requireNoErr(t, f.engine.BridgeBurn(bridge, alice, wei(1)))
	if balance := f.engine.Ledger().BalanceOf(alice); balance.Cmp(wei(2)) != 0 {
		t.Fatalf("bridge burn missing: %s", balance)
	}
	if err := f.engine.BridgeBurn(alice, alice, wei(1)); !errors.Is(err, ErrUnauthorizedBridge) {
		t.Fatalf("expected ErrUnauthorizedBridge for non-bridge caller, got %v", err)
	}
}

func TestDepositEmitsEvent(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	if len(f.sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.sink.events))
	}
	ev := f.sink.events[0]
	if ev.Type != TypeDeposited {
		t.Fatalf("unexpected event type: %s", ev.Type)
	}
	if ev.Attributes["rateBps"] != "1000" {
		t.Fatalf("unexpected event rate: %s", ev.Attributes["rateBps"])
	}
}

func TestPreviewHelpers(t *testing.T) {
	f := newFixture(t)

	tokens, rate, err := f.engine.PreviewDeposit(wei(5))
	requireNoErr(t, err)
	if tokens.Cmp(wei(5)) != 0 || rate != 1000 {
		t.Fatalf("unexpected preview: %s @ %d", tokens, rate)
	}
	out, err := f.engine.PreviewRedeem(wei(5))
	requireNoErr(t, err)
	if out.Cmp(wei(5)) != 0 {
		t.Fatalf("unexpected redeem preview: %s", out)
	}
}

func TestEstimateInterestLinearProjection(t *testing.T) {
	f := newFixture(t)
	alice := testAddr(0x01)
	requireNoErr(t, f.engine.Deposit(alice, wei(10)))

	projected, err := f.engine.EstimateInterest(alice, 365)
	requireNoErr(t, err)
	// 10 ETH at 10% over a year.
	if projected.Cmp(wei(1)) != 0 {
		t.Fatalf("unexpected projection: %s", projected)
	}
}
