package vault

import (
	"math/big"
	"time"

	"elastivault/crypto"
	nativecommon "elastivault/native/common"
	"elastivault/native/elastic"
)

var basisPoints = big.NewInt(10_000)

// Engine orchestrates the vault's state transitions: deposits and
// redemptions against the treasury, periodic bounded accrual against the
// share ledger, and the owner/governance parameter surface. Every public
// mutator runs to completion before the next call observes state; there is
// no background scheduling.
type Engine struct {
	ledger   *elastic.Ledger
	state    EngineState
	treasury Treasury
	tokens   TokenMover
	events   EventSink
	now      func() time.Time

	owner      crypto.Address
	governance crypto.Address
	bridge     crypto.Address

	tokenSymbol string

	curve   RateCurve
	accrual AccrualConfig
	fee     FeeConfig

	minDeposit        *big.Int
	perUserDepositCap *big.Int
	globalTvlCap      *big.Int

	allowlistEnabled bool
	allowlist        map[crypto.Address]bool

	pauses nativecommon.Switches

	// recoveryInProgress guards the external-transfer paths against
	// reentrant mutation; scoped per call and released on every exit path.
	recoveryInProgress bool
}

// NewEngine constructs a vault engine owned by the given address, with an
// empty ledger, the default rate curve and a daily accrual cycle. Collaborators
// are wired through the SetX methods before first use.
func NewEngine(owner crypto.Address, tokenSymbol string) *Engine {
	return &Engine{
		ledger:      elastic.NewLedger(),
		now:         time.Now,
		owner:       owner,
		tokenSymbol: tokenSymbol,
		curve:       DefaultRateCurve(),
		accrual:     AccrualConfig{Period: 24 * time.Hour, DailyCapBps: 1000},
		minDeposit:  big.NewInt(0),
		allowlist:   make(map[crypto.Address]bool),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetTreasury wires the base-asset balance backing the vault.
func (e *Engine) SetTreasury(treasury Treasury) { e.treasury = treasury }

// SetTokenMover wires the foreign-token recovery port.
func (e *Engine) SetTokenMover(tokens TokenMover) { e.tokens = tokens }

// SetEventSink wires the event destination. A nil sink drops events.
func (e *Engine) SetEventSink(sink EventSink) { e.events = sink }

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SetLedger replaces the share ledger, typically with one restored from a
// snapshot at boot.
func (e *Engine) SetLedger(ledger *elastic.Ledger) {
	if ledger != nil {
		e.ledger = ledger
	}
}

// Ledger exposes the share ledger for read-only callers.
func (e *Engine) Ledger() *elastic.Ledger { return e.ledger }

// Owner returns the engine owner.
func (e *Engine) Owner() crypto.Address { return e.owner }

// --- Deposits ---

// Deposit locks amount of the base asset for the depositor, mints the same
// token balance, and on a first deposit locks in the current curve rate. The
// precondition chain fails with a distinct error per cause, in a fixed order,
// with no partial state change.
func (e *Engine) Deposit(from crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.treasury == nil {
		return errNilTreasury
	}
	if from.IsZero() {
		return ErrZeroAddress
	}
	if err := nativecommon.Guard(&e.pauses, nativecommon.FlowDeposit); err != nil {
		return ErrDepositsPaused
	}
	if e.allowlistEnabled && !e.allowlist[from] {
		return ErrNotAllowlisted
	}
	if amount == nil {
		amount = big.NewInt(0)
	}

	meta, err := e.ensureMeta()
	if err != nil {
		return err
	}

	if e.minDeposit.Sign() > 0 && amount.Cmp(e.minDeposit) < 0 {
		return &MinDepositError{Amount: new(big.Int).Set(amount), Minimum: new(big.Int).Set(e.minDeposit)}
	}

	user, err := e.ensureUserAccount(from)
	if err != nil {
		return err
	}

	newUserTotal := new(big.Int).Add(user.Deposited, amount)
	if e.perUserDepositCap != nil && e.perUserDepositCap.Sign() > 0 && newUserTotal.Cmp(e.perUserDepositCap) > 0 {
		return &DepositCapError{NewTotal: newUserTotal, Cap: new(big.Int).Set(e.perUserDepositCap)}
	}

	newTvl := new(big.Int).Add(meta.TotalDeposited, amount)
	if e.globalTvlCap != nil && e.globalTvlCap.Sign() > 0 && newTvl.Cmp(e.globalTvlCap) > 0 {
		return &TvlCapError{NewTotal: newTvl, Cap: new(big.Int).Set(e.globalTvlCap)}
	}

	if amount.Sign() <= 0 {
		return ErrInsufficientDeposit
	}

	// Rate lock-in happens exactly once, before this deposit moves the
	// cumulative total across a tier boundary.
	if user.Deposited.Sign() == 0 {
		user.RateBps = e.curve.RateFor(meta.TotalDeposited)
	}

	if err := e.treasury.Credit(amount); err != nil {
		return err
	}
	if err := e.ledger.Mint(from, amount); err != nil {
		return err
	}

	user.Deposited = newUserTotal
	meta.TotalDeposited = newTvl
	weight := new(big.Int).Mul(amount, new(big.Int).SetUint64(user.RateBps))
	meta.WeightedRateSum = new(big.Int).Add(meta.WeightedRateSum, weight)

	if err := e.persist(user, meta); err != nil {
		return err
	}

	e.emit(Deposited{
		Account:   from,
		Amount:    new(big.Int).Set(amount),
		RateBps:   user.RateBps,
		Principal: new(big.Int).Set(user.Deposited),
	})
	return nil
}

// --- Redemptions ---

// Redeem burns tokenAmount and pays out its nominal base-asset value without
// a slippage floor.
func (e *Engine) Redeem(from crypto.Address, tokenAmount *big.Int) (*big.Int, error) {
	return e.RedeemWithMinOut(from, tokenAmount, big.NewInt(0))
}

// RedeemWithMinOut burns tokenAmount, pays out its nominal base-asset value
// and aborts with SlippageError when the payout falls below minOut. Principal
// bookkeeping shrinks proportionally to the shares redeemed, flooring at
// zero; an account redeemed to zero principal is cleared, releasing its
// locked rate.
func (e *Engine) RedeemWithMinOut(from crypto.Address, tokenAmount, minOut *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.treasury == nil {
		return nil, errNilTreasury
	}
	if from.IsZero() {
		return nil, ErrZeroAddress
	}
	if err := nativecommon.Guard(&e.pauses, nativecommon.FlowRedeem); err != nil {
		return nil, ErrRedeemsPaused
	}
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrNoTokensToRedeem
	}
	if e.ledger.BalanceOf(from).Cmp(tokenAmount) < 0 {
		return nil, elastic.ErrInsufficientBalance
	}

	// The token is pegged 1:1 to the base asset at mint time and grows only
	// through rebase, so the nominal payout equals the token amount.
	ethOut := new(big.Int).Set(tokenAmount)
	if minOut != nil && ethOut.Cmp(minOut) < 0 {
		return nil, &SlippageError{Out: ethOut, MinOut: new(big.Int).Set(minOut)}
	}

	meta, err := e.ensureMeta()
	if err != nil {
		return nil, err
	}
	user, err := e.ensureUserAccount(from)
	if err != nil {
		return nil, err
	}

	sharesBefore := e.ledger.SharesOf(from)
	sharesBurned := e.ledger.GetSharesByTokenAmount(tokenAmount)
	if sharesBurned.Cmp(sharesBefore) > 0 {
		sharesBurned = sharesBefore
	}

	if err := e.guardRecovery(); err != nil {
		return nil, err
	}
	defer e.releaseRecovery()

	if err := e.treasury.Transfer(from, ethOut); err != nil {
		return nil, ErrTransferFailed
	}
	if err := e.ledger.Burn(from, tokenAmount); err != nil {
		return nil, err
	}

	// Principal reduction is proportional to the redeemed share fraction.
	reduction := big.NewInt(0)
	if sharesBefore.Sign() > 0 {
		reduction = new(big.Int).Mul(user.Deposited, sharesBurned)
		reduction.Quo(reduction, sharesBefore)
	}
	if reduction.Cmp(user.Deposited) > 0 {
		reduction = new(big.Int).Set(user.Deposited)
	}
	user.Deposited = new(big.Int).Sub(user.Deposited, reduction)

	weight := new(big.Int).Mul(reduction, new(big.Int).SetUint64(user.RateBps))
	meta.WeightedRateSum = new(big.Int).Sub(meta.WeightedRateSum, weight)
	if meta.WeightedRateSum.Sign() < 0 {
		meta.WeightedRateSum = big.NewInt(0)
	}

	meta.TotalDeposited = new(big.Int).Sub(meta.TotalDeposited, ethOut)
	if meta.TotalDeposited.Sign() < 0 {
		meta.TotalDeposited = big.NewInt(0)
	}

	cleared := user.Deposited.Sign() == 0
	if cleared {
		if err := e.state.DeleteUserAccount(from); err != nil {
			return nil, err
		}
		if err := e.persistMetaAndLedger(meta); err != nil {
			return nil, err
		}
	} else if err := e.persist(user, meta); err != nil {
		return nil, err
	}

	e.emit(Redeemed{
		Account:        from,
		TokenAmount:    new(big.Int).Set(tokenAmount),
		PaidOut:        new(big.Int).Set(ethOut),
		AccountCleared: cleared,
	})
	return ethOut, nil
}

// --- Bridge surface ---

// BridgeMint releases tokens on this side of the bridge. Only the configured
// bridge address may call it.
func (e *Engine) BridgeMint(caller, to crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.bridge.IsZero() || !caller.Equal(e.bridge) {
		return ErrUnauthorizedBridge
	}
	if err := e.ledger.Mint(to, amount); err != nil {
		return err
	}
	return e.state.PutLedger(e.ledger.Snapshot())
}

// BridgeBurn locks tokens for transport to another chain. Only the configured
// bridge address may call it.
func (e *Engine) BridgeBurn(caller, from crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.bridge.IsZero() || !caller.Equal(e.bridge) {
		return ErrUnauthorizedBridge
	}
	if err := e.ledger.Burn(from, amount); err != nil {
		return err
	}
	return e.state.PutLedger(e.ledger.Snapshot())
}

// --- Pause switches ---

// SetDepositsPaused toggles the deposit flow. Owner only.
func (e *Engine) SetDepositsPaused(caller crypto.Address, paused bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.pauses.Deposits = paused
	e.emit(PauseChanged{Deposits: e.pauses.Deposits, Redeems: e.pauses.Redeems})
	return nil
}

// SetRedeemsPaused toggles the redeem flow. Owner only.
func (e *Engine) SetRedeemsPaused(caller crypto.Address, paused bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.pauses.Redeems = paused
	e.emit(PauseChanged{Deposits: e.pauses.Deposits, Redeems: e.pauses.Redeems})
	return nil
}

// PauseAll halts both flows. Owner only.
func (e *Engine) PauseAll(caller crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.pauses.Deposits = true
	e.pauses.Redeems = true
	e.emit(PauseChanged{Deposits: true, Redeems: true})
	return nil
}

// UnpauseAll resumes both flows. Owner only.
func (e *Engine) UnpauseAll(caller crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.pauses.Deposits = false
	e.pauses.Redeems = false
	e.emit(PauseChanged{Deposits: false, Redeems: false})
	return nil
}

// --- Emergency / recovery ---

// EmergencyWithdraw pays treasury funds to the given address. A zero amount
// means "everything". Owner only, reentrancy guarded.
func (e *Engine) EmergencyWithdraw(caller, to crypto.Address, amount *big.Int) (*big.Int, error) {
	if e.treasury == nil {
		return nil, errNilTreasury
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrAmountZero
	}
	withdrawal := new(big.Int).Set(amount)
	if withdrawal.Sign() == 0 {
		withdrawal = e.treasury.Balance()
	}
	if withdrawal.Sign() == 0 {
		return nil, ErrAmountZero
	}

	if err := e.guardRecovery(); err != nil {
		return nil, err
	}
	defer e.releaseRecovery()

	if err := e.treasury.Transfer(to, withdrawal); err != nil {
		return nil, ErrTransferFailed
	}
	e.emit(EmergencyWithdrawal{To: to, Amount: new(big.Int).Set(withdrawal)})
	return withdrawal, nil
}

// SweepToken recovers a foreign token accidentally sent to the vault. The
// vault's own token is never sweepable. Owner only, reentrancy guarded.
func (e *Engine) SweepToken(caller crypto.Address, token string, to crypto.Address, amount *big.Int) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if token == e.tokenSymbol {
		return ErrTokenNotSweepable
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	if e.tokens == nil {
		return ErrTransferFailed
	}

	if err := e.guardRecovery(); err != nil {
		return err
	}
	defer e.releaseRecovery()

	if err := e.tokens.Move(token, to, amount); err != nil {
		return ErrTransferFailed
	}
	e.emit(TokenSwept{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// --- Parameter setters (owner or governance) ---

// SetGovernance designates the address allowed to call parameter setters
// alongside the owner.
func (e *Engine) SetGovernance(caller, governance crypto.Address) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	e.governance = governance
	e.emit(GovernanceUpdated{Governance: governance})
	return nil
}

// SetBridge designates the address allowed to use the bridge mint/burn
// surface. Owner only.
func (e *Engine) SetBridge(caller, bridge crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.bridge = bridge
	return nil
}

// SetDepositCaps configures the per-user and global deposit caps. A nil or
// zero cap disables the corresponding limit.
func (e *Engine) SetDepositCaps(caller crypto.Address, perUser, global *big.Int) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	e.perUserDepositCap = cloneOrNil(perUser)
	e.globalTvlCap = cloneOrNil(global)
	return nil
}

// SetMinDeposit configures the minimum accepted deposit.
func (e *Engine) SetMinDeposit(caller crypto.Address, min *big.Int) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if min == nil || min.Sign() < 0 {
		return ErrAmountZero
	}
	e.minDeposit = new(big.Int).Set(min)
	return nil
}

// SetAllowlistEnabled toggles allowlist enforcement for deposits.
func (e *Engine) SetAllowlistEnabled(caller crypto.Address, enabled bool) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	e.allowlistEnabled = enabled
	return nil
}

// SetAllowlistStatus admits or removes a depositor from the allowlist.
func (e *Engine) SetAllowlistStatus(caller, account crypto.Address, allowed bool) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if account.IsZero() {
		return ErrZeroAddress
	}
	if allowed {
		e.allowlist[account] = true
	} else {
		delete(e.allowlist, account)
	}
	return nil
}

// SetAccrualConfig replaces the accrual period and circuit-breaker cap.
func (e *Engine) SetAccrualConfig(caller crypto.Address, cfg AccrualConfig) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.accrual = cfg
	return nil
}

// SetFeeConfig replaces the protocol fee split applied to each accrual.
func (e *Engine) SetFeeConfig(caller crypto.Address, cfg FeeConfig) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.fee = cfg
	return nil
}

// SetRateCurve replaces the deposit-tier rate curve for future depositors.
// Locked rates are unaffected.
func (e *Engine) SetRateCurve(caller crypto.Address, curve RateCurve) error {
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if err := curve.Validate(); err != nil {
		return err
	}
	e.curve = curve.Clone()
	return nil
}

// --- internals ---

func (e *Engine) requireOwner(caller crypto.Address) error {
	if !caller.Equal(e.owner) {
		return ErrOnlyOwner
	}
	return nil
}

func (e *Engine) requireGovernance(caller crypto.Address) error {
	if caller.Equal(e.owner) {
		return nil
	}
	if !e.governance.IsZero() && caller.Equal(e.governance) {
		return nil
	}
	return ErrOnlyGovernance
}

func (e *Engine) guardRecovery() error {
	if e.recoveryInProgress {
		return ErrReentrantCall
	}
	e.recoveryInProgress = true
	return nil
}

func (e *Engine) releaseRecovery() {
	e.recoveryInProgress = false
}

func (e *Engine) ensureMeta() (*Meta, error) {
	meta, err := e.state.GetMeta()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &Meta{}
	}
	if meta.TotalDeposited == nil {
		meta.TotalDeposited = big.NewInt(0)
	}
	if meta.WeightedRateSum == nil {
		meta.WeightedRateSum = big.NewInt(0)
	}
	if meta.LastAccrualTime == 0 {
		meta.LastAccrualTime = e.now().Unix()
	}
	return meta, nil
}

func (e *Engine) ensureUserAccount(addr crypto.Address) (*UserAccount, error) {
	user, err := e.state.GetUserAccount(addr)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &UserAccount{Address: addr}
	}
	if user.Deposited == nil {
		user.Deposited = big.NewInt(0)
	}
	return user, nil
}

func (e *Engine) persist(user *UserAccount, meta *Meta) error {
	if err := e.state.PutUserAccount(user); err != nil {
		return err
	}
	return e.persistMetaAndLedger(meta)
}

func (e *Engine) persistMetaAndLedger(meta *Meta) error {
	if err := e.state.PutMeta(meta); err != nil {
		return err
	}
	return e.state.PutLedger(e.ledger.Snapshot())
}

func (e *Engine) emit(ev TypedEvent) {
	if e.events == nil {
		return
	}
	e.events.AppendEvent(ev.Event())
}

func cloneOrNil(v *big.Int) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return nil
	}
	return new(big.Int).Set(v)
}
