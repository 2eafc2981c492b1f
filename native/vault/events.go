package vault

import (
	"math/big"
	"strconv"

	"elastivault/crypto"
)

const (
	TypeDeposited           = "vault.deposited"
	TypeRedeemed            = "vault.redeemed"
	TypeAccrued             = "vault.accrued"
	TypePauseChanged        = "vault.pause_changed"
	TypeTokenSwept          = "vault.token_swept"
	TypeEmergencyWithdrawal = "vault.emergency_withdrawal"
	TypeGovernanceUpdated   = "vault.governance_updated"
)

// Event is the generic envelope handed to the event sink.
type Event struct {
	Type       string
	Attributes map[string]string
}

// TypedEvent is implemented by every concrete vault event.
type TypedEvent interface {
	EventType() string
	Event() *Event
}

// EventSink receives engine events, typically for logging or an external feed.
type EventSink interface {
	AppendEvent(event *Event)
}

type Deposited struct {
	Account   crypto.Address
	Amount    *big.Int
	RateBps   uint64
	Principal *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *Event {
	return &Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"amount":    formatAmount(e.Amount),
			"rateBps":   strconv.FormatUint(e.RateBps, 10),
			"principal": formatAmount(e.Principal),
		},
	}
}

type Redeemed struct {
	Account        crypto.Address
	TokenAmount    *big.Int
	PaidOut        *big.Int
	AccountCleared bool
}

func (Redeemed) EventType() string { return TypeRedeemed }

func (e Redeemed) Event() *Event {
	return &Event{
		Type: TypeRedeemed,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"tokens":  formatAmount(e.TokenAmount),
			"paidOut": formatAmount(e.PaidOut),
			"cleared": strconv.FormatBool(e.AccountCleared),
		},
	}
}

type Accrued struct {
	Minted      *big.Int
	FeeMinted   *big.Int
	RateBps     uint64
	CapClamped  bool
	TotalSupply *big.Int
}

func (Accrued) EventType() string { return TypeAccrued }

func (e Accrued) Event() *Event {
	return &Event{
		Type: TypeAccrued,
		Attributes: map[string]string{
			"minted":      formatAmount(e.Minted),
			"feeMinted":   formatAmount(e.FeeMinted),
			"rateBps":     strconv.FormatUint(e.RateBps, 10),
			"capClamped":  strconv.FormatBool(e.CapClamped),
			"totalSupply": formatAmount(e.TotalSupply),
		},
	}
}

type PauseChanged struct {
	Deposits bool
	Redeems  bool
}

func (PauseChanged) EventType() string { return TypePauseChanged }

func (e PauseChanged) Event() *Event {
	return &Event{
		Type: TypePauseChanged,
		Attributes: map[string]string{
			"deposits": strconv.FormatBool(e.Deposits),
			"redeems":  strconv.FormatBool(e.Redeems),
		},
	}
}

type TokenSwept struct {
	Token  string
	To     crypto.Address
	Amount *big.Int
}

func (TokenSwept) EventType() string { return TypeTokenSwept }

func (e TokenSwept) Event() *Event {
	return &Event{
		Type: TypeTokenSwept,
		Attributes: map[string]string{
			"token":  e.Token,
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type EmergencyWithdrawal struct {
	To     crypto.Address
	Amount *big.Int
}

func (EmergencyWithdrawal) EventType() string { return TypeEmergencyWithdrawal }

func (e EmergencyWithdrawal) Event() *Event {
	return &Event{
		Type: TypeEmergencyWithdrawal,
		Attributes: map[string]string{
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type GovernanceUpdated struct {
	Governance crypto.Address
}

func (GovernanceUpdated) EventType() string { return TypeGovernanceUpdated }

func (e GovernanceUpdated) Event() *Event {
	return &Event{
		Type: TypeGovernanceUpdated,
		Attributes: map[string]string{
			"governance": e.Governance.String(),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
