// README: Wallet state, ledger entries and the restriction policy.
package wallet

import (
	"time"

	"campusride/internal/types"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusRestricted Status = "restricted"
)

type TxType string

const (
	TxCommissionDeduction  TxType = "commission_deduction"
	TxAdminTopup           TxType = "admin_topup"
	TxAdjustment           TxType = "adjustment"
	TxCommissionSettlement TxType = "commission_settlement"
)

// Wallet is the ledger view of a driver record.
type Wallet struct {
	DriverID               types.ID  `json:"driver_id"`
	Balance                float64   `json:"balance"`
	Status                 Status    `json:"wallet_status"`
	MinimumRequiredBalance float64   `json:"minimum_required_balance"`
	TotalCommissionDue     float64   `json:"total_commission_due"`
	TotalCommissionPaid    float64   `json:"total_commission_paid"`
	IsOnline               bool      `json:"is_online"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Transaction is one ledger row. Amount is the balance delta, so the amounts
// of a driver's rows sum to the balance. A settlement moves due into paid
// without touching the balance: its Amount is 0 and SettledAmount carries the
// commission it settled.
type Transaction struct {
	ID            types.ID  `json:"id"`
	DriverID      types.ID  `json:"driver_id"`
	Type          TxType    `json:"type"`
	Amount        float64   `json:"amount"`
	SettledAmount float64   `json:"settled_amount,omitempty"`
	RideID        *types.ID `json:"ride_id,omitempty"`
	Description   string    `json:"description"`
	BalanceAfter  float64   `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Mutation is one atomic balance change. Stores apply it with Apply semantics
// and append exactly one Transaction built from it.
type Mutation struct {
	DriverID    types.ID
	Type        TxType
	Amount      float64 // signed balance delta
	DueDelta    float64
	PaidDelta   float64
	RideID      *types.ID
	Description string
	At          time.Time
}

// Apply returns w after m. A deduction or adjustment re-evaluates the status
// in both directions and forces the driver offline when restricted. A top-up
// only lifts a restriction.
func (w Wallet) Apply(m Mutation) Wallet {
	w.Balance = types.Round2(w.Balance + m.Amount)
	w.TotalCommissionDue = types.Round2(w.TotalCommissionDue + m.DueDelta)
	w.TotalCommissionPaid = types.Round2(w.TotalCommissionPaid + m.PaidDelta)
	w.UpdatedAt = m.At

	switch m.Type {
	case TxCommissionDeduction, TxAdjustment:
		if w.Balance < w.MinimumRequiredBalance {
			w.Status = StatusRestricted
			w.IsOnline = false
		} else {
			w.Status = StatusActive
		}
	case TxAdminTopup:
		if w.Balance >= w.MinimumRequiredBalance {
			w.Status = StatusActive
		}
	}
	return w
}

// Transaction builds the ledger entry recording m against the resulting wallet.
func (m Mutation) Transaction(after Wallet) Transaction {
	tx := Transaction{
		ID:           types.NewID(),
		DriverID:     m.DriverID,
		Type:         m.Type,
		Amount:       m.Amount,
		RideID:       m.RideID,
		Description:  m.Description,
		BalanceAfter: after.Balance,
		CreatedAt:    m.At,
	}
	if m.Type == TxCommissionSettlement {
		tx.SettledAmount = -m.DueDelta
	}
	return tx
}

type Due struct {
	DriverID types.ID
	Amount   float64
}

type SettlementResult struct {
	SettledCount int     `json:"settled_count"`
	TotalAmount  float64 `json:"total_amount"`
	Skipped      int     `json:"skipped"`
}

// BalanceFromLedger sums transaction amounts. For a driver whose initial
// balance was zero this equals the current balance.
func BalanceFromLedger(txs []Transaction) float64 {
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	return types.Round2(sum)
}
