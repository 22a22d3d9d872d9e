/**
 * @description
 * This file defines the ledger-side domain models: the immutable ledger entry
 * that records one signed movement of funds against an account, the mobile
 * money intent that tracks a two-phase submission awaiting provider
 * confirmation, and the cashier session read model behind QR submissions.
 *
 * @notes
 * - The sign of an entry's amount is fully determined by its kind. Callers
 *   never pass signed amounts; handlers derive the sign via SignedAmount.
 * - Entries with status 'success' are immutable. A 'failed' entry is terminal
 *   and excluded from balance computation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entry kinds. Deposit and loan disbursement credit the account; withdrawal
// and loan repayment debit it. Adjustment is reserved for reconciler
// corrections and carries whichever sign the correction needs.
const (
	EntryKindDeposit          = "deposit"
	EntryKindWithdrawal       = "withdrawal"
	EntryKindLoanDisbursement = "loan_disbursement"
	EntryKindLoanRepayment    = "loan_repayment"
	EntryKindTransfer         = "transfer"
	EntryKindAdjustment       = "adjustment"
)

// Channels a movement can enter the ledger through. ChannelSystem is used
// only by reconciler corrections.
const (
	ChannelDirect      = "direct"
	ChannelMobileMoney = "mobile_money"
	ChannelQRCashier   = "qr_cashier"
	ChannelSystem      = "system"
)

// Entry statuses.
const (
	EntryStatusPending = "pending"
	EntryStatusSuccess = "success"
	EntryStatusFailed  = "failed"
)

// LedgerEntry is one immutable signed movement of funds against an account.
// Maps to the `ledger_entries` table.
type LedgerEntry struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Amount      int64      `json:"amount"` // signed: positive=credit, negative=debit
	Kind        string     `json:"kind"`
	Channel     string     `json:"channel"`
	Status      string     `json:"status"`
	ExternalRef string     `json:"external_ref"` // provider transaction id / cashier session+sequence
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// EntryKindCredits reports whether the given kind credits the account.
func EntryKindCredits(kind string) bool {
	return kind == EntryKindDeposit || kind == EntryKindLoanDisbursement
}

// SignedAmount derives the signed ledger amount from a kind and a positive
// magnitude. Adjustment amounts pass through unchanged since the reconciler
// computes their sign itself.
func SignedAmount(kind string, magnitude int64) int64 {
	if kind == EntryKindAdjustment {
		return magnitude
	}
	if EntryKindCredits(kind) {
		return magnitude
	}
	return -magnitude
}

// Mobile money providers accepted by the initiation endpoint.
const (
	MomoProviderOrange = "orange"
	MomoProviderMTN    = "mtn"
	MomoProviderWave   = "wave"
)

// Mobile money intent statuses.
const (
	MomoIntentPending   = "pending"
	MomoIntentConfirmed = "confirmed"
	MomoIntentFailed    = "failed"
)

// MobileMoneyIntent tracks a phase-1 mobile money submission awaiting its
// phase-2 confirmation. An intent left pending past its expiry deadline is
// swept to failed; pending is not a safe permanent state.
type MobileMoneyIntent struct {
	Token     uuid.UUID  `json:"token"`
	AccountID uuid.UUID  `json:"account_id"`
	EntryID   uuid.UUID  `json:"entry_id"` // the pending ledger entry this intent resolves
	Amount    int64      `json:"amount"` // positive magnitude, minor units
	Kind      string     `json:"kind"`
	Phone     string     `json:"phone"`
	Provider  string     `json:"provider"`
	Status    string     `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// CashierSession is the read model for an in-branch cashier QR session. The
// token identifies the session, never an amount or direction; those are
// chosen by the operator at submission time.
type CashierSession struct {
	ID            uuid.UUID `json:"id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	Open          bool      `json:"open"`
	NextSequence  int       `json:"next_sequence"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SyncReport summarizes one synchronization pass over a client's accounts.
type SyncReport struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Accounts   []SyncAccountResult `json:"accounts"`
}

// Sync outcome per account.
const (
	SyncOutcomeOK     = "ok"
	SyncOutcomeStale  = "stale"
	SyncOutcomeFailed = "failed"
)

// SyncAccountResult reports the outcome of synchronizing one account.
type SyncAccountResult struct {
	AccountID uuid.UUID `json:"account_id"`
	Outcome   string    `json:"outcome"`
	Corrected bool      `json:"corrected"`
	Error     string    `json:"error,omitempty"`
}
