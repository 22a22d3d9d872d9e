/**
 * @description
 * The common money-movement contract the three channels implement. The portal
 * and the reconciler treat channels uniformly: every submission resolves to
 * accepted (a ledger entry id), rejected (a reason code), or pending
 * confirmation (a token for phase 2).
 *
 * Whether a debit must fit inside the current derived balance is a
 * per-channel policy, not a global rule: direct and mobile-money withdrawals
 * require sufficiency, while a cashier can accept cash before the credit
 * lands, so the QR channel bypasses the check.
 */

package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
)

// Submission statuses.
const (
	SubmissionAccepted            = "accepted"
	SubmissionRejected            = "rejected"
	SubmissionPendingConfirmation = "pending_confirmation"
)

// Rejection reason codes carried on rejected submissions.
const (
	ReasonInvalidAmount       = "invalid_amount"
	ReasonInvalidKind         = "invalid_kind"
	ReasonInvalidDirection    = "invalid_direction"
	ReasonAccountNotVerified  = "account_not_verified"
	ReasonAccountInactive     = "account_inactive"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonInvalidPhoneNumber  = "invalid_phone_number"
	ReasonInvalidProvider     = "invalid_provider"
)

// SubmissionResult is the outcome of a channel submission.
type SubmissionResult struct {
	Status            string     `json:"status"`
	EntryID           *uuid.UUID `json:"entry_id,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	ConfirmationToken *uuid.UUID `json:"confirmation_token,omitempty"`
}

// SubmissionMetadata carries the channel-specific inputs of a submission.
type SubmissionMetadata struct {
	Kind      string    // entry kind; defaults per channel
	Phone     string    // mobile money
	Provider  string    // mobile money
	SessionID uuid.UUID // qr cashier
	Sequence  int       // qr cashier: next sequence from the scan
	Direction string    // qr cashier: 'deposit' | 'withdrawal'
}

// ChannelHandler is the capability every money movement channel implements.
type ChannelHandler interface {
	Channel() string
	Submit(ctx context.Context, accountID uuid.UUID, amount int64, meta SubmissionMetadata) (*SubmissionResult, error)
}

// channelPolicy holds the per-channel rules shared validation consults.
type channelPolicy struct {
	requireSufficiency bool
}

var (
	directPolicy      = channelPolicy{requireSufficiency: true}
	mobileMoneyPolicy = channelPolicy{requireSufficiency: true}
	qrCashierPolicy   = channelPolicy{requireSufficiency: false}
)

func accepted(entryID uuid.UUID) *SubmissionResult {
	return &SubmissionResult{Status: SubmissionAccepted, EntryID: &entryID}
}

func pendingConfirmation(token uuid.UUID) *SubmissionResult {
	return &SubmissionResult{Status: SubmissionPendingConfirmation, ConfirmationToken: &token}
}

// rejectionReason maps a validation error to its reason code, or "" when the
// error is not a synchronous validation failure.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return ReasonInvalidAmount
	case errors.Is(err, ErrInvalidKind):
		return ReasonInvalidKind
	case errors.Is(err, ErrInvalidDirection):
		return ReasonInvalidDirection
	case errors.Is(err, ErrAccountNotVerified):
		return ReasonAccountNotVerified
	case errors.Is(err, ErrAccountInactive):
		return ReasonAccountInactive
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrInvalidPhoneNumber):
		return ReasonInvalidPhoneNumber
	case errors.Is(err, ErrInvalidProvider):
		return ReasonInvalidProvider
	}
	return ""
}

// submissionOutcome wraps validation failures into rejected results while
// letting infrastructure errors propagate to the caller.
func submissionOutcome(err error) (*SubmissionResult, error) {
	if reason := rejectionReason(err); reason != "" {
		return &SubmissionResult{Status: SubmissionRejected, RejectionReason: reason}, err
	}
	return nil, err
}

// validateSubmission runs the checks shared by every channel and returns the
// account a valid submission targets.
func (s *Service) validateSubmission(ctx context.Context, accountID uuid.UUID, amount int64, kind string, policy channelPolicy) (*domain.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch kind {
	case domain.EntryKindDeposit, domain.EntryKindWithdrawal,
		domain.EntryKindLoanDisbursement, domain.EntryKindLoanRepayment,
		domain.EntryKindTransfer:
	default:
		return nil, ErrInvalidKind
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if !account.Verified {
		return nil, ErrAccountNotVerified
	}

	if !domain.EntryKindCredits(kind) && policy.requireSufficiency {
		derived, err := s.repo.SumSuccessfulEntries(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if amount > derived {
			return nil, ErrInsufficientBalance
		}
	}
	return account, nil
}
