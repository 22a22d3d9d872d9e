/**
 * @description
 * The in-branch QR cashier channel. The scanned token identifies an open
 * cashier session, never an amount or a direction: the operator picks both at
 * submission time, so one token serves deposits and withdrawals alike within
 * the session. Because the cashier physically handles the cash, this channel
 * does not require balance sufficiency on withdrawals.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// QRCashierHandler submits movements through the cashier QR channel.
type QRCashierHandler struct {
	svc *Service
}

// QRCashierChannel returns the cashier QR handler.
func (s *Service) QRCashierChannel() *QRCashierHandler {
	return &QRCashierHandler{svc: s}
}

func (h *QRCashierHandler) Channel() string { return domain.ChannelQRCashier }

// ScanResult reports the cashier session a token resolved to.
type ScanResult struct {
	SessionID    uuid.UUID `json:"session_id"`
	NextSequence int       `json:"next_sequence"`
}

// Scan resolves a scanned QR token to its cashier session. Tokens that do not
// decode to a currently open session are rejected.
func (h *QRCashierHandler) Scan(ctx context.Context, userID uuid.UUID, token string) (*ScanResult, error) {
	if err := h.svc.consumeScanBudget(ctx, userID); err != nil {
		return nil, err
	}

	resp, err := h.svc.remote.ValidateCashierToken(ctx, token)
	if err != nil {
		var apiErr *sfdclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("validate cashier token: %w", err)
	}
	if !resp.Open {
		return nil, ErrInvalidOrExpiredToken
	}
	return &ScanResult{SessionID: resp.SessionID, NextSequence: resp.NextSequence}, nil
}

// Submit posts one operator-directed movement against an open cashier
// session. Direction decides the entry kind; the external reference is the
// session-plus-sequence the functions layer assigns, which makes a retried
// post idempotent at the ledger.
func (h *QRCashierHandler) Submit(ctx context.Context, accountID uuid.UUID, amount int64, meta SubmissionMetadata) (*SubmissionResult, error) {
	var kind string
	switch meta.Direction {
	case "deposit":
		kind = domain.EntryKindDeposit
	case "withdrawal":
		kind = domain.EntryKindWithdrawal
	default:
		return submissionOutcome(ErrInvalidDirection)
	}
	if meta.SessionID == uuid.Nil {
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := h.svc.validateSubmission(ctx, accountID, amount, kind, qrCashierPolicy)
	if err != nil {
		return submissionOutcome(err)
	}

	resp, err := h.svc.remote.PostCashierTransaction(ctx, sfdclient.CashierTransactionRequest{
		SessionID: meta.SessionID,
		Sequence:  meta.Sequence,
		Amount:    amount,
		Direction: meta.Direction,
	})
	if err != nil {
		var apiErr *sfdclient.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 404 || apiErr.StatusCode == 409 || apiErr.StatusCode == 410) {
			return nil, ErrInvalidOrExpiredToken
		}
		log.Printf("level=warn component=qr_channel msg=\"cashier transaction failed\" account_id=%s session_id=%s err=%v", accountID, meta.SessionID, err)
		return nil, fmt.Errorf("post cashier transaction: %w", err)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(kind, amount),
		Kind:        kind,
		Channel:     domain.ChannelQRCashier,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: resp.Reference,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	entryID, err := h.svc.AppendEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	h.svc.reconcileAfterMovement(ctx, account.ID)
	return accepted(entryID), nil
}
