/**
 * @description
 * The direct transfer channel: deposits, withdrawals and loan repayments
 * typed straight into the portal. Synchronous end to end: the remote call
 * either moves the money and the entry is appended as success, or it fails
 * and the ledger is untouched.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// DirectTransferHandler submits movements through the direct channel.
type DirectTransferHandler struct {
	svc *Service
}

// DirectChannel returns the direct transfer handler.
func (s *Service) DirectChannel() *DirectTransferHandler {
	return &DirectTransferHandler{svc: s}
}

func (h *DirectTransferHandler) Channel() string { return domain.ChannelDirect }

// Submit validates and posts a direct movement. Loan repayments route through
// the dedicated loan endpoint; everything else goes to the transactions
// endpoint.
func (h *DirectTransferHandler) Submit(ctx context.Context, accountID uuid.UUID, amount int64, meta SubmissionMetadata) (*SubmissionResult, error) {
	kind := meta.Kind
	if kind == "" {
		kind = domain.EntryKindDeposit
	}

	account, err := h.svc.validateSubmission(ctx, accountID, amount, kind, directPolicy)
	if err != nil {
		return submissionOutcome(err)
	}

	req := sfdclient.DirectTransactionRequest{AccountID: account.ID, Amount: amount, Kind: kind}
	var resp *sfdclient.TransactionResponse
	if kind == domain.EntryKindLoanRepayment {
		resp, err = h.svc.remote.ProcessLoanRepayment(ctx, req)
	} else {
		resp, err = h.svc.remote.PostDirectTransaction(ctx, req)
	}
	if err != nil {
		log.Printf("level=warn component=direct_channel msg=\"remote transaction failed\" account_id=%s kind=%s err=%v", accountID, kind, err)
		return nil, fmt.Errorf("post direct transaction: %w", err)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(kind, amount),
		Kind:        kind,
		Channel:     domain.ChannelDirect,
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
