/**
 * @description
 * Balance reconciliation. The cached balance column on an account is never
 * written anywhere else: every writer funnels through Reconcile, which
 * recomputes the derived balance from the ledger and corrects the cache when
 * it drifted. A correction is recorded as a system-channel adjustment entry
 * so the repair itself leaves an audit trail.
 *
 * Concurrency: a per-account mutex serializes reconciliations within this
 * process, and the compare-and-swap balance update guards against a second
 * process racing the same account. A lost CAS means the other writer already
 * reconciled; the loser re-reads and reports without applying a correction.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
)

// ReconcileResult reports one reconciliation pass over an account.
type ReconcileResult struct {
	StoredBalance  int64 `json:"stored_balance"`
	DerivedBalance int64 `json:"derived_balance"`
	Corrected      bool  `json:"corrected"`
}

// Reconcile recomputes the derived balance for an account and corrects the
// cached balance field when the two disagree. Safe to call concurrently for
// the same account; only one caller applies the correction.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileResult, error) {
	mu := s.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	derived, err := s.repo.SumSuccessfulEntries(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("derive balance: %w", err)
	}

	result := &ReconcileResult{StoredBalance: account.Balance, DerivedBalance: derived}
	if account.Balance == derived {
		return result, nil
	}

	applied, err := s.repo.UpdateAccountBalanceIfEquals(ctx, accountID, account.Balance, derived)
	if err != nil {
		return nil, fmt.Errorf("write corrected balance: %w", err)
	}
	if !applied {
		// Another writer reconciled between our read and the CAS. Report the
		// fresh state; Corrected stays false since this caller applied
		// nothing, whatever the other writer did.
		fresh, err := s.repo.FindAccountByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("reload account: %w", err)
		}
		result.StoredBalance = fresh.Balance
		return result, nil
	}

	// Audit record of the correction applied to the cache. System-channel
	// entries are excluded from derivation, so the record cannot re-enter
	// the balance it documents.
	now := time.Now().UTC()
	correction := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      derived - account.Balance,
		Kind:        domain.EntryKindAdjustment,
		Channel:     domain.ChannelSystem,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "reconcile:" + uuid.NewString(),
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	if err := s.repo.CreateLedgerEntry(ctx, correction); err != nil {
		return nil, fmt.Errorf("record correction: %w", err)
	}

	result.StoredBalance = derived
	result.Corrected = true

	s.publish(ctx, "account.balance.updated", domain.AccountBalanceEvent{
		AccountID: accountID,
		Balance:   derived,
		Corrected: true,
		Timestamp: now,
	})
	return result, nil
}

// reconcileAfterMovement runs the post-submission reconciliation pass.
// Failures here never undo the movement that already happened; they are
// logged and the next pass picks the account up.
func (s *Service) reconcileAfterMovement(ctx context.Context, accountID uuid.UUID) {
	if _, err := s.Reconcile(ctx, accountID); err != nil {
		log.Printf("level=warn component=reconciler msg=\"post-movement reconciliation failed\" account_id=%s err=%v", accountID, err)
	}
}
