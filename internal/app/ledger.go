/**
 * @description
 * Ledger append and read paths. Append is idempotent on the
 * (account id, external reference) pair: a retried network call lands on the
 * entry already recorded instead of double-crediting the account, and a
 * reference that maps to different money than what was stored surfaces as a
 * duplicate conflict for an operator, never a silent resolution.
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
	"github.com/sfdconnect/portal-service/internal/store"
)

// AppendEntry records one movement against an account, idempotently on the
// entry's external reference. It returns the id of the recorded entry, which
// is the pre-existing entry's id when the reference was already appended.
func (s *Service) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) (uuid.UUID, error) {
	if entry.ExternalRef != "" {
		existing, err := s.resolveByExternalRef(ctx, entry)
		if err != nil {
			return uuid.Nil, err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.CreateLedgerEntry(ctx, entry); err != nil {
		// A concurrent append with the same reference can win the insert
		// between our lookup and this write; the unique index surfaces it as
		// a duplicate conflict and the lookup settles who recorded what.
		if errors.Is(err, store.ErrDuplicateConflict) && entry.ExternalRef != "" {
			existing, lookupErr := s.resolveByExternalRef(ctx, entry)
			if lookupErr != nil {
				return uuid.Nil, lookupErr
			}
			if existing != nil {
				return existing.ID, nil
			}
		}
		return uuid.Nil, fmt.Errorf("create ledger entry: %w", err)
	}
	s.publishEntryEvent(ctx, entry)
	return entry.ID, nil
}

// resolveByExternalRef finds the entry already recorded under the reference,
// if any. A stored entry describing different money than the incoming one is
// a duplicate conflict.
func (s *Service) resolveByExternalRef(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	existing, err := s.repo.FindLedgerEntryByExternalRef(ctx, entry.AccountID, entry.ExternalRef)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup external reference: %w", err)
	}
	if existing.Amount != entry.Amount || existing.Kind != entry.Kind {
		log.Printf("level=error component=ledger msg=\"duplicate conflict\" account_id=%s external_ref=%s stored_amount=%d new_amount=%d stored_kind=%s new_kind=%s",
			entry.AccountID, entry.ExternalRef, existing.Amount, entry.Amount, existing.Kind, entry.Kind)
		return nil, store.ErrDuplicateConflict
	}
	return existing, nil
}

// AuthorizeAccountAccess checks that an account belongs to the calling user
// before an account-scoped operation runs against it. Staff act on any
// account in their institution's books, so they pass unconditionally.
func (s *Service) AuthorizeAccountAccess(ctx context.Context, accountID, userID uuid.UUID, role string) error {
	if role == RoleStaff {
		return nil
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	client, err := s.repo.FindClientByID(ctx, account.ClientID)
	if err != nil {
		return fmt.Errorf("load account holder: %w", err)
	}
	if client.UserID != userID {
		log.Printf("level=warn component=ledger msg=\"account access denied\" account_id=%s user_id=%s", accountID, userID)
		return ErrNotAuthorized
	}
	return nil
}

// EntriesFor lists an account's ledger entries, newest first.
func (s *Service) EntriesFor(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return s.repo.FindLedgerEntriesByAccountID(ctx, accountID, limit, offset)
}

// SetAccountVerification flips an account's verified flag after institution
// staff validate (or invalidate) the client's identity.
func (s *Service) SetAccountVerification(ctx context.Context, accountID uuid.UUID, verified bool) error {
	if err := s.repo.SetAccountVerified(ctx, accountID, verified); err != nil {
		return err
	}
	log.Printf("level=info component=ledger msg=\"account verification updated\" account_id=%s verified=%t", accountID, verified)
	return nil
}

// DeactivateAccount marks an account inactive. The ledger history stays; the
// account stops accepting submissions and drops out of portal listings.
func (s *Service) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := s.repo.DeactivateAccount(ctx, accountID); err != nil {
		return err
	}
	log.Printf("level=info component=ledger msg=\"account deactivated\" account_id=%s", accountID)
	return nil
}

// AccountsFor lists a user's accounts with the pending sum each one carries,
// so the portal can show "pending" without it entering the cached balance.
func (s *Service) AccountsFor(ctx context.Context, userID uuid.UUID) ([]domain.AccountView, error) {
	accounts, err := s.repo.FindAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.AccountView, 0, len(accounts))
	for _, account := range accounts {
		pending, err := s.repo.SumPendingEntries(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.AccountView{Account: account, PendingAmount: pending})
	}
	return views, nil
}
