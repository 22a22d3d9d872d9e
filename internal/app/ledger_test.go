package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
)

func TestAppendEntry_IdempotentOnExternalRef(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	account, _ := seedAccount(repo, 0)

	entry := func() *domain.LedgerEntry {
		return &domain.LedgerEntry{
			AccountID:   account.ID,
			Amount:      domain.SignedAmount(domain.EntryKindDeposit, 10000),
			Kind:        domain.EntryKindDeposit,
			Channel:     domain.ChannelDirect,
			Status:      domain.EntryStatusSuccess,
			ExternalRef: "ref-001",
			CreatedAt:   time.Now().UTC(),
		}
	}

	firstID, err := svc.AppendEntry(context.Background(), entry())
	if err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	secondID, err := svc.AppendEntry(context.Background(), entry())
	if err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	if firstID != secondID {
		t.Fatalf("expected second append to return original id %s, got %s", firstID, secondID)
	}
	if got := len(repo.entriesFor(account.ID)); got != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", got)
	}
}

func TestAppendEntry_DuplicateConflictOnDifferentAmount(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	account, _ := seedAccount(repo, 0)

	first := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(domain.EntryKindDeposit, 10000),
		Kind:        domain.EntryKindDeposit,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "ref-002",
	}
	if _, err := svc.AppendEntry(context.Background(), first); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	conflicting := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(domain.EntryKindDeposit, 999),
		Kind:        domain.EntryKindDeposit,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "ref-002",
	}
	if _, err := svc.AppendEntry(context.Background(), conflicting); !errors.Is(err, store.ErrDuplicateConflict) {
		t.Fatalf("expected ErrDuplicateConflict, got %v", err)
	}

	if got := len(repo.entriesFor(account.ID)); got != 1 {
		t.Fatalf("expected store unchanged after conflict, got %d entries", got)
	}
}

func TestAppendEntry_DuplicateConflictOnDifferentKind(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	account, _ := seedAccount(repo, 0)

	first := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      -5000,
		Kind:        domain.EntryKindWithdrawal,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "ref-003",
	}
	if _, err := svc.AppendEntry(context.Background(), first); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	conflicting := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      -5000,
		Kind:        domain.EntryKindLoanRepayment,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "ref-003",
	}
	if _, err := svc.AppendEntry(context.Background(), conflicting); !errors.Is(err, store.ErrDuplicateConflict) {
		t.Fatalf("expected ErrDuplicateConflict, got %v", err)
	}
}

// racingRepo lands a rival entry just before the caller's insert, so the
// caller's lookup passed but its write loses the unique-index race.
type racingRepo struct {
	*memRepo
	rival domain.LedgerEntry
	once  sync.Once
}

func (r *racingRepo) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	r.once.Do(func() {
		rival := r.rival
		r.memRepo.CreateLedgerEntry(ctx, &rival)
	})
	return r.memRepo.CreateLedgerEntry(ctx, entry)
}

func TestAppendEntry_InsertRaceSettlesOnExistingEntry(t *testing.T) {
	mem := newMemRepo()
	account, _ := seedAccount(mem, 0)
	rivalID := uuid.New()
	repo := &racingRepo{
		memRepo: mem,
		rival: domain.LedgerEntry{
			ID:          rivalID,
			AccountID:   account.ID,
			Amount:      domain.SignedAmount(domain.EntryKindDeposit, 10000),
			Kind:        domain.EntryKindDeposit,
			Channel:     domain.ChannelDirect,
			Status:      domain.EntryStatusSuccess,
			ExternalRef: "race-1",
			CreatedAt:   time.Now().UTC(),
		},
	}
	svc := NewService(repo, &remoteStub{}, nil, 5*time.Minute)

	id, err := svc.AppendEntry(context.Background(), &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(domain.EntryKindDeposit, 10000),
		Kind:        domain.EntryKindDeposit,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "race-1",
	})
	if err != nil {
		t.Fatalf("append after lost insert race failed: %v", err)
	}
	if id != rivalID {
		t.Fatalf("expected the rival's entry id %s, got %s", rivalID, id)
	}
	if got := len(mem.entriesFor(account.ID)); got != 1 {
		t.Fatalf("expected exactly one entry for the reference, got %d", got)
	}
}

func TestAppendEntry_InsertRaceWithDifferentAmountConflicts(t *testing.T) {
	mem := newMemRepo()
	account, _ := seedAccount(mem, 0)
	repo := &racingRepo{
		memRepo: mem,
		rival: domain.LedgerEntry{
			ID:          uuid.New(),
			AccountID:   account.ID,
			Amount:      domain.SignedAmount(domain.EntryKindDeposit, 999),
			Kind:        domain.EntryKindDeposit,
			Channel:     domain.ChannelDirect,
			Status:      domain.EntryStatusSuccess,
			ExternalRef: "race-2",
			CreatedAt:   time.Now().UTC(),
		},
	}
	svc := NewService(repo, &remoteStub{}, nil, 5*time.Minute)

	_, err := svc.AppendEntry(context.Background(), &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(domain.EntryKindDeposit, 10000),
		Kind:        domain.EntryKindDeposit,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: "race-2",
	})
	if !errors.Is(err, store.ErrDuplicateConflict) {
		t.Fatalf("expected ErrDuplicateConflict when the rival recorded different money, got %v", err)
	}
}

func TestAuthorizeAccountAccess(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	account, ownerID := seedAccount(repo, 0)

	if err := svc.AuthorizeAccountAccess(context.Background(), account.ID, ownerID, "client"); err != nil {
		t.Fatalf("expected the account holder to pass, got %v", err)
	}
	if err := svc.AuthorizeAccountAccess(context.Background(), account.ID, uuid.New(), "client"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for another user's account, got %v", err)
	}
	if err := svc.AuthorizeAccountAccess(context.Background(), account.ID, uuid.New(), RoleStaff); err != nil {
		t.Fatalf("expected staff to pass, got %v", err)
	}
	if err := svc.AuthorizeAccountAccess(context.Background(), uuid.New(), ownerID, "client"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for an unknown account, got %v", err)
	}
}
