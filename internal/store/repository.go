/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the portal core needs. The interface decouples the business logic
 * from the PostgreSQL implementation so the app layer can be tested against
 * hand-rolled stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByClientInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Account, error)
	FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	// UpdateAccountBalanceIfEquals writes the cached balance only when the
	// stored value still equals `expected` (compare-and-swap). Returns false
	// when another writer got there first.
	UpdateAccountBalanceIfEquals(ctx context.Context, accountID uuid.UUID, expected, balance int64) (bool, error)
	SetAccountVerified(ctx context.Context, accountID uuid.UUID, verified bool) error
	DeactivateAccount(ctx context.Context, accountID uuid.UUID) error
	FindAccountsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Account, error)

	// Ledger methods
	CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	// ResolveLedgerEntry moves a pending entry to a terminal status; returns
	// false when the entry was not pending (already resolved, or immutable).
	ResolveLedgerEntry(ctx context.Context, entryID uuid.UUID, status, externalRef string, confirmedAt time.Time) (bool, error)
	FindLedgerEntryByExternalRef(ctx context.Context, accountID uuid.UUID, externalRef string) (*domain.LedgerEntry, error)
	FindLedgerEntriesByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)
	SumSuccessfulEntries(ctx context.Context, accountID uuid.UUID) (int64, error)
	SumPendingEntries(ctx context.Context, accountID uuid.UUID) (int64, error)

	// Client and association methods
	FindClientByID(ctx context.Context, clientID uuid.UUID) (*domain.Client, error)
	FindClientByUserInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Client, error)
	CreateClient(ctx context.Context, client *domain.Client) error
	SetClientStatus(ctx context.Context, clientID uuid.UUID, status string) error
	FindAssociationsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.InstitutionAssociation, error)
	FindAssociation(ctx context.Context, userID, institutionID uuid.UUID) (*domain.InstitutionAssociation, error)
	CreateAssociation(ctx context.Context, assoc *domain.InstitutionAssociation) error
	SetDefaultAssociation(ctx context.Context, userID, institutionID uuid.UUID) error

	// Institution methods
	FindInstitutionByID(ctx context.Context, institutionID uuid.UUID) (*domain.Institution, error)

	// Adhesion methods
	CreateAdhesionRequest(ctx context.Context, req *domain.AdhesionRequest) error
	FindAdhesionRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.AdhesionRequest, error)
	FindPendingAdhesionRequest(ctx context.Context, userID, institutionID uuid.UUID) (*domain.AdhesionRequest, error)
	ListAdhesionRequestsByInstitution(ctx context.Context, institutionID uuid.UUID, status string, limit, offset int) ([]domain.AdhesionRequest, error)
	// TransitionAdhesionRequest moves a request from `fromStatus` to
	// `toStatus` atomically; returns false when the request was no longer in
	// `fromStatus` (someone else decided it first).
	TransitionAdhesionRequest(ctx context.Context, requestID uuid.UUID, fromStatus, toStatus string, processedBy *uuid.UUID, notes *string) (bool, error)

	// Mobile money intent methods
	CreateMobileMoneyIntent(ctx context.Context, intent *domain.MobileMoneyIntent) error
	FindMobileMoneyIntentByToken(ctx context.Context, token uuid.UUID) (*domain.MobileMoneyIntent, error)
	// CloseMobileMoneyIntent transitions a pending intent to `status`;
	// returns false when the intent was already closed.
	CloseMobileMoneyIntent(ctx context.Context, token uuid.UUID, status string, closedAt time.Time) (bool, error)
	FindExpiredPendingIntents(ctx context.Context, now time.Time) ([]domain.MobileMoneyIntent, error)
}
