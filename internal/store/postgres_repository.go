/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to interact with the accounts,
 * ledger_entries, clients, institution_associations, adhesion_requests and
 * mobile_money_intents tables.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sfdconnect/portal-service/internal/domain"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrClientNotFound          = errors.New("client not found")
	ErrInstitutionNotFound     = errors.New("institution not found")
	ErrAssociationNotFound     = errors.New("association not found")
	ErrEntryNotFound           = errors.New("ledger entry not found")
	ErrAdhesionRequestNotFound = errors.New("adhesion request not found")
	ErrIntentNotFound          = errors.New("mobile money intent not found")

	// ErrDuplicateConflict signals that an external reference already maps to
	// an entry with a different amount or kind. It is a data-integrity
	// failure that must reach an operator; callers never retry or resolve it
	// silently.
	ErrDuplicateConflict = errors.New("external reference conflicts with an existing ledger entry")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, client_id, institution_id, balance, currency, verified, is_default, active, updated_at`

// accountColumnsQualified disambiguates against joined tables.
const accountColumnsQualified = `a.id, a.client_id, a.institution_id, a.balance, a.currency, a.verified, a.is_default, a.active, a.updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.ClientID, &a.InstitutionID, &a.Balance, &a.Currency, &a.Verified, &a.IsDefault, &a.Active, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByID retrieves an account by its primary key.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByClientInstitution retrieves the account a portal user holds at
// a given institution.
func (r *PostgresRepository) FindAccountByClientInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumnsQualified + `
		FROM accounts a
		JOIN clients c ON c.id = a.client_id
		WHERE c.user_id = $1 AND a.institution_id = $2
	`
	return scanAccount(r.db.QueryRow(ctx, query, userID, institutionID))
}

// FindAccountsByUserID lists every account held by a portal user across institutions.
func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `
		SELECT ` + accountColumnsQualified + `
		FROM accounts a
		JOIN clients c ON c.id = a.client_id
		WHERE c.user_id = $1 AND a.active
		ORDER BY a.updated_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.ClientID, &a.InstitutionID, &a.Balance, &a.Currency, &a.Verified, &a.IsDefault, &a.Active, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, client_id, institution_id, balance, currency, verified, is_default, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`
	_, err := r.db.Exec(ctx, query,
		account.ID, account.ClientID, account.InstitutionID, account.Balance,
		account.Currency, account.Verified, account.IsDefault, account.Active,
	)
	return err
}

// UpdateAccountBalanceIfEquals performs a compare-and-swap write of the
// cached balance column. The WHERE clause on the expected value keeps two
// concurrent reconciliations from both applying a correction.
func (r *PostgresRepository) UpdateAccountBalanceIfEquals(ctx context.Context, accountID uuid.UUID, expected, balance int64) (bool, error) {
	query := `UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2 AND balance = $3`
	tag, err := r.db.Exec(ctx, query, balance, accountID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAccountVerified flips the verified flag once institution staff validate the client.
func (r *PostgresRepository) SetAccountVerified(ctx context.Context, accountID uuid.UUID, verified bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET verified = $1, updated_at = now() WHERE id = $2`, verified, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeactivateAccount marks an account inactive. Accounts are never deleted.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET active = false, updated_at = now() WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// FindAccountsUpdatedBefore lists active accounts whose cached balance has
// not been reconciled since the cutoff, for the scheduled synchronization pass.
func (r *PostgresRepository) FindAccountsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT ` + accountColumnsQualified + `
		FROM accounts a
		WHERE a.active AND a.updated_at < $1
		ORDER BY a.updated_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.ClientID, &a.InstitutionID, &a.Balance, &a.Currency, &a.Verified, &a.IsDefault, &a.Active, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateLedgerEntry appends one entry to the ledger. A unique-index violation
// on (account_id, external_ref) comes back as ErrDuplicateConflict so a caller
// that lost an insert race can re-read the reference instead of surfacing a
// raw driver error.
func (r *PostgresRepository) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, amount, kind, channel, status, external_ref, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.AccountID, entry.Amount, entry.Kind, entry.Channel,
		entry.Status, entry.ExternalRef, entry.CreatedAt, entry.ConfirmedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ResolveLedgerEntry moves a pending entry to a terminal status. The status
// guard in the WHERE clause enforces entry immutability: a success or failed
// entry can never be rewritten.
func (r *PostgresRepository) ResolveLedgerEntry(ctx context.Context, entryID uuid.UUID, status, externalRef string, confirmedAt time.Time) (bool, error) {
	query := `
		UPDATE ledger_entries
		SET status = $1, external_ref = $2, confirmed_at = $3
		WHERE id = $4 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, status, externalRef, confirmedAt, entryID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindLedgerEntryByExternalRef retrieves the entry recorded for an external
// reference on an account. Used for idempotent appends.
func (r *PostgresRepository) FindLedgerEntryByExternalRef(ctx context.Context, accountID uuid.UUID, externalRef string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `
		SELECT id, account_id, amount, kind, channel, status, external_ref, created_at, confirmed_at
		FROM ledger_entries
		WHERE account_id = $1 AND external_ref = $2
	`
	err := r.db.QueryRow(ctx, query, accountID, externalRef).Scan(
		&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Channel, &e.Status, &e.ExternalRef, &e.CreatedAt, &e.ConfirmedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindLedgerEntriesByAccountID lists an account's entries, newest first.
func (r *PostgresRepository) FindLedgerEntriesByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, account_id, amount, kind, channel, status, external_ref, created_at, confirmed_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Channel, &e.Status, &e.ExternalRef, &e.CreatedAt, &e.ConfirmedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumSuccessfulEntries computes the derived balance: the signed sum of all
// successful money-movement entries. System-channel corrections record the
// delta already applied to the cached balance and are excluded, otherwise a
// later derivation would count them twice.
func (r *PostgresRepository) SumSuccessfulEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1 AND status = 'success' AND channel <> 'system'`
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// SumPendingEntries computes the signed sum of still-pending entries, shown
// to the portal as a separate "pending" figure.
func (r *PostgresRepository) SumPendingEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1 AND status = 'pending'`
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// FindClientByUserInstitution retrieves the client record a portal user holds
// at an institution.
func (r *PostgresRepository) FindClientByUserInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Client, error) {
	var c domain.Client
	query := `
		SELECT id, user_id, institution_id, full_name, phone, status, created_at
		FROM clients
		WHERE user_id = $1 AND institution_id = $2
	`
	err := r.db.QueryRow(ctx, query, userID, institutionID).Scan(
		&c.ID, &c.UserID, &c.InstitutionID, &c.FullName, &c.Phone, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindClientByID retrieves a client record by its primary key.
func (r *PostgresRepository) FindClientByID(ctx context.Context, clientID uuid.UUID) (*domain.Client, error) {
	var c domain.Client
	query := `
		SELECT id, user_id, institution_id, full_name, phone, status, created_at
		FROM clients
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, clientID).Scan(
		&c.ID, &c.UserID, &c.InstitutionID, &c.FullName, &c.Phone, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateClient inserts a new client record.
func (r *PostgresRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	query := `
		INSERT INTO clients (id, user_id, institution_id, full_name, phone, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	_, err := r.db.Exec(ctx, query,
		client.ID, client.UserID, client.InstitutionID, client.FullName, client.Phone, client.Status,
	)
	return err
}

// SetClientStatus updates a client record's status.
func (r *PostgresRepository) SetClientStatus(ctx context.Context, clientID uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE clients SET status = $1 WHERE id = $2`, status, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// FindAssociationsByUserID lists a portal user's institution memberships.
func (r *PostgresRepository) FindAssociationsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.InstitutionAssociation, error) {
	query := `
		SELECT client_user_id, institution_id, is_default, created_at
		FROM institution_associations
		WHERE client_user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assocs []domain.InstitutionAssociation
	for rows.Next() {
		var a domain.InstitutionAssociation
		if err := rows.Scan(&a.ClientUserID, &a.InstitutionID, &a.IsDefault, &a.CreatedAt); err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	return assocs, rows.Err()
}

// FindAssociation retrieves one (user, institution) membership row.
func (r *PostgresRepository) FindAssociation(ctx context.Context, userID, institutionID uuid.UUID) (*domain.InstitutionAssociation, error) {
	var a domain.InstitutionAssociation
	query := `
		SELECT client_user_id, institution_id, is_default, created_at
		FROM institution_associations
		WHERE client_user_id = $1 AND institution_id = $2
	`
	err := r.db.QueryRow(ctx, query, userID, institutionID).Scan(&a.ClientUserID, &a.InstitutionID, &a.IsDefault, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAssociationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateAssociation inserts a membership row.
func (r *PostgresRepository) CreateAssociation(ctx context.Context, assoc *domain.InstitutionAssociation) error {
	query := `
		INSERT INTO institution_associations (client_user_id, institution_id, is_default, created_at)
		VALUES ($1, $2, $3, now())
	`
	_, err := r.db.Exec(ctx, query, assoc.ClientUserID, assoc.InstitutionID, assoc.IsDefault)
	return err
}

// SetDefaultAssociation makes one membership the default and clears the flag
// on every other membership of the same user, inside one transaction so the
// single-default invariant holds at every commit point.
func (r *PostgresRepository) SetDefaultAssociation(ctx context.Context, userID, institutionID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE institution_associations SET is_default = false WHERE client_user_id = $1`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE institution_associations SET is_default = true WHERE client_user_id = $1 AND institution_id = $2`, userID, institutionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssociationNotFound
	}
	return tx.Commit(ctx)
}

// FindInstitutionByID retrieves an institution read model.
func (r *PostgresRepository) FindInstitutionByID(ctx context.Context, institutionID uuid.UUID) (*domain.Institution, error) {
	var inst domain.Institution
	query := `SELECT id, name, default_currency FROM institutions WHERE id = $1`
	err := r.db.QueryRow(ctx, query, institutionID).Scan(&inst.ID, &inst.Name, &inst.DefaultCurrency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInstitutionNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// CreateAdhesionRequest inserts a new adhesion request with status pending.
func (r *PostgresRepository) CreateAdhesionRequest(ctx context.Context, req *domain.AdhesionRequest) error {
	query := `
		INSERT INTO adhesion_requests (id, user_id, institution_id, full_name, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`
	_, err := r.db.Exec(ctx, query, req.ID, req.UserID, req.InstitutionID, req.FullName, req.Phone, req.Status)
	return err
}

const adhesionColumns = `id, user_id, institution_id, full_name, phone, status, processed_by, processed_at, notes, created_at, updated_at`

func scanAdhesion(row pgx.Row) (*domain.AdhesionRequest, error) {
	var req domain.AdhesionRequest
	err := row.Scan(
		&req.ID, &req.UserID, &req.InstitutionID, &req.FullName, &req.Phone,
		&req.Status, &req.ProcessedBy, &req.ProcessedAt, &req.Notes, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAdhesionRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindAdhesionRequestByID retrieves one adhesion request.
func (r *PostgresRepository) FindAdhesionRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.AdhesionRequest, error) {
	query := `SELECT ` + adhesionColumns + ` FROM adhesion_requests WHERE id = $1`
	return scanAdhesion(r.db.QueryRow(ctx, query, requestID))
}

// FindPendingAdhesionRequest retrieves the pending request a user has open
// against an institution, if any.
func (r *PostgresRepository) FindPendingAdhesionRequest(ctx context.Context, userID, institutionID uuid.UUID) (*domain.AdhesionRequest, error) {
	query := `SELECT ` + adhesionColumns + ` FROM adhesion_requests WHERE user_id = $1 AND institution_id = $2 AND status = 'pending'`
	return scanAdhesion(r.db.QueryRow(ctx, query, userID, institutionID))
}

// ListAdhesionRequestsByInstitution lists requests for staff review,
// optionally filtered by status.
func (r *PostgresRepository) ListAdhesionRequestsByInstitution(ctx context.Context, institutionID uuid.UUID, status string, limit, offset int) ([]domain.AdhesionRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + adhesionColumns + `
		FROM adhesion_requests
		WHERE institution_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, institutionID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.AdhesionRequest
	for rows.Next() {
		var req domain.AdhesionRequest
		if err := rows.Scan(
			&req.ID, &req.UserID, &req.InstitutionID, &req.FullName, &req.Phone,
			&req.Status, &req.ProcessedBy, &req.ProcessedAt, &req.Notes, &req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// TransitionAdhesionRequest moves a request between statuses with a guard on
// the expected current status, so a request is decided exactly once.
func (r *PostgresRepository) TransitionAdhesionRequest(ctx context.Context, requestID uuid.UUID, fromStatus, toStatus string, processedBy *uuid.UUID, notes *string) (bool, error) {
	query := `
		UPDATE adhesion_requests
		SET status = $1, processed_by = $2, processed_at = now(), notes = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, toStatus, processedBy, notes, requestID, fromStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateMobileMoneyIntent records a phase-1 mobile money submission.
func (r *PostgresRepository) CreateMobileMoneyIntent(ctx context.Context, intent *domain.MobileMoneyIntent) error {
	query := `
		INSERT INTO mobile_money_intents (token, account_id, entry_id, amount, kind, phone, provider, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`
	_, err := r.db.Exec(ctx, query,
		intent.Token, intent.AccountID, intent.EntryID, intent.Amount, intent.Kind,
		intent.Phone, intent.Provider, intent.Status, intent.ExpiresAt,
	)
	return err
}

// FindMobileMoneyIntentByToken retrieves an intent by its confirmation token.
func (r *PostgresRepository) FindMobileMoneyIntentByToken(ctx context.Context, token uuid.UUID) (*domain.MobileMoneyIntent, error) {
	var intent domain.MobileMoneyIntent
	query := `
		SELECT token, account_id, entry_id, amount, kind, phone, provider, status, expires_at, created_at, closed_at
		FROM mobile_money_intents
		WHERE token = $1
	`
	err := r.db.QueryRow(ctx, query, token).Scan(
		&intent.Token, &intent.AccountID, &intent.EntryID, &intent.Amount, &intent.Kind, &intent.Phone,
		&intent.Provider, &intent.Status, &intent.ExpiresAt, &intent.CreatedAt, &intent.ClosedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// CloseMobileMoneyIntent transitions a pending intent to a terminal status.
// The status guard makes a confirmation racing an expiry sweep settle on
// whichever wrote first.
func (r *PostgresRepository) CloseMobileMoneyIntent(ctx context.Context, token uuid.UUID, status string, closedAt time.Time) (bool, error) {
	query := `
		UPDATE mobile_money_intents
		SET status = $1, closed_at = $2
		WHERE token = $3 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, status, closedAt, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindExpiredPendingIntents lists pending intents whose confirmation window
// has elapsed, for the expiry sweep.
func (r *PostgresRepository) FindExpiredPendingIntents(ctx context.Context, now time.Time) ([]domain.MobileMoneyIntent, error) {
	query := `
		SELECT token, account_id, entry_id, amount, kind, phone, provider, status, expires_at, created_at, closed_at
		FROM mobile_money_intents
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.MobileMoneyIntent
	for rows.Next() {
		var intent domain.MobileMoneyIntent
		if err := rows.Scan(
			&intent.Token, &intent.AccountID, &intent.EntryID, &intent.Amount, &intent.Kind, &intent.Phone,
			&intent.Provider, &intent.Status, &intent.ExpiresAt, &intent.CreatedAt, &intent.ClosedAt,
		); err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
