/**
 * @description
 * This file defines the account-side domain models for the portal service:
 * the client record held per institution, the ledger account derived from it,
 * and the membership association that marks which institution is a client's
 * default.
 *
 * @notes
 * - Amounts are stored as `int64` in minor currency units (e.g. FCFA
 *   centimes), which avoids floating-point inaccuracies with financial data.
 * - An account's `Balance` column is a cache. The authoritative value is the
 *   signed sum of successful ledger entries; the reconciler owns every write
 *   to the cached column.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account identifies a (client, institution) balance holder.
// It maps directly to the `accounts` table.
type Account struct {
	ID            uuid.UUID `json:"id"`
	ClientID      uuid.UUID `json:"client_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	Balance       int64     `json:"balance"` // cached, minor units
	Currency      string    `json:"currency"`
	Verified      bool      `json:"verified"`
	IsDefault     bool      `json:"is_default"`
	Active        bool      `json:"active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Client is the per-institution client record created when an adhesion
// request is approved. The same portal user may hold several client records,
// one per institution joined.
type Client struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	FullName      string    `json:"full_name"`
	Phone         string    `json:"phone"`
	Status        string    `json:"status"` // 'active' | 'suspended'
	CreatedAt     time.Time `json:"created_at"`
}

// InstitutionAssociation links a client to an institution they belong to.
// Exactly one association per client carries IsDefault=true; that row decides
// which account the portal treats as active absent an explicit selection.
type InstitutionAssociation struct {
	ClientUserID  uuid.UUID `json:"client_user_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
}

// Institution is the read model for a partner SFD. Only the fields the core
// needs are carried; institution administration lives elsewhere.
type Institution struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DefaultCurrency string    `json:"default_currency"`
}

// AccountView is the read shape returned to the portal: the reconciled
// balance plus the sum of still-pending entries, shown separately so the UI
// can render "pending" without it ever entering the authoritative balance.
type AccountView struct {
	Account
	PendingAmount int64 `json:"pending_amount"`
}
