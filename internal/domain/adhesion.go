/**
 * @description
 * This file defines the adhesion (membership) domain models: the request a
 * prospective client files against an institution and the DTOs used by the
 * API layer when filing and deciding requests.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Adhesion request statuses. A request transitions to approved or rejected
// exactly once; a rejected request may be resubmitted, which resets it to
// pending.
const (
	AdhesionStatusPending  = "pending"
	AdhesionStatusApproved = "approved"
	AdhesionStatusRejected = "rejected"
)

// AdhesionRequest is a client's application to join an institution.
// Maps to the `adhesion_requests` table.
type AdhesionRequest struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	InstitutionID uuid.UUID  `json:"institution_id"`
	FullName      string     `json:"full_name"`
	Phone         string     `json:"phone"`
	Status        string     `json:"status"`
	ProcessedBy   *uuid.UUID `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateAdhesionRequestPayload is the DTO for filing a new adhesion request.
type CreateAdhesionRequestPayload struct {
	InstitutionID uuid.UUID `json:"institution_id"`
	FullName      string    `json:"full_name"`
	Phone         string    `json:"phone"`
}

// DecideAdhesionRequestPayload is the DTO institution staff send when
// approving or rejecting a request.
type DecideAdhesionRequestPayload struct {
	Notes *string `json:"notes,omitempty"`
}

// ProvisionResult reports what an adhesion provisioning run ensured exists.
type ProvisionResult struct {
	ClientID           uuid.UUID `json:"client_id"`
	AccountID          uuid.UUID `json:"account_id"`
	AssociationCreated bool      `json:"association_created"`
}
