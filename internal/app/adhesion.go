/**
 * @description
 * Adhesion (membership) lifecycle and provisioning. A prospective client
 * files a request against an institution; staff approve or reject it exactly
 * once; approval triggers provisioning, which ensures the client record, the
 * zero-balance ledger account, and the institution association exist as one
 * logical unit.
 *
 * Provisioning is retry-safe rather than transaction-dependent: every step
 * looks up before inserting, so a retry after a mid-sequence failure resumes
 * where the previous run stopped instead of duplicating records.
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

// SubmitAdhesionRequest files a membership request. A user with a request
// already pending against the institution gets that request back; a
// previously rejected user may resubmit, which opens a fresh pending request.
func (s *Service) SubmitAdhesionRequest(ctx context.Context, userID uuid.UUID, payload domain.CreateAdhesionRequestPayload) (*domain.AdhesionRequest, error) {
	if _, err := s.repo.FindInstitutionByID(ctx, payload.InstitutionID); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindPendingAdhesionRequest(ctx, userID, payload.InstitutionID)
	if err != nil && !errors.Is(err, store.ErrAdhesionRequestNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	req := &domain.AdhesionRequest{
		ID:            uuid.New(),
		UserID:        userID,
		InstitutionID: payload.InstitutionID,
		FullName:      payload.FullName,
		Phone:         payload.Phone,
		Status:        domain.AdhesionStatusPending,
	}
	if err := s.repo.CreateAdhesionRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create adhesion request: %w", err)
	}
	log.Printf("level=info component=adhesion msg=\"request filed\" request_id=%s user_id=%s institution_id=%s", req.ID, userID, payload.InstitutionID)
	return req, nil
}

// ApproveAdhesionRequest transitions a pending request to approved and runs
// provisioning. A request that was already approved is not an error: the call
// degrades to a provisioning retry, which is idempotent.
func (s *Service) ApproveAdhesionRequest(ctx context.Context, requestID, staffID uuid.UUID, notes *string) (*domain.ProvisionResult, error) {
	transitioned, err := s.repo.TransitionAdhesionRequest(ctx, requestID, domain.AdhesionStatusPending, domain.AdhesionStatusApproved, &staffID, notes)
	if err != nil {
		return nil, fmt.Errorf("transition request: %w", err)
	}
	if !transitioned {
		req, err := s.repo.FindAdhesionRequestByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != domain.AdhesionStatusApproved {
			return nil, ErrAlreadyDecided
		}
	}
	return s.Provision(ctx, requestID)
}

// RejectAdhesionRequest transitions a pending request to rejected.
func (s *Service) RejectAdhesionRequest(ctx context.Context, requestID, staffID uuid.UUID, notes *string) error {
	transitioned, err := s.repo.TransitionAdhesionRequest(ctx, requestID, domain.AdhesionStatusPending, domain.AdhesionStatusRejected, &staffID, notes)
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	if !transitioned {
		return ErrAlreadyDecided
	}
	return nil
}

// Provision turns an approved adhesion request into a client record, a
// ledger account, and an institution association. Every step is individually
// idempotent; calling Provision again after a partial failure completes the
// remaining steps without duplicating the finished ones.
func (s *Service) Provision(ctx context.Context, requestID uuid.UUID) (*domain.ProvisionResult, error) {
	req, err := s.repo.FindAdhesionRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.AdhesionStatusApproved {
		return nil, ErrNotApproved
	}

	// Step 1: client record.
	client, err := s.repo.FindClientByUserInstitution(ctx, req.UserID, req.InstitutionID)
	if err != nil {
		if !errors.Is(err, store.ErrClientNotFound) {
			return nil, fmt.Errorf("lookup client: %w", err)
		}
		client = &domain.Client{
			ID:            uuid.New(),
			UserID:        req.UserID,
			InstitutionID: req.InstitutionID,
			FullName:      req.FullName,
			Phone:         req.Phone,
			Status:        "active",
		}
		if err := s.repo.CreateClient(ctx, client); err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
	} else if client.Status != "active" {
		if err := s.repo.SetClientStatus(ctx, client.ID, "active"); err != nil {
			return nil, fmt.Errorf("reactivate client: %w", err)
		}
	}

	// Step 3 decides the default flag, but the association count is read
	// before step 2 creates nothing that would change it.
	priorAssociations, err := s.repo.FindAssociationsByUserID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	isFirst := len(priorAssociations) == 0

	// Step 2: ledger account, balance zero, verified by approval.
	account, err := s.repo.FindAccountByClientInstitution(ctx, req.UserID, req.InstitutionID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		institution, err := s.repo.FindInstitutionByID(ctx, req.InstitutionID)
		if err != nil {
			return nil, fmt.Errorf("lookup institution: %w", err)
		}
		account = &domain.Account{
			ID:            uuid.New(),
			ClientID:      client.ID,
			InstitutionID: req.InstitutionID,
			Balance:       0,
			Currency:      institution.DefaultCurrency,
			Verified:      true,
			IsDefault:     isFirst,
			Active:        true,
		}
		if err := s.repo.CreateAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
	}

	// Step 3: institution association; the first membership becomes the default.
	associationCreated := false
	if _, err := s.repo.FindAssociation(ctx, req.UserID, req.InstitutionID); err != nil {
		if !errors.Is(err, store.ErrAssociationNotFound) {
			return nil, fmt.Errorf("lookup association: %w", err)
		}
		assoc := &domain.InstitutionAssociation{
			ClientUserID:  req.UserID,
			InstitutionID: req.InstitutionID,
			IsDefault:     isFirst,
		}
		if err := s.repo.CreateAssociation(ctx, assoc); err != nil {
			return nil, fmt.Errorf("create association: %w", err)
		}
		associationCreated = true
	}

	s.publish(ctx, "adhesion.approved", domain.AdhesionApprovedEvent{
		RequestID:     req.ID,
		UserID:        req.UserID,
		InstitutionID: req.InstitutionID,
		AccountID:     account.ID,
		Timestamp:     time.Now().UTC(),
	})
	log.Printf("level=info component=adhesion msg=\"provisioned\" request_id=%s client_id=%s account_id=%s association_created=%t",
		req.ID, client.ID, account.ID, associationCreated)

	return &domain.ProvisionResult{
		ClientID:           client.ID,
		AccountID:          account.ID,
		AssociationCreated: associationCreated,
	}, nil
}

// ListAdhesionRequests lists requests for staff review.
func (s *Service) ListAdhesionRequests(ctx context.Context, institutionID uuid.UUID, status string, limit, offset int) ([]domain.AdhesionRequest, error) {
	return s.repo.ListAdhesionRequestsByInstitution(ctx, institutionID, status, limit, offset)
}
