/**
 * @description
 * The active-institution switch coordinator. A client with several
 * memberships has exactly one active institution at a time; switching it may
 * be immediate, require a verification code, or require institution-side
 * approval, depending on what the functions layer answers at initiation.
 *
 * The switch is ephemeral in-process state, one slot per user. The source of
 * truth for membership stays the association set in Postgres; the Redis cache
 * of the active institution is advisory and rebuilt from the default
 * association whenever it is missing.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// Switch states. Initiating covers the window between reserving the slot and
// the remote verification check answering.
const (
	SwitchStateIdle            = "idle"
	SwitchStateInitiating      = "initiating"
	SwitchStateVerifying       = "verifying"
	SwitchStatePendingApproval = "pending_approval"
	SwitchStateCompleted       = "completed"
)

// RoleStaff marks institution staff accounts, which are bound to their
// institution and may never switch.
const RoleStaff = "staff"

// switchState is the in-flight switch slot for one user.
type switchState struct {
	TargetInstitutionID uuid.UUID
	VerificationID      string
	State               string
	StartedAt           time.Time
}

// SwitchStatus reports where a user's switch stands.
type SwitchStatus struct {
	State               string    `json:"state"`
	TargetInstitutionID uuid.UUID `json:"target_institution_id,omitempty"`
}

// InitiateSwitch starts switching the user's active institution to the
// target. Staff are rejected outright. The target must be one of the user's
// associations. A second initiation while one is in flight is rejected
// without touching the pending target.
func (s *Service) InitiateSwitch(ctx context.Context, userID uuid.UUID, role string, targetInstitutionID uuid.UUID) (*SwitchStatus, error) {
	if role == RoleStaff {
		return nil, ErrNotAuthorized
	}

	assoc, err := s.repo.FindAssociation(ctx, userID, targetInstitutionID)
	if err != nil {
		return nil, err
	}
	if assoc.IsDefault {
		// Already the active institution; nothing to switch.
		return &SwitchStatus{State: SwitchStateCompleted, TargetInstitutionID: targetInstitutionID}, nil
	}

	// Slots are deleted on completion, cancellation and failure, so a slot in
	// the map always marks an in-flight switch, including one still waiting on
	// the remote verification check below.
	s.switchMu.Lock()
	if _, ok := s.switches[userID]; ok {
		s.switchMu.Unlock()
		return nil, ErrSwitchInProgress
	}
	st := &switchState{TargetInstitutionID: targetInstitutionID, State: SwitchStateInitiating, StartedAt: time.Now().UTC()}
	s.switches[userID] = st
	s.switchMu.Unlock()

	resp, err := s.remote.RequestSwitchVerification(ctx, sfdclient.SwitchVerificationRequest{
		UserID:        userID,
		InstitutionID: targetInstitutionID,
	})
	if err != nil {
		s.clearSwitch(userID)
		return nil, fmt.Errorf("request switch verification: %w", err)
	}

	switch {
	case resp.RequiresVerification:
		s.switchMu.Lock()
		st.State = SwitchStateVerifying
		st.VerificationID = resp.VerificationID
		s.switchMu.Unlock()
		return &SwitchStatus{State: SwitchStateVerifying, TargetInstitutionID: targetInstitutionID}, nil
	case resp.RequiresApproval:
		s.switchMu.Lock()
		st.State = SwitchStatePendingApproval
		st.VerificationID = resp.VerificationID
		s.switchMu.Unlock()
		return &SwitchStatus{State: SwitchStatePendingApproval, TargetInstitutionID: targetInstitutionID}, nil
	default:
		if err := s.applySwitch(ctx, userID, targetInstitutionID); err != nil {
			s.clearSwitch(userID)
			return nil, err
		}
		s.clearSwitch(userID)
		return &SwitchStatus{State: SwitchStateCompleted, TargetInstitutionID: targetInstitutionID}, nil
	}
}

// CompleteSwitch finishes a switch that is waiting on a verification code.
func (s *Service) CompleteSwitch(ctx context.Context, userID uuid.UUID, code string) (*SwitchStatus, error) {
	s.switchMu.Lock()
	st, ok := s.switches[userID]
	if !ok || st.State != SwitchStateVerifying {
		s.switchMu.Unlock()
		return nil, ErrSwitchInProgress
	}
	verificationID := st.VerificationID
	target := st.TargetInstitutionID
	s.switchMu.Unlock()

	if err := s.remote.ConfirmSwitchVerification(ctx, verificationID, code); err != nil {
		return nil, fmt.Errorf("confirm switch verification: %w", err)
	}
	if err := s.applySwitch(ctx, userID, target); err != nil {
		return nil, err
	}
	s.clearSwitch(userID)
	return &SwitchStatus{State: SwitchStateCompleted, TargetInstitutionID: target}, nil
}

// ResolveSwitchApproval records the institution-side decision on a switch
// that required approval. Denial returns the slot to idle.
func (s *Service) ResolveSwitchApproval(ctx context.Context, userID uuid.UUID, approved bool) (*SwitchStatus, error) {
	s.switchMu.Lock()
	st, ok := s.switches[userID]
	if !ok || st.State != SwitchStatePendingApproval {
		s.switchMu.Unlock()
		return nil, ErrSwitchInProgress
	}
	target := st.TargetInstitutionID
	s.switchMu.Unlock()

	if !approved {
		s.clearSwitch(userID)
		return &SwitchStatus{State: SwitchStateIdle}, nil
	}
	if err := s.applySwitch(ctx, userID, target); err != nil {
		return nil, err
	}
	s.clearSwitch(userID)
	return &SwitchStatus{State: SwitchStateCompleted, TargetInstitutionID: target}, nil
}

// CancelSwitch discards an in-flight switch. Valid from any non-completed
// state; cancelling with nothing in flight is a no-op.
func (s *Service) CancelSwitch(userID uuid.UUID) {
	s.clearSwitch(userID)
}

// SwitchState reports the user's current switch slot.
func (s *Service) SwitchState(userID uuid.UUID) *SwitchStatus {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	st, ok := s.switches[userID]
	if !ok {
		return &SwitchStatus{State: SwitchStateIdle}
	}
	return &SwitchStatus{State: st.State, TargetInstitutionID: st.TargetInstitutionID}
}

// applySwitch makes the target the default association and refreshes the
// advisory Redis cache.
func (s *Service) applySwitch(ctx context.Context, userID, targetInstitutionID uuid.UUID) error {
	if err := s.repo.SetDefaultAssociation(ctx, userID, targetInstitutionID); err != nil {
		return fmt.Errorf("set default association: %w", err)
	}
	if s.activeCache != nil {
		if err := s.activeCache.SetActive(ctx, userID, targetInstitutionID); err != nil {
			log.Printf("level=warn component=sfd_switch msg=\"active institution cache write failed\" user_id=%s err=%v", userID, err)
		}
	}
	log.Printf("level=info component=sfd_switch msg=\"active institution switched\" user_id=%s institution_id=%s", userID, targetInstitutionID)
	return nil
}

func (s *Service) clearSwitch(userID uuid.UUID) {
	s.switchMu.Lock()
	delete(s.switches, userID)
	s.switchMu.Unlock()
}

// ActiveInstitution resolves the user's active institution: the advisory
// cache first, rebuilt from the default association on a miss.
func (s *Service) ActiveInstitution(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if s.activeCache != nil {
		if id, ok, err := s.activeCache.Active(ctx, userID); err == nil && ok {
			return id, nil
		}
	}
	assocs, err := s.repo.FindAssociationsByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	for _, a := range assocs {
		if a.IsDefault {
			if s.activeCache != nil {
				if err := s.activeCache.SetActive(ctx, userID, a.InstitutionID); err != nil {
					log.Printf("level=warn component=sfd_switch msg=\"active institution cache write failed\" user_id=%s err=%v", userID, err)
				}
			}
			return a.InstitutionID, nil
		}
	}
	return uuid.Nil, ErrNotAuthorized
}
