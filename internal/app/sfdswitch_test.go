package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// seedMemberships gives the user a default association plus one membership at
// every additional institution.
func seedMemberships(repo *memRepo, userID, defaultInst uuid.UUID, others ...uuid.UUID) {
	repo.associations = append(repo.associations, &domain.InstitutionAssociation{
		ClientUserID: userID, InstitutionID: defaultInst, IsDefault: true,
	})
	for _, inst := range others {
		repo.associations = append(repo.associations, &domain.InstitutionAssociation{
			ClientUserID: userID, InstitutionID: inst,
		})
	}
}

func defaultInstitutionOf(t *testing.T, repo *memRepo, userID uuid.UUID) uuid.UUID {
	t.Helper()
	assocs, err := repo.FindAssociationsByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("association lookup failed: %v", err)
	}
	for _, a := range assocs {
		if a.IsDefault {
			return a.InstitutionID
		}
	}
	t.Fatal("no default association")
	return uuid.Nil
}

func TestInitiateSwitch_StaffRejected(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	_, err := svc.InitiateSwitch(context.Background(), uuid.New(), RoleStaff, uuid.New())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for staff, got %v", err)
	}
}

func TestInitiateSwitch_TargetMustBeMembership(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	userID := uuid.New()
	seedMemberships(repo, userID, uuid.New())

	_, err := svc.InitiateSwitch(context.Background(), userID, "client", uuid.New())
	if !errors.Is(err, store.ErrAssociationNotFound) {
		t.Fatalf("expected ErrAssociationNotFound, got %v", err)
	}
}

func TestInitiateSwitch_CurrentDefaultCompletesImmediately(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	userID := uuid.New()
	home := uuid.New()
	seedMemberships(repo, userID, home)

	status, err := svc.InitiateSwitch(context.Background(), userID, "client", home)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if status.State != SwitchStateCompleted {
		t.Fatalf("expected completed for the current default, got %s", status.State)
	}
}

func TestInitiateSwitch_DirectPathSwitchesDefault(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	userID := uuid.New()
	home, target := uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target)

	status, err := svc.InitiateSwitch(context.Background(), userID, "client", target)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if status.State != SwitchStateCompleted {
		t.Fatalf("expected completed, got %s", status.State)
	}
	if got := defaultInstitutionOf(t, repo, userID); got != target {
		t.Fatalf("expected default switched to %s, got %s", target, got)
	}
	if st := svc.SwitchState(userID); st.State != SwitchStateIdle {
		t.Fatalf("expected slot cleared after completion, got %s", st.State)
	}
}

func TestInitiateSwitch_SecondInitiationRejectedWhileVerifying(t *testing.T) {
	repo := newMemRepo()
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-1", RequiresVerification: true}, nil
		},
	}
	svc := newTestService(repo, remote)
	userID := uuid.New()
	home, target, other := uuid.New(), uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target, other)

	status, err := svc.InitiateSwitch(context.Background(), userID, "client", target)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if status.State != SwitchStateVerifying {
		t.Fatalf("expected verifying, got %s", status.State)
	}

	if _, err := svc.InitiateSwitch(context.Background(), userID, "client", other); !errors.Is(err, ErrSwitchInProgress) {
		t.Fatalf("expected ErrSwitchInProgress, got %v", err)
	}
	if st := svc.SwitchState(userID); st.TargetInstitutionID != target {
		t.Fatalf("expected pending target untouched, got %s", st.TargetInstitutionID)
	}
}

func TestInitiateSwitch_ConcurrentInitiationRejectedDuringRemoteCall(t *testing.T) {
	repo := newMemRepo()
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			entered <- struct{}{}
			<-release
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-11", RequiresVerification: true}, nil
		},
	}
	svc := newTestService(repo, remote)
	userID := uuid.New()
	home, target, other := uuid.New(), uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target, other)

	done := make(chan *SwitchStatus, 1)
	go func() {
		status, err := svc.InitiateSwitch(context.Background(), userID, "client", target)
		if err != nil {
			t.Errorf("first initiate failed: %v", err)
		}
		done <- status
	}()

	// The first initiation holds a slot while its remote verification call is
	// still in flight; a second initiation in that window must not replace
	// the pending target.
	<-entered
	if _, err := svc.InitiateSwitch(context.Background(), userID, "client", other); !errors.Is(err, ErrSwitchInProgress) {
		t.Fatalf("expected ErrSwitchInProgress during the in-flight initiation, got %v", err)
	}
	close(release)

	status := <-done
	if status != nil && status.TargetInstitutionID != target {
		t.Fatalf("expected first initiation to keep target %s, got %s", target, status.TargetInstitutionID)
	}
	if st := svc.SwitchState(userID); st.State != SwitchStateVerifying || st.TargetInstitutionID != target {
		t.Fatalf("expected slot verifying toward %s, got state=%s target=%s", target, st.State, st.TargetInstitutionID)
	}
}

func TestCompleteSwitch_VerificationFlow(t *testing.T) {
	repo := newMemRepo()
	var confirmedID, confirmedCode string
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-7", RequiresVerification: true}, nil
		},
		switchConfirmFn: func(ctx context.Context, verificationID, code string) error {
			confirmedID, confirmedCode = verificationID, code
			return nil
		},
	}
	svc := newTestService(repo, remote)
	userID := uuid.New()
	home, target := uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target)

	if _, err := svc.InitiateSwitch(context.Background(), userID, "client", target); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	status, err := svc.CompleteSwitch(context.Background(), userID, "482913")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if status.State != SwitchStateCompleted {
		t.Fatalf("expected completed, got %s", status.State)
	}
	if confirmedID != "ver-7" || confirmedCode != "482913" {
		t.Fatalf("expected verification confirmed with the entered code, got id=%q code=%q", confirmedID, confirmedCode)
	}
	if got := defaultInstitutionOf(t, repo, userID); got != target {
		t.Fatalf("expected default switched to %s, got %s", target, got)
	}
}

func TestCompleteSwitch_WrongCodeKeepsSlotOpen(t *testing.T) {
	repo := newMemRepo()
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-9", RequiresVerification: true}, nil
		},
		switchConfirmFn: func(ctx context.Context, verificationID, code string) error {
			return &sfdclient.APIError{StatusCode: 400, Code: "invalid_code"}
		},
	}
	svc := newTestService(repo, remote)
	userID := uuid.New()
	home, target := uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target)

	if _, err := svc.InitiateSwitch(context.Background(), userID, "client", target); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if _, err := svc.CompleteSwitch(context.Background(), userID, "000000"); err == nil {
		t.Fatal("expected an error for a rejected code")
	}
	if st := svc.SwitchState(userID); st.State != SwitchStateVerifying {
		t.Fatalf("expected slot still verifying after a failed code, got %s", st.State)
	}
	if got := defaultInstitutionOf(t, repo, userID); got != home {
		t.Fatalf("expected default unchanged, got %s", got)
	}
}

func TestResolveSwitchApproval_ApproveAndDeny(t *testing.T) {
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-3", RequiresApproval: true}, nil
		},
	}

	t.Run("approved", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, remote)
		userID := uuid.New()
		home, target := uuid.New(), uuid.New()
		seedMemberships(repo, userID, home, target)

		status, err := svc.InitiateSwitch(context.Background(), userID, "client", target)
		if err != nil {
			t.Fatalf("initiate failed: %v", err)
		}
		if status.State != SwitchStatePendingApproval {
			t.Fatalf("expected pending_approval, got %s", status.State)
		}

		resolved, err := svc.ResolveSwitchApproval(context.Background(), userID, true)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if resolved.State != SwitchStateCompleted {
			t.Fatalf("expected completed, got %s", resolved.State)
		}
		if got := defaultInstitutionOf(t, repo, userID); got != target {
			t.Fatalf("expected default switched to %s, got %s", target, got)
		}
	})

	t.Run("denied", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, remote)
		userID := uuid.New()
		home, target := uuid.New(), uuid.New()
		seedMemberships(repo, userID, home, target)

		if _, err := svc.InitiateSwitch(context.Background(), userID, "client", target); err != nil {
			t.Fatalf("initiate failed: %v", err)
		}
		resolved, err := svc.ResolveSwitchApproval(context.Background(), userID, false)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if resolved.State != SwitchStateIdle {
			t.Fatalf("expected idle after denial, got %s", resolved.State)
		}
		if got := defaultInstitutionOf(t, repo, userID); got != home {
			t.Fatalf("expected default unchanged after denial, got %s", got)
		}
	})
}

func TestCancelSwitch_DiscardsInFlightSlot(t *testing.T) {
	repo := newMemRepo()
	remote := &remoteStub{
		switchVerifyFn: func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
			return &sfdclient.SwitchVerificationResponse{VerificationID: "ver-5", RequiresVerification: true}, nil
		},
	}
	svc := newTestService(repo, remote)
	userID := uuid.New()
	home, target := uuid.New(), uuid.New()
	seedMemberships(repo, userID, home, target)

	if _, err := svc.InitiateSwitch(context.Background(), userID, "client", target); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	svc.CancelSwitch(userID)

	if st := svc.SwitchState(userID); st.State != SwitchStateIdle {
		t.Fatalf("expected idle after cancel, got %s", st.State)
	}
	if _, err := svc.CompleteSwitch(context.Background(), userID, "482913"); !errors.Is(err, ErrSwitchInProgress) {
		t.Fatalf("expected ErrSwitchInProgress after cancel, got %v", err)
	}
	if got := defaultInstitutionOf(t, repo, userID); got != home {
		t.Fatalf("expected default unchanged, got %s", got)
	}
}

func TestActiveInstitution_RebuiltFromDefaultAssociation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	userID := uuid.New()
	home := uuid.New()
	seedMemberships(repo, userID, home)

	got, err := svc.ActiveInstitution(context.Background(), userID)
	if err != nil {
		t.Fatalf("active institution lookup failed: %v", err)
	}
	if got != home {
		t.Fatalf("expected %s, got %s", home, got)
	}

	if _, err := svc.ActiveInstitution(context.Background(), uuid.New()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for a user with no memberships, got %v", err)
	}
}
