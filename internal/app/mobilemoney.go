/**
 * @description
 * The mobile money channel. Two phases: Submit validates the phone and
 * provider, asks the functions layer to initiate the provider operation, and
 * records a pending intent plus a pending ledger entry. Confirm (or the
 * provider callback consumed from the broker) resolves the pending entry with
 * the provider transaction id. Intents that outlive their confirmation
 * window are swept to failed so abandoned submissions do not sit pending
 * forever.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// West-African MSISDN shape: optional +, 8 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// MobileMoneyHandler submits movements through the mobile money channel.
type MobileMoneyHandler struct {
	svc *Service
}

// MobileMoneyChannel returns the mobile money handler.
func (s *Service) MobileMoneyChannel() *MobileMoneyHandler {
	return &MobileMoneyHandler{svc: s}
}

func (h *MobileMoneyHandler) Channel() string { return domain.ChannelMobileMoney }

func validProvider(provider string) bool {
	switch provider {
	case domain.MomoProviderOrange, domain.MomoProviderMTN, domain.MomoProviderWave:
		return true
	}
	return false
}

// Submit runs phase 1: validation, remote initiation, and the pending
// intent + pending ledger entry pair. The returned token drives phase 2.
func (h *MobileMoneyHandler) Submit(ctx context.Context, accountID uuid.UUID, amount int64, meta SubmissionMetadata) (*SubmissionResult, error) {
	kind := meta.Kind
	if kind == "" {
		kind = domain.EntryKindDeposit
	}

	account, err := h.svc.validateSubmission(ctx, accountID, amount, kind, mobileMoneyPolicy)
	if err != nil {
		return submissionOutcome(err)
	}
	if !phonePattern.MatchString(meta.Phone) {
		return submissionOutcome(ErrInvalidPhoneNumber)
	}
	if !validProvider(meta.Provider) {
		return submissionOutcome(ErrInvalidProvider)
	}

	token := uuid.New()
	if _, err := h.svc.remote.InitiateMobileMoney(ctx, sfdclient.MomoInitiationRequest{
		Token:    token.String(),
		Phone:    meta.Phone,
		Provider: meta.Provider,
		Amount:   amount,
		Kind:     kind,
	}); err != nil {
		log.Printf("level=warn component=momo_channel msg=\"initiation failed\" account_id=%s provider=%s err=%v", accountID, meta.Provider, err)
		return nil, fmt.Errorf("initiate mobile money: %w", err)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		AccountID:   account.ID,
		Amount:      domain.SignedAmount(kind, amount),
		Kind:        kind,
		Channel:     domain.ChannelMobileMoney,
		Status:      domain.EntryStatusPending,
		ExternalRef: "momo:" + token.String(),
		CreatedAt:   now,
	}
	entryID, err := h.svc.AppendEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	intent := &domain.MobileMoneyIntent{
		Token:     token,
		AccountID: account.ID,
		EntryID:   entryID,
		Amount:    amount,
		Kind:      kind,
		Phone:     meta.Phone,
		Provider:  meta.Provider,
		Status:    domain.MomoIntentPending,
		ExpiresAt: now.Add(h.svc.momoWindow),
		CreatedAt: now,
	}
	if err := h.svc.repo.CreateMobileMoneyIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("record mobile money intent: %w", err)
	}

	return pendingConfirmation(token), nil
}

// Confirm runs phase 2 with the code the provider sent to the client. On
// provider acceptance the pending entry resolves to success carrying the
// provider transaction id as its external reference.
func (h *MobileMoneyHandler) Confirm(ctx context.Context, token uuid.UUID, code string) (*SubmissionResult, error) {
	intent, err := h.svc.repo.FindMobileMoneyIntentByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch intent.Status {
	case domain.MomoIntentConfirmed:
		return accepted(intent.EntryID), nil
	case domain.MomoIntentFailed:
		return nil, ErrConfirmationTimeout
	}
	if now.After(intent.ExpiresAt) {
		if err := h.svc.failIntent(ctx, intent, now); err != nil {
			return nil, err
		}
		return nil, ErrConfirmationTimeout
	}

	resp, err := h.svc.remote.ConfirmMobileMoney(ctx, sfdclient.MomoConfirmRequest{Token: token.String(), Code: code})
	if err != nil {
		// A rejected code is not terminal; the user may retype it while the
		// window is open. Transport failures surface unchanged.
		var apiErr *sfdclient.APIError
		if errors.As(err, &apiErr) {
			log.Printf("level=warn component=momo_channel msg=\"provider rejected confirmation\" token=%s status=%d", token, apiErr.StatusCode)
		}
		return nil, fmt.Errorf("confirm mobile money: %w", err)
	}

	return h.svc.settleIntent(ctx, intent, resp.ProviderTxnID, now)
}

// settleIntent resolves a confirmed intent: intent closed, pending entry
// moved to success under the provider transaction id, balance reconciled.
func (s *Service) settleIntent(ctx context.Context, intent *domain.MobileMoneyIntent, providerTxnID string, now time.Time) (*SubmissionResult, error) {
	closed, err := s.repo.CloseMobileMoneyIntent(ctx, intent.Token, domain.MomoIntentConfirmed, now)
	if err != nil {
		return nil, fmt.Errorf("close intent: %w", err)
	}
	if !closed {
		// Raced by the expiry sweep or a duplicate callback; re-read and
		// report whichever outcome won.
		fresh, err := s.repo.FindMobileMoneyIntentByToken(ctx, intent.Token)
		if err != nil {
			return nil, err
		}
		if fresh.Status == domain.MomoIntentConfirmed {
			return accepted(fresh.EntryID), nil
		}
		return nil, ErrConfirmationTimeout
	}

	resolved, err := s.repo.ResolveLedgerEntry(ctx, intent.EntryID, domain.EntryStatusSuccess, providerTxnID, now)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger entry: %w", err)
	}
	if !resolved {
		log.Printf("level=error component=momo_channel msg=\"intent confirmed but entry not pending\" token=%s entry_id=%s", intent.Token, intent.EntryID)
	}

	entry := &domain.LedgerEntry{
		ID:          intent.EntryID,
		AccountID:   intent.AccountID,
		Amount:      domain.SignedAmount(intent.Kind, intent.Amount),
		Kind:        intent.Kind,
		Channel:     domain.ChannelMobileMoney,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: providerTxnID,
	}
	s.publishEntryEvent(ctx, entry)
	s.reconcileAfterMovement(ctx, intent.AccountID)
	return accepted(intent.EntryID), nil
}

// failIntent resolves an abandoned or provider-failed intent: intent closed
// failed, pending entry moved to failed, balance untouched.
func (s *Service) failIntent(ctx context.Context, intent *domain.MobileMoneyIntent, now time.Time) error {
	closed, err := s.repo.CloseMobileMoneyIntent(ctx, intent.Token, domain.MomoIntentFailed, now)
	if err != nil {
		return fmt.Errorf("close intent: %w", err)
	}
	if !closed {
		return nil
	}
	if _, err := s.repo.ResolveLedgerEntry(ctx, intent.EntryID, domain.EntryStatusFailed, "momo:"+intent.Token.String(), now); err != nil {
		return fmt.Errorf("fail ledger entry: %w", err)
	}
	entry := &domain.LedgerEntry{
		ID:          intent.EntryID,
		AccountID:   intent.AccountID,
		Amount:      domain.SignedAmount(intent.Kind, intent.Amount),
		Kind:        intent.Kind,
		Channel:     domain.ChannelMobileMoney,
		Status:      domain.EntryStatusFailed,
		ExternalRef: "momo:" + intent.Token.String(),
	}
	s.publishEntryEvent(ctx, entry)
	return nil
}

// ExpirePendingIntents sweeps pending intents whose confirmation window has
// elapsed and marks them failed. Run from the scheduler.
func (s *Service) ExpirePendingIntents(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	intents, err := s.repo.FindExpiredPendingIntents(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired intents: %w", err)
	}

	expired := 0
	for i := range intents {
		if err := s.failIntent(ctx, &intents[i], now); err != nil {
			log.Printf("level=warn component=momo_channel msg=\"expiry sweep failed for intent\" token=%s err=%v", intents[i].Token, err)
			continue
		}
		expired++
	}
	return expired, nil
}
