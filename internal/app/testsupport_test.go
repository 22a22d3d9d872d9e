package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// memRepo is a thread-safe in-memory Repository used across the app tests.
type memRepo struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	entries      []*domain.LedgerEntry
	clients      map[uuid.UUID]*domain.Client
	associations []*domain.InstitutionAssociation
	institutions map[uuid.UUID]*domain.Institution
	adhesions    map[uuid.UUID]*domain.AdhesionRequest
	intents      map[uuid.UUID]*domain.MobileMoneyIntent
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts:     make(map[uuid.UUID]*domain.Account),
		clients:      make(map[uuid.UUID]*domain.Client),
		institutions: make(map[uuid.UUID]*domain.Institution),
		adhesions:    make(map[uuid.UUID]*domain.AdhesionRequest),
		intents:      make(map[uuid.UUID]*domain.MobileMoneyIntent),
	}
}

var _ store.Repository = (*memRepo)(nil)

func (r *memRepo) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (r *memRepo) FindAccountByClientInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		client, ok := r.clients[a.ClientID]
		if ok && client.UserID == userID && a.InstitutionID == institutionID {
			copy := *a
			return &copy, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *memRepo) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, a := range r.accounts {
		client, ok := r.clients[a.ClientID]
		if ok && client.UserID == userID && a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *account
	copy.UpdatedAt = time.Now().UTC()
	r.accounts[account.ID] = &copy
	return nil
}

func (r *memRepo) UpdateAccountBalanceIfEquals(ctx context.Context, accountID uuid.UUID, expected, balance int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok || a.Balance != expected {
		return false, nil
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memRepo) SetAccountVerified(ctx context.Context, accountID uuid.UUID, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	a.Verified = verified
	return nil
}

func (r *memRepo) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	a.Active = false
	return nil
}

func (r *memRepo) FindAccountsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, a := range r.accounts {
		if a.Active && a.UpdatedAt.Before(cutoff) {
			out = append(out, *a)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ExternalRef != "" {
		for _, e := range r.entries {
			if e.AccountID == entry.AccountID && e.ExternalRef == entry.ExternalRef {
				return store.ErrDuplicateConflict
			}
		}
	}
	copy := *entry
	r.entries = append(r.entries, &copy)
	return nil
}

func (r *memRepo) ResolveLedgerEntry(ctx context.Context, entryID uuid.UUID, status, externalRef string, confirmedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == entryID && e.Status == domain.EntryStatusPending {
			e.Status = status
			e.ExternalRef = externalRef
			at := confirmedAt
			e.ConfirmedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) FindLedgerEntryByExternalRef(ctx context.Context, accountID uuid.UUID, externalRef string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.AccountID == accountID && e.ExternalRef == externalRef {
			copy := *e
			return &copy, nil
		}
	}
	return nil, store.ErrEntryNotFound
}

func (r *memRepo) FindLedgerEntriesByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *memRepo) SumSuccessfulEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, e := range r.entries {
		if e.AccountID == accountID && e.Status == domain.EntryStatusSuccess && e.Channel != domain.ChannelSystem {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r *memRepo) SumPendingEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, e := range r.entries {
		if e.AccountID == accountID && e.Status == domain.EntryStatusPending {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r *memRepo) FindClientByID(ctx context.Context, clientID uuid.UUID) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, store.ErrClientNotFound
	}
	copy := *c
	return &copy, nil
}

func (r *memRepo) FindClientByUserInstitution(ctx context.Context, userID, institutionID uuid.UUID) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UserID == userID && c.InstitutionID == institutionID {
			copy := *c
			return &copy, nil
		}
	}
	return nil, store.ErrClientNotFound
}

func (r *memRepo) CreateClient(ctx context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *client
	r.clients[client.ID] = &copy
	return nil
}

func (r *memRepo) SetClientStatus(ctx context.Context, clientID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return store.ErrClientNotFound
	}
	c.Status = status
	return nil
}

func (r *memRepo) FindAssociationsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.InstitutionAssociation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InstitutionAssociation
	for _, a := range r.associations {
		if a.ClientUserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) FindAssociation(ctx context.Context, userID, institutionID uuid.UUID) (*domain.InstitutionAssociation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.associations {
		if a.ClientUserID == userID && a.InstitutionID == institutionID {
			copy := *a
			return &copy, nil
		}
	}
	return nil, store.ErrAssociationNotFound
}

func (r *memRepo) CreateAssociation(ctx context.Context, assoc *domain.InstitutionAssociation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *assoc
	copy.CreatedAt = time.Now().UTC()
	r.associations = append(r.associations, &copy)
	return nil
}

func (r *memRepo) SetDefaultAssociation(ctx context.Context, userID, institutionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, a := range r.associations {
		if a.ClientUserID == userID {
			a.IsDefault = a.InstitutionID == institutionID
			if a.IsDefault {
				found = true
			}
		}
	}
	if !found {
		return store.ErrAssociationNotFound
	}
	return nil
}

func (r *memRepo) FindInstitutionByID(ctx context.Context, institutionID uuid.UUID) (*domain.Institution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.institutions[institutionID]
	if !ok {
		return nil, store.ErrInstitutionNotFound
	}
	copy := *inst
	return &copy, nil
}

func (r *memRepo) CreateAdhesionRequest(ctx context.Context, req *domain.AdhesionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *req
	copy.CreatedAt = time.Now().UTC()
	copy.UpdatedAt = copy.CreatedAt
	r.adhesions[req.ID] = &copy
	return nil
}

func (r *memRepo) FindAdhesionRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.AdhesionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.adhesions[requestID]
	if !ok {
		return nil, store.ErrAdhesionRequestNotFound
	}
	copy := *req
	return &copy, nil
}

func (r *memRepo) FindPendingAdhesionRequest(ctx context.Context, userID, institutionID uuid.UUID) (*domain.AdhesionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.adhesions {
		if req.UserID == userID && req.InstitutionID == institutionID && req.Status == domain.AdhesionStatusPending {
			copy := *req
			return &copy, nil
		}
	}
	return nil, store.ErrAdhesionRequestNotFound
}

func (r *memRepo) ListAdhesionRequestsByInstitution(ctx context.Context, institutionID uuid.UUID, status string, limit, offset int) ([]domain.AdhesionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AdhesionRequest
	for _, req := range r.adhesions {
		if req.InstitutionID == institutionID && (status == "" || req.Status == status) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memRepo) TransitionAdhesionRequest(ctx context.Context, requestID uuid.UUID, fromStatus, toStatus string, processedBy *uuid.UUID, notes *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.adhesions[requestID]
	if !ok || req.Status != fromStatus {
		return false, nil
	}
	req.Status = toStatus
	req.ProcessedBy = processedBy
	req.Notes = notes
	now := time.Now().UTC()
	req.ProcessedAt = &now
	req.UpdatedAt = now
	return true, nil
}

func (r *memRepo) CreateMobileMoneyIntent(ctx context.Context, intent *domain.MobileMoneyIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *intent
	r.intents[intent.Token] = &copy
	return nil
}

func (r *memRepo) FindMobileMoneyIntentByToken(ctx context.Context, token uuid.UUID) (*domain.MobileMoneyIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[token]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	copy := *intent
	return &copy, nil
}

func (r *memRepo) CloseMobileMoneyIntent(ctx context.Context, token uuid.UUID, status string, closedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[token]
	if !ok || intent.Status != domain.MomoIntentPending {
		return false, nil
	}
	intent.Status = status
	at := closedAt
	intent.ClosedAt = &at
	return true, nil
}

func (r *memRepo) FindExpiredPendingIntents(ctx context.Context, now time.Time) ([]domain.MobileMoneyIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MobileMoneyIntent
	for _, intent := range r.intents {
		if intent.Status == domain.MomoIntentPending && !intent.ExpiresAt.After(now) {
			out = append(out, *intent)
		}
	}
	return out, nil
}

// entriesFor returns copies of an account's entries for assertions.
func (r *memRepo) entriesFor(accountID uuid.UUID) []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, *e)
		}
	}
	return out
}

// remoteStub implements RemoteGateway with overridable functions. Unset
// functions return benign defaults.
type remoteStub struct {
	initiateFn      func(ctx context.Context, req sfdclient.MomoInitiationRequest) (*sfdclient.MomoInitiationResponse, error)
	confirmFn       func(ctx context.Context, req sfdclient.MomoConfirmRequest) (*sfdclient.MomoConfirmResponse, error)
	validateTokenFn func(ctx context.Context, token string) (*sfdclient.CashierTokenResponse, error)
	cashierTxFn     func(ctx context.Context, req sfdclient.CashierTransactionRequest) (*sfdclient.TransactionResponse, error)
	directTxFn      func(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error)
	loanFn          func(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error)
	switchVerifyFn  func(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error)
	switchConfirmFn func(ctx context.Context, verificationID, code string) error
	balanceFn       func(ctx context.Context, institutionID, accountID uuid.UUID) (*sfdclient.InstitutionBalanceResponse, error)
}

func (s *remoteStub) InitiateMobileMoney(ctx context.Context, req sfdclient.MomoInitiationRequest) (*sfdclient.MomoInitiationResponse, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, req)
	}
	return &sfdclient.MomoInitiationResponse{}, nil
}

func (s *remoteStub) ConfirmMobileMoney(ctx context.Context, req sfdclient.MomoConfirmRequest) (*sfdclient.MomoConfirmResponse, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, req)
	}
	return &sfdclient.MomoConfirmResponse{ProviderTxnID: "prov-" + req.Token}, nil
}

func (s *remoteStub) ValidateCashierToken(ctx context.Context, token string) (*sfdclient.CashierTokenResponse, error) {
	if s.validateTokenFn != nil {
		return s.validateTokenFn(ctx, token)
	}
	return &sfdclient.CashierTokenResponse{SessionID: uuid.New(), Open: true, NextSequence: 1}, nil
}

func (s *remoteStub) PostCashierTransaction(ctx context.Context, req sfdclient.CashierTransactionRequest) (*sfdclient.TransactionResponse, error) {
	if s.cashierTxFn != nil {
		return s.cashierTxFn(ctx, req)
	}
	return &sfdclient.TransactionResponse{Reference: req.SessionID.String() + ":1", Status: "success"}, nil
}

func (s *remoteStub) PostDirectTransaction(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error) {
	if s.directTxFn != nil {
		return s.directTxFn(ctx, req)
	}
	return &sfdclient.TransactionResponse{Reference: "direct-" + uuid.NewString(), Status: "success"}, nil
}

func (s *remoteStub) ProcessLoanRepayment(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error) {
	if s.loanFn != nil {
		return s.loanFn(ctx, req)
	}
	return &sfdclient.TransactionResponse{Reference: "loan-" + uuid.NewString(), Status: "success"}, nil
}

func (s *remoteStub) RequestSwitchVerification(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error) {
	if s.switchVerifyFn != nil {
		return s.switchVerifyFn(ctx, req)
	}
	return &sfdclient.SwitchVerificationResponse{}, nil
}

func (s *remoteStub) ConfirmSwitchVerification(ctx context.Context, verificationID, code string) error {
	if s.switchConfirmFn != nil {
		return s.switchConfirmFn(ctx, verificationID, code)
	}
	return nil
}

func (s *remoteStub) FetchInstitutionBalance(ctx context.Context, institutionID, accountID uuid.UUID) (*sfdclient.InstitutionBalanceResponse, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, institutionID, accountID)
	}
	return &sfdclient.InstitutionBalanceResponse{AccountID: accountID, AsOf: time.Now().UTC()}, nil
}

func newTestService(repo *memRepo, remote RemoteGateway) *Service {
	if remote == nil {
		remote = &remoteStub{}
	}
	return NewService(repo, remote, nil, 5*time.Minute)
}

// seedSuccessEntry appends one successful deposit so the derived balance is
// non-zero without going through a channel.
func seedSuccessEntry(t *testing.T, svc *Service, accountID uuid.UUID, ref string, magnitude int64) {
	t.Helper()
	entry := &domain.LedgerEntry{
		AccountID:   accountID,
		Amount:      domain.SignedAmount(domain.EntryKindDeposit, magnitude),
		Kind:        domain.EntryKindDeposit,
		Channel:     domain.ChannelDirect,
		Status:      domain.EntryStatusSuccess,
		ExternalRef: ref,
	}
	if _, err := svc.AppendEntry(context.Background(), entry); err != nil {
		t.Fatalf("seed entry failed: %v", err)
	}
}

// seedAccount creates an institution, client and verified active account.
func seedAccount(repo *memRepo, balance int64) (*domain.Account, uuid.UUID) {
	userID := uuid.New()
	instID := uuid.New()
	repo.institutions[instID] = &domain.Institution{ID: instID, Name: "SFD Test", DefaultCurrency: "XOF"}
	clientID := uuid.New()
	repo.clients[clientID] = &domain.Client{
		ID: clientID, UserID: userID, InstitutionID: instID,
		FullName: "Awa Diallo", Phone: "+221770000000", Status: "active",
	}
	account := &domain.Account{
		ID: uuid.New(), ClientID: clientID, InstitutionID: instID,
		Balance: balance, Currency: "XOF", Verified: true, Active: true,
		UpdatedAt: time.Now().UTC(),
	}
	repo.accounts[account.ID] = account
	return account, userID
}
