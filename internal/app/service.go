/**
 * @description
 * This file contains the core application service for the portal. The
 * `Service` struct owns the ledger, the balance reconciler, the three money
 * movement channels, adhesion provisioning, institution switching, and
 * synchronization, coordinating between the database repository, the hosted
 * SFD functions client, and the message broker.
 *
 * @dependencies
 * - context, errors, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/sfdclient: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
	"github.com/sfdconnect/portal-service/pkg/rabbitmq"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// Validation and business-rule errors surfaced synchronously to the caller.
var (
	ErrInvalidAmount         = errors.New("amount must be a positive integer in minor currency units")
	ErrInvalidKind           = errors.New("unknown entry kind")
	ErrInvalidDirection      = errors.New("direction must be deposit or withdrawal")
	ErrAccountNotVerified    = errors.New("account is not verified")
	ErrAccountInactive       = errors.New("account is deactivated")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidPhoneNumber    = errors.New("invalid phone number")
	ErrInvalidProvider       = errors.New("unknown mobile money provider")
	ErrInvalidOrExpiredToken = errors.New("cashier token is invalid or expired")
	ErrSwitchInProgress      = errors.New("an institution switch is already in flight")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrConfirmationTimeout   = errors.New("confirmation window elapsed; operation marked failed")
	ErrAlreadyDecided        = errors.New("adhesion request already decided")
	ErrNotApproved           = errors.New("adhesion request is not approved")
	ErrSyncInProgress        = errors.New("a synchronization run is already in progress")
)

// RemoteGateway is the slice of the hosted SFD functions the core calls.
// *sfdclient.Client satisfies it; tests substitute stubs.
type RemoteGateway interface {
	InitiateMobileMoney(ctx context.Context, req sfdclient.MomoInitiationRequest) (*sfdclient.MomoInitiationResponse, error)
	ConfirmMobileMoney(ctx context.Context, req sfdclient.MomoConfirmRequest) (*sfdclient.MomoConfirmResponse, error)
	ValidateCashierToken(ctx context.Context, token string) (*sfdclient.CashierTokenResponse, error)
	PostCashierTransaction(ctx context.Context, req sfdclient.CashierTransactionRequest) (*sfdclient.TransactionResponse, error)
	PostDirectTransaction(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error)
	ProcessLoanRepayment(ctx context.Context, req sfdclient.DirectTransactionRequest) (*sfdclient.TransactionResponse, error)
	RequestSwitchVerification(ctx context.Context, req sfdclient.SwitchVerificationRequest) (*sfdclient.SwitchVerificationResponse, error)
	ConfirmSwitchVerification(ctx context.Context, verificationID, code string) error
	FetchInstitutionBalance(ctx context.Context, institutionID, accountID uuid.UUID) (*sfdclient.InstitutionBalanceResponse, error)
}

// Service provides the core business logic for the portal.
type Service struct {
	repo          store.Repository
	remote        RemoteGateway
	eventProducer rabbitmq.Publisher
	activeCache   *ActiveInstitutionCache
	scanLimiter   *RedisScanRateLimiter

	momoWindow time.Duration

	// Per-account critical sections for reconciliation. The map only grows;
	// accounts number in the thousands, not millions, per deployment.
	lockMu       sync.Mutex
	accountLocks map[uuid.UUID]*sync.Mutex

	// In-flight institution switches, one slot per user.
	switchMu sync.Mutex
	switches map[uuid.UUID]*switchState

	syncBusy sync.Mutex
}

// NewService creates a new portal service instance.
func NewService(repo store.Repository, remote RemoteGateway, producer rabbitmq.Publisher, momoWindow time.Duration) *Service {
	if momoWindow <= 0 {
		momoWindow = 5 * time.Minute
	}
	return &Service{
		repo:          repo,
		remote:        remote,
		eventProducer: producer,
		momoWindow:    momoWindow,
		accountLocks:  make(map[uuid.UUID]*sync.Mutex),
		switches:      make(map[uuid.UUID]*switchState),
	}
}

// SetActiveInstitutionCache wires the optional Redis-backed cache of each
// user's active institution. The service works without it.
func (s *Service) SetActiveInstitutionCache(cache *ActiveInstitutionCache) {
	s.activeCache = cache
}

// SetScanRateLimiter wires the optional Redis-backed QR scan rate limiter.
func (s *Service) SetScanRateLimiter(limiter *RedisScanRateLimiter) {
	s.scanLimiter = limiter
}

func (s *Service) accountLock(accountID uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.accountLocks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		s.accountLocks[accountID] = mu
	}
	return mu
}

// publish sends an event if a producer is wired; events are advisory so a
// publish failure is logged and swallowed.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) publishEntryEvent(ctx context.Context, entry *domain.LedgerEntry) {
	s.publish(ctx, "transaction.status."+entry.Status, domain.TransactionStatusEvent{
		EntryID:     entry.ID,
		AccountID:   entry.AccountID,
		Channel:     entry.Channel,
		Status:      entry.Status,
		Amount:      entry.Amount,
		ExternalRef: entry.ExternalRef,
		Timestamp:   time.Now().UTC(),
	})
}
