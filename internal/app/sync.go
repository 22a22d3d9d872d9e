/**
 * @description
 * Synchronization of cached balances against the institutions' own books.
 * A run walks a client's accounts, pulls the authoritative balance each
 * institution reports, reconciles the cache from the ledger, and flags the
 * accounts where the institution's figure disagrees with the ledger-derived
 * one. Runs happen on a cron schedule and on manual trigger; a busy flag
 * makes overlapping triggers no-ops rather than queueing.
 */

package app

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sfdconnect/portal-service/internal/domain"
)

// RunSync synchronizes every account of the given client. Only one run may be
// in progress at a time across the process; a trigger while one is running
// returns ErrSyncInProgress without doing any work.
func (s *Service) RunSync(ctx context.Context, userID uuid.UUID) (*domain.SyncReport, error) {
	if !s.syncBusy.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.syncBusy.Unlock()

	accounts, err := s.repo.FindAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &domain.SyncReport{StartedAt: time.Now().UTC()}
	for i := range accounts {
		report.Accounts = append(report.Accounts, s.syncAccount(ctx, &accounts[i]))
		if ctx.Err() != nil {
			break
		}
	}
	report.FinishedAt = time.Now().UTC()
	log.Printf("level=info component=sync msg=\"run finished\" user_id=%s accounts=%d", userID, len(report.Accounts))
	return report, nil
}

// syncAccount pulls the institution's authoritative balance for one account
// and reconciles the cache. The institution disagreeing with the ledger is
// reported as stale, not silently overwritten: the ledger stays authoritative
// for the cache, the discrepancy surfaces for an operator.
func (s *Service) syncAccount(ctx context.Context, account *domain.Account) domain.SyncAccountResult {
	result := domain.SyncAccountResult{AccountID: account.ID}

	remote, err := s.remote.FetchInstitutionBalance(ctx, account.InstitutionID, account.ID)
	if err != nil {
		log.Printf("level=warn component=sync msg=\"institution balance fetch failed\" account_id=%s err=%v", account.ID, err)
		result.Outcome = domain.SyncOutcomeFailed
		result.Error = err.Error()
		return result
	}

	rec, err := s.Reconcile(ctx, account.ID)
	if err != nil {
		result.Outcome = domain.SyncOutcomeFailed
		result.Error = err.Error()
		return result
	}
	result.Corrected = rec.Corrected

	if remote.Balance != rec.DerivedBalance {
		log.Printf("level=warn component=sync msg=\"institution balance disagrees with ledger\" account_id=%s institution=%d ledger=%d as_of=%s",
			account.ID, remote.Balance, rec.DerivedBalance, remote.AsOf.Format(time.RFC3339))
		result.Outcome = domain.SyncOutcomeStale
		return result
	}
	result.Outcome = domain.SyncOutcomeOK
	return result
}

// syncStaleAccounts is the scheduled sweep over accounts nobody touched
// recently. It shares the busy flag with manual runs.
func (s *Service) syncStaleAccounts(ctx context.Context, staleAfter time.Duration, limit int) {
	if !s.syncBusy.TryLock() {
		return
	}
	defer s.syncBusy.Unlock()

	cutoff := time.Now().UTC().Add(-staleAfter)
	accounts, err := s.repo.FindAccountsUpdatedBefore(ctx, cutoff, limit)
	if err != nil {
		log.Printf("level=warn component=sync msg=\"stale account listing failed\" err=%v", err)
		return
	}
	for i := range accounts {
		s.syncAccount(ctx, &accounts[i])
		if ctx.Err() != nil {
			return
		}
	}
}

// Scheduler manages the cron jobs around the service: the periodic stale
// account sweep and the mobile money intent expiry sweep.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger

	syncSchedule   string
	expirySchedule string
	staleAfter     time.Duration
	batchSize      int
}

// NewScheduler creates a scheduler around the service.
func NewScheduler(svc *Service, logger *slog.Logger, syncSchedule, expirySchedule string, staleAfter time.Duration, batchSize int) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:           c,
		svc:            svc,
		logger:         logger,
		syncSchedule:   syncSchedule,
		expirySchedule: expirySchedule,
		staleAfter:     staleAfter,
		batchSize:      batchSize,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.syncSchedule, s.runStaleSync); err != nil {
		s.logger.Error("failed to schedule balance sync job", "error", err)
	} else {
		s.logger.Info("scheduled balance sync job", "schedule", s.syncSchedule)
	}

	if _, err := s.cron.AddFunc(s.expirySchedule, s.runIntentExpiry); err != nil {
		s.logger.Error("failed to schedule intent expiry job", "error", err)
	} else {
		s.logger.Info("scheduled intent expiry job", "schedule", s.expirySchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler. The returned context is done when
// all running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runStaleSync() {
	s.logger.Info("starting stale account sync job")
	s.svc.syncStaleAccounts(context.Background(), s.staleAfter, s.batchSize)
	s.logger.Info("stale account sync job finished")
}

func (s *Scheduler) runIntentExpiry() {
	s.logger.Info("starting mobile money intent expiry job")
	expired, err := s.svc.ExpirePendingIntents(context.Background())
	if err != nil {
		s.logger.Error("intent expiry job failed", "error", err)
		return
	}
	s.logger.Info("mobile money intent expiry job finished", "expired", expired)
}
