package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/config"
)

const cronJobTimeout = 4 * time.Minute

// TokenPurger drops expired revocation entries. Redis expires its own.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type cronJob struct {
	name string
	spec string
	run  func()
}

// CronService manages scheduled background jobs
type CronService struct {
	cron           *cron.Cron
	cfg            config.CronConfig
	reconciliation *ReconciliationService
	orchestrator   *BookingOrchestratorService
	accounts       AccountStore
	tokens         TokenPurger
	batchSize      int
	logger         *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(
	cfg config.CronConfig,
	reconciliation *ReconciliationService,
	orchestrator *BookingOrchestratorService,
	accounts AccountStore,
	tokens TokenPurger,
	batchSize int,
	logger *logrus.Logger,
) *CronService {
	// Seconds precision, and a job still running skips its next tick
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &CronService{
		cron:           c,
		cfg:            cfg,
		reconciliation: reconciliation,
		orchestrator:   orchestrator,
		accounts:       accounts,
		tokens:         tokens,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	jobs := []cronJob{
		{"reconciliation sweep", s.cfg.ReconciliationSpec, s.reconciliationJob},
		{"ticketing sync", s.cfg.TicketingSyncSpec, s.ticketingSyncJob},
		{"usage reset", s.cfg.UsageResetSpec, s.usageResetJob},
		{"subscription expiry", s.cfg.SubscriptionExpirySpec, s.subscriptionExpiryJob},
	}
	if s.tokens != nil {
		jobs = append(jobs, cronJob{"revoked token purge", s.cfg.TokenPurgeSpec, s.tokenPurgeJob})
	}

	for _, job := range jobs {
		if job.spec == "" {
			s.logger.WithField("job", job.name).Info("Cron job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("Scheduled cron job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cronJobTimeout)
}

// reconciliationJob runs one reconciliation sweep
func (s *CronService) reconciliationJob() {
	ctx, cancel := s.jobContext()
	defer cancel()

	start := time.Now()
	report, err := s.reconciliation.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Reconciliation sweep failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"duration": time.Since(start).String(),
		"resolved": report.RefundsResolved,
		"released": report.StaleFeeReleased,
		"expired":  report.Expired,
	}).Debug("[CRON] Reconciliation sweep done")
}

// ticketingSyncJob completes bookings the GDS has ticketed
func (s *CronService) ticketingSyncJob() {
	ctx, cancel := s.jobContext()
	defer cancel()

	completed, err := s.orchestrator.SyncTicketing(ctx, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Ticketing sync failed")
		return
	}
	if completed > 0 {
		s.logger.WithField("completed", completed).Info("[CRON] Ticketing sync completed bookings")
	}
}

// usageResetJob starts a new subscription usage period
func (s *CronService) usageResetJob() {
	ctx, cancel := s.jobContext()
	defer cancel()

	n, err := s.accounts.ResetPeriodUsage(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Usage reset failed")
		return
	}
	s.logger.WithField("accounts", n).Info("[CRON] Subscription usage reset")
}

// subscriptionExpiryJob downgrades lapsed subscriptions
func (s *CronService) subscriptionExpiryJob() {
	ctx, cancel := s.jobContext()
	defer cancel()

	n, err := s.accounts.ExpireSubscriptions(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Subscription expiry failed")
		return
	}
	if n > 0 {
		s.logger.WithField("accounts", n).Info("[CRON] Expired subscriptions")
	}
}

// tokenPurgeJob deletes revocation entries of tokens that expired anyway
func (s *CronService) tokenPurgeJob() {
	ctx, cancel := s.jobContext()
	defer cancel()

	n, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Revoked token purge failed")
		return
	}
	s.logger.WithField("purged", n).Debug("[CRON] Revoked tokens purged")
}

// RunReconciliationNow runs the reconciliation sweep immediately
func (s *CronService) RunReconciliationNow(ctx context.Context) (SweepReport, error) {
	s.logger.Info("[MANUAL] Running reconciliation sweep now...")
	return s.reconciliation.RunOnce(ctx)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
