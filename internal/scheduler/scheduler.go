package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/clock"
	notificationservice "github.com/smallbiznis/ticketpay/internal/notification/service"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireAttempts        = "expire_attempts"
	JobPollCrypto            = "poll_crypto"
	JobReapSessions          = "reap_sessions"
	JobDispatchNotifications = "dispatch_notifications"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// PaymentSweeper is the part of the payment selector the scheduler drives.
type PaymentSweeper interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	PollPending(ctx context.Context, limit int) (int, error)
}

type SessionReaper interface {
	ReapExpired(ctx context.Context, limit int) (int64, error)
}

type OutboxDispatcher interface {
	DispatchPending(ctx context.Context, limit int) (int, error)
}

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Payments      paymentdomain.Selector
	Registrations registrationdomain.Service
	Dispatcher    *notificationservice.Dispatcher
	Locker        ratelimit.Locker `optional:"true"`
	Config        Config           `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	payments   PaymentSweeper
	sessions   SessionReaper
	dispatcher OutboxDispatcher
	locker     ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Payments == nil || p.Registrations == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		payments:   p.Payments,
		sessions:   p.Registrations,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	release, ok := s.acquire(ctx, name, timeout)
	if !ok {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Debug("job skipped, lock held elsewhere", zap.String("job", name))
		return nil
	}
	defer release()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the cluster wide job lock when a locker is configured.
// Lock backend failures do not block the job.
func (s *Scheduler) acquire(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := "ticketpay:scheduler:" + job
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable", zap.String("job", job), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireAttempts, s.ExpireAttemptsJob},
		{JobPollCrypto, s.PollCryptoJob},
		{JobReapSessions, s.ReapSessionsJob},
		{JobDispatchNotifications, s.DispatchNotificationsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireAttemptsJob moves overdue attempts to expired through the
// reconciliation engine until a short batch signals the backlog is empty.
func (s *Scheduler) ExpireAttemptsJob(ctx context.Context) error {
	return s.drain(ctx, JobExpireAttempts, "payment_attempt", func(ctx context.Context, limit int) (int, error) {
		return s.payments.ExpireOverdue(ctx, limit)
	})
}

// PollCryptoJob takes a single batch per tick. Polled attempts are throttled
// by their last poll time so draining would only spin on the same rows.
func (s *Scheduler) PollCryptoJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	processed, err := s.payments.PollPending(ctx, s.cfg.BatchSize)
	s.recordBatch(run, JobPollCrypto, "payment_attempt", processed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.poll.failed", JobPollCrypto, err)
	}
	return err
}

func (s *Scheduler) ReapSessionsJob(ctx context.Context) error {
	return s.drain(ctx, JobReapSessions, "registration_session", func(ctx context.Context, limit int) (int, error) {
		n, err := s.sessions.ReapExpired(ctx, limit)
		return int(n), err
	})
}

func (s *Scheduler) DispatchNotificationsJob(ctx context.Context) error {
	return s.drain(ctx, JobDispatchNotifications, "order_notification", s.dispatcher.DispatchPending)
}

func (s *Scheduler) drain(ctx context.Context, job, resource string, batch func(context.Context, int) (int, error)) error {
	run := jobRunFromContext(ctx)
	var jobErr error

	for i := 0; i < s.cfg.MaxBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		processed, err := batch(ctx, s.cfg.BatchSize)
		s.recordBatch(run, job, resource, processed)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.batch.failed", job, err,
				zap.String("resource", resource),
			)
			break
		}
		if processed < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) recordBatch(run *jobRun, job, resource string, processed int) {
	if processed <= 0 {
		return
	}
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(job, resource, processed)
}
