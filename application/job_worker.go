package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// JobHandler runs one claimed job. A returned error schedules a retry.
type JobHandler func(ctx context.Context, job *entities.Job) error

// JobObserver is told how each job attempt ended
type JobObserver interface {
	RecordJob(jobType string, status string)
}

// Job attempt statuses reported to the observer
const (
	JobStatusCompleted = "completed"
	JobStatusRetried   = "retried"
	JobStatusParked    = "parked"
)

// ParkDuration pushes a job that keeps failing out of the way until an operator
// requeues it
const ParkDuration = 100 * 365 * 24 * time.Hour

// JobWorkerConfig holds the job queue tuning
type JobWorkerConfig struct {
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// JobWorker runs durable scheduled jobs
type JobWorker struct {
	uowFactory interfaces.UnitOfWorkFactory
	config     JobWorkerConfig
	handlers   map[entities.JobType]JobHandler
	observer   JobObserver
	now        func() time.Time
}

// NewJobWorker creates a new job worker
func NewJobWorker(uowFactory interfaces.UnitOfWorkFactory, config JobWorkerConfig) *JobWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Lease <= 0 {
		config.Lease = time.Minute
	}
	return &JobWorker{
		uowFactory: uowFactory,
		config:     config,
		handlers:   make(map[entities.JobType]JobHandler),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, mainly for tests
func (w *JobWorker) WithClock(now func() time.Time) *JobWorker {
	w.now = now
	return w
}

// WithObserver attaches a job outcome observer
func (w *JobWorker) WithObserver(observer JobObserver) *JobWorker {
	w.observer = observer
	return w
}

// Register installs the handler for a job type
func (w *JobWorker) Register(jobType entities.JobType, handler JobHandler) {
	w.handlers[jobType] = handler
}

// Start begins the job worker and returns a function that stops it. The stop
// function returns once any batch in progress has finished, so the database may
// be closed right after it.
func (w *JobWorker) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)
		log.Info("Job worker started")

		for {
			select {
			case <-stopChan:
				log.Info("Job worker shutting down (stop requested)...")
				return
			default:
			}

			processed, err := w.ProcessDue(ctx)
			if err != nil {
				log.Errorf("Error processing due jobs: %v", err)
			}

			// a full batch means more may be waiting
			if err == nil && processed == w.config.BatchSize {
				continue
			}

			wait := w.config.PollInterval
			if next := w.nextRunAt(ctx); next != nil {
				if until := next.Sub(w.now()); until < wait {
					wait = until
				}
			}
			if wait < 0 {
				wait = 0
			}

			select {
			case <-ctx.Done():
				log.Info("Job worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Job worker shutting down (stop requested)...")
				return
			case <-time.After(wait):
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChan) })
		<-doneChan
	}
}

// ProcessDue claims and runs every job that is due, returning how many were claimed
func (w *JobWorker) ProcessDue(ctx context.Context) (int, error) {
	now := w.now()

	uow := w.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	jobs, err := uow.JobRepository().ClaimDue(ctx, now, w.config.Lease, w.config.BatchSize)
	if err != nil {
		uow.Rollback()
		return 0, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit job claim: %w", err)
	}

	for _, job := range jobs {
		w.run(ctx, job)
	}
	return len(jobs), nil
}

func (w *JobWorker) run(ctx context.Context, job *entities.Job) {
	fields := log.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempts": job.Attempts,
	}

	handler, ok := w.handlers[job.Type]
	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for job type %s", job.Type)
	} else {
		err = w.safeHandle(ctx, handler, job)
	}

	status, finishErr := w.finish(ctx, job, err, !ok)
	w.record(job, status)
	if finishErr != nil {
		log.WithFields(fields).Errorf("Failed to finish job: %v", finishErr)
		return
	}

	switch status {
	case JobStatusCompleted:
		log.WithFields(fields).Debug("Job completed")
	case JobStatusRetried:
		log.WithFields(fields).Warnf("Job failed, will retry: %v", err)
	case JobStatusParked:
		log.WithFields(fields).Errorf("Job parked after repeated failures: %v", err)
	}
}

func (w *JobWorker) safeHandle(ctx context.Context, handler JobHandler, job *entities.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// finish removes a successful job or reschedules a failed one with exponential backoff
func (w *JobWorker) finish(ctx context.Context, job *entities.Job, jobErr error, permanent bool) (string, error) {
	uow := w.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	status := JobStatusCompleted
	if jobErr == nil {
		if err := uow.JobRepository().Complete(ctx, job.ID); err != nil {
			return "", fmt.Errorf("failed to complete job: %w", err)
		}
	} else {
		now := w.now()
		attempts := job.Attempts + 1
		runAt := now.Add(w.backoff(attempts))
		status = JobStatusRetried
		if permanent || attempts >= w.config.MaxAttempts {
			runAt = now.Add(ParkDuration)
			status = JobStatusParked
		}
		if err := uow.JobRepository().Retry(ctx, job.ID, runAt, jobErr.Error()); err != nil {
			return "", fmt.Errorf("failed to reschedule job: %w", err)
		}
	}

	if err := uow.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return status, nil
}

func (w *JobWorker) backoff(attempts int) time.Duration {
	d := w.config.RetryBackoff
	if d <= 0 {
		d = 10 * time.Second
	}
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

func (w *JobWorker) nextRunAt(ctx context.Context) *time.Time {
	uow := w.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		log.Errorf("Failed to begin transaction for next job time: %v", err)
		return nil
	}
	defer uow.Rollback()

	next, err := uow.JobRepository().NextRunAt(ctx)
	if err != nil {
		log.Errorf("Failed to get next job time: %v", err)
		return nil
	}
	return next
}

func (w *JobWorker) record(job *entities.Job, status string) {
	if w.observer != nil && status != "" {
		w.observer.RecordJob(string(job.Type), status)
	}
}
