package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// SweepPartitions is the order the sweeper walks the account namespace.
// "#" holds every name that does not start with a letter.
var SweepPartitions = []string{
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z", "#",
}

// SweepObserver is told what each partition sweep found
type SweepObserver interface {
	RecordSweep(partition string, report *SweepReport)
}

// SweepReport summarizes one partition sweep
type SweepReport struct {
	Partition string
	Scanned   int
	Prunable  []string
	Removed   []string
	Skipped   []string // prunable but holding gems in transit
	Errors    int
}

// IdleAccountSweeperConfig holds the sweeper settings
type IdleAccountSweeperConfig struct {
	Interval      time.Duration
	DeleteEnabled bool // off by default: prunable accounts are only reported
	Actor         string

	// PrunableRanks lists ranks whose accounts are pruned even though the
	// player still exists (guest characters, for instance). Empty means only
	// vanished players are pruned.
	PrunableRanks []string
}

// IdleAccountSweeper walks one partition per tick looking for accounts whose
// players no longer exist or hold a prunable rank
type IdleAccountSweeper struct {
	uowFactory interfaces.UnitOfWorkFactory
	store      *AccountStore
	directory  interfaces.PlayerDirectory
	config     IdleAccountSweeperConfig
	observer   SweepObserver

	mu     sync.Mutex
	cursor int
}

// NewIdleAccountSweeper creates a new sweeper
func NewIdleAccountSweeper(uowFactory interfaces.UnitOfWorkFactory, store *AccountStore, directory interfaces.PlayerDirectory, config IdleAccountSweeperConfig) *IdleAccountSweeper {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.Actor == "" {
		config.Actor = "idle-sweeper"
	}
	ranks := make([]string, 0, len(config.PrunableRanks))
	for _, rank := range config.PrunableRanks {
		if rank = strings.ToLower(strings.TrimSpace(rank)); rank != "" {
			ranks = append(ranks, rank)
		}
	}
	config.PrunableRanks = ranks
	return &IdleAccountSweeper{
		uowFactory: uowFactory,
		store:      store,
		directory:  directory,
		config:     config,
	}
}

// WithObserver attaches a sweep observer
func (s *IdleAccountSweeper) WithObserver(observer SweepObserver) *IdleAccountSweeper {
	s.observer = observer
	return s
}

// Start sweeps one partition per interval and returns a function that stops the
// sweeper once any sweep in progress has finished
func (s *IdleAccountSweeper) Start(ctx context.Context) func() {
	ticker := time.NewTicker(s.config.Interval)
	stopChan := make(chan struct{})
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)
		log.WithFields(log.Fields{
			"interval":       s.config.Interval,
			"delete_enabled": s.config.DeleteEnabled,
		}).Info("Idle account sweeper started")

		for {
			select {
			case <-ctx.Done():
				log.Info("Idle account sweeper shutting down (context cancelled)...")
				ticker.Stop()
				return
			case <-stopChan:
				log.Info("Idle account sweeper shutting down (stop requested)...")
				ticker.Stop()
				return
			case <-ticker.C:
				if _, err := s.SweepNext(ctx); err != nil {
					log.Errorf("Error sweeping idle accounts: %v", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChan) })
		<-doneChan
	}
}

// SweepNext sweeps the partition under the cursor and advances it
func (s *IdleAccountSweeper) SweepNext(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	partition := SweepPartitions[s.cursor]
	s.cursor = (s.cursor + 1) % len(SweepPartitions)
	s.mu.Unlock()

	return s.SweepPartition(ctx, partition)
}

// SweepAll sweeps every partition once, for the admin command
func (s *IdleAccountSweeper) SweepAll(ctx context.Context) ([]*SweepReport, error) {
	var reports []*SweepReport
	for _, partition := range SweepPartitions {
		report, err := s.SweepPartition(ctx, partition)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// SweepPartition checks every account in one partition. A failure on one
// account is logged and counted and never stops the rest.
func (s *IdleAccountSweeper) SweepPartition(ctx context.Context, partition string) (*SweepReport, error) {
	names, err := s.listNames(ctx, partition)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Partition: partition, Scanned: len(names)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.sweepAccount(ctx, name, report)
	}

	log.WithFields(log.Fields{
		"partition":      partition,
		"scanned":        report.Scanned,
		"prunable":       len(report.Prunable),
		"removed":        len(report.Removed),
		"skipped":        len(report.Skipped),
		"errors":         report.Errors,
		"delete_enabled": s.config.DeleteEnabled,
	}).Info("Swept account partition")

	if s.observer != nil {
		s.observer.RecordSweep(partition, report)
	}
	return report, nil
}

func (s *IdleAccountSweeper) sweepAccount(ctx context.Context, name string, report *SweepReport) {
	fields := log.Fields{"account": name, "partition": report.Partition}

	info, err := s.directory.Lookup(ctx, name)
	if err == nil && info == nil {
		err = errors.New("directory returned no answer")
	}
	if err != nil {
		report.Errors++
		log.WithFields(fields).Warnf("Player lookup failed: %v", err)
		return
	}
	if !s.prunable(info) {
		return
	}
	if info.Exists {
		fields["rank"] = info.Rank
	}

	hasPending, err := s.hasPendingTransfers(ctx, name)
	if err != nil {
		report.Errors++
		log.WithFields(fields).Warnf("Pending transfer check failed: %v", err)
		return
	}
	if hasPending {
		report.Skipped = append(report.Skipped, name)
		log.WithFields(fields).Info("Account is prunable but has gems in transit, keeping it")
		return
	}

	report.Prunable = append(report.Prunable, name)
	if !s.config.DeleteEnabled {
		log.WithFields(fields).Info("Account is prunable (dry run)")
		return
	}

	// the pending check is repeated under the account lock
	_, err = s.store.Remove(ctx, name, s.config.Actor, false)
	switch {
	case err == nil:
		report.Removed = append(report.Removed, name)
	case errors.Is(err, ErrPendingTransfers):
		report.Skipped = append(report.Skipped, name)
	case errors.Is(err, entities.ErrNotFound):
		// removed by someone else since the listing
	default:
		report.Errors++
		log.WithFields(fields).Errorf("Failed to remove prunable account: %v", err)
	}
}

// prunable reports whether the player behind an account is gone or holds a
// rank whose accounts are not kept
func (s *IdleAccountSweeper) prunable(info *interfaces.PlayerInfo) bool {
	if !info.Exists {
		return true
	}
	return slices.Contains(s.config.PrunableRanks, strings.ToLower(strings.TrimSpace(info.Rank)))
}

func (s *IdleAccountSweeper) listNames(ctx context.Context, partition string) ([]string, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	names, err := uow.AccountRepository().ListNamesInPartition(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts in partition %s: %w", partition, err)
	}
	return names, nil
}

func (s *IdleAccountSweeper) hasPendingTransfers(ctx context.Context, name string) (bool, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	pending, err := uow.PendingTransferRepository().GetByOwner(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to get pending transfers: %w", err)
	}
	return len(pending) > 0, nil
}
