package observability

// Metric name prefixes
const (
	MetricPrefix = "coffers"
)

// Metric names
const (
	// Ledger metrics
	LedgerChangesTotal = MetricPrefix + ".ledger.changes_total"
	FeeDefaultsTotal   = MetricPrefix + ".fees.defaults_total"
	FeeValueLostTotal  = MetricPrefix + ".fees.value_lost_total"

	// Transfer metrics
	TransfersStartedTotal  = MetricPrefix + ".transfers.started_total"
	TransfersFinishedTotal = MetricPrefix + ".transfers.finished_total"
	TransfersInFlight      = MetricPrefix + ".transfers.in_flight"

	// Job queue metrics
	JobAttemptsTotal = MetricPrefix + ".jobs.attempts_total"

	// Sweeper metrics
	SweeperAccountsScannedTotal = MetricPrefix + ".sweeper.accounts_scanned_total"
	SweeperAccountsPrunedTotal  = MetricPrefix + ".sweeper.accounts_pruned_total"
	SweeperErrorsTotal          = MetricPrefix + ".sweeper.errors_total"

	// Account metrics
	AccountsRemovedTotal = MetricPrefix + ".accounts.removed_total"

	// Notification metrics
	NotificationsTotal = MetricPrefix + ".notifications.total"
)

// Label keys
const (
	LabelAction    = "action"
	LabelOutcome   = "outcome"
	LabelJobType   = "job_type"
	LabelStatus    = "status"
	LabelPartition = "partition"
	LabelActor     = "actor"
	LabelNotifier  = "notifier"
)

// TransferOutcomeCompleted labels a delivered transfer; failures carry their reason
const TransferOutcomeCompleted = "completed"

// Sweeper pruning outcomes
const (
	PruneOutcomeReported = "reported"
	PruneOutcomeRemoved  = "removed"
	PruneOutcomeSkipped  = "skipped"
)

// Notification results
const (
	NotificationResultSent   = "sent"
	NotificationResultFailed = "failed"
)
