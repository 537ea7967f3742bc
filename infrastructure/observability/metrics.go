package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coffers/application"
	"coffers/config"
	"coffers/domain/interfaces"
	"coffers/events"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// MetricsProvider manages OpenTelemetry metrics for the ledger service
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	mu            sync.RWMutex

	// Metric instruments
	ledgerChangesCounter     metric.Int64Counter
	feeDefaultsCounter       metric.Int64Counter
	feeValueLostCounter      metric.Int64Counter
	transfersStartedCounter  metric.Int64Counter
	transfersFinishedCounter metric.Int64Counter
	transfersInFlightGauge   metric.Int64UpDownCounter
	jobAttemptsCounter       metric.Int64Counter
	sweeperScannedCounter    metric.Int64Counter
	sweeperPrunedCounter     metric.Int64Counter
	sweeperErrorsCounter     metric.Int64Counter
	accountsRemovedCounter   metric.Int64Counter
	notificationsCounter     metric.Int64Counter
}

// Compile-time checks that the provider can observe the workers
var (
	_ application.JobObserver   = (*MetricsProvider)(nil)
	_ application.SweepObserver = (*MetricsProvider)(nil)
)

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	var reader sdkmetric.Reader
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		reader = mp.periodicReader(exporter)
		log.Info("Using console metric exporter")

	case "otlp":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err := otlpmetricgrpc.New(dialCtx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		reader = mp.periodicReader(exporter)
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	if err := mp.initializeWithReader(reader); err != nil {
		return err
	}
	otel.SetMeterProvider(mp.meterProvider)

	log.Info("Metrics provider initialized successfully")
	return nil
}

func (mp *MetricsProvider) periodicReader(exporter sdkmetric.Exporter) sdkmetric.Reader {
	return sdkmetric.NewPeriodicReader(
		exporter,
		sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
	)
}

// initializeWithReader builds the meter provider around reader. Callers hold mp.mu.
func (mp *MetricsProvider) initializeWithReader(reader sdkmetric.Reader) error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	mp.meter = mp.meterProvider.Meter("coffers")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	return nil
}

// createInstruments creates all metric instruments
func (mp *MetricsProvider) createInstruments() error {
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&mp.ledgerChangesCounter, LedgerChangesTotal, "Total number of committed ledger changes", "1"},
		{&mp.feeDefaultsCounter, FeeDefaultsTotal, "Total number of accounts zeroed for unpaid fees", "1"},
		{&mp.feeValueLostCounter, FeeValueLostTotal, "Total coin value forfeited to fee defaults", "cc"},
		{&mp.transfersStartedCounter, TransfersStartedTotal, "Total number of gem transfers started", "1"},
		{&mp.transfersFinishedCounter, TransfersFinishedTotal, "Total number of gem transfers resolved", "1"},
		{&mp.jobAttemptsCounter, JobAttemptsTotal, "Total number of durable job attempts", "1"},
		{&mp.sweeperScannedCounter, SweeperAccountsScannedTotal, "Total number of accounts inspected by the idle sweeper", "1"},
		{&mp.sweeperPrunedCounter, SweeperAccountsPrunedTotal, "Total number of prunable accounts found by the idle sweeper", "1"},
		{&mp.sweeperErrorsCounter, SweeperErrorsTotal, "Total number of idle sweeper lookup or removal errors", "1"},
		{&mp.accountsRemovedCounter, AccountsRemovedTotal, "Total number of removed accounts", "1"},
		{&mp.notificationsCounter, NotificationsTotal, "Total number of player notifications attempted", "1"},
	}

	for _, c := range counters {
		counter, err := mp.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	// UpDownCounter for gauge-like behavior
	mp.transfersInFlightGauge, err = mp.meter.Int64UpDownCounter(
		TransfersInFlight,
		metric.WithDescription("Gem transfers started by this process and not yet resolved"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers in flight gauge: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordJob records how a durable job attempt ended
func (mp *MetricsProvider) RecordJob(jobType string, status string) {
	if !mp.isEnabled() {
		return
	}

	mp.jobAttemptsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelJobType, jobType),
			attribute.String(LabelStatus, status),
		),
	)
}

// RecordSweep records the result of one idle sweeper partition pass
func (mp *MetricsProvider) RecordSweep(partition string, report *application.SweepReport) {
	if !mp.isEnabled() || report == nil {
		return
	}

	ctx := context.Background()
	partitionAttr := attribute.String(LabelPartition, partition)

	mp.sweeperScannedCounter.Add(ctx, int64(report.Scanned), metric.WithAttributes(partitionAttr))
	if report.Errors > 0 {
		mp.sweeperErrorsCounter.Add(ctx, int64(report.Errors), metric.WithAttributes(partitionAttr))
	}

	outcomes := map[string]int{
		PruneOutcomeRemoved: len(report.Removed),
		PruneOutcomeSkipped: len(report.Skipped),
		// prunable accounts neither removed nor skipped were only reported
		PruneOutcomeReported: len(report.Prunable) - len(report.Removed) - len(report.Skipped),
	}
	for outcome, n := range outcomes {
		if n <= 0 {
			continue
		}
		mp.sweeperPrunedCounter.Add(ctx, int64(n),
			metric.WithAttributes(partitionAttr, attribute.String(LabelOutcome, outcome)),
		)
	}
}

// RecordNotification records one notification attempt
func (mp *MetricsProvider) RecordNotification(notifier string, err error) {
	if !mp.isEnabled() {
		return
	}

	result := NotificationResultSent
	if err != nil {
		result = NotificationResultFailed
	}
	mp.notificationsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelNotifier, notifier),
			attribute.String(LabelStatus, result),
		),
	)
}

// RegisterEventSubscriptions feeds committed ledger events into the metric instruments
func (mp *MetricsProvider) RegisterEventSubscriptions(bus *events.Bus) {
	bus.Subscribe(events.EventTypeLedgerChange, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.LedgerChangeEvent)
		if !ok || !mp.isEnabled() {
			return
		}
		mp.ledgerChangesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(LabelAction, e.Action)))
	})

	bus.Subscribe(events.EventTypeFeeDefaulted, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.FeeDefaultedEvent)
		if !ok || !mp.isEnabled() {
			return
		}
		mp.feeDefaultsCounter.Add(ctx, 1)
		mp.feeValueLostCounter.Add(ctx, e.ValueLost)
	})

	bus.Subscribe(events.EventTypeTransferStarted, func(ctx context.Context, event events.Event) {
		if _, ok := event.(events.TransferStartedEvent); !ok || !mp.isEnabled() {
			return
		}
		mp.transfersStartedCounter.Add(ctx, 1)
		mp.transfersInFlightGauge.Add(ctx, 1)
	})

	bus.Subscribe(events.EventTypeTransferCompleted, func(ctx context.Context, event events.Event) {
		if _, ok := event.(events.TransferCompletedEvent); !ok || !mp.isEnabled() {
			return
		}
		mp.transfersFinishedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(LabelOutcome, TransferOutcomeCompleted)))
		mp.transfersInFlightGauge.Add(ctx, -1)
	})

	bus.Subscribe(events.EventTypeTransferFailed, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.TransferFailedEvent)
		if !ok || !mp.isEnabled() {
			return
		}
		mp.transfersFinishedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(LabelOutcome, e.Reason)))
		mp.transfersInFlightGauge.Add(ctx, -1)
	})

	bus.Subscribe(events.EventTypeAccountRemoved, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.AccountRemovedEvent)
		if !ok || !mp.isEnabled() {
			return
		}
		mp.accountsRemovedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(LabelActor, e.Actor)))
	})
}

// isEnabled checks if metrics are enabled and instruments exist
func (mp *MetricsProvider) isEnabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.meterProvider != nil
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	if globalMetrics != nil {
		return globalMetrics.Shutdown(ctx)
	}
	return nil
}

// WrapNotifier counts every notification n attempts
func (mp *MetricsProvider) WrapNotifier(name string, n interfaces.Notifier) interfaces.Notifier {
	return &countingNotifier{name: name, next: n, metrics: mp}
}

type countingNotifier struct {
	name    string
	next    interfaces.Notifier
	metrics *MetricsProvider
}

func (c *countingNotifier) Notify(ctx context.Context, playerName string, message string) error {
	err := c.next.Notify(ctx, playerName, message)
	c.metrics.RecordNotification(c.name, err)
	return err
}
