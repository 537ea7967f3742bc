package observability

import (
	"context"
	"errors"
	"testing"

	"coffers/application"
	"coffers/config"
	"coffers/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestProvider(t *testing.T) (*MetricsProvider, *sdkmetric.ManualReader) {
	t.Helper()

	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	reader := sdkmetric.NewManualReader()

	mp := NewMetricsProvider(cfg)
	mp.mu.Lock()
	err := mp.initializeWithReader(reader)
	mp.mu.Unlock()
	require.NoError(t, err)

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

// sumOf collects the reader and adds up every data point of the named
// instrument whose attributes include all of attrs
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, want := range attrs {
		got, ok := set.Value(want.Key)
		if !ok || got != want.Value {
			return false
		}
	}
	return true
}

func TestMetricsProvider_Disabled(t *testing.T) {
	t.Parallel()

	cfg := config.NewTestConfig()
	cfg.OTelEnabled = false
	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))

	assert.False(t, mp.isEnabled())
	assert.NotPanics(t, func() {
		mp.RecordJob("complete_transfer", application.JobStatusCompleted)
		mp.RecordSweep("a", &application.SweepReport{Scanned: 3})
		mp.RecordNotification("log", nil)
	})
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_NoneExporter(t *testing.T) {
	t.Parallel()

	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "none"
	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))

	// initialized without instruments must not record
	assert.False(t, mp.isEnabled())
	assert.NotPanics(t, func() {
		mp.RecordJob("complete_transfer", application.JobStatusRetried)
	})
}

func TestMetricsProvider_UnknownExporter(t *testing.T) {
	t.Parallel()

	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "carrier-pigeon"
	err := NewMetricsProvider(cfg).Initialize(context.Background())
	assert.ErrorContains(t, err, "unknown exporter type")
}

func TestMetricsProvider_RecordJobAndNotification(t *testing.T) {
	t.Parallel()
	mp, reader := newTestProvider(t)

	mp.RecordJob("complete_transfer", application.JobStatusRetried)
	mp.RecordJob("complete_transfer", application.JobStatusRetried)
	mp.RecordJob("complete_transfer", application.JobStatusCompleted)
	mp.RecordNotification("nats", nil)
	mp.RecordNotification("nats", errors.New("no responders"))

	assert.Equal(t, int64(2), sumOf(t, reader, JobAttemptsTotal, attribute.String(LabelStatus, application.JobStatusRetried)))
	assert.Equal(t, int64(3), sumOf(t, reader, JobAttemptsTotal, attribute.String(LabelJobType, "complete_transfer")))
	assert.Equal(t, int64(1), sumOf(t, reader, NotificationsTotal, attribute.String(LabelStatus, NotificationResultFailed)))
}

func TestMetricsProvider_RecordSweep(t *testing.T) {
	t.Parallel()
	mp, reader := newTestProvider(t)

	mp.RecordSweep("a", &application.SweepReport{
		Partition: "a",
		Scanned:   5,
		Prunable:  []string{"amos", "anna", "ava"},
		Removed:   []string{"amos"},
		Skipped:   []string{"anna"},
		Errors:    1,
	})
	mp.RecordSweep("b", nil)

	partitionA := attribute.String(LabelPartition, "a")
	assert.Equal(t, int64(5), sumOf(t, reader, SweeperAccountsScannedTotal, partitionA))
	assert.Equal(t, int64(1), sumOf(t, reader, SweeperErrorsTotal, partitionA))
	assert.Equal(t, int64(3), sumOf(t, reader, SweeperAccountsPrunedTotal, partitionA))
	assert.Equal(t, int64(1), sumOf(t, reader, SweeperAccountsPrunedTotal, attribute.String(LabelOutcome, PruneOutcomeReported)))
}

func TestMetricsProvider_EventSubscriptions(t *testing.T) {
	t.Parallel()
	mp, reader := newTestProvider(t)

	bus := events.NewBus()
	mp.RegisterEventSubscriptions(bus)
	ctx := context.Background()

	bus.Emit(ctx, events.LedgerChangeEvent{AccountName: "alice", Action: "deposit_coins", Amount: 500})
	bus.Emit(ctx, events.FeeDefaultedEvent{AccountName: "bob", FeeDue: 1200, ValueLost: 1001})
	bus.Emit(ctx, events.TransferStartedEvent{Code: "TRA", OwnerName: "alice", FromBank: 1, ToBank: 2, GemCount: 3})
	bus.Emit(ctx, events.TransferStartedEvent{Code: "TRB", OwnerName: "alice", FromBank: 1, ToBank: 9, GemCount: 1})
	bus.Emit(ctx, events.TransferCompletedEvent{Code: "TRA", OwnerName: "alice", ToBank: 2, GemCount: 3})
	bus.Emit(ctx, events.TransferFailedEvent{Code: "TRB", OwnerName: "alice", ToBank: 9, GemCount: 1, Reason: "destination_gone"})
	bus.Emit(ctx, events.AccountRemovedEvent{AccountName: "carol", Actor: "idle-sweeper"})
	bus.Wait()

	assert.Equal(t, int64(1), sumOf(t, reader, LedgerChangesTotal, attribute.String(LabelAction, "deposit_coins")))
	assert.Equal(t, int64(1), sumOf(t, reader, FeeDefaultsTotal))
	assert.Equal(t, int64(1001), sumOf(t, reader, FeeValueLostTotal))
	assert.Equal(t, int64(2), sumOf(t, reader, TransfersStartedTotal))
	assert.Equal(t, int64(1), sumOf(t, reader, TransfersFinishedTotal, attribute.String(LabelOutcome, "destination_gone")))
	assert.Equal(t, int64(0), sumOf(t, reader, TransfersInFlight))
	assert.Equal(t, int64(1), sumOf(t, reader, AccountsRemovedTotal, attribute.String(LabelActor, "idle-sweeper")))
}

type stubNotifier struct {
	err error
}

func (s stubNotifier) Notify(ctx context.Context, playerName string, message string) error {
	return s.err
}

func TestMetricsProvider_WrapNotifier(t *testing.T) {
	t.Parallel()
	mp, reader := newTestProvider(t)

	ok := mp.WrapNotifier("discord", stubNotifier{})
	broken := mp.WrapNotifier("discord", stubNotifier{err: errors.New("rate limited")})

	require.NoError(t, ok.Notify(context.Background(), "alice", "hello"))
	assert.EqualError(t, broken.Notify(context.Background(), "alice", "hello"), "rate limited")

	notifier := attribute.String(LabelNotifier, "discord")
	assert.Equal(t, int64(2), sumOf(t, reader, NotificationsTotal, notifier))
	assert.Equal(t, int64(1), sumOf(t, reader, NotificationsTotal, notifier, attribute.String(LabelStatus, NotificationResultSent)))
}
