package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"coffers/application"
	"coffers/config"
	"coffers/database"
	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/services"
	"coffers/events"
	"coffers/infrastructure"
	"coffers/infrastructure/observability"
	"coffers/repository"

	"github.com/sirupsen/logrus"
)

// adminActor is recorded on audit entries written by the admin subcommands
const adminActor = "admin-cli"

// App holds every long-lived component of the ledger service
type App struct {
	Config     *config.Config
	DB         *database.DB
	Bus        *events.Bus
	UoWFactory interfaces.UnitOfWorkFactory
	Store      *application.AccountStore
	Saga       *application.TransferSaga
	Ledger     *application.Ledger
	Worker     *application.JobWorker
	Sweeper    *application.IdleAccountSweeper
	Metrics    *observability.MetricsProvider

	natsClient *infrastructure.NATSClient
}

// ConfigureLogging applies the configured log level and format
func ConfigureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Printf("Unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Build connects to the database and message bus and wires the application
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	// Initialize metrics
	log.Println("Initializing metrics...")
	app.Metrics = observability.NewMetricsProvider(cfg)
	if err := app.Metrics.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize database connection
	log.Println("Connecting to database...")
	db, err := database.NewConnectionWithOptions(ctx, cfg.GetDatabaseURL(), database.PoolOptions{
		MaxConns:        int32(cfg.DatabaseMaxConns),
		MaxConnIdleTime: cfg.DatabaseMaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = db
	log.Println("Database connection established successfully")

	// Initialize event bus and unit of work factory
	app.Bus = events.NewBus()
	app.UoWFactory = repository.NewUnitOfWorkFactory(db, app.Bus)
	app.Metrics.RegisterEventSubscriptions(app.Bus)

	// Initialize external collaborators
	notifier, err := app.buildNotifier(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	application.RegisterNotificationSubscriptions(app.Bus, app.Metrics.WrapNotifier(cfg.Notifier, notifier))

	directory, err := app.buildPlayerDirectory(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	// Initialize services
	log.Println("Initializing services...")
	feeService := services.NewFeeService(services.FeePolicy{
		AnnualRatePercent: cfg.FeeAnnualRatePercent,
		MinInterval:       cfg.FeeMinInterval,
		MaxInterval:       cfg.FeeMaxInterval,
	})
	gemLedger := services.NewGemLedgerService(cfg.AppraisalGranularity)

	app.Store, err = application.NewAccountStore(app.UoWFactory, cfg.AccountCacheSize)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create account store: %w", err)
	}
	app.Saga = application.NewTransferSaga(app.Store, app.UoWFactory, feeService, gemLedger, cfg.TransferBaseDelay)
	app.Ledger = application.NewLedger(app.Store, app.UoWFactory, app.Saga, feeService, gemLedger)

	app.Worker = application.NewJobWorker(app.UoWFactory, application.JobWorkerConfig{
		PollInterval: cfg.JobPollInterval,
		Lease:        cfg.JobLease,
		BatchSize:    cfg.JobBatchSize,
		MaxAttempts:  cfg.JobMaxAttempts,
		RetryBackoff: cfg.JobRetryBackoff,
	}).WithObserver(app.Metrics)
	app.Worker.Register(entities.JobTypeCompleteTransfer, app.Saga.HandleJob)

	app.Sweeper = application.NewIdleAccountSweeper(app.UoWFactory, app.Store, directory, application.IdleAccountSweeperConfig{
		Interval:      cfg.SweeperInterval,
		DeleteEnabled: cfg.SweeperDeleteEnabled,
		PrunableRanks: cfg.SweeperPrunableRanks,
	}).WithObserver(app.Metrics)
	log.Println("Services initialized successfully")

	return app, nil
}

func (a *App) connectNATS(ctx context.Context) (*infrastructure.NATSClient, error) {
	if a.natsClient != nil {
		return a.natsClient, nil
	}
	client := infrastructure.NewNATSClient(a.Config.NATSServers)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	a.natsClient = client
	return client, nil
}

func (a *App) buildNotifier(ctx context.Context) (interfaces.Notifier, error) {
	switch a.Config.Notifier {
	case "nats":
		client, err := a.connectNATS(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect notifier to NATS: %w", err)
		}
		notifier := infrastructure.NewNATSNotifier(client, a.Config.NotifySubjectPrefix)
		if err := client.EnsureStream("coffers_notifications", notifier.StreamSubjects(), "Player ledger notifications"); err != nil {
			return nil, err
		}
		log.Printf("Notifications published to NATS under %s", a.Config.NotifySubjectPrefix)
		return notifier, nil

	case "discord":
		session, err := infrastructure.NewDiscordSession(a.Config.DiscordToken)
		if err != nil {
			return nil, err
		}
		log.Printf("Notifications posted to Discord channel %s", a.Config.DiscordNotifyChannelID)
		return infrastructure.NewDiscordNotifier(session, a.Config.DiscordNotifyChannelID), nil

	default:
		log.Println("Notifications written to the log only")
		return infrastructure.NewLogNotifier(), nil
	}
}

func (a *App) buildPlayerDirectory(ctx context.Context) (interfaces.PlayerDirectory, error) {
	if a.Config.PlayerLookupSubject == "" {
		log.Println("No player directory configured, every player is assumed to exist")
		return infrastructure.NewStaticPlayerDirectory(), nil
	}

	client, err := a.connectNATS(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect player directory to NATS: %w", err)
	}
	return infrastructure.NewNATSPlayerDirectory(client, a.Config.PlayerLookupSubject, a.Config.PlayerLookupTimeout), nil
}

// Close waits for in-flight event handlers and releases connections
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Wait()
	}
	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			log.Printf("Error closing NATS connection: %v", err)
		}
	}
	if a.DB != nil {
		log.Println("Closing database connection...")
		a.DB.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down metrics: %v", err)
		}
	}
}

// Run initializes and starts the ledger service until ctx is cancelled
func Run(ctx context.Context) error {
	log.Println("Starting coffers ledger...")

	cfg := config.Get()
	ConfigureLogging(cfg)

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Requeue completion for transfers whose job was lost
	recovered, err := app.Saga.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover pending transfers: %w", err)
	}
	log.Printf("Recovered %d pending transfers", recovered)

	stopWorker := app.Worker.Start(ctx)
	defer stopWorker()

	if cfg.SweeperEnabled {
		stopSweeper := app.Sweeper.Start(ctx)
		defer stopSweeper()
	} else {
		log.Println("Idle account sweeper disabled")
	}

	log.Printf("Ledger is running in %s mode...", cfg.Environment)
	<-ctx.Done()

	log.Println("Shutting down ledger...")
	return nil
}

// withApp builds the application for a one-shot admin command
func withApp(ctx context.Context, fn func(app *App) error) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// RemoveAccount deletes one account. Without force it refuses while gems are in transit.
func RemoveAccount(ctx context.Context, name string, force bool) error {
	return withApp(ctx, func(app *App) error {
		result, err := app.Store.Remove(ctx, name, adminActor, force)
		if err != nil {
			return fmt.Errorf("failed to remove account %s: %w", name, err)
		}
		log.Printf("Removed account %s", result.AccountName)
		for _, code := range result.OrphanedTransfers {
			log.Printf("Transfer %s is now orphaned", code)
		}
		return nil
	})
}

// RegisterBank adds or renames a bank in the registry
func RegisterBank(ctx context.Context, bankID int, description string) error {
	return withApp(ctx, func(app *App) error {
		bank, err := app.Ledger.RegisterBank(ctx, bankID, description)
		if err != nil {
			return fmt.Errorf("failed to register bank %d: %w", bankID, err)
		}
		log.Printf("Bank %d is %q", bank.ID, bank.Description)
		return nil
	})
}

// Sweep runs the idle account sweeper once over one partition, or all of them when partition is empty
func Sweep(ctx context.Context, partition string) error {
	return withApp(ctx, func(app *App) error {
		var reports []*application.SweepReport
		if partition == "" {
			var err error
			reports, err = app.Sweeper.SweepAll(ctx)
			if err != nil {
				return err
			}
		} else {
			report, err := app.Sweeper.SweepPartition(ctx, partition)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}

		for _, report := range reports {
			if len(report.Prunable) == 0 {
				continue
			}
			log.Printf("[%s] prunable=%v removed=%v skipped=%v errors=%d",
				report.Partition, report.Prunable, report.Removed, report.Skipped, report.Errors)
		}
		return nil
	})
}

// PendingTransfers lists every transfer still in transit
func PendingTransfers(ctx context.Context) error {
	return withApp(ctx, func(app *App) error {
		transfers, err := app.Saga.Pending(ctx)
		if err != nil {
			return err
		}
		for _, transfer := range transfers {
			log.Printf("%s owner=%s %d -> %d gems=%v since %s",
				transfer.Code, transfer.OwnerName, transfer.FromBank, transfer.ToBank, transfer.Gems,
				transfer.CreatedAt.Format(time.RFC3339))
		}
		log.Printf("%d transfers in transit", len(transfers))
		return nil
	})
}

// RequeueParked makes every parked job due again with a fresh attempt budget
func RequeueParked(ctx context.Context) error {
	return withApp(ctx, func(app *App) error {
		now := time.Now().UTC()
		jobs, err := repository.RequeueParkedJobs(ctx, app.DB, now, now.Add(application.ParkDuration/2))
		if err != nil {
			return fmt.Errorf("failed to requeue parked jobs: %w", err)
		}
		for _, job := range jobs {
			lastError := ""
			if job.LastError != nil {
				lastError = *job.LastError
			}
			log.Printf("Requeued job %d (%s) after %d attempts: %s", job.ID, job.Type, job.Attempts, lastError)
		}
		log.Printf("%d parked jobs requeued", len(jobs))
		return nil
	})
}
