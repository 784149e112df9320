package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"steamharvest/internal/config"
	"steamharvest/internal/domain"
	"steamharvest/internal/governor"
	"steamharvest/internal/infrastructure/ledger"
	"steamharvest/internal/infrastructure/ops"
	"steamharvest/internal/infrastructure/postgres"
	"steamharvest/internal/infrastructure/sink"
	"steamharvest/internal/infrastructure/steam"
	"steamharvest/internal/logging"
	"steamharvest/internal/ports"
	"steamharvest/internal/usecase"
	"steamharvest/internal/worklist"
)

// Application wires configuration into a single harvest execution.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	return &Application{cfg: cfg, logger: baseLogger}
}

// fanoutRecorder feeds every fetch outcome to the governor and the metrics.
type fanoutRecorder struct {
	gov     *governor.Governor
	metrics *ops.Metrics
}

var _ ports.OutcomeRecorder = fanoutRecorder{}

func (f fanoutRecorder) Record(outcome domain.FetchOutcome) {
	f.gov.Record(outcome)
	f.metrics.Record(outcome)
}

// Run opens every store, wires the harvest and drains the pending work
// list. It returns once the list is exhausted, a fatal persistence error
// occurs, or ctx is canceled.
func (a *Application) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)

	items, digest, err := worklist.Load(a.cfg.WorkList.Path, a.cfg.Steam.StoreBaseURL)
	if err != nil {
		return fmt.Errorf("load work list: %w", err)
	}
	logger.Info("work list loaded", "path", a.cfg.WorkList.Path, "items", len(items), "digest", digest)

	led, err := ledger.Open(a.cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			logger.Warn("close ledger", "error", closeErr)
		}
	}()

	metrics := ops.NewMetrics()

	var mirror ports.RecordMirror
	if a.cfg.Postgres.DSN != "" {
		pg, err := postgres.Connect(ctx, a.cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres mirror: %w", err)
		}
		defer pg.Close()
		mirror = pg
		logger.Info("postgres mirror enabled", "table", a.cfg.Postgres.Table)
	}

	writer, err := sink.Open(a.cfg.Writer.OutputPath, a.cfg.Writer.ChunkSize, mirror, metrics,
		logging.Component(logger, "sink"))
	if err != nil {
		return fmt.Errorf("open output store: %w", err)
	}

	gov := governor.New(governor.Limits{
		MinConcurrency: a.cfg.Governor.MinConcurrency,
		MaxConcurrency: a.cfg.Governor.MaxConcurrency,
		MinDelay:       a.cfg.Governor.MinDelay(),
		MaxDelay:       a.cfg.Governor.MaxDelay(),
		WindowSize:     a.cfg.Governor.WindowSize,
		ThrottlePct:    a.cfg.Governor.ThrottleThresholdPct,
		Hibernation:    a.cfg.Governor.Hibernation(),
	})

	recorder := fanoutRecorder{gov: gov, metrics: metrics}
	primary := steam.NewAPIClient(a.cfg.Steam, recorder)
	auxiliary := steam.NewStoreClient(a.cfg.Steam, recorder)

	if a.cfg.Ops.Listen != "" {
		srv := ops.NewServer(a.cfg.Ops.Listen, runID, metrics, logging.Component(logger, "ops"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Warn("ops server shutdown", "error", shutdownErr)
			}
		}()
	}

	harvest := usecase.NewHarvest(usecase.HarvestDeps{
		RunID:     runID,
		Items:     items,
		Digest:    digest,
		Primary:   primary,
		Auxiliary: auxiliary,
		Writer:    writer,
		Ledger:    led,
		Governor:  gov,
		Metrics:   metrics,
		Logger:    logging.Component(logger, "harvest"),
	})

	return harvest.Run(ctx)
}
