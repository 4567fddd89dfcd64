package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/fx"

	storageAdapter "github.com/quayside/groupage/pkg/importer/adapter/storage"
	"github.com/quayside/groupage/pkg/importer/adapter/storage/gcs"
	"github.com/quayside/groupage/pkg/importer/adapter/storage/local"
	"github.com/quayside/groupage/pkg/importer/core/config"
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/runner"
	inframetrics "github.com/quayside/groupage/pkg/importer/infrastructure/metrics"
	"github.com/quayside/groupage/pkg/importer/infrastructure/repository/inmemory"
	sqlrepo "github.com/quayside/groupage/pkg/importer/infrastructure/repository/sql"
	memorystore "github.com/quayside/groupage/pkg/importer/infrastructure/store/memory"
	mongostore "github.com/quayside/groupage/pkg/importer/infrastructure/store/mongo"
	"github.com/quayside/groupage/pkg/importer/report"
	"github.com/quayside/groupage/pkg/importer/support/util/configbinder"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// RunApplication sets up and runs the import application using uber-fx.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, inputPath string, overrides map[string]string) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// -set flags override the embedded import settings; keys use the same
	// names as the yaml file (entity_kind, upsert_mode, wave_size, ...).
	if err := configbinder.BindProperties(overrides, &cfg.Groupage.Import); err != nil {
		logger.Fatalf("Failed to apply -set overrides: %v", err)
	}

	logger.SetLogLevel(cfg.Groupage.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Groupage.System.Logging.Level)

	app := fx.New(
		fx.Supply(
			cfg,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
			fx.Annotate(inputPath, fx.ResultTags(`name:"inputPath"`)),
		),
		logger.Module,
		inframetrics.Module,
		fx.Provide(newRecordStore),
		fx.Provide(newJobRepository),
		runner.Module,
		fx.Invoke(fx.Annotate(startImport, fx.ParamTags(
			"",                 // lc fx.Lifecycle
			"",                 // shutdowner fx.Shutdowner
			"",                 // importer *runner.Importer
			"",                 // cfg *config.Config
			`name:"appCtx"`,    // appCtx context.Context
			`name:"inputPath"`, // inputPath string
		))),
	)

	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// newRecordStore selects the record store backend from configuration.
func newRecordStore(lc fx.Lifecycle, cfg *config.Config) (store.RecordStore, error) {
	switch cfg.Groupage.Store.Backend {
	case "mongo":
		st, err := mongostore.NewStore(context.Background(), cfg.Groupage.Store.Mongo)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: st.Close})
		return st, nil
	case "", "memory":
		return memorystore.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend '%s' (expected memory or mongo)", cfg.Groupage.Store.Backend)
	}
}

// newJobRepository selects the job tracker backend from configuration.
func newJobRepository(lc fx.Lifecycle, cfg *config.Config) (repository.JobRepository, error) {
	switch cfg.Groupage.JobRepository.Backend {
	case "sql":
		repo, err := sqlrepo.NewJobRepositoryFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return repo.Close() }})
		return repo, nil
	case "", "inmemory":
		return inmemory.NewInMemoryJobRepository(), nil
	default:
		return nil, fmt.Errorf("unknown job repository backend '%s' (expected inmemory or sql)", cfg.Groupage.JobRepository.Backend)
	}
}

// startImport launches the import run on application start and requests
// shutdown once it finishes.
func startImport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	importer *runner.Importer,
	cfg *config.Config,
	appCtx context.Context,
	inputPath string,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in import run: %v", r)
					}
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				runImport(appCtx, importer, cfg, inputPath)
			}()
			return nil
		},
	})
}

func runImport(ctx context.Context, importer *runner.Importer, cfg *config.Config, inputPath string) {
	rows, err := readRows(inputPath)
	if err != nil {
		logger.Errorf("Failed to read input: %v", err)
		return
	}
	logger.Infof("Read %d input row(s) from %s.", len(rows), inputPath)

	importer.OnProgress(func(event model.ProgressEvent) {
		logger.Infof("Progress: %d/%d groups (%d ok, %d failed)",
			event.Current, event.Total, event.SuccessCount, event.FailCount)
	})

	summary, err := importer.Run(ctx, rows)
	if err != nil {
		logger.Errorf("Import run failed: %v", err)
		return
	}

	logger.Infof("Import finished: %d group(s), %d succeeded, %d failed, cancelled=%v.",
		summary.TotalGroups, summary.SuccessCount, summary.FailCount, summary.Cancelled)

	if location, err := writeReport(ctx, cfg, summary); err != nil {
		logger.Errorf("Failed to write failed-rows report: %v", err)
	} else if location != "" {
		logger.Infof("Failed-rows report: %s", location)
	}
}

// writeReport produces the failed-rows report through the configured storage backend.
func writeReport(ctx context.Context, cfg *config.Config, summary *model.RunSummary) (string, error) {
	reportCfg := cfg.Groupage.Report
	if !reportCfg.Enabled || len(summary.Errors) == 0 {
		return "", nil
	}

	conn, err := newStorageConnection(ctx, reportCfg)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return report.NewWriter(reportCfg, conn).Write(ctx, summary)
}

func newStorageConnection(ctx context.Context, cfg config.ReportConfig) (storageAdapter.Connection, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		return gcs.NewGCSAdapter(ctx, cfg.Storage.Bucket)
	case "", "local":
		return local.NewLocalAdapter(cfg.Storage.BaseDir)
	default:
		return nil, fmt.Errorf("unknown report storage backend '%s' (expected local or gcs)", cfg.Storage.Backend)
	}
}

// readRows parses the CSV input file. The first record is the header; every
// following record becomes one Row keyed by the header's column names.
func readRows(path string) ([]model.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file '%s': %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows []model.Row
	number := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		number++
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				fields[name] = record[i]
			}
		}
		rows = append(rows, model.Row{Number: number, Fields: fields})
	}
	return rows, nil
}
