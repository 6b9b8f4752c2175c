package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/cache"
	"github.com/t77yq/gradeflow/internal/executor"
	"github.com/t77yq/gradeflow/internal/export"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/monitor"
	"github.com/t77yq/gradeflow/internal/provider"
	"github.com/t77yq/gradeflow/internal/scheduler"
	"github.com/t77yq/gradeflow/internal/stats"
	"github.com/t77yq/gradeflow/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("stats.interval", 5*time.Second)
	viper.SetDefault("executor.workers", 4)
	viper.SetDefault("executor.export_mode", "text")
	viper.SetDefault("scheduler.max_concurrent_firings", 3)
	viper.SetDefault("scheduler.db_path", "schedules.db")
	viper.SetDefault("scheduler.log_path", "execution.log")
	viper.SetDefault("scheduler.backup_dir", "./backups")
	viper.SetDefault("export.dir", "./reports")
	viper.SetDefault("seed.students", 50)
	viper.SetDefault("seed.grades_per_student", 8)
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	// Optional NATS connection for the metrics/notification sink; its
	// absence does not change engine behavior.
	var js nats.JetStreamContext
	if url := viper.GetString("nats.url"); url != "" {
		nc, err := nats.Connect(url,
			nats.Name("gradeflow"),
			nats.Timeout(5*time.Second),
			nats.MaxReconnects(5),
		)
		if err != nil {
			logger.Warn("Failed to connect to NATS, metrics disabled", zap.Error(err))
		} else {
			defer nc.Close()
			js, err = nc.JetStream()
			if err != nil {
				logger.Warn("Failed to create JetStream context, metrics disabled", zap.Error(err))
				js = nil
			} else if err := monitor.EnsureStream(js); err != nil {
				logger.Warn("Failed to ensure metrics stream", zap.Error(err))
			}
		}
	}
	metrics := monitor.NewPublisher(js, logger)

	// Seed the in-memory data provider with demo records
	dataProvider := provider.NewMemoryProvider()
	dataProvider.Seed(viper.GetInt("seed.students"), viper.GetInt("seed.grades_per_student"))

	aggregates := cache.NewAggregateCache(dataProvider, logger)

	exporter, err := export.NewFileExporter(viper.GetString("export.dir"), logger, metrics)
	if err != nil {
		logger.Fatal("Failed to create exporter", zap.Error(err))
	}

	// Live stats daemon
	daemon := stats.NewDaemon(dataProvider, aggregates, logger, stats.Config{
		Interval: viper.GetDuration("stats.interval"),
	})
	if err := daemon.Start(); err != nil {
		logger.Fatal("Failed to start stats daemon", zap.Error(err))
	}
	defer daemon.Stop()

	// Schedule persistence
	store, err := storage.NewSQLiteScheduleStore(logger, viper.GetString("scheduler.db_path"))
	if err != nil {
		logger.Fatal("Failed to open schedule store", zap.Error(err))
	}
	defer store.Close()

	// Recurring scheduler
	runner := scheduler.NewJobRunner(dataProvider, aggregates, exporter, metrics, logger, scheduler.RunnerConfig{
		BackupDir:  viper.GetString("scheduler.backup_dir"),
		ExportMode: export.Mode(viper.GetString("executor.export_mode")),
	})

	recurring, err := scheduler.NewRecurringScheduler(store, runner, metrics, logger, scheduler.Config{
		MaxConcurrentFirings: viper.GetInt("scheduler.max_concurrent_firings"),
		LogPath:              viper.GetString("scheduler.log_path"),
	})
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	defer recurring.Shutdown()

	// Arm default tasks on first start
	ctx := context.Background()
	if len(recurring.ActiveTasks()) == 0 {
		defaults := []*model.ScheduledTask{
			{Name: scheduler.JobGPARecompute, Kind: model.ScheduleHourly, AnchorMinute: 15, WorkerCount: 4},
			{Name: scheduler.JobCacheRefresh, Kind: model.ScheduleHourly, AnchorMinute: 45},
			{Name: scheduler.JobBatchReports, Kind: model.ScheduleDaily, AnchorHour: 2, WorkerCount: 4, LogToFile: true},
			{Name: scheduler.JobBackup, Kind: model.ScheduleWeekly, AnchorHour: 3, LogToFile: true},
		}
		for _, task := range defaults {
			if _, err := recurring.ScheduleTask(ctx, task); err != nil {
				logger.Error("Failed to schedule default task",
					zap.String("name", task.Name),
					zap.Error(err))
			}
		}
	}

	// Run one batch report pass up front
	batch := executor.NewBatchExecutor(dataProvider, exporter, metrics, logger, executor.Config{})
	if batch.Initialize(viper.GetInt("executor.workers")) {
		students, err := dataProvider.ListStudents(ctx)
		if err != nil {
			logger.Error("Failed to list students", zap.Error(err))
		} else {
			runStats, err := batch.Run(ctx, students, model.JobKindReport, export.Mode(viper.GetString("executor.export_mode")))
			if err != nil {
				logger.Error("Batch run failed", zap.Error(err))
			} else {
				logger.Info("Initial batch run complete",
					zap.Int("completed", runStats.Completed),
					zap.Int("failed", runStats.Failed),
					zap.Float64("speedup", runStats.SpeedupRatio))
			}
		}
	}
	defer batch.Shutdown(10 * time.Second)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	snapshot := daemon.Snapshot()
	if snapshot != nil {
		logger.Info("Final dashboard snapshot",
			zap.Int("students", snapshot.StudentCount),
			zap.Int("grades", snapshot.GradeCount),
			zap.Float64("mean", snapshot.MeanScore),
			zap.Float64("cache_hit_rate", snapshot.CacheHitRate))
	}

	logger.Info("Server shutting down gracefully")
}
