package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/archive"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/async"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/rollback"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/validation"
)

var (
	configPath = flag.String("config", "auditor.yaml", "Path to auditor configuration file")
	runOnce    = flag.Bool("run-once", false, "Run a single system validation and exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := LoadAuditorConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log.SetLevel(cfg.logrusLevel())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	store := roles.NewStore(db)
	// The validator logs through the shared structured logger; the auditor's
	// own job output goes through logrus.
	vlog := observability.NewLogger(observability.WarnLevel, os.Stdout)
	validator := validation.NewValidator(store, &validation.ValidationConfig{
		SystemConcurrency: cfg.Validation.Concurrency,
		MaxSystemAdmins:   cfg.Validation.MaxSystemAdmins,
	}, vlog)
	engine := rollback.NewEngine(store, rollback.NewStore(db), rollback.NewAdvisoryLocker(db), vlog)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := archive.NewS3Client(archive.Config{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			Bucket:       cfg.Archive.Bucket,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to create S3 client")
		}
		archiver = archive.NewArchiver(s3Client, vlog)
	}

	auditor := &Auditor{
		cfg:       cfg,
		log:       log,
		store:     store,
		validator: validator,
		engine:    engine,
		archiver:  archiver,
	}

	// Run once mode (for testing or ad-hoc audits)
	if *runOnce {
		if err := auditor.RunValidation(context.Background()); err != nil {
			log.WithError(err).Fatal("Validation failed")
		}
		log.Info("Validation completed successfully")
		return
	}

	// Hot-reload thresholds when the config file changes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := auditor.WatchConfig(ctx, *configPath); err != nil {
		log.WithError(err).Warn("Config watching disabled")
	}

	// Scheduled mode
	c := cron.New()

	if _, err := c.AddFunc(cfg.Schedules.Validation, func() {
		defer observability.RecoverPanic(vlog, "scheduled validation")
		log.Info("Starting scheduled system validation")
		if err := auditor.RunValidation(context.Background()); err != nil {
			log.WithError(err).Error("Scheduled validation failed")
		}
	}); err != nil {
		log.WithError(err).Fatal("Failed to schedule validation")
	}

	if cfg.Schedules.ExpireSweep != "" {
		if _, err := c.AddFunc(cfg.Schedules.ExpireSweep, func() {
			defer observability.RecoverPanic(vlog, "expire sweep")
			if err := auditor.RunExpireSweep(context.Background()); err != nil {
				log.WithError(err).Error("Expire sweep failed")
			}
		}); err != nil {
			log.WithError(err).Fatal("Failed to schedule expire sweep")
		}
	}

	if cfg.Archive.Enabled && cfg.Schedules.HistoryArchive != "" {
		if _, err := c.AddFunc(cfg.Schedules.HistoryArchive, func() {
			defer observability.RecoverPanic(vlog, "history archive")
			if err := auditor.ArchiveHistory(context.Background()); err != nil {
				log.WithError(err).Error("History archive failed")
			}
		}); err != nil {
			log.WithError(err).Fatal("Failed to schedule history archive")
		}
	}

	c.Start()
	log.Info("Role auditor started")
	log.WithField("schedule", cfg.Schedules.Validation).Info("Validation schedule")
	if cfg.Schedules.ExpireSweep != "" {
		log.WithField("schedule", cfg.Schedules.ExpireSweep).Info("Expire sweep schedule")
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutting down gracefully...")

	cancel()
	stopCtx := c.Stop()
	<-stopCtx.Done()

	log.Info("Auditor stopped")
}

// Auditor runs the scheduled integrity jobs.
type Auditor struct {
	cfg       *AuditorConfig
	log       *logrus.Logger
	store     *roles.Store
	validator *validation.Validator
	engine    *rollback.Engine
	archiver  *archive.Archiver
}

// RunValidation audits the whole user population, alerts on findings below
// the configured health threshold, and archives the report when S3 is
// configured.
func (a *Auditor) RunValidation(ctx context.Context) error {
	started := time.Now()
	report, err := a.validator.ValidateSystem(ctx)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"total_users":     report.TotalUsers,
		"invalid_users":   report.InvalidUsers,
		"critical_issues": report.Summary.CriticalIssues,
		"high_issues":     report.Summary.HighIssues,
		"health_score":    report.Summary.HealthScore,
		"duration":        time.Since(started).String(),
	}

	threshold := a.cfg.minHealthScore()
	switch {
	case report.Summary.CriticalIssues > 0:
		a.log.WithFields(fields).Error("System validation found critical issues")
	case report.Summary.HealthScore < threshold:
		a.log.WithFields(fields).Warn("System health score below threshold")
	default:
		a.log.WithFields(fields).Info("System validation completed")
	}

	if a.archiver != nil {
		// Upload happens off the cron goroutine so a slow S3 endpoint
		// cannot delay the next scheduled run.
		async.SafeGo(ctx, time.Minute, "validation report archive", func(ctx context.Context) error {
			key, err := a.archiver.ArchiveValidationReport(ctx, report)
			if err != nil {
				return err
			}
			a.log.WithField("key", key).Info("Validation report archived")
			return nil
		})
	}
	return nil
}

// RunExpireSweep transitions overdue active assignments to expired.
func (a *Auditor) RunExpireSweep(ctx context.Context) error {
	expired, err := a.store.ExpireOverdueAssignments(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		a.log.WithField("expired", expired).Info("Expired overdue assignments")
	} else {
		a.log.Debug("No overdue assignments")
	}
	return nil
}

// ArchiveHistory exports the rollback history and uploads it to S3.
func (a *Auditor) ArchiveHistory(ctx context.Context) error {
	data, err := a.engine.ExportHistory(ctx, a.cfg.Archive.HistoryLimit, rollback.FormatNDJSON)
	if err != nil {
		return err
	}
	key, err := a.archiver.ArchiveHistoryExport(ctx, rollback.FormatNDJSON, data)
	if err != nil {
		return err
	}
	a.log.WithField("key", key).Info("Rollback history archived")
	return nil
}
