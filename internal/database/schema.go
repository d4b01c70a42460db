package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"forge/internal/config"
	"forge/internal/middleware"

	"gorm.io/gorm"
)

// Schema modes. Hybrid runs the versioned SQL scripts and then lets
// AutoMigrate fill in whatever the models added, which is the right trade
// for development; sql is scripts only; auto is AutoMigrate only and is
// fenced off in production-like environments.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus reports what ApplySchema would do for the current
// configuration, plus the ledger state when SQL scripts are in play.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
}

// schemaPlan is the resolved mode plus environment decision.
type schemaPlan struct {
	mode    string
	runSQL  bool
	runAuto bool
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

func resolveSchemaPlan(cfg *config.Config) (schemaPlan, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	if mode == "" {
		mode = SchemaModeHybrid
	}
	prodLike := isProdLikeEnv(cfg.Env)

	switch mode {
	case SchemaModeSQL:
		return schemaPlan{mode: mode, runSQL: true}, nil
	case SchemaModeAuto:
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return schemaPlan{}, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		return schemaPlan{mode: mode, runAuto: true}, nil
	case SchemaModeHybrid:
		return schemaPlan{mode: mode, runSQL: true, runAuto: !prodLike}, nil
	default:
		return schemaPlan{}, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// ApplySchema brings the database up to date according to the configured
// schema mode.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := resolveSchemaPlan(cfg)
	if err != nil {
		return err
	}

	// The versioned SQL scripts are written for Postgres. Sqlite deployments
	// (tests, local prototyping) get their schema from AutoMigrate alone.
	if plan.runSQL && db.Dialector.Name() != "postgres" {
		plan.runSQL = false
		plan.runAuto = true
	}

	if plan.runSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}

	if plan.runAuto {
		if plan.mode == SchemaModeAuto && cfg.DBAutoMigrateAllowDestructive {
			middleware.Logger.Warn("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true set for DB_SCHEMA_MODE=auto; review schema diffs before production deployment")
		}
		middleware.Logger.Info("Running GORM AutoMigrate", slog.String("mode", plan.mode), slog.String("env", cfg.Env))
		if err := db.AutoMigrate(PersistentModels()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	return nil
}

// GetSchemaStatus describes the schema plan without changing anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := resolveSchemaPlan(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               plan.mode,
		Environment:        cfg.Env,
		WillRunSQL:         plan.runSQL,
		WillRunAutoMigrate: plan.runAuto,
	}
	if !plan.runSQL {
		return status, nil
	}

	applied, err := migrationLedger{db: db}.applied(ctx)
	if err != nil {
		return nil, err
	}
	status.AppliedVersions = applied

	seen := make(map[int]bool, len(applied))
	for _, version := range applied {
		seen[version] = true
	}
	for _, m := range allMigrations() {
		if !seen[m.Version] {
			status.PendingMigrations = append(status.PendingMigrations, m)
		}
	}

	return status, nil
}
