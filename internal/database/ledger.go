package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"forge/internal/middleware"

	"gorm.io/gorm"
)

// schemaMigration is one row of the ledger table that records which
// versioned steps have already run against this database.
type schemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (schemaMigration) TableName() string {
	return "schema_migrations"
}

// The ledger table is created with raw SQL rather than AutoMigrate so that
// `migrate up` works against an empty database without involving the model
// registry.
const ensureLedgerTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type migrationLedger struct {
	db *gorm.DB
}

// applied returns the recorded versions in ascending order. A database the
// ledger table has never been created on reads as empty rather than failing,
// so `migrate status` works before the first `migrate up`.
func (l migrationLedger) applied(ctx context.Context) ([]int, error) {
	if !l.db.WithContext(ctx).Migrator().HasTable(&schemaMigration{}) {
		return nil, nil
	}
	var versions []int
	err := l.db.WithContext(ctx).Model(&schemaMigration{}).
		Order("version ASC").Pluck("version", &versions).Error
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return versions, nil
}

// record runs the forward script and writes the ledger row in one
// transaction, so a failed script leaves no record behind.
func (l migrationLedger) record(ctx context.Context, m Migration) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.Up).Error; err != nil {
			return fmt.Errorf("run %s: %w", m, err)
		}
		row := schemaMigration{Version: m.Version, Name: m.Name}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("record %s: %w", m, err)
		}
		return nil
	})
}

// erase runs the rollback script and deletes the ledger row, again as one
// transaction.
func (l migrationLedger) erase(ctx context.Context, m Migration) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.Down).Error; err != nil {
			return fmt.Errorf("undo %s: %w", m, err)
		}
		if err := tx.Where("version = ?", m.Version).Delete(&schemaMigration{}).Error; err != nil {
			return fmt.Errorf("erase ledger row for %s: %w", m, err)
		}
		return nil
	})
}

// RunMigrations creates the ledger table if needed and applies every step the
// database has not seen yet, oldest first.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Exec(ensureLedgerTableSQL).Error; err != nil {
		return fmt.Errorf("ensure migration ledger table: %w", err)
	}

	ledger := migrationLedger{db: db}
	applied, err := ledger.applied(ctx)
	if err != nil {
		return err
	}
	if err := checkForeignVersions(applied, registry); err != nil {
		return err
	}

	seen := make(map[int]bool, len(applied))
	for _, v := range applied {
		seen[v] = true
	}

	for _, m := range allMigrations() {
		if seen[m.Version] {
			continue
		}
		middleware.Logger.Info("Applying migration", slog.String("migration", m.String()))
		if err := ledger.record(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

// checkForeignVersions refuses to run when the ledger holds versions this
// binary does not carry. That usually means an older build is being pointed
// at a newer database, and applying anything on top would be a coin toss.
func checkForeignVersions(applied []int, known []Migration) error {
	if len(applied) == 0 {
		return nil
	}
	carried := make(map[int]struct{}, len(known))
	for _, m := range known {
		carried[m.Version] = struct{}{}
	}

	var foreign []int
	for _, version := range applied {
		if _, ok := carried[version]; !ok {
			foreign = append(foreign, version)
		}
	}
	if len(foreign) == 0 {
		return nil
	}

	sort.Ints(foreign)
	labels := make([]string, len(foreign))
	for i, version := range foreign {
		labels[i] = fmt.Sprintf("%06d", version)
	}
	return fmt.Errorf(
		"migration ledger holds versions this binary does not carry: %s (deploy a newer build, or reset the development database)",
		strings.Join(labels, ", "),
	)
}

// RollbackMigration reverts a single step by version number. The step must be
// carried by this binary and recorded as applied.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m, ok := migrationByVersion(version)
	if !ok {
		return fmt.Errorf("no migration with version %d", version)
	}

	ledger := migrationLedger{db: db}
	applied, err := ledger.applied(ctx)
	if err != nil {
		return err
	}

	recorded := false
	for _, v := range applied {
		if v == version {
			recorded = true
			break
		}
	}
	if !recorded {
		return fmt.Errorf("migration %s has not been applied", m)
	}

	middleware.Logger.Info("Rolling back migration", slog.String("migration", m.String()))
	return ledger.erase(ctx, m)
}
