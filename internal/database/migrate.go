package database

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema step: a forward script and the script
// that undoes it, embedded from the migrations directory at build time.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var registry []Migration

func init() {
	steps, err := loadMigrations(migrationFS)
	if err != nil {
		// The scripts ship inside the binary, so a parse failure here is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded migrations are broken: %v", err))
	}
	registry = steps
}

// loadMigrations reads every NNNNNN_name.up.sql under migrations/ and pairs
// it with its .down.sql. A forward script without a rollback script is an
// error: every step must be reversible.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var steps []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		stem := strings.TrimSuffix(name, ".up.sql")
		prefix, title, ok := strings.Cut(stem, "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: want NNNNNN_name.up.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q: non-numeric version prefix: %w", name, err)
		}

		up, err := fs.ReadFile(fsys, path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		down, err := fs.ReadFile(fsys, path.Join("migrations", stem+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("migration %q has no rollback script: %w", name, err)
		}

		steps = append(steps, Migration{
			Version: version,
			Name:    title,
			Up:      string(up),
			Down:    string(down),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	for i := 1; i < len(steps); i++ {
		if steps[i].Version == steps[i-1].Version {
			return nil, fmt.Errorf("migration version %d defined twice", steps[i].Version)
		}
	}

	return steps, nil
}

func allMigrations() []Migration {
	return registry
}

func migrationByVersion(version int) (Migration, bool) {
	for _, m := range registry {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}
