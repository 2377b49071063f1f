package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vpo/internal/services"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// schemaStep is one forward-only schema change, embedded as NNNN_name.sql.
// Applied versions are tracked in SQLite's user_version pragma, so the
// database itself records how far the schema has advanced.
type schemaStep struct {
	version int
	name    string
	sql     string
}

func schemaSteps() ([]schemaStep, error) {
	entries, err := schemaFS.ReadDir("migrations")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "store", "schema", "read embedded steps", err)
	}

	steps := make([]schemaStep, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "store", "schema",
				fmt.Sprintf("step %s is not named NNNN_name.sql", name), nil)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version < 1 {
			return nil, services.Wrap(services.ErrConfiguration, "store", "schema",
				fmt.Sprintf("step %s has no numeric version prefix", name), err)
		}
		if other, dup := seen[version]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "store", "schema",
				fmt.Sprintf("steps %s and %s share version %d", other, name, version), nil)
		}
		seen[version] = name

		sql, err := schemaFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "store", "schema", name, err)
		}
		steps = append(steps, schemaStep{version: version, name: rest, sql: string(sql)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// migrate brings the database to the newest embedded schema version. All
// pending steps apply inside one transaction; a failure leaves the prior
// version intact.
func (s *Store) migrate(ctx context.Context) error {
	steps, err := schemaSteps()
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	latest := steps[len(steps)-1].version
	if current >= latest {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, step := range steps {
		if step.version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, step.sql); err != nil {
			return services.Wrap(services.ErrConfiguration, "store", "schema",
				fmt.Sprintf("apply step %d (%s)", step.version, step.name), err)
		}
	}
	// PRAGMA takes no bind parameters; the version is a parsed integer.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", latest)); err != nil {
		return fmt.Errorf("record schema version %d: %w", latest, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
