package credential

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration for the store's dialect and returns
// the number applied.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	dir, err := fs.Sub(migrationsFS, s.dialect.migrationsDir())
	if err != nil {
		return 0, err
	}

	provider, err := goose.NewProvider(s.dialect.gooseDialect(), s.db, dir)
	if err != nil {
		return 0, fmt.Errorf("migration setup error: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migration error: %w", err)
	}
	return len(results), nil
}
