package postgres

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/messenger-client/internal/logger"
)

const (
	embeddedUser     = "messenger"
	embeddedPassword = "messenger_secret"
	embeddedDatabase = "messenger_client"
)

// Embedded is a local PostgreSQL started for -dev runs and tests.
type Embedded struct {
	db  *embeddedpostgres.EmbeddedPostgres
	url string
}

// StartEmbedded запускает PostgreSQL с данными в dir на заданном порту.
// Бинарник скачивается при первом запуске и кэшируется в dir/cache.
func StartEmbedded(dir string, port uint32) (*Embedded, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}
	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			DataPath(filepath.Join(dir, "data")).
			RuntimePath(filepath.Join(dir, "runtime")).
			CachePath(filepath.Join(dir, "cache")),
	)
	logger.Infof("starting embedded PostgreSQL on port %d...", port)
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("embedded postgres start: %w", err)
	}
	return &Embedded{
		db: db,
		url: fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
			embeddedUser, embeddedPassword, port, embeddedDatabase),
	}, nil
}

// URL is the connection string for the running instance.
func (e *Embedded) URL() string { return e.url }

func (e *Embedded) Stop() error {
	logger.Info("stopping embedded postgres...")
	if err := e.db.Stop(); err != nil {
		return fmt.Errorf("embedded postgres stop: %w", err)
	}
	return nil
}
