package sqlite

import (
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/langwarden/internal/infra"
	"github.com/iamwavecut/langwarden/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

func NewSQLiteClient(dbPath string) *sqliteClient {
	dbx, err := sqlx.Open("sqlite", filepath.Join(infra.GetWorkDir(), dbPath))
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	_, _, err = migrate.PlanMigration(dbx.DB, "sqlite3", migrationsSource, migrate.Up, 0)
	if err != nil {
		log.WithError(err).Fatalln("migrate plan failed")
	}

	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		log.WithError(err).WithField("migration", migrationsSource).Fatalln("migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	return &sqliteClient{db: dbx}
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}
