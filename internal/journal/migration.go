package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/logger"
)

// backupDir returns the directory holding schema backups for dbPath.
func backupDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "backups")
}

func backupDatabase(db *sql.DB, dbPath string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	dir := backupDir(dbPath)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("journal_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Database backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema checks the schema version and recreates it if needed.
// An existing database with a different version is backed up next to dbPath
// before it is recreated.
func ValidateAndUpdateSchema(db *sql.DB, dbPath string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	log.Debug().
		Int("version", version).
		Bool("init_db", version == 0).
		Msg("Current schema version")

	if version == SchemaVersion {
		return nil
	}

	if version != 0 {
		if _, err := backupDatabase(db, dbPath, version, log); err != nil {
			return err
		}
	}

	if err := dropTables(db, log); err != nil {
		return err
	}
	return InitSchema(db, log)
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback drop tables")
			}
		}
	}()

	for _, table := range []string{"transitions", "schema_versions"} {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
