package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Entry
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=2000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Journal repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Entry, 0, max(cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if repo.batching() && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) batching() bool {
	return r.cfg.BatchSize > 1
}

func (r *repository) Record(entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *entry
	r.buffer = append(r.buffer, &e)

	if !r.batching() || len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent flushes pending entries and returns up to n of the newest.
func (r *repository) Recent(n int) ([]Entry, error) {
	errFactory := errors.New()

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(recentTransitionsSQL, n)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			ts                          int64
			source                      string
			onBattery, lowBattery, apps int
			e                           Entry
		)
		if err := rows.Scan(&ts, &e.Profile, &e.Previous, &source, &onBattery, &lowBattery, &apps); err != nil {
			return nil, errFactory.Wrap(ErrStorageQuery, err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Source = Source(source)
		e.OnBattery = onBattery == 1
		e.LowBattery = lowBattery == 1
		e.PerfApps = apps == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}

	return entries, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})
	return r.closeErr
}

func (r *repository) close() error {
	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to flush journal on close")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Journal repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic journal flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertTransitionSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, e := range r.buffer {
		values := []interface{}{
			e.Timestamp.UnixMilli(),
			e.Profile,
			e.Previous,
			string(e.Source),
			int64(boolToInt(e.OnBattery)),
			int64(boolToInt(e.LowBattery)),
			int64(boolToInt(e.PerfApps)),
		}

		if _, err := stmt.Exec(values...); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed transitions to database")
	r.buffer = r.buffer[:0]

	return nil
}
