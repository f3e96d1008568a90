package journal

import (
	"context"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopRecorder struct{}

// NewService opens the journal described by cfg. A disabled journal
// accepts and discards every entry.
func NewService(cfg Config) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Transition journal disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, logger.Component("journal"))
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to create journal repository")
		return nil, err
	}

	logger.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Transition journal initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, entry *Entry) error {
	errFactory := errors.New()

	if entry == nil || entry.Profile == "" || !entry.Source.IsValid() {
		return errFactory.New(ErrInvalidEntry)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(entry); err != nil {
			return errFactory.Wrap(ErrRecord, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New().Wrap(ErrOperationTimeout, err)
	}
	return s.repo.Recent(n)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*noopRecorder) Record(_ context.Context, _ *Entry) error {
	return nil
}

func (*noopRecorder) Recent(_ context.Context, _ int) ([]Entry, error) {
	return nil, nil
}

func (*noopRecorder) Close() error {
	return nil
}
