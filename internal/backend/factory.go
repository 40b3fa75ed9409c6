package backend

import (
	"context"
	"fmt"

	"burnrate/internal/log"
	"burnrate/internal/storage"
	"burnrate/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var result *BackendResult
	var err error
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		result, err = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := result.Store.Ping(ctx); err != nil {
		_ = result.Cleanup()
		return nil, fmt.Errorf("backend not reachable: %w", err)
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Using SQLite backend", "path", config.SQLiteDBPath)

	return &BackendResult{
		Store: repo,
		Cleanup: func() error {
			f.logger.Info("Closing SQLite repository")
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	var store *memory.Store
	if config.SeedFile != "" {
		var err error
		store, err = memory.NewFromFile(config.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load memory seed: %w", err)
		}
	} else {
		store = memory.New()
	}
	f.logger.Warn("Using in-memory backend, data is lost on restart", "seed", config.SeedFile)

	return &BackendResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}
