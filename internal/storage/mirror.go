package storage

import (
	"context"
	"errors"
	"log/slog"

	"ais_ingest/internal/vessel"
)

// Mirror receives every successful upsert. Mirrors are best effort: a
// failing mirror is logged and never fails the primary write.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, res UpsertResult) error
	Close() error
}

type mirroredStore struct {
	Store
	mirrors []Mirror
	logger  *slog.Logger
}

// WithMirrors wraps s so that every successful Upsert is copied to mirrors.
// Closing the returned store closes the mirrors before s.
func WithMirrors(s Store, logger *slog.Logger, mirrors ...Mirror) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &mirroredStore{Store: s, mirrors: mirrors, logger: logger}
}

func (m *mirroredStore) Upsert(ctx context.Context, u vessel.Update) (UpsertResult, error) {
	res, err := m.Store.Upsert(ctx, u)
	if err != nil {
		return res, err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Mirror(ctx, res); err != nil {
			m.logger.Warn("mirror write failed",
				"mirror", mirror.Name(),
				"mmsi", u.MMSI,
				"error", err,
			)
		}
	}
	return res, nil
}

func (m *mirroredStore) Close() error {
	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
