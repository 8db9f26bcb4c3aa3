package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// retryConnect retries fn while it fails with a transient error; databases
// and brokers are often still starting when crowdgate comes up.
func retryConnect(ctx context.Context, logger *slog.Logger, what string, fn func(context.Context) error) (int, error) {
	cfg := cgerrors.NewRetryConfig(
		cgerrors.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn(what+" failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	return cgerrors.Retry(ctx, cfg, fn)
}

// openError tags a zone.Open failure: a bad driver name never heals, a
// failed connect might.
func openError(err error) error {
	if errors.Is(err, zone.ErrUnknownDriver) {
		return cgerrors.Permanent(err, "store open")
	}
	return cgerrors.Transient(err, "store open")
}

func openStore(ctx context.Context, s config.StoreSettings, logger *slog.Logger) (zone.Store, error) {
	var store zone.Store
	attempts, err := retryConnect(ctx, logger, "store open", func(ctx context.Context) error {
		var err error
		store, err = zone.Open(ctx, s.Driver, s.DSN)
		if err != nil {
			return openError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", "driver", s.Driver, "attempts", attempts)
	return store, nil
}
