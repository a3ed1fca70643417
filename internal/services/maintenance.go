package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgconn"

	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/utils"
)

// One retry on transient network errors (EOF, closed connection) with a
// small back-off.
var cleanupRetryDelay = 3 * time.Second

type sweepOp func(ctx context.Context) (int64, error)

// runWithRetry executes op(ctx) and, if it returns a transient network
// error (EOF, pgconn safe-to-retry, or the common closed-connection
// message), waits a moment then retries once.
func runWithRetry(ctx context.Context, name string, op sweepOp) (int64, error) {
	n, err := op(ctx)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) || pgconn.SafeToRetry(err) ||
		strings.Contains(err.Error(), "connection was closed") {
		utils.Logger.WithError(err).WithField("sweep", name).
			Warn("Sweep hit transient DB error; retrying once")
		select {
		case <-time.After(cleanupRetryDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return op(ctx)
	}
	return 0, err
}

// storageUnavailable covers a pool that was never opened or already closed.
func storageUnavailable(err error) bool {
	return errors.Is(err, utils.ErrStorageUnavailable) || strings.Contains(err.Error(), "closed pool")
}

// runSweep is the shared body of every maintenance job: skip with a
// warning when storage is missing, retry transient errors once, count the
// outcome and log the affected rows when logCounts is set.
func runSweep(ctx context.Context, name string, available, logCounts bool, op sweepOp) (int64, error) {
	logger := utils.Logger.WithField("sweep", name)
	if !available {
		logger.Warn("Storage not available; skipping sweep")
		metrics.RecordSweep(name, metrics.OutcomeSkipped, 0)
		return 0, nil
	}

	n, err := runWithRetry(ctx, name, op)
	if err != nil {
		if storageUnavailable(err) {
			logger.WithError(err).Warn("Storage not available; skipping sweep")
			metrics.RecordSweep(name, metrics.OutcomeSkipped, 0)
			return 0, nil
		}
		logger.WithError(err).Error("Sweep failed")
		metrics.RecordSweep(name, metrics.OutcomeError, 0)
		return 0, err
	}

	metrics.RecordSweep(name, metrics.OutcomeSuccess, n)
	if logCounts {
		logger.Infof("Sweep completed, %d rows affected", n)
	}
	return n, nil
}
