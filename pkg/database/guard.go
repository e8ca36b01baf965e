package database

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const guardAttempts = 3

// WithRetry runs fn with a live pool, re-acquiring the pool when it is
// missing or closed. Transient errors (connection reset, pool closed
// mid-call) are retried up to 3 times with linear backoff; everything else
// propagates on the first attempt.
func (db *PostgreSQL) WithRetry(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	var lastErr error

	for attempt := 1; attempt <= guardAttempts; attempt++ {
		pool, err := db.Pool(ctx)
		if err != nil {
			lastErr = err
		} else {
			callCtx := ctx
			var cancel context.CancelFunc
			if db.cfg.CommandTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, db.cfg.CommandTimeout)
			}
			err = fn(callCtx, pool)
			if cancel != nil {
				cancel()
			}
			if err == nil {
				return nil
			}
			if !IsTransient(err) {
				return err
			}
			lastErr = err
			db.markBroken()
		}

		if attempt < guardAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return lastErr
}

// markBroken flags the pool so the next Pool call reconnects.
func (db *PostgreSQL) markBroken() {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
}

// IsTransient reports whether err is an infrastructure failure worth a
// retry. Logic errors (constraint violations, parse failures, not-found)
// are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08: connection exceptions
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "closed pool") ||
		strings.Contains(msg, "connection reset")
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
