// Package clickhousetesting starts a throwaway ClickHouse server for tests and
// seeds it with a small clickstream fixture.
package clickhousetesting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/funnel-agent/pkg/clickhouse"
	"github.com/malbeclabs/funnel-agent/pkg/logger"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

const (
	defaultImage    = "clickhouse/clickhouse-server:latest"
	defaultDatabase = "funnel"
	startTries      = 3
)

type DBConfig struct {
	Database string
	Username string
	Password string
	Image    string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}
	return nil
}

// NewDB starts a ClickHouse container and returns a connected client. It is
// skipped with -short.
func NewDB(t testing.TB, cfg *DBConfig) *clickhouse.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ClickHouse container test in short mode")
	}
	if cfg == nil {
		cfg = &DBConfig{}
	}
	require.NoError(t, cfg.Validate())
	ctx := t.Context()

	container, err := retry(ctx, func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx, cfg.Image,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	require.NoError(t, err, "failed to start ClickHouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate ClickHouse container: %v", err)
		}
	})

	addr, err := container.ConnectionHost(ctx)
	require.NoError(t, err)

	client, err := retry(ctx, func() (*clickhouse.Client, error) {
		return clickhouse.NewClient(ctx, &clickhouse.Config{
			Logger:   logger.Discard(),
			Addr:     addr,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	})
	require.NoError(t, err, "failed to connect to ClickHouse")
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close ClickHouse: %v", err)
		}
	})
	return client
}

// SeedClickstream creates a clickstream_events fact table with two users: u1
// views and purchases, u2 only views.
func SeedClickstream(t testing.TB, db *clickhouse.Client) {
	t.Helper()
	ctx := t.Context()

	require.NoError(t, db.Conn().Exec(ctx, `
		CREATE TABLE clickstream_events (
			user_id String,
			event_type String COMMENT 'view, click, save or purchase',
			ts DateTime
		) ENGINE = MergeTree ORDER BY ts`))
	require.NoError(t, db.Conn().Exec(ctx, `
		INSERT INTO clickstream_events VALUES
			('u1', 'view', now()), ('u1', 'purchase', now()), ('u2', 'view', now())`))
}

// retry runs op until it succeeds, fails with an error that is not a startup
// race, or runs out of tries.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isStartupRace(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(startTries))
}

func isStartupRace(err error) bool {
	msg := err.Error()
	for _, s := range []string{"wait until ready", "handshake", "failed to ping", "connection refused", "connection reset", "timeout", "context deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
