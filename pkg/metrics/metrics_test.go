package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	obs := Observer{}

	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("sql_db_query", "error"))
	obs.ObserveToolCall("sql_db_query", true, 0.2)
	obs.ObserveToolCall("sql_db_query", false, 0.1)
	assert.Equal(t, before+1, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("sql_db_query", "error")))

	done := testutil.ToFloat64(RoundTransitionsTotal.WithLabelValues("done"))
	obs.ObserveRound(react.StateDone)
	assert.Equal(t, done+1, testutil.ToFloat64(RoundTransitionsTotal.WithLabelValues("done")))
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, logger.Discard(), addr) }()

	BuildInfo.WithLabelValues("test", "abc", "today").Set(1)

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ = io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(body), "funnel_agent_build_info")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
