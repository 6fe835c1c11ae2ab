package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funnel_agent_build_info",
			Help: "Build information of the funnel agent",
		},
		[]string{"version", "commit", "date"},
	)

	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_questions_total",
			Help: "Total number of questions answered",
		},
		[]string{"status"},
	)

	RoundTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_round_transitions_total",
			Help: "Total number of agent loop state transitions",
		},
		[]string{"state"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_agent_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_agent_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"tool_name"},
	)
)

// Observer records agent loop events in the package collectors.
type Observer struct{}

var _ react.Observer = Observer{}

func (Observer) ObserveRound(state react.State) {
	RoundTransitionsTotal.WithLabelValues(state.String()).Inc()
}

func (Observer) ObserveToolCall(name string, isError bool, seconds float64) {
	status := "success"
	if isError {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(name, status).Inc()
	ToolCallDuration.WithLabelValues(name).Observe(seconds)
}

// Serve exposes /metrics on addr until ctx is done. Listener errors are
// returned; a clean shutdown returns nil.
func Serve(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
