package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	m := New()

	m.RecordAttempt()
	m.RecordAttempt()
	m.RecordOracleCall(10*time.Millisecond, nil)
	m.RecordOracleCall(10*time.Millisecond, errors.New("down"))
	m.RecordOutcome("found", time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(m.attempts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.oracleErrors))
	require.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("found")))
	require.Equal(t, 1, testutil.CollectAndCount(m.oracleLatency, "hook_salt_miner_oracle_call_seconds"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordAttempt()
		m.RecordOracleCall(time.Millisecond, errors.New("down"))
		m.RecordOutcome("exhausted", time.Second)
	})
}

func TestStartServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New()
	m.RecordAttempt()

	addr, err := StartServer(ctx, m, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "hook_salt_miner_attempts_total 1")
}
