package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	minererrors "github.com/screa/hook-salt-miner/internal/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestDefaultConfigs(t *testing.T) {
	def := DefaultConfig()
	require.Equal(t, 3, def.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, def.BaseDelay)
	require.True(t, def.Jitter)

	rpc := RPCConfig()
	require.Equal(t, 3, rpc.MaxAttempts)
	require.Equal(t, 50*time.Millisecond, rpc.BaseDelay)
	require.Equal(t, time.Second, rpc.MaxDelay)

	require.Equal(t, 1, NoRetry().MaxAttempts)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", minererrors.New(minererrors.ErrorTypeNetwork, "eth_call", "flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		return 0, minererrors.New(minererrors.ErrorTypeNetwork, "eth_call", "down")
	})

	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, minererrors.GetContext(err)["max_attempts"])
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	revert := minererrors.New(minererrors.ErrorTypeRevert, "eth_call", "execution reverted")
	_, err := Do(context.Background(), fastConfig(5), func() (int, error) {
		calls++
		return 0, revert
	})

	require.ErrorIs(t, err, revert)
	require.Equal(t, 1, calls)
}

func TestDo_SingleAttemptReturnsCause(t *testing.T) {
	cause := minererrors.New(minererrors.ErrorTypeNetwork, "eth_call", "down")
	_, err := Do(context.Background(), NoRetry(), func() (int, error) {
		return 0, cause
	})
	require.Same(t, cause, err)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	_, err := Do(ctx, cfg, func() (int, error) {
		calls++
		cancel()
		return 0, minererrors.New(minererrors.ErrorTypeNetwork, "eth_call", "down")
	})

	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 1, calls)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	require.Equal(t, 10*time.Millisecond, cfg.calculateDelay(0))
	require.Equal(t, 20*time.Millisecond, cfg.calculateDelay(1))
	require.Equal(t, 40*time.Millisecond, cfg.calculateDelay(2))
	require.Equal(t, 50*time.Millisecond, cfg.calculateDelay(3))

	cfg.Jitter = true
	d := cfg.calculateDelay(0)
	require.GreaterOrEqual(t, d, 10*time.Millisecond)
	require.LessOrEqual(t, d, 11*time.Millisecond)
}
