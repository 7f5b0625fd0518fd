package miner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/screa/hook-salt-miner/internal/config"
	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/internal/logger"
	"github.com/screa/hook-salt-miner/internal/metrics"
	"github.com/screa/hook-salt-miner/pkg/oracle"
	"github.com/screa/hook-salt-miner/pkg/types"
)

var (
	matching    = common.HexToAddress("0xABCD000000000000000000000000000000002000")
	nonMatching = common.HexToAddress("0xABCD000000000000000000000000000000000000")
	errOracle   = errors.New("execution reverted")
)

func testRequest(maxAttempts int) *types.MiningRequest {
	return &types.MiningRequest{
		Factory:      common.HexToAddress("0x00000000000000000000000000000000000fac70"),
		Token:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TotalSupply:  big.NewInt(1_000_000),
		Deployer:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		User:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		MaxAttempts:  maxAttempts,
		Timeout:      10 * time.Second,
		Mask:         types.DefaultHookMask,
		RequiredBits: types.DefaultRequiredBits,
	}
}

func newTestMiner(window int, opts ...Option) *Miner {
	cfg := config.NewConfig()
	cfg.Workers = window
	return NewMiner(cfg, logger.Discard(), opts...)
}

// indexPredictor answers by candidate index, recovered from the inner salt
type indexPredictor struct {
	index  map[common.Hash]uint64
	answer func(index uint64) (common.Address, error)
	calls  int64
}

func newIndexPredictor(req *types.MiningRequest, base uint32, answer func(uint64) (common.Address, error)) *indexPredictor {
	p := &indexPredictor{index: make(map[common.Hash]uint64), answer: answer}
	for i := 0; i < req.MaxAttempts; i++ {
		c := crypto.DeriveCandidate(base, uint64(i), req.User, req.Encoding)
		p.index[c.InnerSalt] = c.Index
	}
	return p
}

func (p *indexPredictor) PredictAddress(_ context.Context, salt common.Hash, _ *types.MiningRequest) (common.Address, error) {
	atomic.AddInt64(&p.calls, 1)
	return p.answer(p.index[salt])
}

func baseOf(req *types.MiningRequest) uint32 {
	return crypto.BaseNum(req.Token, req.User)
}

func TestMineFindsFirstMatchingIndex(t *testing.T) {
	for _, k := range []uint64{0, 1, 7, 49, 50, 99} {
		req := testRequest(100)
		p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
			if i >= k {
				return matching, nil
			}
			return nonMatching, nil
		})

		res, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
		require.NoError(t, err)
		require.Equal(t, types.OutcomeFound, res.Outcome)
		require.Equal(t, int(k)+1, res.Attempts)
		require.EqualValues(t, k+1, p.calls)
		require.Equal(t, crypto.OuterSalt(baseOf(req), k), res.OuterSalt)
		require.Equal(t, crypto.InnerSalt(req.User, res.OuterSalt, req.Encoding), res.InnerSalt)
		require.Equal(t, matching, res.Address)
		require.NoError(t, res.Err())
	}
}

// looseRequest matches one address in sixteen so local CREATE2 prediction
// finds a salt quickly
func looseRequest(maxAttempts int) *types.MiningRequest {
	req := testRequest(maxAttempts)
	req.Mask = 0x000f
	req.RequiredBits = 0x0001
	return req
}

func TestMineIsDeterministic(t *testing.T) {
	req := looseRequest(500)
	p := &oracle.Create2Predictor{InitCodeHash: common.HexToHash("0x1234")}

	first, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	second, err := newTestMiner(4).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)

	require.True(t, first.Found())
	require.Equal(t, first.Outcome, second.Outcome)
	require.Equal(t, first.OuterSalt, second.OuterSalt)
	require.Equal(t, first.Address, second.Address)
	require.Equal(t, first.Attempts, second.Attempts)
}

func TestMineExhausted(t *testing.T) {
	req := testRequest(25)
	p := newIndexPredictor(req, baseOf(req), func(uint64) (common.Address, error) {
		return nonMatching, nil
	})

	res, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeExhausted, res.Outcome)
	require.Equal(t, 25, res.Attempts)
	require.EqualValues(t, 25, p.calls)
	require.ErrorIs(t, res.Err(), types.ErrExhausted)
}

func TestMineTimesOut(t *testing.T) {
	req := testRequest(100)
	req.Timeout = 50 * time.Millisecond
	p := newIndexPredictor(req, baseOf(req), func(uint64) (common.Address, error) {
		time.Sleep(10 * time.Millisecond)
		return nonMatching, nil
	})

	res, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeTimedOut, res.Outcome)
	require.Less(t, res.Attempts, req.MaxAttempts)
	require.EqualValues(t, res.Attempts, p.calls)
	require.ErrorIs(t, res.Err(), types.ErrTimedOut)
}

func TestMineSkipsOracleErrors(t *testing.T) {
	req := testRequest(20)
	p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
		if i%2 == 0 {
			return common.Address{}, errOracle
		}
		return matching, nil
	})

	res, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeFound, res.Outcome)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, 1, res.OracleErrors)
	require.ErrorIs(t, res.LastOracleErr, errOracle)
}

func TestMineScenarioBaseZero(t *testing.T) {
	req := testRequest(5)
	zero := func(common.Address, common.Address) uint32 { return 0 }

	// Outer salt equals the index when the base is zero.
	p := newIndexPredictor(req, 0, func(i uint64) (common.Address, error) {
		if crypto.OuterSalt(0, i).Big().Uint64()%3 == 0 {
			return matching, nil
		}
		return nonMatching, nil
	})

	res, err := newTestMiner(1, WithBaseFunc(zero)).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeFound, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, common.Hash{}, res.OuterSalt)
}

func TestMineWindowLowestIndexWins(t *testing.T) {
	req := testRequest(16)
	var mu sync.Mutex
	var order []uint64

	// Index 5 matches slowly, index 6 matches immediately.
	p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
		if i == 5 {
			time.Sleep(30 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
		if i == 5 || i == 6 {
			return matching, nil
		}
		return nonMatching, nil
	})

	res, err := newTestMiner(4).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeFound, res.Outcome)
	require.Equal(t, 6, res.Attempts)
	require.Equal(t, crypto.OuterSalt(baseOf(req), 5), res.OuterSalt)
	// Launches never run past the window holding the winner.
	require.EqualValues(t, 8, p.calls)
	require.Equal(t, uint64(5), order[len(order)-1])
}

func TestMineOracleUnavailable(t *testing.T) {
	req := testRequest(10)
	p := newIndexPredictor(req, baseOf(req), func(uint64) (common.Address, error) {
		return common.Address{}, errOracle
	})

	res, err := newTestMiner(2).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeOracleUnavailable, res.Outcome)
	require.Equal(t, 10, res.Attempts)
	require.Equal(t, 10, res.OracleErrors)
	require.ErrorIs(t, res.Err(), types.ErrOracleUnavailable)
	require.ErrorIs(t, res.Err(), errOracle)
}

func TestMineCancelled(t *testing.T) {
	req := testRequest(1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
		if i == 9 {
			cancel()
		}
		return nonMatching, nil
	})

	res, err := newTestMiner(1).Mine(ctx, req, p, nil)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCancelled, res.Outcome)
	require.Equal(t, 10, res.Attempts)
	require.ErrorIs(t, res.Err(), types.ErrCancelled)
}

func TestMineInvalidRequest(t *testing.T) {
	p := oracle.PredictorFunc(func(context.Context, common.Hash, *types.MiningRequest) (common.Address, error) {
		t.Fatal("predictor must not be called")
		return common.Address{}, nil
	})
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 128)

	tests := []struct {
		name   string
		mutate func(*types.MiningRequest)
	}{
		{"zero attempts", func(r *types.MiningRequest) { r.MaxAttempts = 0 }},
		{"negative attempts", func(r *types.MiningRequest) { r.MaxAttempts = -1 }},
		{"zero timeout", func(r *types.MiningRequest) { r.Timeout = 0 }},
		{"sub millisecond timeout", func(r *types.MiningRequest) { r.Timeout = time.Microsecond }},
		{"supply over uint128", func(r *types.MiningRequest) { r.TotalSupply = tooLarge }},
		{"negative supply", func(r *types.MiningRequest) { r.TotalSupply = big.NewInt(-1) }},
		{"bits outside mask", func(r *types.MiningRequest) { r.Mask = 0x00ff; r.RequiredBits = 0x0100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(10)
			tt.mutate(req)
			res, err := newTestMiner(1).Mine(context.Background(), req, p, nil)
			require.ErrorIs(t, err, ErrInvalidRequest)
			require.Nil(t, res)
		})
	}

	_, err := newTestMiner(1).Mine(context.Background(), testRequest(10), nil, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMineProgressCadence(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		matchAt int // -1 for none
		want    []int
	}{
		{"exhausted off cadence", 120, -1, []int{50, 100, 120}},
		{"exhausted on cadence", 100, -1, []int{50, 100}},
		{"found early", 120, 10, []int{11}},
		{"found after first tick", 120, 60, []int{50, 61}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(tt.max)
			p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
				if tt.matchAt >= 0 && i == uint64(tt.matchAt) {
					return matching, nil
				}
				return nonMatching, nil
			})

			var got []int
			_, err := newTestMiner(3).Mine(context.Background(), req, p, func(attempts, maxAttempts int) {
				require.Equal(t, tt.max, maxAttempts)
				got = append(got, attempts)
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMineRecordsMetrics(t *testing.T) {
	m := metrics.New()
	req := testRequest(30)
	p := newIndexPredictor(req, baseOf(req), func(i uint64) (common.Address, error) {
		if i == 4 {
			return matching, nil
		}
		return nonMatching, nil
	})

	_, err := newTestMiner(1, WithMetrics(m)).Mine(context.Background(), req, p, nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "hook_salt_miner_mine_outcomes_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(m.Registry(), "hook_salt_miner_attempts_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestVerify(t *testing.T) {
	req := looseRequest(500)
	p := &oracle.Create2Predictor{InitCodeHash: common.HexToHash("0xbeef")}
	mn := newTestMiner(1)

	res, err := mn.Mine(context.Background(), req, p, nil)
	require.NoError(t, err)
	require.True(t, res.Found())

	verified, err := mn.Verify(context.Background(), req, p, res.OuterSalt)
	require.NoError(t, err)
	require.Equal(t, res.Address, verified.Address)
	require.Equal(t, res.InnerSalt, verified.InnerSalt)

	// A different user yields a different inner salt and a different address.
	other := *req
	other.User = common.HexToAddress("0x4444444444444444444444444444444444444444")
	verified, err = mn.Verify(context.Background(), &other, p, res.OuterSalt)
	if err == nil {
		require.NotEqual(t, res.Address, verified.Address)
	} else {
		require.ErrorIs(t, err, ErrSaltMismatch)
	}
}
