// Package oracle provides address predictors: the read-only call that maps a
// candidate inner salt to the address the factory would deploy to.
package oracle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/internal/metrics"
	"github.com/screa/hook-salt-miner/pkg/types"
)

// Predictor returns the deployment address for innerSalt under req.
// Implementations must be safe for concurrent use.
type Predictor interface {
	PredictAddress(ctx context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error)
}

// PredictorFunc adapts a function to the Predictor interface
type PredictorFunc func(ctx context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error)

func (f PredictorFunc) PredictAddress(ctx context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error) {
	return f(ctx, innerSalt, req)
}

// Create2Predictor computes addresses locally, assuming the factory deploys
// with CREATE2 and a known init code hash. Useful for dry runs.
type Create2Predictor struct {
	InitCodeHash common.Hash
}

func (p *Create2Predictor) PredictAddress(_ context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error) {
	return crypto.Create2Address(req.Factory, innerSalt, p.InitCodeHash), nil
}

type instrumented struct {
	next    Predictor
	metrics *metrics.Metrics
}

// Instrument records latency and failures of every call made through p
func Instrument(p Predictor, m *metrics.Metrics) Predictor {
	if m == nil {
		return p
	}
	return &instrumented{next: p, metrics: m}
}

func (p *instrumented) PredictAddress(ctx context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error) {
	start := time.Now()
	addr, err := p.next.PredictAddress(ctx, innerSalt, req)
	p.metrics.RecordOracleCall(time.Since(start), err)
	return addr, err
}
