package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/pkg/oracle"
	"github.com/screa/hook-salt-miner/pkg/types"
)

// Worker derives candidates and checks their predicted addresses
type Worker struct {
	request   *types.MiningRequest
	predictor oracle.Predictor
	base      uint32
	attempts  *int64
}

// NewWorker creates a new worker instance. attempts is incremented once per
// oracle call and may be shared with a progress reporter.
func NewWorker(req *types.MiningRequest, predictor oracle.Predictor, base uint32, attempts *int64) *Worker {
	return &Worker{
		request:   req,
		predictor: predictor,
		base:      base,
		attempts:  attempts,
	}
}

// Candidate derives the candidate at index without calling the oracle
func (w *Worker) Candidate(index uint64) types.Candidate {
	return crypto.DeriveCandidate(w.base, index, w.request.User, w.request.Encoding)
}

// Evaluate derives the candidate at index, asks the oracle for its address
// and checks it against the hook bit pattern
func (w *Worker) Evaluate(ctx context.Context, index uint64) *types.WorkerResult {
	cand := w.Candidate(index)

	addr, err := w.predictor.PredictAddress(ctx, cand.InnerSalt, w.request)
	atomic.AddInt64(w.attempts, 1)
	if err != nil {
		return &types.WorkerResult{Candidate: cand, Err: err}
	}

	return &types.WorkerResult{
		Candidate: cand,
		Address:   addr,
		IsMatch:   w.matches(addr),
	}
}

// ProcessBatch evaluates indices concurrently. Results are returned in the
// order of indices, not completion order.
func (w *Worker) ProcessBatch(ctx context.Context, indices []uint64) []*types.WorkerResult {
	results := make([]*types.WorkerResult, len(indices))
	if len(indices) == 1 {
		results[0] = w.Evaluate(ctx, indices[0])
		return results
	}

	var wg sync.WaitGroup
	for i, index := range indices {
		i, index := i, index
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = w.Evaluate(ctx, index)
		}()
	}
	wg.Wait()
	return results
}

func (w *Worker) matches(addr common.Address) bool {
	return crypto.MatchesHookBits(addr, w.request.Mask, w.request.RequiredBits)
}
