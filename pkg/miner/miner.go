package miner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/hook-salt-miner/internal/config"
	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/internal/logger"
	"github.com/screa/hook-salt-miner/internal/metrics"
	"github.com/screa/hook-salt-miner/pkg/oracle"
	"github.com/screa/hook-salt-miner/pkg/types"
	"github.com/screa/hook-salt-miner/pkg/worker"
)

// ErrInvalidRequest is returned by Mine for malformed requests. No attempts
// are made.
var ErrInvalidRequest = errors.New("invalid mining request")

// ErrSaltMismatch is returned by Verify when the predicted address does not
// carry the required hook bits.
var ErrSaltMismatch = errors.New("salt does not produce a matching address")

// BaseFunc derives the 32-bit base of the candidate sequence
type BaseFunc func(token, user common.Address) uint32

// Miner searches the salt sequence of a request for an address with the
// required hook bits
type Miner struct {
	logger           *logger.Logger
	metrics          *metrics.Metrics
	window           int
	progressInterval int
	logInterval      time.Duration
	verbose          bool
	baseFunc         BaseFunc
}

// Option configures a Miner
type Option func(*Miner)

// WithMetrics records attempts and outcomes in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(mn *Miner) { mn.metrics = m }
}

// WithBaseFunc replaces the keccak(token, user) base derivation
func WithBaseFunc(f BaseFunc) Option {
	return func(mn *Miner) { mn.baseFunc = f }
}

// NewMiner creates a new miner instance
func NewMiner(cfg *config.Config, log *logger.Logger, opts ...Option) *Miner {
	m := &Miner{
		logger:           log.WithComponent("miner"),
		window:           max(cfg.Workers, 1),
		progressInterval: cfg.ProgressInterval,
		logInterval:      time.Duration(cfg.LogInterval) * time.Second,
		verbose:          cfg.Verbose,
		baseFunc:         crypto.BaseNum,
	}
	if m.progressInterval <= 0 {
		m.progressInterval = 50
	}
	if m.logInterval <= 0 {
		m.logInterval = 5 * time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks the preconditions of Mine
func Validate(req *types.MiningRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	case req.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidRequest, req.MaxAttempts)
	case req.Timeout < time.Millisecond:
		return fmt.Errorf("%w: timeout must be at least 1ms, got %s", ErrInvalidRequest, req.Timeout)
	case req.TotalSupply != nil && (req.TotalSupply.Sign() < 0 || req.TotalSupply.BitLen() > 128):
		return fmt.Errorf("%w: total supply %s does not fit in uint128", ErrInvalidRequest, req.TotalSupply)
	case req.RequiredBits&^req.Mask != 0:
		return fmt.Errorf("%w: required bits 0x%04x fall outside mask 0x%04x", ErrInvalidRequest, req.RequiredBits, req.Mask)
	}
	return nil
}

// Mine returns the first candidate, in index order, whose predicted address
// matches req's hook bits. Search failures are reported through the Result
// outcome; the error is non-nil only for invalid input.
func (m *Miner) Mine(ctx context.Context, req *types.MiningRequest, predictor oracle.Predictor, onProgress types.ProgressFunc) (*types.Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if predictor == nil {
		return nil, fmt.Errorf("%w: nil predictor", ErrInvalidRequest)
	}

	start := time.Now()
	deadline := start.Add(req.Timeout)
	log := m.logger.WithRequest(req)

	var calls int64
	w := worker.NewWorker(req, predictor, m.baseFunc(req.Token, req.User), &calls)

	if m.verbose {
		ticker := time.NewTicker(m.logInterval)
		done := make(chan struct{})
		defer func() {
			ticker.Stop()
			close(done)
		}()
		go m.periodicLogger(log, ticker, done, start, &calls)

		log.Info("mining started", "window", m.window, "timeout", req.Timeout)
	}

	p := progress{fn: onProgress, interval: m.progressInterval, max: req.MaxAttempts}
	result := &types.Result{}

	finish := func(outcome types.Outcome) (*types.Result, error) {
		result.Outcome = outcome
		result.Duration = time.Since(start)
		p.complete(result.Attempts)
		m.metrics.RecordOutcome(outcome.String(), result.Duration)

		l := log.WithFields("outcome", outcome.String(), "attempts", result.Attempts,
			"oracle_errors", result.OracleErrors, "duration", result.Duration)
		if result.Found() {
			l.Info("salt found", "outer_salt", result.OuterSalt.Hex(), "address", result.Address.Hex())
		} else {
			l.WithError(result.LastOracleErr).Info("mining stopped")
		}
		return result, nil
	}

	batch := make([]uint64, 0, m.window)
	for next := 0; next < req.MaxAttempts; {
		batch = batch[:0]
		for len(batch) < m.window && next < req.MaxAttempts {
			if time.Now().After(deadline) || ctx.Err() != nil {
				break
			}
			batch = append(batch, uint64(next))
			next++
		}
		if len(batch) == 0 {
			if ctx.Err() != nil {
				return finish(types.OutcomeCancelled)
			}
			return finish(types.OutcomeTimedOut)
		}

		for _, res := range w.ProcessBatch(ctx, batch) {
			result.Attempts = int(res.Candidate.Index) + 1
			m.metrics.RecordAttempt()

			switch {
			case res.Err != nil:
				result.OracleErrors++
				result.LastOracleErr = res.Err
				log.WithError(res.Err).Warn("address prediction failed", "index", res.Candidate.Index)
			case res.IsMatch:
				result.OuterSalt = res.Candidate.OuterSalt
				result.InnerSalt = res.Candidate.InnerSalt
				result.Address = res.Address
				return finish(types.OutcomeFound)
			}
			p.tick(result.Attempts)
		}

		if ctx.Err() != nil {
			return finish(types.OutcomeCancelled)
		}
	}

	if result.OracleErrors == result.Attempts {
		return finish(types.OutcomeOracleUnavailable)
	}
	return finish(types.OutcomeExhausted)
}

// Verify re-derives the inner salt of outerSalt and checks the predicted
// address once. Used to trust a previously found salt without mining again.
func (m *Miner) Verify(ctx context.Context, req *types.MiningRequest, predictor oracle.Predictor, outerSalt common.Hash) (*types.Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start := time.Now()

	inner := crypto.InnerSalt(req.User, outerSalt, req.Encoding)
	addr, err := predictor.PredictAddress(ctx, inner, req)
	if err != nil {
		return nil, fmt.Errorf("verify salt %s: %w", outerSalt.Hex(), err)
	}
	if !crypto.MatchesHookBits(addr, req.Mask, req.RequiredBits) {
		return nil, fmt.Errorf("%w: %s", ErrSaltMismatch, addr.Hex())
	}

	return &types.Result{
		Outcome:   types.OutcomeFound,
		OuterSalt: outerSalt,
		InnerSalt: inner,
		Address:   addr,
		Duration:  time.Since(start),
	}, nil
}

// progress invokes the caller's callback every interval attempts and once
// on completion
type progress struct {
	fn       types.ProgressFunc
	interval int
	max      int
	last     int
}

func (p *progress) tick(attempts int) {
	if p.fn == nil || attempts%p.interval != 0 {
		return
	}
	p.last = attempts
	p.fn(attempts, p.max)
}

func (p *progress) complete(attempts int) {
	if p.fn == nil || (p.last == attempts && attempts != 0) {
		return
	}
	p.last = attempts
	p.fn(attempts, p.max)
}

// periodicLogger logs mining progress at regular intervals
func (m *Miner) periodicLogger(log *logger.Logger, ticker *time.Ticker, done <-chan struct{}, start time.Time, calls *int64) {
	for {
		select {
		case <-ticker.C:
			n := atomic.LoadInt64(calls)
			elapsed := time.Since(start)

			rate := 0.0
			if elapsed.Seconds() > 0 {
				rate = float64(n) / elapsed.Seconds()
			}
			log.Info("progress", "calls", n, "calls_per_sec", fmt.Sprintf("%.2f", rate), "elapsed", elapsed.Round(time.Second))
		case <-done:
			return
		}
	}
}
