package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"

	"github.com/screa/hook-salt-miner/internal/circuit"
	minererrors "github.com/screa/hook-salt-miner/internal/errors"
	"github.com/screa/hook-salt-miner/internal/retry"
	"github.com/screa/hook-salt-miner/pkg/types"
)

// DefaultPredictSignature is the factory's view function used to predict
// strategy addresses. Arguments: token, totalSupply, configData, salt, sender.
const DefaultPredictSignature = "predictAddress(address,uint128,bytes,bytes32,address)"

// ContractCaller executes eth_call. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCPredictor asks the factory contract for the predicted address over JSON-RPC.
type RPCPredictor struct {
	caller    ContractCaller
	fn        *w3.Func
	signature string
	retry     *retry.Config
	breaker   *circuit.Breaker
	closeFn   func()
}

// RPCOption configures an RPCPredictor
type RPCOption func(*rpcOptions)

type rpcOptions struct {
	signature string
	retry     *retry.Config
	breaker   *circuit.Config
}

// WithSignature overrides the view function signature. It must take
// (address, uint128, bytes, bytes32, address) and return an address.
func WithSignature(sig string) RPCOption {
	return func(o *rpcOptions) { o.signature = sig }
}

// WithRetry overrides the per-call retry policy
func WithRetry(cfg *retry.Config) RPCOption {
	return func(o *rpcOptions) { o.retry = cfg }
}

// WithBreaker overrides the circuit breaker configuration
func WithBreaker(cfg *circuit.Config) RPCOption {
	return func(o *rpcOptions) { o.breaker = cfg }
}

// NewRPCPredictor creates a predictor calling through caller
func NewRPCPredictor(caller ContractCaller, opts ...RPCOption) (*RPCPredictor, error) {
	o := &rpcOptions{
		signature: DefaultPredictSignature,
		retry:     retry.RPCConfig(),
		breaker:   circuit.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	fn, err := w3.NewFunc(o.signature, "address")
	if err != nil {
		return nil, fmt.Errorf("invalid predict signature %q: %w", o.signature, err)
	}

	// Reverts and malformed responses are answers, not outages.
	breakerCfg := *o.breaker
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = minererrors.IsRetryable
	}

	return &RPCPredictor{
		caller:    caller,
		fn:        fn,
		signature: o.signature,
		retry:     o.retry,
		breaker:   circuit.New(&breakerCfg),
	}, nil
}

// DialRPCPredictor connects to a JSON-RPC endpoint and creates a predictor on it
func DialRPCPredictor(ctx context.Context, url string, opts ...RPCOption) (*RPCPredictor, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	p, err := NewRPCPredictor(client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.closeFn = client.Close
	return p, nil
}

// Close releases the underlying connection if the predictor dialed it
func (p *RPCPredictor) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}

// BreakerState reports the state of the endpoint circuit breaker
func (p *RPCPredictor) BreakerState() circuit.State {
	return p.breaker.GetState()
}

// PredictAddress implements Predictor
func (p *RPCPredictor) PredictAddress(ctx context.Context, innerSalt common.Hash, req *types.MiningRequest) (common.Address, error) {
	totalSupply := req.TotalSupply
	if totalSupply == nil {
		totalSupply = new(big.Int)
	}
	configData := req.ConfigData
	if configData == nil {
		configData = []byte{}
	}

	input, err := p.fn.EncodeArgs(req.Token, totalSupply, configData, innerSalt, req.Deployer)
	if err != nil {
		return common.Address{}, minererrors.Wrap(err, minererrors.ErrorTypeValidation, "encode_predict_address",
			"failed to encode prediction call").
			WithContext("signature", p.signature)
	}

	factory := req.Factory
	msg := ethereum.CallMsg{To: &factory, Data: input}

	return circuit.ExecuteWithResult(ctx, p.breaker, func() (common.Address, error) {
		return retry.Do(ctx, p.retry, func() (common.Address, error) {
			out, err := p.caller.CallContract(ctx, msg, nil)
			if err != nil {
				return common.Address{}, classifyCallError(err).
					WithContext("factory", factory.Hex()).
					WithContext("salt", innerSalt.Hex())
			}
			if len(out) == 0 {
				return common.Address{}, minererrors.New(minererrors.ErrorTypeDecode, "predict_address",
					"empty return data (is the factory deployed?)").
					WithContext("factory", factory.Hex())
			}

			var addr common.Address
			if err := p.fn.DecodeReturns(out, &addr); err != nil {
				return common.Address{}, minererrors.Wrap(err, minererrors.ErrorTypeDecode, "predict_address",
					"failed to decode predicted address")
			}
			return addr, nil
		})
	})
}

// classifyCallError separates node-side rejections, which will fail again,
// from transport failures worth retrying.
func classifyCallError(err error) *minererrors.OracleError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return minererrors.Wrap(err, minererrors.ErrorTypeTimeout, "predict_address", "call interrupted")
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError {
			return minererrors.Wrap(err, minererrors.ErrorTypeNetwork, "predict_address", "endpoint unavailable")
		}
		return minererrors.Wrap(err, minererrors.ErrorTypeRevert, "predict_address", "endpoint rejected call")
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return minererrors.Wrap(err, minererrors.ErrorTypeRevert, "predict_address", "prediction call reverted").
			WithContext("revert_data", dataErr.ErrorData())
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return minererrors.Wrap(err, minererrors.ErrorTypeRevert, "predict_address", "node rejected prediction call").
			WithContext("code", rpcErr.ErrorCode())
	}

	return minererrors.Wrap(err, minererrors.ErrorTypeNetwork, "predict_address", "json-rpc transport failure")
}
