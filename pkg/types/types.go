package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Hook permission layout of the target protocol.
const (
	DefaultHookMask     uint16 = 0x3fff
	DefaultRequiredBits uint16 = 0x2000
)

// Search outcome errors. They are never returned from Mine itself, only from
// Result.Err for callers that prefer error flow.
var (
	ErrTimedOut          = errors.New("no valid salt found before the deadline")
	ErrExhausted         = errors.New("no valid salt found within the attempt budget")
	ErrOracleUnavailable = errors.New("address predictor failed on every attempt")
	ErrCancelled         = errors.New("mining cancelled")
)

// SaltEncoding selects how (user, outerSalt) is serialized before hashing
// into the inner salt.
type SaltEncoding int

const (
	// EncodingPacked is abi.encodePacked(address, bytes32): 20 + 32 bytes.
	EncodingPacked SaltEncoding = iota
	// EncodingABI is abi.encode(address, bytes32): two 32-byte words.
	EncodingABI
)

func (e SaltEncoding) String() string {
	switch e {
	case EncodingPacked:
		return "packed"
	case EncodingABI:
		return "abi"
	default:
		return "unknown"
	}
}

// ParseSaltEncoding parses "packed" or "abi".
func ParseSaltEncoding(s string) (SaltEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "packed":
		return EncodingPacked, nil
	case "abi":
		return EncodingABI, nil
	default:
		return 0, fmt.Errorf("unknown salt encoding %q (want packed or abi)", s)
	}
}

// MiningRequest holds the parameters of a single mining run
type MiningRequest struct {
	Factory     common.Address
	Token       common.Address
	TotalSupply *big.Int // uint128
	ConfigData  []byte

	// Deployer is passed as the sender of the prediction call.
	Deployer common.Address
	// User is folded into the salt derivation.
	User common.Address

	MaxAttempts int
	Timeout     time.Duration

	Mask         uint16
	RequiredBits uint16
	Encoding     SaltEncoding
}

// Candidate is a single point of the salt search sequence
type Candidate struct {
	Index     uint64
	OuterSalt common.Hash
	InnerSalt common.Hash
}

// Outcome discriminates a mining Result
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeExhausted
	OutcomeTimedOut
	OutcomeOracleUnavailable
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeOracleUnavailable:
		return "oracle_unavailable"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result represents a mining result
type Result struct {
	Outcome Outcome

	// Set only when Outcome is OutcomeFound.
	OuterSalt common.Hash
	InnerSalt common.Hash
	Address   common.Address

	Attempts int
	Duration time.Duration

	OracleErrors  int
	LastOracleErr error
}

// Found reports whether the search succeeded
func (r *Result) Found() bool {
	return r != nil && r.Outcome == OutcomeFound
}

// Err returns nil for a found salt and the matching outcome error otherwise.
// The last oracle error, if any, is wrapped alongside for diagnostics.
func (r *Result) Err() error {
	var base error
	switch r.Outcome {
	case OutcomeFound:
		return nil
	case OutcomeExhausted:
		base = ErrExhausted
	case OutcomeTimedOut:
		base = ErrTimedOut
	case OutcomeOracleUnavailable:
		base = ErrOracleUnavailable
	case OutcomeCancelled:
		base = ErrCancelled
	default:
		base = fmt.Errorf("unknown outcome %d", int(r.Outcome))
	}
	if r.LastOracleErr != nil {
		return fmt.Errorf("%w after %d attempts (last oracle error: %w)", base, r.Attempts, r.LastOracleErr)
	}
	return fmt.Errorf("%w after %d attempts", base, r.Attempts)
}

// ProgressFunc is invoked with the number of attempts made so far
type ProgressFunc func(attempts, maxAttempts int)

// WorkerResult represents the evaluation of a single candidate
type WorkerResult struct {
	Candidate Candidate
	Address   common.Address
	Err       error
	IsMatch   bool
}
