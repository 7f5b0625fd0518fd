package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/hook-salt-miner/pkg/types"
)

// OuterSaltModulus bounds the outer salt sequence. It is 0xFFFFFFFF, not 2^32.
const OuterSaltModulus = 0xFFFFFFFF

var innerSaltArgs = mustArguments("address", "bytes32")

func mustArguments(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(kinds))
	for _, kind := range kinds {
		t, err := abi.NewType(kind, "", nil)
		if err != nil {
			panic("invalid abi type " + kind + ": " + err.Error())
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// BaseNum returns the starting point of the salt sequence for a
// (token, user) pair: the low 32 bits of keccak256(token ++ user).
func BaseNum(token, user common.Address) uint32 {
	sum := Keccak256(token[:], user[:])
	return binary.BigEndian.Uint32(sum[len(sum)-4:])
}

// OuterSalt returns (base + index) mod OuterSaltModulus as a 32-byte word.
func OuterSalt(base uint32, index uint64) common.Hash {
	v := (uint64(base)%OuterSaltModulus + index%OuterSaltModulus) % OuterSaltModulus
	var salt common.Hash
	binary.BigEndian.PutUint64(salt[common.HashLength-8:], v)
	return salt
}

// InnerSalt hashes (user, outer) into the salt the factory actually deploys with.
func InnerSalt(user common.Address, outer common.Hash, enc types.SaltEncoding) common.Hash {
	if enc == types.EncodingABI {
		packed, err := innerSaltArgs.Pack(user, outer)
		if err != nil {
			// Arguments are statically typed; packing cannot fail.
			panic("pack inner salt: " + err.Error())
		}
		return common.BytesToHash(Keccak256(packed))
	}
	return common.BytesToHash(Keccak256(user[:], outer[:]))
}

// DeriveCandidate builds the candidate at index of the sequence starting at base.
func DeriveCandidate(base uint32, index uint64, user common.Address, enc types.SaltEncoding) types.Candidate {
	outer := OuterSalt(base, index)
	return types.Candidate{
		Index:     index,
		OuterSalt: outer,
		InnerSalt: InnerSalt(user, outer, enc),
	}
}
