package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// CREATE2 input layout: 0xff (1) + deployer (20) + salt (32) + initcodeHash (32) = 85
	Create2PrefixLen = 1 + common.AddressLength
	Create2SaltLen   = 32
	Create2SuffixLen = 32
	Create2InputLen  = Create2PrefixLen + Create2SaltLen + Create2SuffixLen
)

// Create2Address returns the address a CREATE2 deployment from deployer with
// the given salt and init code hash lands on.
func Create2Address(deployer common.Address, salt, initCodeHash common.Hash) common.Address {
	var input [Create2InputLen]byte
	input[0] = 0xff
	copy(input[1:Create2PrefixLen], deployer[:])
	copy(input[Create2PrefixLen:], salt[:])
	copy(input[Create2PrefixLen+Create2SaltLen:], initCodeHash[:])

	var addr common.Address
	var hashBuf [32]byte
	Create2AddressInto(sha3.NewLegacyKeccak256(), input[:], hashBuf[:], &addr)
	return addr
}

// Create2AddressInto hashes CREATE2 input and writes the 20-byte address into addr.
// Reuses the provided hasher to avoid allocations. inputBuf must be Create2InputLen (85),
// hashBuf must be at least 32 bytes.
func Create2AddressInto(hasher hash.Hash, inputBuf, hashBuf []byte, addr *common.Address) {
	hasher.Reset()
	hasher.Write(inputBuf)
	sum := hasher.Sum(hashBuf[:0])
	copy(addr[:], sum[12:32])
}

// HookBits returns the low 16 bits of an address, where the target protocol
// encodes hook permission flags.
func HookBits(addr common.Address) uint16 {
	return binary.BigEndian.Uint16(addr[common.AddressLength-2:])
}

// MatchesHookBits reports whether the masked low 16 bits of addr equal required.
func MatchesHookBits(addr common.Address, mask, required uint16) bool {
	return HookBits(addr)&mask == required
}

// Keccak256 calculates the keccak256 hash of the concatenated inputs
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, _ = h.Write(b)
	}
	return h.Sum(nil)
}

// ---- parsing helpers ----

func trimHexPrefix(s string) string {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && (h[0:2] == "0x" || h[0:2] == "0X") {
		h = h[2:]
	}
	return h
}

// DecodeHex decodes a hex string (with or without 0x). An empty string
// decodes to an empty slice.
func DecodeHex(hexStr string) ([]byte, error) {
	h := trimHexPrefix(hexStr)
	if len(h)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// ParseAddress converts a hex address string to an address
func ParseAddress(addr string) (common.Address, error) {
	h := trimHexPrefix(addr)
	if len(h) != 2*common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid address length: got %d hex chars, want 40", len(h))
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address hex: %w", err)
	}
	return common.BytesToAddress(b), nil
}

// ParseHash converts a 32-byte hex string to a hash. Shorter inputs are
// left-padded, so "0x2a" parses as the salt 42.
func ParseHash(s string) (common.Hash, error) {
	h := trimHexPrefix(s)
	if len(h) == 0 || len(h) > 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash length: got %d hex chars, want 1-64", len(h))
	}
	if len(h)%2 != 0 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash hex: %w", err)
	}
	return common.BytesToHash(b), nil
}
