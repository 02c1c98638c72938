package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// IsZeroAddress reports whether address is empty or the zero address.
func IsZeroAddress(address string) bool {
	if address == "" {
		return true
	}
	return common.HexToAddress(address) == (common.Address{})
}

// GetEventSignature returns the keccak256 hash of an event signature
func GetEventSignature(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// FormatFeeTier renders a fee expressed in hundredths of a basis point as a
// percentage, e.g. 3000 -> "0.30%".
func FormatFeeTier(fee uint32) string {
	return fmt.Sprintf("%.2f%%", float64(fee)/10000)
}

// ParseBlockNumber parses a decimal or 0x-prefixed hex block number
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("invalid block number %q", s)
	}
	return n.Uint64(), nil
}
