package transact

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SameAddress compares two token addresses ignoring case. Hex addresses are
// compared as EVM addresses so checksummed and lower-cased forms match.
func SameAddress(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}

// NormalizeAddress returns the lower-cased form used in cache keys and dedup keys.
func NormalizeAddress(a string) string {
	if common.IsHexAddress(a) {
		return strings.ToLower(common.HexToAddress(a).Hex())
	}
	return strings.ToLower(a)
}
