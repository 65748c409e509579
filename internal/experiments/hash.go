package experiments

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/big"
)

// alternativeIndex deterministically maps (experimentName, identity) onto one
// of count alternatives. The MD5 hex digest of "name/identity" is read as a
// base-17 integer and reduced modulo count. The base is 17, not 16: changing
// it would silently reassign every identity persisted by earlier deployments.
//
// Callers must not change count on a live experiment; the function has no way
// to keep prior assignments stable across a resize.
func alternativeIndex(experimentName, identity string, count int) int {
	sum := md5.Sum([]byte(experimentName + "/" + identity))
	digest := hex.EncodeToString(sum[:])

	n, ok := new(big.Int).SetString(digest, 17)
	if !ok {
		// Hex digits are always valid base-17 digits; unreachable.
		return 0
	}
	return int(new(big.Int).Mod(n, big.NewInt(int64(count))).Int64())
}

// fingerprint returns a stable 10-character lowercase hex token for
// (experimentID, alternative): the last 10 characters of
// MD5("experiment:alternative"). It lets external collaborators (query
// parameter overrides, JS beacons) select an alternative without exposing
// experiment semantics. Non-cryptographic use; MD5 entropy makes collisions
// across pairs a non-issue in practice.
func fingerprint(experimentID string, alternative int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", experimentID, alternative)))
	digest := hex.EncodeToString(sum[:])
	return digest[len(digest)-10:]
}
