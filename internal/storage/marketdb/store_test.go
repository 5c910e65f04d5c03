package marketdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBalanceLockKeysDistinct(t *testing.T) {
	keys := []BalanceKey{
		{UserID: 1, AssetID: 1},
		{UserID: 1, AssetID: 2},
		{UserID: 2, AssetID: 1},
		{UserID: 1, AssetID: 0xFFFFFFFF},
		{UserID: 0xFFFFFFFF, AssetID: 1},
		{UserID: 0xFFFFFFFF, AssetID: 0xFFFFFFFF},
	}
	seen := make(map[int64]BalanceKey, len(keys))
	for _, k := range keys {
		prev, dup := seen[k.lockKey()]
		assert.False(t, dup, "keys %+v and %+v collide", prev, k)
		seen[k.lockKey()] = k
	}
}
