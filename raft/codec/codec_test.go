package codec

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogKeyOrdersByIndex(t *testing.T) {
	indexes := []uint64{0, 1, 2, 10, 255, 256, 1 << 40}
	keys := make([][]byte, len(indexes))
	for i, idx := range indexes {
		keys[i] = LogKey(idx)
	}

	shuffled := append([][]byte(nil), keys...)
	sort.Slice(shuffled, func(i, j int) bool {
		return bytes.Compare(shuffled[i], shuffled[j]) < 0
	})

	assert.Equal(t, keys, shuffled, "byte order of LogKey must equal numeric order of the index")
}

func TestLogKeyRoundTrip(t *testing.T) {
	for _, idx := range []uint64{0, 1, 42, 1 << 32} {
		key := LogKey(idx)
		got, ok := DecodeLogIndex(key)
		require.True(t, ok)
		assert.Equal(t, idx, got)
	}
}

func TestPropertyAndLogKeysAreDisjoint(t *testing.T) {
	propKeys := []string{"currentTerm", "votedFor", "last_log_index", "cluster_config_index"}
	for _, name := range propKeys {
		pk := PropertyKey(name)
		assert.False(t, IsLogKey(pk), "property key %q must not look like a log key", name)
		_, ok := DecodeLogIndex(pk)
		assert.False(t, ok)
	}

	for _, idx := range []uint64{0, 1, 100} {
		lk := LogKey(idx)
		for _, name := range propKeys {
			assert.False(t, bytes.Equal(lk, PropertyKey(name)))
		}
	}
}

func TestDecodeLogIndexRejectsMalformed(t *testing.T) {
	_, ok := DecodeLogIndex(nil)
	assert.False(t, ok)

	_, ok = DecodeLogIndex([]byte{0x02, 1, 2, 3})
	assert.False(t, ok)

	_, ok = DecodeLogIndex(PropertyKey("currentTerm"))
	assert.False(t, ok)
}
