// Package codec implements Component A: a bijective encoding of
// (namespace, index) into an ordered byte key space. Two namespaces
// share one keyspace — internal properties and the log — and must
// sort disjointly so a range scan over log keys yields exactly the
// log, in index order.
//
// Grounded in the teacher's storage/bbolt_storage.go uint64ToBytes /
// bytesToUint64 helpers, generalized into a namespaced, total and
// injective codec.
package codec

import "encoding/binary"

const (
	// nsProperty and nsLog are the two disjoint namespace prefixes.
	// Choosing nsProperty < nsLog means a bbolt bucket iterated in key
	// order never interleaves the two namespaces, but in practice we
	// keep them in separate bbolt buckets anyway and use the prefix
	// only to make the encoding's disjointness a property of the
	// codec itself, not an accident of bucket layout.
	nsProperty byte = 0x01
	nsLog      byte = 0x02
)

// keyWidth is 1 namespace byte + 8 big-endian index bytes.
const keyWidth = 9

// PropertyKey encodes an internal-property name into the ordered key
// space. Property keys of different names are not required to sort
// meaningfully relative to each other — only relative to log keys.
func PropertyKey(name string) []byte {
	b := make([]byte, 0, 1+len(name))
	b = append(b, nsProperty)
	b = append(b, name...)
	return b
}

// LogKey encodes a log index into the ordered key space. Fixed-width
// big-endian encoding means byte-lexicographic order equals numeric
// order over the index.
func LogKey(index uint64) []byte {
	b := make([]byte, keyWidth)
	b[0] = nsLog
	binary.BigEndian.PutUint64(b[1:], index)
	return b
}

// DecodeLogIndex recovers the index from a key produced by LogKey. The
// second return value is false if key is not a well-formed log key
// (e.g. it's a property key, or malformed).
func DecodeLogIndex(key []byte) (index uint64, ok bool) {
	if len(key) != keyWidth || key[0] != nsLog {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}

// IsLogKey reports whether key was produced by LogKey.
func IsLogKey(key []byte) bool {
	return len(key) == keyWidth && key[0] == nsLog
}

// LogKeyPrefix is the single byte that begins every log key. A bbolt
// cursor seeking this value lands on the first log entry, if any.
var LogKeyPrefix = []byte{nsLog}
