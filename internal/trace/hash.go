package trace

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain keys for BLAKE3 keyed hashing: ASCII domain names zero-padded to
// 32 bytes. Changing them invalidates every stored hash of that domain.
var (
	traceDomainKey = [32]byte{
		'p', 'o', 'w', 'd', 'e', 'r', 'r', 'e', 'd', 'u', 'c', 'e', '.', 't', 'r', 'a',
		'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	runDomainKey = [32]byte{
		'p', 'o', 'w', 'd', 'e', 'r', 'r', 'e', 'd', 'u', 'c', 'e', '.', 'r', 'u', 'n',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// ComputeTraceHash computes the hash of a canonical trace encoding, as
// produced by ReductionTrace.CanonicalJSON.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	return keyedHex(traceDomainKey, [][]byte{canonicalEncoding})
}

// ComputeRunHash identifies a reduction by its inputs: the caller passes the
// input fingerprints and a canonical rendering of the options, in a fixed
// order. Each part is length-prefixed.
func ComputeRunHash(parts ...string) string {
	bs := make([][]byte, len(parts))
	for i, p := range parts {
		bs[i] = []byte(p)
	}
	return keyedHex(runDomainKey, bs)
}

func keyedHex(key [32]byte, fields [][]byte) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("trace: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}
