package dataset

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

// Fingerprint is the hex-encoded BLAKE3 keyed digest of a dataset's
// content.
//
// Includes: kind, unit, spectra (detector geometry, x, y, e, events), run
// metadata, parameters, masked ids, spectrum axis and contributors.
// Excludes: Name.
type Fingerprint string

// String returns the hex digest.
func (f Fingerprint) String() string { return string(f) }

// fingerprintKey is the 32-byte domain key for dataset fingerprints:
// the ASCII domain name zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'p', 'o', 'w', 'd', 'e', 'r', 'r', 'e', 'd', 'u', 'c', 'e', '.', 'd', 'a', 't',
	'a', 's', 'e', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// fieldWriter feeds length-prefixed fields into a hasher so adjacent
// fields can never run into each other.
type fieldWriter struct {
	h *blake3.Hasher
}

func (w *fieldWriter) bytes(data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	w.h.Write(n[:])
	w.h.Write(data)
}

func (w *fieldWriter) string(s string) { w.bytes([]byte(s)) }

// uint hashes v as an 8-byte field. The value needs its own buffer: bytes
// writes the length prefix before the payload.
func (w *fieldWriter) uint(v uint64) {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], v)
	w.bytes(val[:])
}

func (w *fieldWriter) float(v float64) { w.uint(math.Float64bits(v)) }

func (w *fieldWriter) floats(vs []float64) {
	w.uint(uint64(len(vs)))
	for _, v := range vs {
		w.float(v)
	}
}

// ComputeFingerprint returns the content fingerprint of d.
//
// Two datasets with equal content under different names share a
// fingerprint. Maps are walked in sorted key order.
func ComputeFingerprint(d *Dataset) Fingerprint {
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("dataset: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	w := &fieldWriter{h: h}

	w.string(string(d.Kind))
	w.string(d.Unit)

	w.uint(uint64(len(d.Spectra)))
	for _, s := range d.Spectra {
		w.uint(uint64(uint32(s.Detector.ID)))
		w.float(s.Detector.Position.X)
		w.float(s.Detector.Position.Y)
		w.float(s.Detector.Position.Z)
		if s.Detector.Monitor {
			w.uint(1)
		} else {
			w.uint(0)
		}
		w.floats(s.X)
		w.floats(s.Y)
		w.floats(s.E)
		w.uint(uint64(len(s.Events)))
		for _, ev := range s.Events {
			w.float(ev.X)
			w.float(ev.Weight)
		}
	}

	if d.Run.ProtonCharge != nil {
		w.uint(1)
		w.float(*d.Run.ProtonCharge)
	} else {
		w.uint(0)
	}
	logKeys := sortedKeys(d.Run.Logs)
	w.uint(uint64(len(logKeys)))
	for _, k := range logKeys {
		w.string(k)
		w.float(d.Run.Logs[k])
	}

	paramKeys := sortedKeys(d.Parameters)
	w.uint(uint64(len(paramKeys)))
	for _, k := range paramKeys {
		w.string(k)
		w.float(d.Parameters[k])
	}

	masked := d.Masked.IDs()
	w.uint(uint64(len(masked)))
	for _, id := range masked {
		w.uint(uint64(uint32(id)))
	}

	w.floats(d.Axis)
	w.string(d.AxisUnit)

	w.uint(uint64(len(d.Contributors)))
	for _, id := range d.Contributors {
		w.uint(uint64(uint32(id)))
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
