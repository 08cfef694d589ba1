package dataset

import "sort"

// Mask is a set of detector ids. The zero value is an empty mask ready
// to use; Add allocates on first write.
type Mask struct {
	ids map[DetectorID]struct{}
}

// NewMask builds a mask holding ids.
func NewMask(ids ...DetectorID) Mask {
	m := Mask{}
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// Has reports whether id is masked.
func (m Mask) Has(id DetectorID) bool {
	_, ok := m.ids[id]
	return ok
}

// Add masks id. Adding an id twice is a no-op.
func (m *Mask) Add(id DetectorID) {
	if m.ids == nil {
		m.ids = make(map[DetectorID]struct{})
	}
	m.ids[id] = struct{}{}
}

// Len returns the number of masked detectors.
func (m Mask) Len() int { return len(m.ids) }

// IDs returns the masked ids in ascending order.
func (m Mask) IDs() []DetectorID {
	out := make([]DetectorID, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of m.
func (m Mask) Clone() Mask {
	out := Mask{}
	for id := range m.ids {
		out.Add(id)
	}
	return out
}

// Union returns a new mask holding every id of m and o.
func (m Mask) Union(o Mask) Mask {
	out := m.Clone()
	for id := range o.ids {
		out.Add(id)
	}
	return out
}

// Equal reports whether m and o hold the same ids.
func (m Mask) Equal(o Mask) bool {
	if len(m.ids) != len(o.ids) {
		return false
	}
	for id := range m.ids {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// MarshalCBOR encodes the mask as a sorted array of ids so identical
// masks always produce identical bytes.
func (m Mask) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(m.IDs())
}

// UnmarshalCBOR decodes a mask written by MarshalCBOR.
func (m *Mask) UnmarshalCBOR(data []byte) error {
	var ids []DetectorID
	if err := decMode.Unmarshal(data, &ids); err != nil {
		return err
	}
	*m = NewMask(ids...)
	return nil
}
