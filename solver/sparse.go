package solver

// A SparseEntry is one (index, value) pair of a sparse vector.
type SparseEntry struct {
	Index int
	Value float64
}

// A SparseUnsortedList is a sparse vector: a sequence of (index, value)
// pairs with unique indices, in no particular order.
type SparseUnsortedList struct {
	entries []SparseEntry
}

// NewSparseUnsortedList returns an empty list.
func NewSparseUnsortedList() *SparseUnsortedList {
	return &SparseUnsortedList{}
}

// NewSparseFromDense builds a list from a dense vector, skipping zeros.
func NewSparseFromDense(dense []float64) *SparseUnsortedList {
	l := &SparseUnsortedList{}
	for i, v := range dense {
		if v != 0 {
			l.entries = append(l.entries, SparseEntry{Index: i, Value: v})
		}
	}
	return l
}

// Append adds an (index, value) pair. The index must not already be present.
func (l *SparseUnsortedList) Append(index int, value float64) {
	l.entries = append(l.entries, SparseEntry{Index: index, Value: value})
}

// Size returns the number of stored entries.
func (l *SparseUnsortedList) Size() int {
	return len(l.entries)
}

// Get returns the value stored at index, or 0 if the index is absent.
func (l *SparseUnsortedList) Get(index int) float64 {
	for _, e := range l.entries {
		if e.Index == index {
			return e.Value
		}
	}
	return 0
}

// Entries exposes the stored pairs for iteration.
func (l *SparseUnsortedList) Entries() []SparseEntry {
	return l.entries
}
