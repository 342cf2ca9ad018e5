package lu

// A Permutation represents a permutation matrix of a fixed dimension.
// Row i of the matrix is the unit row with a 1 in column Row(i).
// Both the ordering and its inverse are maintained, so that callers can map
// positions in either direction in constant time.
type Permutation struct {
	rowOrdering    []int // rowOrdering[i] is the column holding the 1 in row i
	columnOrdering []int // inverse ordering: columnOrdering[j] is the row with a 1 in column j
}

// NewPermutation returns the identity permutation of dimension m.
func NewPermutation(m int) *Permutation {
	p := &Permutation{
		rowOrdering:    make([]int, m),
		columnOrdering: make([]int, m),
	}
	p.ResetToIdentity()
	return p
}

// Dim returns the dimension of the permutation.
func (p *Permutation) Dim() int {
	return len(p.rowOrdering)
}

// ResetToIdentity makes p the identity permutation again.
func (p *Permutation) ResetToIdentity() {
	for i := range p.rowOrdering {
		p.rowOrdering[i] = i
		p.columnOrdering[i] = i
	}
}

// SwapRows swaps rows i and j of the permutation matrix.
func (p *Permutation) SwapRows(i, j int) {
	p.rowOrdering[i], p.rowOrdering[j] = p.rowOrdering[j], p.rowOrdering[i]
	p.columnOrdering[p.rowOrdering[i]] = i
	p.columnOrdering[p.rowOrdering[j]] = j
}

// SwapColumns swaps columns i and j of the permutation matrix.
func (p *Permutation) SwapColumns(i, j int) {
	p.columnOrdering[i], p.columnOrdering[j] = p.columnOrdering[j], p.columnOrdering[i]
	p.rowOrdering[p.columnOrdering[i]] = i
	p.rowOrdering[p.columnOrdering[j]] = j
}

// Row returns the column index of the 1 in row i.
func (p *Permutation) Row(i int) int {
	return p.rowOrdering[i]
}

// Column returns the row index of the 1 in column j.
func (p *Permutation) Column(j int) int {
	return p.columnOrdering[j]
}
