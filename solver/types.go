package solver

// Basic types shared across the core.

// Status is the status of a query at a given moment.
type Status byte

const (
	// Indet means the query is not proven sat or unsat yet.
	Indet = Status(iota)
	// Sat means a satisfying assignment was found.
	Sat
	// Unsat means the query has no satisfying assignment.
	Unsat
)

func (s Status) String() string {
	switch s {
	case Indet:
		return "INDETERMINATE"
	case Sat:
		return "SAT"
	case Unsat:
		return "UNSAT"
	default:
		panic("invalid status")
	}
}

// BoundKind distinguishes lower-bound from upper-bound tightenings.
type BoundKind byte

const (
	// LB marks a lower bound.
	LB = BoundKind(iota)
	// UB marks an upper bound.
	UB
)

func (k BoundKind) String() string {
	if k == LB {
		return "LB"
	}
	return "UB"
}

// A Tightening is a request to tighten one bound of one variable.
type Tightening struct {
	Variable int
	Value    float64
	Kind     BoundKind
}

// A RowEntry is one addend of a tableau row.
type RowEntry struct {
	Var         int
	Coefficient float64
}

// A TableauRow is one equation of the inverted basis,
//
//	lhs = scalar + Σ row[i].Coefficient · x(row[i].Var)
//
// over the non-basic variables.
type TableauRow struct {
	Scalar float64
	Lhs    int
	Row    []RowEntry
}

// NewTableauRow returns a row with size addend slots.
func NewTableauRow(size int) *TableauRow {
	return &TableauRow{Row: make([]RowEntry, size)}
}

// Coefficient returns the i'th coefficient of the row.
func (r *TableauRow) Coefficient(i int) float64 {
	return r.Row[i].Coefficient
}
