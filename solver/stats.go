package solver

import "time"

// Statistics are counters about the search and deduction work performed.
// They are provided for information purpose only.
type Statistics struct {
	NumSplits            uint64
	NumPops              uint64
	NumVisitedTreeStates uint64
	NumContextPushes     uint64
	NumContextPops       uint64

	CurrentDecisionLevel uint64
	MaxDecisionLevel     uint64

	NumRowsExaminedByRowTightener      uint64
	NumTighteningsFromExplicitBasis    uint64
	NumTighteningsFromConstraintMatrix uint64
	NumTighteningsFromRows             uint64

	TimeSmtCore     time.Duration
	TimeContextPush time.Duration
	TimeContextPop  time.Duration
}

func (s *Statistics) observeDecisionLevel(level int) {
	s.CurrentDecisionLevel = uint64(level)
	if uint64(level) > s.MaxDecisionLevel {
		s.MaxDecisionLevel = uint64(level)
	}
}
