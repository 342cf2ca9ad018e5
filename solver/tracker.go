/******************************************************************************************[Heap.h]
Copyright (c) 2003-2006, Niklas Een, Niklas Sorensson
Copyright (c) 2007-2010, Niklas Sorensson

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
associated documentation files (the "Software"), to deal in the Software without restriction,
including without limitation the rights to use, copy, modify, merge, publish, distribute,
sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or
substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM,
DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT
OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
**************************************************************************************************/

package solver

// A PseudoImpactTracker maps each piecewise-linear constraint to a learned
// branching score and hands back the unfixed constraint of highest score.
// Scores are folded in as an exponential moving average of the observed
// impact of branching on the constraint.
//
// The heap with decrease/increase-key support is strongly inspired from
// Minisat's mtl/Heap.h.
type PseudoImpactTracker struct {
	constraints []PiecewiseLinearConstraint
	scores      []float64
	ids         map[PiecewiseLinearConstraint]int
	content     []int // heap content, constraint ids
	indices     []int // position of each id in content; -1 means absence
}

// movingAverageAlpha is the weight of the newest impact observation.
const movingAverageAlpha = 0.5

// NewPseudoImpactTracker returns an empty tracker.
func NewPseudoImpactTracker() *PseudoImpactTracker {
	return &PseudoImpactTracker{ids: make(map[PiecewiseLinearConstraint]int)}
}

// Initialize resets the tracker to track the given constraints, all with a
// zero score.
func (t *PseudoImpactTracker) Initialize(constraints []PiecewiseLinearConstraint) {
	t.constraints = make([]PiecewiseLinearConstraint, len(constraints))
	copy(t.constraints, constraints)
	t.scores = make([]float64, len(constraints))
	t.ids = make(map[PiecewiseLinearConstraint]int, len(constraints))
	t.content = t.content[:0]
	t.indices = make([]int, len(constraints))
	for i, c := range constraints {
		t.ids[c] = i
		t.indices[i] = -1
		t.insert(i)
	}
}

// Update folds a new impact observation into c's score.
func (t *PseudoImpactTracker) Update(c PiecewiseLinearConstraint, impact float64) {
	id, ok := t.ids[c]
	if !ok {
		return
	}
	t.scores[id] = (1-movingAverageAlpha)*t.scores[id] + movingAverageAlpha*impact
	t.update(id)
}

// Score returns c's current score.
func (t *PseudoImpactTracker) Score(c PiecewiseLinearConstraint) float64 {
	id, ok := t.ids[c]
	if !ok {
		return 0
	}
	return t.scores[id]
}

// TopUnfixed returns the unfixed, active constraint of highest score, or nil
// if every tracked constraint is fixed or inactive.
func (t *PseudoImpactTracker) TopUnfixed() PiecewiseLinearConstraint {
	// Pop until an unfixed constraint surfaces, then push everything back.
	var popped []int
	var top PiecewiseLinearConstraint
	for len(t.content) > 0 {
		id := t.removeMax()
		popped = append(popped, id)
		c := t.constraints[id]
		if c.IsActive() && !c.PhaseFixed() {
			top = c
			break
		}
	}
	for _, id := range popped {
		t.insert(id)
	}
	return top
}

func (t *PseudoImpactTracker) gt(i, j int) bool {
	return t.scores[i] > t.scores[j]
}

func heapLeft(i int) int   { return i*2 + 1 }
func heapRight(i int) int  { return (i + 1) * 2 }
func heapParent(i int) int { return (i - 1) >> 1 }

func (t *PseudoImpactTracker) percolateUp(i int) {
	x := t.content[i]
	p := heapParent(i)
	for i != 0 && t.gt(x, t.content[p]) {
		t.content[i] = t.content[p]
		t.indices[t.content[p]] = i
		i = p
		p = heapParent(p)
	}
	t.content[i] = x
	t.indices[x] = i
}

func (t *PseudoImpactTracker) percolateDown(i int) {
	x := t.content[i]
	for heapLeft(i) < len(t.content) {
		var child int
		if heapRight(i) < len(t.content) && t.gt(t.content[heapRight(i)], t.content[heapLeft(i)]) {
			child = heapRight(i)
		} else {
			child = heapLeft(i)
		}
		if !t.gt(t.content[child], x) {
			break
		}
		t.content[i] = t.content[child]
		t.indices[t.content[i]] = i
		i = child
	}
	t.content[i] = x
	t.indices[x] = i
}

func (t *PseudoImpactTracker) insert(id int) {
	t.indices[id] = len(t.content)
	t.content = append(t.content, id)
	t.percolateUp(t.indices[id])
}

func (t *PseudoImpactTracker) update(id int) {
	if t.indices[id] < 0 {
		t.insert(id)
		return
	}
	t.percolateUp(t.indices[id])
	t.percolateDown(t.indices[id])
}

func (t *PseudoImpactTracker) removeMax() int {
	x := t.content[0]
	t.content[0] = t.content[len(t.content)-1]
	t.indices[t.content[0]] = 0
	t.indices[x] = -1
	t.content = t.content[:len(t.content)-1]
	if len(t.content) > 1 {
		t.percolateDown(0)
	}
	return x
}
