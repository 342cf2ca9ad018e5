package solver

// A ContextDependent is notified when the context advances or backtracks,
// so it can save and restore its scoped state.
type ContextDependent interface {
	StoreLocal()
	RestoreLocal()
}

// A Context is a nestable scope counter. Registered participants store their
// local state on Push and restore it on Pop, so that every mutation made
// inside a push/pop pair is reverted exactly.
type Context struct {
	level        int
	participants []ContextDependent
}

// NewContext returns a context at level 0.
func NewContext() *Context {
	return &Context{}
}

// Register adds a participant. Participants registered after pushes only
// see scopes opened from that point on.
func (c *Context) Register(p ContextDependent) {
	c.participants = append(c.participants, p)
}

// Push opens a new scope.
func (c *Context) Push() {
	for _, p := range c.participants {
		p.StoreLocal()
	}
	c.level++
}

// Pop closes the innermost scope, restoring participant state.
// Popping at level 0 panics.
func (c *Context) Pop() {
	if c.level == 0 {
		panic("context: pop at level 0")
	}
	for _, p := range c.participants {
		p.RestoreLocal()
	}
	c.level--
}

// PopTo pops until the context is at the given level.
func (c *Context) PopTo(level int) {
	for c.level > level {
		c.Pop()
	}
}

// Level returns the current nesting level.
func (c *Context) Level() int {
	return c.level
}
