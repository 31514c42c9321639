// Package state holds the machine state carried along control flow:
// a persistent map from varnodes to symbolic values. Snapshots are O(1)
// and never observe later writes, which is what makes saving state at
// every unexplored branch affordable.
package state

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
	"github.com/X-EcutiOnner/Ghidra/utils"
	"github.com/X-EcutiOnner/Ghidra/utils/tree"
)

// entry pairs a symbolic value with the address of the instruction
// whose execution produced it. A zero assignedAt means the binding was
// cleared rather than computed.
type entry struct {
	val        value.Value
	assignedAt space.Address
}

// Snapshot is an immutable copy of the varnode bindings. Restoring one
// discards every write made since it was taken.
type Snapshot struct {
	vals tree.Tree[pcode.Varnode, entry]
}

// Context is the mutable evaluation state threaded through a pass.
type Context struct {
	prog    prog.Program
	vals    tree.Tree[pcode.Varnode, entry]
	current space.Address

	stackSp *space.Space

	// knownStack survives snapshot/restore: once a stack-pointer value
	// is known to flow into an address, that fact holds for the whole
	// pass.
	knownStack map[space.Address]value.Value

	recording bool
	startVals map[space.Address]Snapshot
	endVals   map[space.Address]Snapshot
}

// New builds a fresh context. The stack pointer is seeded at offset 0
// of its own tracking space so frame accesses stay symbolic instead of
// collapsing to unknown.
func New(p prog.Program) *Context {
	c := &Context{
		prog:       p,
		vals:       tree.New[pcode.Varnode, entry](utils.HashableHasher[pcode.Varnode]()),
		knownStack: make(map[space.Address]value.Value),
	}
	sp := p.StackPointer()
	if !sp.IsNil() {
		c.stackSp = p.Spaces().Tracking("sp", sp.Size)
		c.vals = c.vals.Insert(sp, entry{
			val: value.MakeRel(c.stackSp, 0, sp.Size),
		})
	}
	return c
}

// StackSpace is the tracking space of the stack pointer, or nil when
// the program declared none.
func (c *Context) StackSpace() *space.Space { return c.stackSp }

// SetCurrent marks the instruction whose ops are being evaluated.
// Writes made after this call carry that address as their provenance.
func (c *Context) SetCurrent(a space.Address) { c.current = a }

// Current returns the address set by SetCurrent.
func (c *Context) Current() space.Address { return c.current }

// Read returns the symbolic value bound to a varnode. Constant-space
// varnodes are their own value. Anything never written reads as
// unknown.
func (c *Context) Read(v pcode.Varnode) value.Value {
	if v.IsConst() {
		return value.MakeConst(v.Off, v.Size)
	}
	if e, ok := c.vals.Lookup(v); ok {
		return e.val
	}
	return value.Bad
}

// Write binds a varnode to a deliberately computed value.
func (c *Context) Write(v pcode.Varnode, val value.Value) {
	c.vals = c.vals.Insert(v, entry{val: val, assignedAt: c.current})
}

// Clear discards any binding for a varnode. Subsequent reads are
// unknown and carry no provenance.
func (c *Context) Clear(v pcode.Varnode) {
	c.vals = c.vals.Insert(v, entry{val: value.Bad})
}

// LastAssigned reports where a varnode's current value was produced.
func (c *Context) LastAssigned(v pcode.Varnode) (space.Address, bool) {
	if e, ok := c.vals.Lookup(v); ok && !e.assignedAt.IsNone() {
		return e.assignedAt, true
	}
	return space.Address{}, false
}

// Snapshot captures the bindings as they stand.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{vals: c.vals}
}

// Restore replaces the bindings with a snapshot's.
func (c *Context) Restore(s Snapshot) {
	c.vals = s.vals
}

// FlowTo records that the stack pointer holds val on some edge into
// dest. The engine consults this when a call's stack effect is unknown
// and a fall-through state must be recovered from another edge.
func (c *Context) FlowTo(dest space.Address, val value.Value) {
	if val.IsUnknown() {
		return
	}
	if _, ok := c.knownStack[dest]; !ok {
		c.knownStack[dest] = val
	}
}

// KnownStackAt returns the stack-pointer value recorded for an address.
func (c *Context) KnownStackAt(dest space.Address) (value.Value, bool) {
	v, ok := c.knownStack[dest]
	return v, ok
}

// EnableRecording turns on per-instruction state capture. Off by
// default; the caches are only populated when a client asks for them.
func (c *Context) EnableRecording() {
	c.recording = true
	c.startVals = make(map[space.Address]Snapshot)
	c.endVals = make(map[space.Address]Snapshot)
}

// Recording reports whether per-instruction capture is on.
func (c *Context) Recording() bool { return c.recording }

// RecordStart captures the state observed on entry to an instruction.
// Only the first visit is kept.
func (c *Context) RecordStart(a space.Address) {
	if !c.recording {
		return
	}
	if _, ok := c.startVals[a]; !ok {
		c.startVals[a] = c.Snapshot()
	}
}

// RecordEnd captures the state after an instruction's ops ran.
func (c *Context) RecordEnd(a space.Address) {
	if !c.recording {
		return
	}
	if _, ok := c.endVals[a]; !ok {
		c.endVals[a] = c.Snapshot()
	}
}

// ValueAt returns the value a varnode held on entry to the instruction
// at a. Requires recording.
func (c *Context) ValueAt(v pcode.Varnode, a space.Address) (value.Value, bool) {
	s, ok := c.startVals[a]
	if !ok {
		return value.Bad, false
	}
	if e, ok := s.vals.Lookup(v); ok && !e.val.IsUnknown() {
		return e.val, true
	}
	return value.Bad, false
}

// EndValueAt is ValueAt for the state after the instruction executed.
func (c *Context) EndValueAt(v pcode.Varnode, a space.Address) (value.Value, bool) {
	s, ok := c.endVals[a]
	if !ok {
		return value.Bad, false
	}
	if e, ok := s.vals.Lookup(v); ok && !e.val.IsUnknown() {
		return e.val, true
	}
	return value.Bad, false
}
