package propagate

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/state"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

// Evaluator is the caller-supplied policy object consulted during a
// pass. Callbacks returning stop=true terminate the whole pass; the
// engine then returns whatever it accumulated so far. Embed
// BaseEvaluator to implement only the callbacks you care about.
type Evaluator interface {
	// BeforeInstruction and AfterInstruction bracket each instruction.
	BeforeInstruction(c *state.Context, in *prog.Instruction) (stop bool)
	AfterInstruction(c *state.Context, in *prog.Instruction) (stop bool)

	// IndirectDestination sees each resolved computed jump or call
	// target before an edge is queued for it.
	IndirectDestination(c *state.Context, in *prog.Instruction, dest space.Address) (stop bool)

	// ReturnValue sees the value flowing out of a return.
	ReturnValue(c *state.Context, in *prog.Instruction, v value.Value) (stop bool)

	// Constant vets a speculative constant before it becomes a
	// reference candidate. It may rewrite the value; ok=false discards
	// the candidate.
	Constant(c *state.Context, in *prog.Instruction, v value.Value, t prog.RefType) (out value.Value, ok bool)

	// Reference vets a fully resolved candidate; false discards it.
	Reference(c *state.Context, in *prog.Instruction, ref prog.Reference) bool

	// SymbolicReference decides whether a space-relative candidate
	// (offset from a symbolic base) should still be annotated.
	SymbolicReference(c *state.Context, in *prog.Instruction, v value.Value, t prog.RefType) bool

	// FollowFalseBranches gates queuing the not-taken side of a
	// conditional branch with an unknown condition.
	FollowFalseBranches() bool
}

// BaseEvaluator is the no-op Evaluator: nothing stops the pass, all
// candidates are accepted, symbolic candidates are dropped, both sides
// of unknown conditionals are explored.
type BaseEvaluator struct{}

func (BaseEvaluator) BeforeInstruction(*state.Context, *prog.Instruction) bool { return false }
func (BaseEvaluator) AfterInstruction(*state.Context, *prog.Instruction) bool  { return false }

func (BaseEvaluator) IndirectDestination(*state.Context, *prog.Instruction, space.Address) bool {
	return false
}

func (BaseEvaluator) ReturnValue(*state.Context, *prog.Instruction, value.Value) bool {
	return false
}

func (BaseEvaluator) Constant(_ *state.Context, _ *prog.Instruction, v value.Value, _ prog.RefType) (value.Value, bool) {
	return v, true
}

func (BaseEvaluator) Reference(*state.Context, *prog.Instruction, prog.Reference) bool {
	return true
}

func (BaseEvaluator) SymbolicReference(*state.Context, *prog.Instruction, value.Value, prog.RefType) bool {
	return false
}

func (BaseEvaluator) FollowFalseBranches() bool { return true }

var _ Evaluator = BaseEvaluator{}
