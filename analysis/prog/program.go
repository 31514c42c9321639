package prog

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

// Program is the narrow contract the engine requires of its collaborators:
// the decoded listing, the function catalog, the symbol/reference queries
// of the listing store, and the annotation sink. Implementations must be
// safe for concurrent readers as long as the program is not mutated while
// a pass runs; AddReference is the only mutation the engine performs.
type Program interface {
	// Listing / decoder.
	InstructionAt(space.Address) *Instruction
	InstructionContaining(space.Address) *Instruction
	OpsOf(*Instruction) []pcode.Op
	FlowsOf(*Instruction) []space.Address

	// Function catalog.
	FunctionAt(space.Address) *Function
	FunctionContaining(space.Address) *Function
	DefaultConvention() *Convention

	// Listing store queries.
	ReferencesFrom(space.Address) []Reference
	HasReferencesTo(space.Address) bool
	HasSymbolAt(space.Address) bool
	Contains(space.Address) bool
	IsExecutable(space.Address) bool

	// Annotation sink. Each call is atomic from the caller's view.
	AddReference(Reference)

	// Address layout.
	Spaces() *space.Factory
	// MemorySpaces lists the loaded memory spaces a speculative offset
	// could fall in, default space first.
	MemorySpaces() []*space.Space
	DefaultSpace() *space.Space
	DefaultDataSpace() *space.Space
	StackPointer() pcode.Varnode
	ProgramCounter() pcode.Varnode
}

// InjectSite carries the addresses and resolved inputs of an injection
// request.
type InjectSite struct {
	// Base is the address of the instruction being replaced, Next its
	// fallthrough, Call the resolved callee (None for call-other).
	Base, Next, Call space.Address
	// Inputs are the resolved constant inputs of a call-other op.
	Inputs []value.Value
	// Output is the call-other output varnode, if any.
	Output *pcode.Varnode
}

// Injector supplies platform replacement micro-op sequences. A nil slice
// means no injection is registered; an error is treated as an absent
// injection and logged by the engine.
type Injector interface {
	CallFixup(name string, site InjectSite) ([]pcode.Op, error)
	CallOtherFixup(index uint64, site InjectSite) ([]pcode.Op, error)
	OnReturn(convention string, site InjectSite) ([]pcode.Op, error)
}

// NoInjections is an Injector with nothing registered.
type NoInjections struct{}

func (NoInjections) CallFixup(string, InjectSite) ([]pcode.Op, error)      { return nil, nil }
func (NoInjections) CallOtherFixup(uint64, InjectSite) ([]pcode.Op, error) { return nil, nil }
func (NoInjections) OnReturn(string, InjectSite) ([]pcode.Op, error)       { return nil, nil }
