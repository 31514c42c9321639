package prog

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

const (
	// UnknownPurge marks a stack purge the catalog cannot determine.
	UnknownPurge = -(1 << 30)
	// InvalidPurge marks a purge recorded but known to be wrong.
	InvalidPurge = UnknownPurge + 1
	// UnknownExtraPop marks a calling convention with caller-dependent
	// stack effect.
	UnknownExtraPop = -(1 << 30)
)

// Convention describes a calling convention's fixed storage choices.
type Convention struct {
	Name string
	// StackShift is the stack-pointer change performed by the call
	// mechanism itself (e.g. the pushed return address).
	StackShift int
	// ExtraPop is the callee's additional fixed stack adjustment, or
	// UnknownExtraPop.
	ExtraPop int
	// ArgLocations are the register/stack homes of positional arguments.
	ArgLocations []pcode.Varnode
	// ReturnStorage holds pointer-sized return values.
	ReturnStorage []pcode.Varnode
	// Killed is the caller-saved storage clobbered by any call.
	Killed []pcode.Varnode
}

// Param is a declared parameter: its storage and what its type says about
// pointer-ness.
type Param struct {
	Storage pcode.Varnode
	// Pointer is true for declared pointer types.
	Pointer bool
	// MaybePointer is true for undefined or integer types wide enough to
	// hold a pointer.
	MaybePointer bool
}

// Function is the catalog's view of one function.
type Function struct {
	Name  string
	Entry space.Address
	Body  *space.AddressSet
	// Inline causes the body to be walked as part of the caller's flow.
	Inline   bool
	NoReturn bool
	VarArgs  bool
	// SignatureKnown is true when the parameter list was declared rather
	// than assumed.
	SignatureKnown bool
	// CallFixup names a replacement micro-op sequence for call sites.
	CallFixup string
	// Conv is the calling convention; nil means the program default.
	Conv   *Convention
	Params []Param
	// Purge is the callee's stack purge in bytes, or UnknownPurge /
	// InvalidPurge. Zero is a valid declared purge; callers without
	// purge information must set UnknownPurge explicitly.
	Purge int
}

// PurgeValid reports whether the recorded purge can be trusted.
func (f *Function) PurgeValid() bool {
	return f.Purge != UnknownPurge && f.Purge != InvalidPurge
}
