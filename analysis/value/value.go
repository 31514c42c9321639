// Package value defines the abstract value domain of the propagation
// engine: a value is a known constant, an offset relative to some symbolic
// base space, or unknown. Arithmetic over values is total and degrades to
// unknown instead of failing.
package value

import (
	"fmt"

	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

type Kind uint8

const (
	// Unknown is the bottom of the domain; it absorbs every operation.
	Unknown Kind = iota
	// Const is a known fixed-width constant.
	Const
	// SpaceRel is an offset from a symbolic base, e.g. "initial stack
	// pointer + 8" or "base of an overlay segment + n".
	SpaceRel
)

// Value is the abstract value tracked for a storage location. The zero
// Value is Unknown.
type Value struct {
	Kind Kind
	// Base is the symbolic base space of a SpaceRel value.
	Base *space.Space
	// Off is the constant, or the offset from Base.
	Off uint64
	// Size in bytes of the value, at most 8.
	Size int
}

// Bad is the unknown value.
var Bad = Value{}

// MakeConst builds a constant, masked to size bytes.
func MakeConst(v uint64, size int) Value {
	return Value{Kind: Const, Off: v & space.SizeMask(size), Size: size}
}

// MakeRel builds a value relative to a symbolic base space.
func MakeRel(base *space.Space, off uint64, size int) Value {
	return Value{Kind: SpaceRel, Base: base, Off: off & space.SizeMask(size), Size: size}
}

func (v Value) IsUnknown() bool { return v.Kind == Unknown }
func (v Value) IsConst() bool   { return v.Kind == Const }
func (v Value) IsRel() bool     { return v.Kind == SpaceRel }

// Const returns the constant payload.
func (v Value) Const() (uint64, bool) {
	if v.Kind != Const {
		return 0, false
	}
	return v.Off, true
}

// Signed sign-extends the payload from the value's size to 64 bits.
func (v Value) Signed() int64 {
	return signExtend(v.Off, v.Size)
}

func (v Value) String() string {
	switch v.Kind {
	case Const:
		return fmt.Sprintf("#%x:%d", v.Off, v.Size)
	case SpaceRel:
		return fmt.Sprintf("%s+%x:%d", v.Base.Name, v.Off, v.Size)
	}
	return "??"
}

// Equal is structural equality, not the domain's comparison operator.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Unknown:
		return true
	default:
		return v.Base == o.Base && v.Off == o.Off && v.Size == o.Size
	}
}

func signExtend(v uint64, size int) int64 {
	if size <= 0 || size >= 8 {
		return int64(v)
	}
	shift := 64 - 8*size
	return int64(v<<shift) >> shift
}

// narrower picks the output size of a binary op: the narrower of the two
// operand sizes, ignoring unsized (0) operands.
func narrower(a, b Value) int {
	as, bs := a.Size, b.Size
	switch {
	case as == 0:
		return bs
	case bs == 0 || as < bs:
		return as
	}
	return bs
}
