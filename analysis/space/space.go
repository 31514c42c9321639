// Package space models address spaces and addresses. Registers, stack
// cells and memory cells are all addressed uniformly as an offset inside
// some space; only the kind of the space differs.
package space

import (
	"fmt"
)

type Kind uint8

const (
	// RAM is an ordinary loaded memory space.
	RAM Kind = iota
	// Overlay is a space layered transparently over a sub-range of a base
	// space. An overlay always resolves to exactly one physical base space.
	Overlay
	// Register is the register file.
	Register
	// Unique holds compiler temporaries of the micro-op sequence.
	Unique
	// Constant is the space of literal values.
	Constant
	// External addresses name imports outside the loaded image.
	External
	// Tracking spaces are synthesized per register to represent values
	// known only relative to the register's initial contents.
	Tracking
)

func (k Kind) String() string {
	switch k {
	case RAM:
		return "ram"
	case Overlay:
		return "overlay"
	case Register:
		return "register"
	case Unique:
		return "unique"
	case Constant:
		return "const"
	case External:
		return "external"
	case Tracking:
		return "tracking"
	}
	return "?"
}

// Space is one address space. Spaces are identified by pointer; a single
// Factory owns every space of a program.
type Space struct {
	ID   int
	Name string
	Kind Kind
	// PtrSize is the size in bytes of an offset into this space, at most 8.
	PtrSize int
	// Base is the physical space an overlay is layered over, nil otherwise.
	Base *Space
}

func (s *Space) String() string {
	if s == nil {
		return "<nil space>"
	}
	return s.Name
}

func (s *Space) IsOverlay() bool { return s.Kind == Overlay }

// Physical resolves an overlay to its base space; any other space resolves
// to itself.
func (s *Space) Physical() *Space {
	if s.Kind == Overlay {
		return s.Base
	}
	return s
}

// Mask is the offset mask for this space's pointer size.
func (s *Space) Mask() uint64 {
	return SizeMask(s.PtrSize)
}

// Wrap truncates an offset to the space's pointer size.
func (s *Space) Wrap(off uint64) uint64 {
	return off & s.Mask()
}

// Addr constructs an address in this space, truncating the offset.
func (s *Space) Addr(off uint64) Address {
	return Address{s, s.Wrap(off)}
}

var sizeMasks = [9]uint64{
	0, 0xff, 0xffff, 0xffffff, 0xffffffff,
	0xffffffffff, 0xffffffffffff, 0xffffffffffffff, 0xffffffffffffffff,
}

// SizeMask returns the value mask for a byte size. Sizes outside 1..8
// yield the full 64-bit mask.
func SizeMask(size int) uint64 {
	if size <= 0 || size > 8 {
		return sizeMasks[8]
	}
	return sizeMasks[size]
}

// Factory creates and owns the spaces of one program.
type Factory struct {
	spaces []*Space
	byName map[string]*Space
}

func NewFactory() *Factory {
	return &Factory{byName: make(map[string]*Space)}
}

func (f *Factory) New(name string, kind Kind, ptrSize int) *Space {
	if s, ok := f.byName[name]; ok {
		return s
	}
	s := &Space{ID: len(f.spaces), Name: name, Kind: kind, PtrSize: ptrSize}
	f.spaces = append(f.spaces, s)
	f.byName[name] = s
	return s
}

// NewOverlay creates an overlay of base.
func (f *Factory) NewOverlay(name string, base *Space) *Space {
	if s, ok := f.byName[name]; ok {
		return s
	}
	s := &Space{ID: len(f.spaces), Name: name, Kind: Overlay, PtrSize: base.PtrSize, Base: base}
	f.spaces = append(f.spaces, s)
	f.byName[name] = s
	return s
}

// Tracking returns the synthesized tracking space for a register,
// creating it on first use.
func (f *Factory) Tracking(regName string, ptrSize int) *Space {
	return f.New("track_"+regName, Tracking, ptrSize)
}

func (f *Factory) ByName(name string) *Space {
	return f.byName[name]
}

func (f *Factory) ByID(id int) *Space {
	if id < 0 || id >= len(f.spaces) {
		return nil
	}
	return f.spaces[id]
}

func (f *Factory) All() []*Space {
	return f.spaces
}

// Address is a (space, offset) pair. The zero Address is "no address".
type Address struct {
	Space  *Space
	Offset uint64
}

// None is the distinguished "no address" value.
var None = Address{}

func (a Address) IsNone() bool { return a.Space == nil }

func (a Address) String() string {
	if a.IsNone() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%08x", a.Space.Name, a.Offset)
}

// Add offsets the address, wrapping within the space.
func (a Address) Add(d int64) Address {
	return Address{a.Space, a.Space.Wrap(a.Offset + uint64(d))}
}

// Physical maps an overlay address to the equivalent base-space address.
func (a Address) Physical() Address {
	if a.Space != nil && a.Space.IsOverlay() {
		return Address{a.Space.Base, a.Offset}
	}
	return a
}

// Equal compares addresses with overlays resolved to their base space.
func (a Address) Equal(b Address) bool {
	pa, pb := a.Physical(), b.Physical()
	return pa.Space == pb.Space && pa.Offset == pb.Offset
}

// SameOffset reports whether two addresses share an offset, regardless of
// space.
func (a Address) SameOffset(b Address) bool {
	return !a.IsNone() && !b.IsNone() && a.Offset == b.Offset
}

// compare orders addresses by (space ID, offset).
func compare(a, b Address) int {
	as, bs := 0, 0
	if a.Space != nil {
		as = a.Space.ID
	}
	if b.Space != nil {
		bs = b.Space.ID
	}
	switch {
	case as != bs:
		if as < bs {
			return -1
		}
		return 1
	case a.Offset != b.Offset:
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	}
	return 0
}
