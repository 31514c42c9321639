// Package prog defines the contracts the propagation engine consumes: a
// decoded listing, a function catalog, an injection provider and an
// annotation sink. It also provides Builder, an in-memory implementation
// used by front-ends and tests. The engine itself never mutates a program
// except through AddReference.
package prog

import (
	"fmt"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

// Operand kind flags, combinable.
type OperandKind uint8

const (
	OperandAddress OperandKind = 1 << iota
	OperandScalar
	OperandRegister
	OperandDynamic
)

// OperandElem is one element of a dynamic operand rendering, either a
// register or a signed scalar displacement.
type OperandElem struct {
	IsReg  bool
	Reg    pcode.Varnode
	Scalar int64
}

// Operand describes a rendered instruction operand with just enough
// structure for the reference emitter to match a discovered target
// against it.
type Operand struct {
	Kind   OperandKind
	Addr   space.Address // OperandAddress
	Scalar uint64        // OperandScalar
	Reg    pcode.Varnode // OperandRegister
	IsPC   bool          // register operand is the program counter
	Elems  []OperandElem // OperandDynamic
}

// Instruction is one decoded instruction as exposed by the listing.
type Instruction struct {
	Addr     space.Address
	Size     int
	Bytes    []byte
	Mnemonic string
	// Flow is the instruction's architectural flow type.
	Flow RefType
	// ProtoID identifies the decode prototype; instructions that decode
	// identically share it. Used to cut runs of repeated instructions.
	ProtoID  uint64
	Operands []Operand
}

func (in *Instruction) MinAddr() space.Address { return in.Addr }

func (in *Instruction) MaxAddr() space.Address {
	return in.Addr.Add(int64(in.Size) - 1)
}

// FallThrough returns the next sequential address if the instruction can
// fall through.
func (in *Instruction) FallThrough() (space.Address, bool) {
	if !in.Flow.HasFallthrough() {
		return space.None, false
	}
	return in.Addr.Add(int64(in.Size)), true
}

func (in *Instruction) Contains(a space.Address) bool {
	return a.Space == in.Addr.Space &&
		in.Addr.Offset <= a.Offset && a.Offset < in.Addr.Offset+uint64(in.Size)
}

func (in *Instruction) String() string {
	return fmt.Sprintf("%s %s", in.Addr, in.Mnemonic)
}

// MnemonicIndex places a reference on the mnemonic instead of an operand.
const MnemonicIndex = -1

// Reference is one annotation: instruction operand (or mnemonic) to a
// target address.
type Reference struct {
	From    space.Address
	OpIndex int
	To      space.Address
	Type    RefType
}

func (r Reference) String() string {
	return fmt.Sprintf("%s -> %s [%s]", r.From, r.To, r.Type)
}
