// Package pcode defines the canonical micro-operation model a machine
// instruction decodes into: opcodes, varnodes (uniform storage operands)
// and ops.
package pcode

import (
	"fmt"

	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/utils"
)

type OpCode uint8

const (
	// Unimplemented is any opcode the evaluator does not model; its
	// output is forced to unknown.
	Unimplemented OpCode = iota
	Copy
	Load
	Store
	Branch
	CBranch
	BranchInd
	Call
	CallInd
	CallOther
	Return

	IntEqual
	IntNotEqual
	IntSLess
	IntSLessEqual
	IntLess
	IntLessEqual
	IntZExt
	IntSExt
	IntAdd
	IntSub
	IntCarry
	IntSCarry
	IntSBorrow
	Int2Comp
	IntNegate
	IntXor
	IntAnd
	IntOr
	IntLeft
	IntRight
	IntSRight
	IntMult
	IntDiv
	IntSDiv
	IntRem
	IntSRem

	BoolNegate
	BoolXor
	BoolAnd
	BoolOr

	Piece
	Subpiece
)

var opNames = map[OpCode]string{
	Unimplemented: "UNIMPLEMENTED",
	Copy:          "COPY",
	Load:          "LOAD",
	Store:         "STORE",
	Branch:        "BRANCH",
	CBranch:       "CBRANCH",
	BranchInd:     "BRANCHIND",
	Call:          "CALL",
	CallInd:       "CALLIND",
	CallOther:     "CALLOTHER",
	Return:        "RETURN",
	IntEqual:      "INT_EQUAL",
	IntNotEqual:   "INT_NOTEQUAL",
	IntSLess:      "INT_SLESS",
	IntSLessEqual: "INT_SLESSEQUAL",
	IntLess:       "INT_LESS",
	IntLessEqual:  "INT_LESSEQUAL",
	IntZExt:       "INT_ZEXT",
	IntSExt:       "INT_SEXT",
	IntAdd:        "INT_ADD",
	IntSub:        "INT_SUB",
	IntCarry:      "INT_CARRY",
	IntSCarry:     "INT_SCARRY",
	IntSBorrow:    "INT_SBORROW",
	Int2Comp:      "INT_2COMP",
	IntNegate:     "INT_NEGATE",
	IntXor:        "INT_XOR",
	IntAnd:        "INT_AND",
	IntOr:         "INT_OR",
	IntLeft:       "INT_LEFT",
	IntRight:      "INT_RIGHT",
	IntSRight:     "INT_SRIGHT",
	IntMult:       "INT_MULT",
	IntDiv:        "INT_DIV",
	IntSDiv:       "INT_SDIV",
	IntRem:        "INT_REM",
	IntSRem:       "INT_SREM",
	BoolNegate:    "BOOL_NEGATE",
	BoolXor:       "BOOL_XOR",
	BoolAnd:       "BOOL_AND",
	BoolOr:        "BOOL_OR",
	Piece:         "PIECE",
	Subpiece:      "SUBPIECE",
}

func (c OpCode) String() string {
	if s, ok := opNames[c]; ok {
		return s
	}
	return fmt.Sprintf("OP(%d)", uint8(c))
}

// Varnode is a uniform storage operand: (space, offset, size). A varnode
// in the constant space denotes the literal value of its offset.
type Varnode struct {
	Space *space.Space
	Off   uint64
	Size  int
}

func (v Varnode) IsNil() bool { return v.Space == nil }

// Hash and Equal let varnodes key hashed persistent maps.
func (v Varnode) Hash() uint32 {
	id := 0
	if v.Space != nil {
		id = v.Space.ID
	}
	return utils.HashCombine(uint32(id), uint32(v.Off), uint32(v.Off>>32), uint32(v.Size))
}

func (v Varnode) Equal(o Varnode) bool {
	return v.Space == o.Space && v.Off == o.Off && v.Size == o.Size
}

// IsConst reports whether the varnode is a literal.
func (v Varnode) IsConst() bool {
	return v.Space != nil && v.Space.Kind == space.Constant
}

func (v Varnode) IsRegister() bool {
	return v.Space != nil && v.Space.Kind == space.Register
}

func (v Varnode) IsUnique() bool {
	return v.Space != nil && v.Space.Kind == space.Unique
}

// IsAddress reports whether the varnode names a cell of loaded memory.
func (v Varnode) IsAddress() bool {
	if v.Space == nil {
		return false
	}
	return v.Space.Kind == space.RAM || v.Space.Kind == space.Overlay
}

func (v Varnode) IsExternal() bool {
	return v.Space != nil && v.Space.Kind == space.External
}

// Addr is the address named by the varnode.
func (v Varnode) Addr() space.Address {
	return space.Address{Space: v.Space, Offset: v.Off}
}

func (v Varnode) String() string {
	if v.IsNil() {
		return "<nil>"
	}
	if v.IsConst() {
		return fmt.Sprintf("#%x:%d", v.Off, v.Size)
	}
	return fmt.Sprintf("%s:%x:%d", v.Space.Name, v.Off, v.Size)
}

// Op is one micro-operation: an opcode, up to three inputs and at most
// one output.
type Op struct {
	Code OpCode
	In   []Varnode
	Out  *Varnode
}

func (o Op) String() string {
	s := o.Code.String()
	if o.Out != nil {
		s = o.Out.String() + " = " + s
	}
	for i, in := range o.In {
		if i == 0 {
			s += " "
		} else {
			s += ", "
		}
		s += in.String()
	}
	return s
}

// NewOp builds an op with no output.
func NewOp(code OpCode, in ...Varnode) Op {
	return Op{Code: code, In: in}
}

// NewOpOut builds an op assigning to out.
func NewOpOut(code OpCode, out Varnode, in ...Varnode) Op {
	return Op{Code: code, In: in, Out: &out}
}
