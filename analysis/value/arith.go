package value

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

// Arithmetic over abstract values. All functions are total: incompatible
// operand combinations yield Bad, never an error. Constant folding matches
// native two's-complement arithmetic at the op's output width.

// Add folds constants and shifts space-relative values by constants.
// Adding two space-relative values loses the base and yields Bad.
func Add(a, b Value) Value {
	switch {
	case a.IsConst() && b.IsConst():
		return MakeConst(a.Off+b.Off, narrower(a, b))
	case a.IsRel() && b.IsConst():
		return MakeRel(a.Base, a.Off+b.Off, a.Size)
	case a.IsConst() && b.IsRel():
		return MakeRel(b.Base, a.Off+b.Off, b.Size)
	}
	return Bad
}

// Sub folds constants, shifts a space-relative value down by a constant,
// and cancels two values relative to the same base into a constant.
func Sub(a, b Value) Value {
	switch {
	case a.IsConst() && b.IsConst():
		return MakeConst(a.Off-b.Off, narrower(a, b))
	case a.IsRel() && b.IsConst():
		return MakeRel(a.Base, a.Off-b.Off, a.Size)
	case a.IsRel() && b.IsRel() && a.Base == b.Base:
		return MakeConst(a.Off-b.Off, narrower(a, b))
	}
	return Bad
}

// And folds constants. Masking a space-relative value with a constant
// keeps the base and masks the offset; this is how stack-pointer
// alignment sequences survive symbolically. x & x is x.
func And(a, b Value) Value {
	switch {
	case a.Equal(b) && !a.IsUnknown():
		return a
	case a.IsConst() && b.IsConst():
		return MakeConst(a.Off&b.Off, narrower(a, b))
	case a.IsRel() && b.IsConst():
		return MakeRel(a.Base, a.Off&b.Off, a.Size)
	case a.IsConst() && b.IsRel():
		return MakeRel(b.Base, a.Off&b.Off, b.Size)
	}
	return Bad
}

// Or folds constants. x | x is x, and or-ing with constant zero is the
// identity even for symbolic values.
func Or(a, b Value) Value {
	switch {
	case a.Equal(b) && !a.IsUnknown():
		return a
	case a.IsConst() && b.IsConst():
		return MakeConst(a.Off|b.Off, narrower(a, b))
	case a.IsRel() && b.IsConst() && b.Off == 0:
		return a
	case a.IsConst() && a.Off == 0 && b.IsRel():
		return b
	}
	return Bad
}

// Xor folds constants only. The idiomatic xor-of-a-register-with-itself
// zeroing is recognized at the evaluator on the operand slots, not here.
func Xor(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return MakeConst(a.Off^b.Off, narrower(a, b))
	}
	return Bad
}

// shiftAmount masks a shift count to the operand's bit width.
func shiftAmount(n uint64, size int) uint64 {
	if size <= 0 || size > 8 {
		size = 8
	}
	return n & uint64(8*size-1)
}

func Lsh(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return MakeConst(a.Off<<shiftAmount(b.Off, a.Size), a.Size)
	}
	return Bad
}

// Rsh is the logical (zero-filling) right shift.
func Rsh(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return MakeConst(a.Off>>shiftAmount(b.Off, a.Size), a.Size)
	}
	return Bad
}

// SRsh is the arithmetic right shift; the sign bit at the operand width
// is replicated.
func SRsh(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return MakeConst(uint64(a.Signed()>>shiftAmount(b.Off, a.Size)), a.Size)
	}
	return Bad
}

func Mult(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return MakeConst(a.Off*b.Off, narrower(a, b))
	}
	return Bad
}

// Div is unsigned division. A zero divisor yields Bad, never a fault.
func Div(a, b Value) Value {
	if a.IsConst() && b.IsConst() && b.Off != 0 {
		return MakeConst(a.Off/b.Off, narrower(a, b))
	}
	return Bad
}

func SDiv(a, b Value) Value {
	if a.IsConst() && b.IsConst() && b.Signed() != 0 {
		return MakeConst(uint64(a.Signed()/b.Signed()), narrower(a, b))
	}
	return Bad
}

func Rem(a, b Value) Value {
	if a.IsConst() && b.IsConst() && b.Off != 0 {
		return MakeConst(a.Off%b.Off, narrower(a, b))
	}
	return Bad
}

func SRem(a, b Value) Value {
	if a.IsConst() && b.IsConst() && b.Signed() != 0 {
		return MakeConst(uint64(a.Signed()%b.Signed()), narrower(a, b))
	}
	return Bad
}

// Neg is two's complement negation.
func Neg(a Value) Value {
	if a.IsConst() {
		return MakeConst(-a.Off, a.Size)
	}
	return Bad
}

// Not is bitwise complement.
func Not(a Value) Value {
	if a.IsConst() {
		return MakeConst(^a.Off, a.Size)
	}
	return Bad
}

func bool2val(b bool) Value {
	if b {
		return MakeConst(1, 1)
	}
	return MakeConst(0, 1)
}

// Carry reports unsigned addition overflow at the operand width.
func Carry(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		mask := space.SizeMask(narrower(a, b))
		return bool2val((a.Off&mask)+(b.Off&mask) > mask)
	}
	return Bad
}

// SCarry reports signed addition overflow at the operand width.
func SCarry(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		size := narrower(a, b)
		as, bs := signExtend(a.Off, size), signExtend(b.Off, size)
		r := signExtend(uint64(as+bs), size)
		return bool2val((as >= 0) == (bs >= 0) && (r >= 0) != (as >= 0))
	}
	return Bad
}

// SBorrow reports signed subtraction overflow at the operand width.
func SBorrow(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		size := narrower(a, b)
		as, bs := signExtend(a.Off, size), signExtend(b.Off, size)
		r := signExtend(uint64(as-bs), size)
		return bool2val((as >= 0) != (bs >= 0) && (r >= 0) != (as >= 0))
	}
	return Bad
}

// CmpEqual compares constants, or two values relative to the same base,
// where the base cancels. Different bases yield Bad rather than a guessed
// boolean.
func CmpEqual(a, b Value) Value {
	switch {
	case a.IsConst() && b.IsConst():
		return bool2val(a.Off == b.Off)
	case a.IsRel() && b.IsRel() && a.Base == b.Base:
		return bool2val(a.Off == b.Off)
	}
	return Bad
}

func CmpNotEqual(a, b Value) Value {
	eq := CmpEqual(a, b)
	if eq.IsUnknown() {
		return Bad
	}
	return bool2val(eq.Off == 0)
}

// CmpLess is the unsigned less-than comparison.
func CmpLess(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return bool2val(a.Off < b.Off)
	}
	return Bad
}

func CmpLessEqual(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return bool2val(a.Off <= b.Off)
	}
	return Bad
}

// CmpSLess is the signed less-than comparison at the operand width.
func CmpSLess(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		size := narrower(a, b)
		return bool2val(signExtend(a.Off, size) < signExtend(b.Off, size))
	}
	return Bad
}

func CmpSLessEqual(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		size := narrower(a, b)
		return bool2val(signExtend(a.Off, size) <= signExtend(b.Off, size))
	}
	return Bad
}

// ZeroExtend widens a constant to outSize bytes with zero fill.
func ZeroExtend(a Value, outSize int) Value {
	if a.IsConst() {
		return MakeConst(a.Off, outSize)
	}
	return Bad
}

// SignExtend widens a constant to outSize bytes replicating the sign bit
// of the input width.
func SignExtend(a Value, outSize int) Value {
	if a.IsConst() {
		return MakeConst(uint64(a.Signed()), outSize)
	}
	return Bad
}

// Subpiece extracts outSize bytes starting shiftBytes from the bottom.
// A space-relative value truncated by zero bytes to exactly ptrSize passes
// through unchanged: it is already an address, not a numeric cast.
func Subpiece(a Value, shiftBytes uint64, outSize, ptrSize int) Value {
	switch {
	case a.IsRel() && shiftBytes == 0 && outSize == ptrSize:
		return a
	case outSize > 8:
		return Bad
	case a.IsConst():
		return MakeConst(a.Off>>(8*shiftBytes), outSize)
	}
	return Bad
}

// Piece concatenates two constants, a becoming the most significant part.
func Piece(a, b Value) Value {
	if a.IsConst() && b.IsConst() && a.Size+b.Size <= 8 {
		return MakeConst(a.Off<<(8*b.Size)|b.Off, a.Size+b.Size)
	}
	return Bad
}

// Bool ops treat any nonzero constant as true.

func BoolNegate(a Value) Value {
	if a.IsConst() {
		return bool2val(a.Off == 0)
	}
	return Bad
}

func BoolAnd(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return bool2val(a.Off != 0 && b.Off != 0)
	}
	return Bad
}

func BoolOr(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return bool2val(a.Off != 0 || b.Off != 0)
	}
	return Bad
}

func BoolXor(a, b Value) Value {
	if a.IsConst() && b.IsConst() {
		return bool2val((a.Off != 0) != (b.Off != 0))
	}
	return Bad
}
