package value

import (
	"testing"

	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/stretchr/testify/require"
)

func trackingSpaces() (*space.Space, *space.Space) {
	f := space.NewFactory()
	return f.Tracking("SP", 8), f.Tracking("R9", 8)
}

func TestConstFoldMatchesNativeArithmetic(t *testing.T) {
	type binOp func(a, b Value) Value

	tests := []struct {
		name string
		op   binOp
		a, b uint64
		size int
		want uint64
	}{
		{"add", Add, 3, 4, 4, 7},
		{"add wraps", Add, 0xffffffff, 1, 4, 0},
		{"sub", Sub, 3, 4, 4, 0xffffffff},
		{"and", And, 0xff0f, 0x0fff, 2, 0x0f0f},
		{"or", Or, 0xf0, 0x0f, 1, 0xff},
		{"xor", Xor, 0xff, 0x0f, 1, 0xf0},
		{"mult", Mult, 0x10000, 0x10000, 4, 0},
		{"mult small", Mult, 7, 6, 4, 42},
		{"div", Div, 42, 6, 4, 7},
		{"rem", Rem, 43, 6, 4, 1},
		{"lsh", Lsh, 1, 4, 4, 16},
		{"lsh masked count", Lsh, 1, 33, 4, 2},
		{"rsh", Rsh, 0x80000000, 31, 4, 1},
		{"srsh sign fill", SRsh, 0x80000000, 31, 4, 0xffffffff},
		{"sdiv negative", SDiv, 0xfffffff6, 5, 4, 0xfffffffe}, // -10/5 = -2
		{"srem negative", SRem, 0xfffffff7, 5, 4, 0xfffffffc}, // -9%5 = -4
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.op(MakeConst(tt.a, tt.size), MakeConst(tt.b, tt.size))
			require.True(t, got.IsConst())
			require.Equal(t, tt.want, got.Off)
			require.Equal(t, tt.size, got.Size)
		})
	}
}

func TestComparisons(t *testing.T) {
	require.Equal(t, uint64(1), CmpLess(MakeConst(1, 4), MakeConst(0xffffffff, 4)).Off,
		"unsigned compare must not treat 0xffffffff as -1")
	require.Equal(t, uint64(0), CmpSLess(MakeConst(1, 4), MakeConst(0xffffffff, 4)).Off,
		"signed compare must treat 0xffffffff as -1")
	require.Equal(t, uint64(1), CmpSLess(MakeConst(0xffffffff, 4), MakeConst(0, 4)).Off)
	require.Equal(t, uint64(1), CmpEqual(MakeConst(5, 4), MakeConst(5, 4)).Off)
	require.Equal(t, uint64(1), CmpNotEqual(MakeConst(5, 4), MakeConst(6, 4)).Off)
}

func TestSpaceRelative(t *testing.T) {
	sp, r9 := trackingSpaces()

	v := MakeRel(sp, 0x10, 8)

	// rel + const adjusts the offset.
	sum := Add(v, MakeConst(8, 8))
	require.True(t, sum.IsRel())
	require.Equal(t, uint64(0x18), sum.Off)
	require.Equal(t, sp, sum.Base)

	// same-base subtraction cancels the base.
	diff := Sub(sum, v)
	require.True(t, diff.IsConst())
	require.Equal(t, uint64(8), diff.Off)

	// different bases never combine.
	require.True(t, Add(v, MakeRel(r9, 0, 8)).IsUnknown())
	require.True(t, Sub(v, MakeRel(r9, 0, 8)).IsUnknown())

	// equality with identical base and offset is true; across bases it
	// is unknown, not a guessed boolean.
	require.Equal(t, uint64(1), CmpEqual(v, MakeRel(sp, 0x10, 8)).Off)
	require.True(t, CmpEqual(v, MakeRel(r9, 0x10, 8)).IsUnknown())
	require.True(t, CmpLess(v, MakeRel(sp, 0x20, 8)).IsUnknown())

	// alignment masking keeps the symbolic base.
	aligned := And(MakeRel(sp, 0x17, 8), MakeConst(^uint64(0xf), 8))
	require.True(t, aligned.IsRel())
	require.Equal(t, uint64(0x10), aligned.Off)
}

func TestUnknownPropagation(t *testing.T) {
	for _, op := range []func(a, b Value) Value{
		Add, Sub, And, Or, Xor, Mult, Div, SDiv, Rem, SRem,
		Lsh, Rsh, SRsh, CmpEqual, CmpLess, CmpSLess,
	} {
		require.True(t, op(Bad, MakeConst(1, 4)).IsUnknown())
		require.True(t, op(MakeConst(1, 4), Bad).IsUnknown())
	}
}

func TestDivisionByZero(t *testing.T) {
	z := MakeConst(0, 4)
	n := MakeConst(9, 4)
	require.True(t, Div(n, z).IsUnknown())
	require.True(t, SDiv(n, z).IsUnknown())
	require.True(t, Rem(n, z).IsUnknown())
	require.True(t, SRem(n, z).IsUnknown())
}

func TestExtension(t *testing.T) {
	v := MakeConst(0x80, 1)
	require.Equal(t, uint64(0x80), ZeroExtend(v, 4).Off)
	require.Equal(t, uint64(0xffffff80), SignExtend(v, 4).Off)
	require.Equal(t, 4, SignExtend(v, 4).Size)
}

func TestSubpiece(t *testing.T) {
	sp, _ := trackingSpaces()

	v := MakeConst(0x11223344, 4)
	require.Equal(t, uint64(0x44), Subpiece(v, 0, 1, 8).Off)
	require.Equal(t, uint64(0x2233), Subpiece(v, 1, 2, 8).Off)

	// a pointer-width view of a symbolic address passes through.
	rel := MakeRel(sp, 0x40, 8)
	require.Equal(t, rel, Subpiece(rel, 0, 8, 8))
	// a genuine truncation of a symbolic value does not.
	require.True(t, Subpiece(rel, 0, 4, 8).IsUnknown())
}

func TestCarryBorrow(t *testing.T) {
	require.Equal(t, uint64(1), Carry(MakeConst(0xff, 1), MakeConst(1, 1)).Off)
	require.Equal(t, uint64(0), Carry(MakeConst(0x7f, 1), MakeConst(1, 1)).Off)
	require.Equal(t, uint64(1), SCarry(MakeConst(0x7f, 1), MakeConst(1, 1)).Off)
	require.Equal(t, uint64(0), SCarry(MakeConst(0xff, 1), MakeConst(1, 1)).Off)
	require.Equal(t, uint64(1), SBorrow(MakeConst(0x80, 1), MakeConst(1, 1)).Off)
	require.Equal(t, uint64(0), SBorrow(MakeConst(5, 1), MakeConst(1, 1)).Off)
}
