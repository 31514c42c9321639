package lift_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X-EcutiOnner/Ghidra/analysis/lift"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/propagate"
)

const base = 0x401000

// load lifts a code blob and declares a small data region for
// reference targets.
func load(t *testing.T, code []byte) *prog.Builder {
	t.Helper()
	l := lift.NewX86()
	require.NoError(t, l.LoadCode(base, code))
	b := l.Program()
	b.AddMemory(b.RAM().Addr(0x402000), b.RAM().Addr(0x402fff), false)
	return b
}

func run(t *testing.T, b *prog.Builder) *propagate.Engine {
	t.Helper()
	params := propagate.DefaultParams()
	params.RecordState = true
	eng, err := propagate.New(b, params)
	require.NoError(t, err)
	_, err = eng.FlowConstants(context.Background(), b.RAM().Addr(base), nil, nil)
	require.NoError(t, err)
	return eng
}

func TestDecodeBasics(t *testing.T) {
	b := load(t, []byte{
		// xor eax, eax; push rbp; pop rbp; ret
		0x31, 0xc0,
		0x55,
		0x5d,
		0xc3,
	})

	in := b.InstructionAt(b.RAM().Addr(base))
	require.NotNil(t, in)
	assert.Equal(t, "xor", in.Mnemonic)
	assert.Equal(t, 2, in.Size)

	in = b.InstructionAt(b.RAM().Addr(base + 4))
	require.NotNil(t, in)
	assert.Equal(t, "ret", in.Mnemonic)
	assert.Equal(t, prog.Terminator, in.Flow)
}

func TestUndecodableBytesAreSkipped(t *testing.T) {
	b := load(t, []byte{
		// push es (invalid in 64-bit mode) twice, then ret
		0x06, 0x06,
		0xc3,
	})
	assert.Nil(t, b.InstructionAt(b.RAM().Addr(base)))
	assert.NotNil(t, b.InstructionAt(b.RAM().Addr(base+2)))
}

func TestZeroedRegisterStore(t *testing.T) {
	b := load(t, []byte{
		// xor eax, eax
		0x31, 0xc0,
		// mov rbx, 0x402000
		0x48, 0xc7, 0xc3, 0x00, 0x20, 0x40, 0x00,
		// mov [rbx], rax
		0x48, 0x89, 0x03,
		// ret
		0xc3,
	})
	eng := run(t, b)

	cell := b.Mem(0x402000, 8)
	v, ok := eng.EndValueAt(cell, b.RAM().Addr(base+9))
	require.True(t, ok)
	c, isConst := v.Const()
	require.True(t, isConst)
	assert.Equal(t, uint64(0), c)

	found := false
	for _, r := range b.References() {
		if r.Type == prog.Write && r.To.Offset == 0x402000 {
			found = true
			assert.Equal(t, uint64(base+9), r.From.Offset)
		}
	}
	assert.True(t, found, "store through a known register must be annotated")
}

func TestPushPopBalancesStack(t *testing.T) {
	b := load(t, []byte{
		// push rbp; pop rbp; ret
		0x55,
		0x5d,
		0xc3,
	})
	eng := run(t, b)

	// after the ret popped the return address the stack sits 8 above entry
	v, ok := eng.EndValueAt(b.StackPointer(), b.RAM().Addr(base+2))
	require.True(t, ok)
	require.True(t, v.IsRel())
	assert.Equal(t, uint64(8), v.Off)
}

func TestRelativeJumpSkipsBytes(t *testing.T) {
	b := load(t, []byte{
		// jmp +1 over an int3, landing on ret
		0xeb, 0x01,
		0xcc,
		0xc3,
	})
	params := propagate.DefaultParams()
	eng, err := propagate.New(b, params)
	require.NoError(t, err)
	visited, err := eng.FlowConstants(context.Background(), b.RAM().Addr(base), nil, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(b.RAM().Addr(base+3)))
	assert.False(t, visited.Contains(b.RAM().Addr(base+2)))
}

func TestConditionalExploresBothPaths(t *testing.T) {
	b := load(t, []byte{
		// je +1; fallthrough ret; taken ret
		0x74, 0x01,
		0xc3,
		0xc3,
	})

	params := propagate.DefaultParams()
	eng, err := propagate.New(b, params)
	require.NoError(t, err)
	visited, err := eng.FlowConstants(context.Background(), b.RAM().Addr(base), nil, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(b.RAM().Addr(base+2)))
	assert.True(t, visited.Contains(b.RAM().Addr(base+3)))
	assert.True(t, eng.EncounteredBranch())
}

func TestRIPRelativeLea(t *testing.T) {
	b := load(t, []byte{
		// lea rax, [rip+0xff9]; ret
		0x48, 0x8d, 0x05, 0xf9, 0x0f, 0x00, 0x00,
		0xc3,
	})
	eng := run(t, b)

	rax := b.Reg(0, 8)
	v, ok := eng.EndValueAt(rax, b.RAM().Addr(base))
	require.True(t, ok)
	c, isConst := v.Const()
	require.True(t, isConst)
	assert.Equal(t, uint64(0x402000), c)

	found := false
	for _, r := range b.References() {
		if r.Type == prog.Data && r.To.Offset == 0x402000 {
			found = true
			assert.Equal(t, uint64(base), r.From.Offset,
				"the reference belongs to the lea that formed the address")
		}
	}
	assert.True(t, found)
}

func TestCallRestoresStack(t *testing.T) {
	b := load(t, []byte{
		// call +3; ret; two nops of padding; callee ret
		0xe8, 0x03, 0x00, 0x00, 0x00,
		0xc3,
		0x90, 0x90,
		0xc3,
	})
	eng := run(t, b)

	// the convention's zero extra pop plus the return pop cancel the push
	v, ok := eng.EndValueAt(b.StackPointer(), b.RAM().Addr(base))
	require.True(t, ok)
	require.True(t, v.IsRel())
	assert.Equal(t, uint64(0), v.Off)
}
