package propagate_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/propagate"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/state"
)

// testProg hand-builds tiny listings: code in [0x1000,0x1fff], data in
// [0x4000,0x4fff].
type testProg struct {
	b   *prog.Builder
	sel pcode.Varnode
	sp  pcode.Varnode
	r0  pcode.Varnode
	r1  pcode.Varnode
}

func newTestProg() *testProg {
	b := prog.NewBuilder(8)
	p := &testProg{
		b:  b,
		sp: b.Reg(0x20, 8),
		r0: b.Reg(0x00, 8),
		r1: b.Reg(0x08, 8),
	}
	p.sel = b.Const(uint64(b.RAM().ID), 4)
	b.SetStackPointer(p.sp)
	b.SetProgramCounter(b.Reg(0x80, 8))
	b.SetDefaultConvention(&prog.Convention{
		Name:          "test",
		StackShift:    8,
		ExtraPop:      prog.UnknownExtraPop,
		ArgLocations:  []pcode.Varnode{b.Reg(0x10, 8)},
		ReturnStorage: []pcode.Varnode{b.Reg(0x00, 8)},
	})
	b.AddMemory(b.RAM().Addr(0x1000), b.RAM().Addr(0x1fff), true)
	b.AddMemory(b.RAM().Addr(0x4000), b.RAM().Addr(0x4fff), false)
	return p
}

func (p *testProg) addr(off uint64) space.Address { return p.b.RAM().Addr(off) }

// instr installs an instruction with per-address distinct bytes unless
// raw is given.
func (p *testProg) instr(off uint64, size int, mnemonic string, flow prog.RefType, ops ...pcode.Op) {
	raw := []byte{byte(off >> 8), byte(off), byte(size)}
	p.instrRaw(off, size, raw, mnemonic, flow, ops...)
}

func (p *testProg) instrRaw(off uint64, size int, raw []byte, mnemonic string, flow prog.RefType, ops ...pcode.Op) {
	p.b.AddInstruction(&prog.Instruction{
		Addr:     p.addr(off),
		Size:     size,
		Bytes:    raw,
		Mnemonic: mnemonic,
		Flow:     flow,
	}, ops...)
}

// callOps models a call instruction: push the return address, call.
func (p *testProg) callOps(next uint64, dest uint64) []pcode.Op {
	return []pcode.Op{
		pcode.NewOpOut(pcode.IntSub, p.sp, p.sp, p.b.Const(8, 8)),
		pcode.NewOp(pcode.Store, p.sel, p.sp, p.b.Const(next, 8)),
		pcode.NewOp(pcode.Call, p.b.Mem(dest, 1)),
	}
}

func (p *testProg) ret() []pcode.Op {
	return []pcode.Op{pcode.NewOp(pcode.Return, p.b.Mem(0, 8))}
}

func runPass(t *testing.T, p *testProg, start uint64, mut func(*propagate.Params)) (*propagate.Engine, *space.AddressSet, error) {
	t.Helper()
	params := propagate.DefaultParams()
	params.RecordState = true
	if mut != nil {
		mut(&params)
	}
	eng, err := propagate.New(p.b, params)
	require.NoError(t, err)
	visited, err := eng.FlowConstants(context.Background(), p.addr(start), nil, nil)
	return eng, visited, err
}

func TestXorZeroThenStore(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.r0))
	p.instr(0x1001, 1, "xor", 0, pcode.NewOpOut(pcode.IntXor, p.r0, p.r0, p.r0))
	p.instr(0x1002, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.b.Const(0x4100, 8)))
	p.instr(0x1007, 2, "mov", 0, pcode.NewOp(pcode.Store, p.sel, p.r1, p.r0))
	p.instr(0x1009, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	// the stored cell is known zero
	v, ok := eng.EndValueAt(p.b.Mem(0x4100, 8), p.addr(0x1007))
	require.True(t, ok)
	c, isConst := v.Const()
	require.True(t, isConst)
	assert.Equal(t, uint64(0), c)

	var write *prog.Reference
	for _, r := range p.b.References() {
		if r.Type.IsWrite() {
			r := r
			write = &r
		}
	}
	require.NotNil(t, write, "expected a write reference")
	assert.Equal(t, p.addr(0x1007), write.From)
	assert.Equal(t, p.addr(0x4100), write.To)
}

func TestDeclaredPurgeAdjustsStack(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "callee", Entry: p.addr(0x1800), Purge: 8})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	v, ok := eng.EndValueAt(p.sp, p.addr(0x1000))
	require.True(t, ok)
	require.True(t, v.IsRel())
	assert.Equal(t, uint64(8), v.Off, "stack should sit purge bytes above its pre-call value")
}

func TestCallPushKeepsReturnAddressUnreferenced(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "callee", Entry: p.addr(0x1800), Purge: 8})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	_, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	for _, r := range p.b.References() {
		if r.Type == prog.Data {
			assert.False(t, r.To.Equal(p.addr(0x1005)),
				"the pushed return address is not a data reference")
		}
	}
}

func TestDeclaredZeroPurgeIsTrusted(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "callee", Entry: p.addr(0x1800), Purge: 0})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	v, ok := eng.EndValueAt(p.sp, p.addr(0x1000))
	require.True(t, ok)
	require.True(t, v.IsRel(), "a declared zero purge keeps the stack tracked")
	assert.Equal(t, uint64(0), v.Off,
		"push, zero purge and the return pop cancel out")
}

func TestNoReturnCallEndsBranch(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "abort", Entry: p.addr(0x1800), NoReturn: true, Purge: prog.UnknownPurge})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1000)))
	assert.False(t, visited.Contains(p.addr(0x1005)), "no fallthrough past a no-return call")
}

func TestIdenticalInstructionRunBound(t *testing.T) {
	p := newTestProg()
	for off := uint64(0x1000); off < 0x1040; off++ {
		p.instrRaw(off, 1, []byte{0x90}, "nop", 0)
	}

	_, visited, err := runPass(t, p, 0x1000, func(pr *propagate.Params) {
		pr.MaxSameInstruction = 5
	})
	require.NoError(t, err)
	assert.Less(t, visited.NumAddresses(), uint64(10), "padding run must cut the branch")
	assert.Empty(t, p.b.References())
}

func TestEdgeSuppressionIdempotent(t *testing.T) {
	build := func() *testProg {
		p := newTestProg()
		flags := p.b.Reg(0x88, 1)
		p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.b.Const(0x4800, 8)))
		p.instr(0x1005, 2, "jnz", prog.ConditionalJump,
			pcode.NewOp(pcode.CBranch, p.b.Mem(0x1000, 1), flags))
		p.instr(0x1007, 2, "mov", 0, pcode.NewOp(pcode.Store, p.sel, p.r1, p.b.Const(0x4100, 8)))
		p.instr(0x1009, 1, "ret", prog.Terminator, p.ret()...)
		return p
	}

	p1 := build()
	_, v1, err := runPass(t, p1, 0x1000, nil)
	require.NoError(t, err)
	p2 := build()
	_, v2, err := runPass(t, p2, 0x1000, nil)
	require.NoError(t, err)

	assert.Equal(t, v1.String(), v2.String())
	assert.Equal(t, p1.b.References(), p2.b.References())
	assert.True(t, v1.Contains(p1.addr(0x1009)))
}

type cancelAfter struct {
	propagate.BaseEvaluator
	cancel context.CancelFunc
	left   int
}

func (c *cancelAfter) AfterInstruction(*state.Context, *prog.Instruction) bool {
	c.left--
	if c.left == 0 {
		c.cancel()
	}
	return false
}

func TestCancellationMidPass(t *testing.T) {
	p := newTestProg()
	for i := uint64(0); i < 16; i++ {
		p.instr(0x1000+i, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(i, 8)))
	}

	params := propagate.DefaultParams()
	eng, err := propagate.New(p.b, params)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	visited, err := eng.FlowConstants(ctx, p.addr(0x1000), nil, &cancelAfter{cancel: cancel, left: 3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(3), visited.NumAddresses(), "exactly the processed instructions are visited")
}

func TestIndirectCallUsesExistingReference(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "handler", Entry: p.addr(0x1800), NoReturn: true, Purge: prog.UnknownPurge})
	p.b.AddReference(prog.Reference{
		From: p.addr(0x1000), OpIndex: prog.MnemonicIndex,
		To: p.addr(0x1800), Type: prog.ComputedCall,
	})
	p.instr(0x1000, 2, "call", prog.ComputedCall,
		pcode.NewOpOut(pcode.IntSub, p.sp, p.sp, p.b.Const(8, 8)),
		pcode.NewOp(pcode.Store, p.sel, p.sp, p.b.Const(0x1002, 8)),
		pcode.NewOp(pcode.CallInd, p.r0))
	p.instr(0x1002, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.False(t, visited.Contains(p.addr(0x1002)),
		"the pre-existing call target's no-return property must apply")
}

func TestLoadUnknownBaseStaysUnknown(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 2, "mov", 0,
		pcode.NewOpOut(pcode.Load, p.r0, p.sel, p.r1))
	p.instr(0x1002, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	_, ok := eng.EndValueAt(p.r0, p.addr(0x1000))
	assert.False(t, ok, "load through an unknown address must not guess")
}

func TestUnknownPurgeInvalidatesStack(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "mystery", Entry: p.addr(0x1800), Purge: prog.UnknownPurge})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	_, ok := eng.EndValueAt(p.sp, p.addr(0x1000))
	assert.False(t, ok, "unknown purge with no recovery must drop the stack value")
}

func TestStackRecoveredAcrossEdge(t *testing.T) {
	p := newTestProg()
	flags := p.b.Reg(0x88, 1)
	p.b.AddFunction(&prog.Function{Name: "mystery", Entry: p.addr(0x1800), Purge: prog.UnknownPurge})
	// one path jumps straight to the call's fallthrough, pinning the
	// stack depth there before the call path needs it
	p.instr(0x1000, 5, "jnz", prog.ConditionalJump,
		pcode.NewOp(pcode.CBranch, p.b.Mem(0x100a, 1), flags))
	p.instr(0x1005, 5, "jmp", prog.UnconditionalJump,
		pcode.NewOp(pcode.Branch, p.b.Mem(0x100f, 1)))
	p.instr(0x100a, 5, "call", prog.UnconditionalCall, p.callOps(0x100f, 0x1800)...)
	p.instr(0x100f, 1, "ret", prog.Terminator, p.ret()...)

	eng, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	require.True(t, visited.Contains(p.addr(0x100a)))

	v, ok := eng.EndValueAt(p.sp, p.addr(0x100a))
	require.True(t, ok, "stack depth should be recovered from the jump edge")
	require.True(t, v.IsRel())
	assert.Equal(t, uint64(0), v.Off)
}

type fixupInjector struct {
	prog.NoInjections
	ops []pcode.Op
}

func (f *fixupInjector) CallFixup(string, prog.InjectSite) ([]pcode.Op, error) {
	return f.ops, nil
}

func TestCallFixupReplacesCall(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{
		Name: "get_pc_thunk", Entry: p.addr(0x1800), CallFixup: "thunk",
		Purge: prog.UnknownPurge,
	})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	params := propagate.DefaultParams()
	params.RecordState = true
	eng, err := propagate.New(p.b, params)
	require.NoError(t, err)
	eng.SetInjector(&fixupInjector{
		ops: []pcode.Op{pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(0x4100, 8))},
	})
	_, err = eng.FlowConstants(context.Background(), p.addr(0x1000), nil, nil)
	require.NoError(t, err)

	v, ok := eng.EndValueAt(p.r0, p.addr(0x1000))
	require.True(t, ok)
	c, _ := v.Const()
	assert.Equal(t, uint64(0x4100), c)

	// the replaced call's stack effect never ran, only the push did
	sp, ok := eng.EndValueAt(p.sp, p.addr(0x1000))
	require.True(t, ok)
	assert.Equal(t, ^uint64(7), sp.Off)
}

func TestCallOtherWithoutInjectionClearsOutput(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(5, 8)))
	p.instr(0x1005, 3, "rdtsc", 0,
		pcode.NewOpOut(pcode.CallOther, p.r0, p.b.Const(1, 4)))
	p.instr(0x1008, 1, "ret", prog.Terminator, p.ret()...)

	eng, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	_, ok := eng.EndValueAt(p.r0, p.addr(0x1005))
	assert.False(t, ok, "an unmodeled intrinsic must clear its output")
}

func TestInlineCalleeIsWalked(t *testing.T) {
	p := newTestProg()
	p.b.AddFunction(&prog.Function{Name: "tiny", Entry: p.addr(0x1800), Inline: true, Purge: prog.UnknownPurge})
	p.instr(0x1000, 5, "call", prog.UnconditionalCall, p.callOps(0x1005, 0x1800)...)
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)
	p.instr(0x1800, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(7, 8)))
	p.instr(0x1805, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1800)), "inline callee body is part of the caller's flow")
	assert.True(t, visited.Contains(p.addr(0x1005)), "deferred fallthrough still runs")
}

func TestStoredConstantBecomesDataReference(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.b.Const(0x4800, 8)))
	p.instr(0x1005, 5, "mov", 0, pcode.NewOp(pcode.Store, p.sel, p.r1, p.b.Const(0x4100, 8)))
	p.instr(0x100a, 1, "ret", prog.Terminator, p.ret()...)

	_, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	byType := map[prog.RefType]space.Address{}
	for _, r := range p.b.References() {
		byType[r.Type] = r.To
	}
	assert.Equal(t, p.addr(0x4800), byType[prog.Write])
	assert.Equal(t, p.addr(0x4100), byType[prog.Data], "a stored plausible pointer gets a data reference")
}

func TestComputedJumpFromValue(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(0x1040, 8)))
	p.instr(0x1005, 2, "jmp", prog.ComputedJump, pcode.NewOp(pcode.BranchInd, p.r0))
	p.instr(0x1040, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1040)))

	found := false
	for _, r := range p.b.References() {
		if r.Type == prog.ComputedJump && r.To.Equal(p.addr(0x1040)) {
			found = true
		}
	}
	assert.True(t, found, "resolved indirect target must be annotated")
}

func TestRegisteredFlowTargetsAreWalked(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 2, "jmp", prog.ComputedJump, pcode.NewOp(pcode.BranchInd, p.r0))
	p.b.AddFlowTarget(p.addr(0x1000), p.addr(0x1020))
	p.b.AddFlowTarget(p.addr(0x1000), p.addr(0x1030))
	p.instr(0x1020, 1, "ret", prog.Terminator, p.ret()...)
	p.instr(0x1030, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1020)), "first jump-table entry")
	assert.True(t, visited.Contains(p.addr(0x1030)), "second jump-table entry")
}

func TestConstantConditionTakesOnePath(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 2, "jnz", prog.ConditionalJump,
		pcode.NewOp(pcode.CBranch, p.b.Mem(0x1020, 1), p.b.Const(1, 1)))
	p.instr(0x1002, 1, "ret", prog.Terminator, p.ret()...)
	p.instr(0x1020, 1, "ret", prog.Terminator, p.ret()...)

	_, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1020)))
	assert.False(t, visited.Contains(p.addr(0x1002)), "a definitely-taken branch has no false path")
}

func TestBadFlowTargetIsFatal(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 2, "jmp", prog.UnconditionalJump,
		pcode.NewOp(pcode.Branch, p.r0))

	_, _, err := runPass(t, p, 0x1000, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, propagate.ErrBadFlowTarget))
}

func TestParamPointerReference(t *testing.T) {
	p := newTestProg()
	arg := p.b.Reg(0x10, 8)
	p.b.AddFunction(&prog.Function{Name: "use", Entry: p.addr(0x1800), Purge: prog.UnknownPurge})
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, arg, p.b.Const(0x4200, 8)))
	p.instr(0x1005, 5, "call", prog.UnconditionalCall, p.callOps(0x100a, 0x1800)...)
	p.instr(0x100a, 1, "ret", prog.Terminator, p.ret()...)

	_, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	found := false
	for _, r := range p.b.References() {
		if r.Type == prog.ParamRef && r.To.Equal(p.addr(0x4200)) {
			found = true
			assert.Equal(t, p.addr(0x1000), r.From,
				"the reference belongs to the instruction that loaded the pointer")
		}
	}
	assert.True(t, found, "pointer argument must be annotated")
}

func TestExtraFlowBudgetBoundsRevisit(t *testing.T) {
	// A second entry into already-visited code keeps walking on a
	// bounded budget. The revisited body copies a fresh pointer into
	// the store at 0x1007: a budget too small to reach the store must
	// leave no write reference, a budget that covers it must not.
	run := func(t *testing.T, budget int) bool {
		t.Helper()
		p := newTestProg()
		flags := p.b.Reg(0x88, 1)
		p.instr(0x1000, 1, "jnz", prog.ConditionalJump,
			pcode.NewOp(pcode.CBranch, p.b.Mem(0x100a, 1), flags))
		p.instr(0x1001, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(2, 8)))
		p.instr(0x1002, 2, "jmp", prog.UnconditionalJump,
			pcode.NewOp(pcode.Branch, p.b.Mem(0x1005, 1)))
		p.instr(0x1005, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.r1))
		p.instr(0x1006, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.r0))
		p.instr(0x1007, 1, "mov", 0,
			pcode.NewOp(pcode.Store, p.sel, p.r0, p.b.Const(0x7777, 8)))
		p.instr(0x1008, 1, "ret", prog.Terminator, p.ret()...)
		p.instr(0x100a, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(0x4800, 8)))
		p.instr(0x100b, 2, "jmp", prog.UnconditionalJump,
			pcode.NewOp(pcode.Branch, p.b.Mem(0x1005, 1)))

		_, _, err := runPass(t, p, 0x1000, func(pr *propagate.Params) {
			pr.MaxExtraFlow = budget
		})
		require.NoError(t, err)

		for _, r := range p.b.References() {
			if r.Type.IsWrite() && r.To.Equal(p.addr(0x4800)) {
				return true
			}
		}
		return false
	}

	assert.False(t, run(t, 2), "a spent budget stops short of the store")
	assert.True(t, run(t, 4), "a sufficient budget re-evaluates the store")
}

func TestOverlayStoreResolvesAgainstBase(t *testing.T) {
	p := newTestProg()
	ov := p.b.Spaces().NewOverlay("ram_ovl", p.b.RAM())
	ovSel := p.b.Const(uint64(ov.ID), 4)
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.b.Const(0x4300, 8)))
	p.instr(0x1005, 2, "mov", 0, pcode.NewOp(pcode.Store, ovSel, p.r1, p.r0))
	p.instr(0x1007, 1, "ret", prog.Terminator, p.ret()...)

	_, _, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)

	var write *prog.Reference
	for _, r := range p.b.References() {
		if r.Type.IsWrite() {
			r := r
			write = &r
		}
	}
	require.NotNil(t, write, "overlay memory backed by a loaded block is a valid target")
	assert.Same(t, ov, write.To.Space, "the reference stays in the overlay")
	assert.True(t, write.To.Equal(p.b.RAM().Addr(0x4300)),
		"overlay addresses compare equal to their physical backing")
}

func TestFlowKindReachesDebugLog(t *testing.T) {
	p := newTestProg()
	p.instr(0x1000, 2, "jmp", prog.UnconditionalJump,
		pcode.NewOp(pcode.Branch, p.b.Mem(0x1005, 1)))
	p.instr(0x1005, 1, "ret", prog.Terminator, p.ret()...)

	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	eng, err := propagate.New(p.b, propagate.DefaultParams())
	require.NoError(t, err)
	eng.SetLogger(log)
	_, err = eng.FlowConstants(context.Background(), p.addr(0x1000), nil, nil)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "resuming flow")
	assert.Contains(t, buf.String(), "UNCONDITIONAL_JUMP")
}

func TestMissingFlowOperandIsFatal(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   pcode.Op
	}{
		{"branch", pcode.Op{Code: pcode.Branch}},
		{"cbranch", pcode.Op{Code: pcode.CBranch}},
		{"call", pcode.Op{Code: pcode.Call}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProg()
			p.instr(0x1000, 2, "bad", prog.UnconditionalJump, tc.op)

			_, _, err := runPass(t, p, 0x1000, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, propagate.ErrBadFlowTarget))
		})
	}
}

func TestMissingDataOperandsAreTolerated(t *testing.T) {
	p := newTestProg()
	out := p.b.Reg(0x00, 8)
	p.instr(0x1000, 1, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r0, p.b.Const(0x4200, 8)))
	p.instr(0x1001, 1, "bad", 0, pcode.Op{Code: pcode.Copy, Out: &out})
	p.instr(0x1002, 1, "bad", 0, pcode.Op{Code: pcode.Store, In: []pcode.Varnode{p.sel}})
	p.instr(0x1003, 1, "ret", prog.Terminator, p.ret()...)

	eng, visited, err := runPass(t, p, 0x1000, nil)
	require.NoError(t, err)
	assert.True(t, visited.Contains(p.addr(0x1003)), "truncated ops do not end the flow")

	if v, ok := eng.EndValueAt(p.r0, p.addr(0x1001)); ok {
		_, isConst := v.Const()
		assert.False(t, isConst, "a copy with no source must drop the stale value")
	}
}
