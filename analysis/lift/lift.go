// Package lift decodes x86-64 machine code into the micro-op model and
// populates an in-memory program. It covers the data-movement,
// arithmetic and control-flow subset the propagation engine cares
// about; anything else lifts to a single unmodeled op so the engine
// degrades conservatively instead of guessing.
package lift

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
)

const ptrSize = 8

// X86 lifts 64-bit x86 code into a prog.Builder.
type X86 struct {
	b *prog.Builder

	nextUnique uint64
}

// NewX86 builds a lifter over a fresh program with the System V AMD64
// convention installed as the default.
func NewX86() *X86 {
	l := &X86{b: prog.NewBuilder(ptrSize)}
	b := l.b
	b.SetStackPointer(b.Reg(offRSP, ptrSize))
	b.SetProgramCounter(b.Reg(offRIP, ptrSize))
	b.SetDefaultConvention(&prog.Convention{
		Name:       "sysv64",
		StackShift: 8,
		ExtraPop:   0,
		ArgLocations: []pcode.Varnode{
			b.Reg(offRDI, 8), b.Reg(offRSI, 8), b.Reg(offRDX, 8),
			b.Reg(offRCX, 8), b.Reg(offR8, 8), b.Reg(offR9, 8),
		},
		ReturnStorage: []pcode.Varnode{b.Reg(offRAX, 8)},
		Killed: []pcode.Varnode{
			b.Reg(offRCX, 8), b.Reg(offRDX, 8), b.Reg(offRSI, 8),
			b.Reg(offRDI, 8), b.Reg(offR8, 8), b.Reg(offR9, 8),
			b.Reg(offR10, 8), b.Reg(offR11, 8),
		},
	})
	return l
}

// Program returns the populated program.
func (l *X86) Program() *prog.Builder { return l.b }

// LoadCode decodes a flat code blob loaded at base, declaring it as
// executable memory. Undecodable bytes are skipped one at a time; they
// produce no instruction, so flow reaching them ends there.
func (l *X86) LoadCode(base uint64, code []byte) error {
	if len(code) == 0 {
		return fmt.Errorf("empty code blob at %#x", base)
	}
	ram := l.b.RAM()
	l.b.AddMemory(ram.Addr(base), ram.Addr(base+uint64(len(code))-1), true)
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			off++
			continue
		}
		l.liftInst(base+uint64(off), code[off:off+inst.Len], inst)
		off += inst.Len
	}
	return nil
}

func (l *X86) unique(size int) pcode.Varnode {
	v := l.b.Unique(l.nextUnique, size)
	l.nextUnique += 16
	return v
}

func (l *X86) flags() pcode.Varnode { return l.b.Reg(offFlags, 1) }

// spaceSel is the LOAD/STORE space selector for the default space.
func (l *X86) spaceSel() pcode.Varnode {
	return l.b.Const(uint64(l.b.RAM().ID), 4)
}

func (l *X86) liftInst(addr uint64, raw []byte, inst x86asm.Inst) {
	mnemonic := strings.ToLower(inst.Op.String())
	in := &prog.Instruction{
		Addr:     l.b.RAM().Addr(addr),
		Size:     inst.Len,
		Bytes:    append([]byte(nil), raw...),
		Mnemonic: mnemonic,
		Operands: l.operands(addr, inst),
	}
	next := addr + uint64(inst.Len)

	var ops []pcode.Op
	switch inst.Op {
	case x86asm.NOP:
		// empty op list, plain fallthrough

	case x86asm.MOV, x86asm.MOVSXD, x86asm.MOVSX, x86asm.MOVZX:
		ops = l.liftMove(addr, next, inst)
	case x86asm.LEA:
		ops = l.liftLea(next, inst)

	case x86asm.ADD:
		ops = l.liftBinary(addr, next, inst, pcode.IntAdd)
	case x86asm.SUB:
		ops = l.liftBinary(addr, next, inst, pcode.IntSub)
	case x86asm.XOR:
		ops = l.liftBinary(addr, next, inst, pcode.IntXor)
	case x86asm.AND:
		ops = l.liftBinary(addr, next, inst, pcode.IntAnd)
	case x86asm.OR:
		ops = l.liftBinary(addr, next, inst, pcode.IntOr)
	case x86asm.SHL:
		ops = l.liftBinary(addr, next, inst, pcode.IntLeft)
	case x86asm.SHR:
		ops = l.liftBinary(addr, next, inst, pcode.IntRight)
	case x86asm.SAR:
		ops = l.liftBinary(addr, next, inst, pcode.IntSRight)

	case x86asm.CMP, x86asm.TEST:
		// only the flags change, and flag bits are not modeled
		ops = []pcode.Op{{Code: pcode.Unimplemented, Out: ptr(l.flags())}}

	case x86asm.PUSH:
		ops = l.liftPush(addr, next, inst.Args[0])
	case x86asm.POP:
		ops = l.liftPop(inst.Args[0])

	case x86asm.CALL:
		in.Flow = prog.UnconditionalCall
		ops = l.liftCall(addr, next, inst, in)
	case x86asm.RET:
		in.Flow = prog.Terminator
		ret := l.unique(8)
		sp := l.b.Reg(offRSP, 8)
		ops = []pcode.Op{
			pcode.NewOpOut(pcode.Load, ret, l.spaceSel(), sp),
			pcode.NewOpOut(pcode.IntAdd, sp, sp, l.b.Const(8, 8)),
			pcode.NewOp(pcode.Return, ret),
		}
	case x86asm.JMP:
		ops = l.liftJmp(addr, next, inst, in)

	default:
		if condJump(inst.Op) {
			in.Flow = prog.ConditionalJump
			ops = l.liftJcc(next, inst)
			break
		}
		// unmodeled instruction: clear whatever it writes
		ops = l.liftUnmodeled(inst)
	}

	l.b.AddInstruction(in, ops...)
}

// ptr is a convenience for optional output varnodes.
func ptr(v pcode.Varnode) *pcode.Varnode { return &v }

// argValue emits ops computing an operand's value, returning the
// varnode holding it. A nil varnode means the operand is unsupported.
func (l *X86) argValue(addr, next uint64, arg x86asm.Arg, size int) (pcode.Varnode, []pcode.Op) {
	switch a := arg.(type) {
	case x86asm.Reg:
		off, ok := parentOff[a]
		if !ok {
			return pcode.Varnode{}, nil
		}
		return l.b.Reg(off, 8), nil
	case x86asm.Imm:
		return l.b.Const(uint64(a), size), nil
	case x86asm.Rel:
		return l.b.Const(next+uint64(int64(a)), 8), nil
	case x86asm.Mem:
		av, ops := l.memAddress(next, a)
		if av.IsNil() {
			return pcode.Varnode{}, nil
		}
		out := l.unique(size)
		ops = append(ops, pcode.NewOpOut(pcode.Load, out, l.spaceSel(), av))
		return out, ops
	}
	return pcode.Varnode{}, nil
}

// memAddress emits ops computing a memory operand's effective address.
func (l *X86) memAddress(next uint64, m x86asm.Mem) (pcode.Varnode, []pcode.Op) {
	if m.Base == x86asm.RIP {
		// rip-relative resolves statically
		return l.b.Const(next+uint64(m.Disp), 8), nil
	}
	var ops []pcode.Op
	cur := pcode.Varnode{}
	if m.Base != 0 {
		off, ok := parentOff[m.Base]
		if !ok {
			return pcode.Varnode{}, nil
		}
		cur = l.b.Reg(off, 8)
	}
	if m.Index != 0 {
		off, ok := parentOff[m.Index]
		if !ok {
			return pcode.Varnode{}, nil
		}
		scaled := l.unique(8)
		ops = append(ops, pcode.NewOpOut(pcode.IntMult, scaled,
			l.b.Reg(off, 8), l.b.Const(uint64(m.Scale), 8)))
		if cur.IsNil() {
			cur = scaled
		} else {
			sum := l.unique(8)
			ops = append(ops, pcode.NewOpOut(pcode.IntAdd, sum, cur, scaled))
			cur = sum
		}
	}
	if m.Disp != 0 || cur.IsNil() {
		disp := l.b.Const(uint64(m.Disp), 8)
		if cur.IsNil() {
			return disp, ops
		}
		sum := l.unique(8)
		ops = append(ops, pcode.NewOpOut(pcode.IntAdd, sum, cur, disp))
		cur = sum
	}
	return cur, ops
}

func (l *X86) liftMove(addr, next uint64, inst x86asm.Inst) []pcode.Op {
	dst, src := inst.Args[0], inst.Args[1]
	srcVn, ops := l.argValue(addr, next, src, operandSize(src, inst))
	if srcVn.IsNil() {
		return l.liftUnmodeled(inst)
	}
	switch d := dst.(type) {
	case x86asm.Reg:
		off, ok := parentOff[d]
		if !ok {
			return l.liftUnmodeled(inst)
		}
		out := l.b.Reg(off, 8)
		if w := regWidth(d); w < 4 {
			// narrow writes keep upper bits; give up on the value
			return append(ops, pcode.Op{Code: pcode.Unimplemented, Out: &out})
		}
		code := pcode.Copy
		if inst.Op == x86asm.MOVSX || inst.Op == x86asm.MOVSXD {
			code = pcode.IntSExt
		} else if inst.Op == x86asm.MOVZX {
			code = pcode.IntZExt
		}
		return append(ops, pcode.NewOpOut(code, out, srcVn))
	case x86asm.Mem:
		av, aops := l.memAddress(next, d)
		if av.IsNil() {
			return l.liftUnmodeled(inst)
		}
		ops = append(ops, aops...)
		return append(ops, pcode.NewOp(pcode.Store, l.spaceSel(), av, srcVn))
	}
	return l.liftUnmodeled(inst)
}

func (l *X86) liftLea(next uint64, inst x86asm.Inst) []pcode.Op {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return l.liftUnmodeled(inst)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		return l.liftUnmodeled(inst)
	}
	off, ok := parentOff[dst]
	if !ok {
		return l.liftUnmodeled(inst)
	}
	av, ops := l.memAddress(next, mem)
	if av.IsNil() {
		return l.liftUnmodeled(inst)
	}
	return append(ops, pcode.NewOpOut(pcode.Copy, l.b.Reg(off, 8), av))
}

func (l *X86) liftBinary(addr, next uint64, inst x86asm.Inst, code pcode.OpCode) []pcode.Op {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		// memory destination: load, combine, store back
		mem, ok := inst.Args[0].(x86asm.Mem)
		if !ok {
			return l.liftUnmodeled(inst)
		}
		srcVn, ops := l.argValue(addr, next, inst.Args[1], 8)
		if srcVn.IsNil() {
			return l.liftUnmodeled(inst)
		}
		av, aops := l.memAddress(next, mem)
		if av.IsNil() {
			return l.liftUnmodeled(inst)
		}
		ops = append(ops, aops...)
		old := l.unique(8)
		res := l.unique(8)
		ops = append(ops,
			pcode.NewOpOut(pcode.Load, old, l.spaceSel(), av),
			pcode.NewOpOut(code, res, old, srcVn),
			pcode.NewOp(pcode.Store, l.spaceSel(), av, res))
		return ops
	}
	off, ok := parentOff[dst]
	if !ok {
		return l.liftUnmodeled(inst)
	}
	out := l.b.Reg(off, 8)
	if regWidth(dst) < 4 {
		return []pcode.Op{{Code: pcode.Unimplemented, Out: &out}}
	}
	srcVn, ops := l.argValue(addr, next, inst.Args[1], 8)
	if srcVn.IsNil() {
		return []pcode.Op{{Code: pcode.Unimplemented, Out: &out}}
	}
	return append(ops, pcode.NewOpOut(code, out, out, srcVn))
}

func (l *X86) liftPush(addr, next uint64, arg x86asm.Arg) []pcode.Op {
	srcVn, ops := l.argValue(addr, next, arg, 8)
	if srcVn.IsNil() {
		return nil
	}
	sp := l.b.Reg(offRSP, 8)
	ops = append(ops,
		pcode.NewOpOut(pcode.IntSub, sp, sp, l.b.Const(8, 8)),
		pcode.NewOp(pcode.Store, l.spaceSel(), sp, srcVn))
	return ops
}

func (l *X86) liftPop(arg x86asm.Arg) []pcode.Op {
	dst, ok := arg.(x86asm.Reg)
	if !ok {
		return nil
	}
	off, ok := parentOff[dst]
	if !ok {
		return nil
	}
	sp := l.b.Reg(offRSP, 8)
	return []pcode.Op{
		pcode.NewOpOut(pcode.Load, l.b.Reg(off, 8), l.spaceSel(), sp),
		pcode.NewOpOut(pcode.IntAdd, sp, sp, l.b.Const(8, 8)),
	}
}

func (l *X86) liftCall(addr, next uint64, inst x86asm.Inst, in *prog.Instruction) []pcode.Op {
	sp := l.b.Reg(offRSP, 8)
	push := []pcode.Op{
		pcode.NewOpOut(pcode.IntSub, sp, sp, l.b.Const(8, 8)),
		pcode.NewOp(pcode.Store, l.spaceSel(), sp, l.b.Const(next, 8)),
	}
	switch a := inst.Args[0].(type) {
	case x86asm.Rel:
		dest := l.b.Mem(next+uint64(int64(a)), 1)
		return append(push, pcode.NewOp(pcode.Call, dest))
	default:
		in.Flow = prog.ComputedCall
		tv, ops := l.argValue(addr, next, inst.Args[0], 8)
		if tv.IsNil() {
			return append(push, pcode.Op{Code: pcode.Unimplemented})
		}
		return append(append(ops, push...), pcode.NewOp(pcode.CallInd, tv))
	}
}

func (l *X86) liftJmp(addr, next uint64, inst x86asm.Inst, in *prog.Instruction) []pcode.Op {
	switch a := inst.Args[0].(type) {
	case x86asm.Rel:
		in.Flow = prog.UnconditionalJump
		return []pcode.Op{pcode.NewOp(pcode.Branch, l.b.Mem(next+uint64(int64(a)), 1))}
	default:
		in.Flow = prog.ComputedJump
		tv, ops := l.argValue(addr, next, inst.Args[0], 8)
		if tv.IsNil() {
			return []pcode.Op{{Code: pcode.Unimplemented}}
		}
		return append(ops, pcode.NewOp(pcode.BranchInd, tv))
	}
}

// liftJcc models every conditional jump off the unmodeled flags
// register, so an untracked condition explores both paths.
func (l *X86) liftJcc(next uint64, inst x86asm.Inst) []pcode.Op {
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return []pcode.Op{{Code: pcode.Unimplemented}}
	}
	dest := l.b.Mem(next+uint64(int64(rel)), 1)
	return []pcode.Op{pcode.NewOp(pcode.CBranch, dest, l.flags())}
}

// liftUnmodeled clears every register the instruction writes.
func (l *X86) liftUnmodeled(inst x86asm.Inst) []pcode.Op {
	var ops []pcode.Op
	if r, ok := inst.Args[0].(x86asm.Reg); ok {
		if off, ok := parentOff[r]; ok {
			out := l.b.Reg(off, 8)
			ops = append(ops, pcode.Op{Code: pcode.Unimplemented, Out: &out})
		}
	}
	if len(ops) == 0 {
		ops = []pcode.Op{{Code: pcode.Unimplemented}}
	}
	return ops
}

// operandSize is the access width an operand implies.
func operandSize(arg x86asm.Arg, inst x86asm.Inst) int {
	if r, ok := arg.(x86asm.Reg); ok {
		return regWidth(r)
	}
	if inst.DataSize > 0 {
		return inst.DataSize / 8
	}
	return 8
}

// operands renders the decoded operands for the reference emitter.
func (l *X86) operands(addr uint64, inst x86asm.Inst) []prog.Operand {
	next := addr + uint64(inst.Len)
	var out []prog.Operand
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case x86asm.Reg:
			off, known := parentOff[a]
			op := prog.Operand{Kind: prog.OperandRegister, IsPC: a == x86asm.RIP}
			if known {
				op.Reg = l.b.Reg(off, 8)
			}
			out = append(out, op)
		case x86asm.Imm:
			out = append(out, prog.Operand{Kind: prog.OperandScalar, Scalar: uint64(a)})
		case x86asm.Rel:
			out = append(out, prog.Operand{
				Kind: prog.OperandAddress,
				Addr: l.b.RAM().Addr(next + uint64(int64(a))),
			})
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				out = append(out, prog.Operand{
					Kind: prog.OperandAddress | prog.OperandDynamic,
					Addr: l.b.RAM().Addr(next + uint64(a.Disp)),
				})
				continue
			}
			op := prog.Operand{Kind: prog.OperandDynamic}
			if a.Base != 0 {
				if off, ok := parentOff[a.Base]; ok {
					op.Elems = append(op.Elems, prog.OperandElem{IsReg: true, Reg: l.b.Reg(off, 8)})
				}
			}
			if a.Disp != 0 {
				op.Elems = append(op.Elems, prog.OperandElem{Scalar: a.Disp})
			}
			out = append(out, op)
		}
	}
	return out
}

// condJump reports whether op is a conditional jump.
func condJump(op x86asm.Op) bool {
	switch op {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS:
		return true
	}
	return false
}
