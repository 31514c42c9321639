package propagate

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

// applyOps evaluates one instruction's micro-ops against the current
// context, starting at the given resume index. It returns flowed=true
// when the instruction ended its flow itself (queued edges, terminator,
// no-return call), in which case the walker must not advance to the
// fallthrough.
//
// Injected replacement sequences are spliced over the remainder of the
// op list and the cursor restarts at the injection, so reference
// discovery can be suppressed for replacement code.
func (w *walker) applyOps(in *prog.Instruction, ops []pcode.Op, start int) (flowed bool, err error) {
	ptrSize := w.ptrSize()
	injectedSeq := false
	var prevInject map[string]bool

	read := func(op pcode.Op, n int) value.Value {
		if n >= len(op.In) {
			return value.Bad
		}
		return w.state.Read(op.In[n])
	}

	for i := start; i >= 0 && i < len(ops); i++ {
		op := ops[i]
		if w.log.IsLevelEnabled(logrus.DebugLevel) {
			w.log.WithFields(logrus.Fields{
				"addr": in.Addr.String(),
				"op":   op.String(),
			}).Debug("evaluate")
		}

		switch op.Code {
		case pcode.Copy:
			if len(op.In) == 0 {
				w.setOut(op, value.Bad)
				continue
			}
			if op.In[0].IsAddress() {
				w.accessRef(in, op.In[0].Addr(), prog.Read)
				w.noteDataRead(op.In[0].Addr())
			}
			w.setOut(op, read(op, 0))

		case pcode.Load:
			if len(op.In) < 2 {
				w.setOut(op, value.Bad)
				continue
			}
			off := read(op, 1)
			size := 0
			if op.Out != nil {
				size = op.Out.Size
			}
			w.loadStoreRef(in, op.In[0], off, prog.Read)
			val := value.Bad
			if slot, ok := w.slotFor(op.In[0], off, size); ok {
				val = w.state.Read(slot)
				if slot.IsAddress() {
					w.noteDataRead(slot.Addr())
				}
			}
			w.setOut(op, val)

		case pcode.Store:
			if len(op.In) < 3 {
				continue
			}
			off := read(op, 1)
			stored := read(op, 2)
			w.loadStoreRef(in, op.In[0], off, prog.Write)
			if !injectedSeq && w.params.StoredRefs {
				if _, ok := stored.Const(); ok {
					if target, ok := w.speculativeAddr(in, stored, prog.Data); ok {
						// a call pushing its own return address is not
						// a data reference
						if ft, hasFT := in.FallThrough(); !hasFT || !target.Equal(ft) {
							w.placeRef(in, target, prog.Data)
						}
					}
				}
			}
			if slot, ok := w.slotFor(op.In[0], off, op.In[2].Size); ok {
				w.state.Write(slot, stored)
			}

		case pcode.Branch:
			if len(op.In) == 0 {
				return false, fmt.Errorf("%w: BRANCH at %s", ErrBadFlowTarget, in.Addr)
			}
			if op.In[0].IsConst() {
				// intra-instruction branch adjusts the cursor; going
				// backwards would loop, so the sequence is abandoned
				next := i + int(int64(op.In[0].Off))
				if next <= i {
					return false, nil
				}
				i = next - 1
				continue
			}
			if !op.In[0].IsAddress() {
				return false, fmt.Errorf("%w: BRANCH at %s", ErrBadFlowTarget, in.Addr)
			}
			w.hitCodeFlow = true
			dest := op.In[0].Addr()
			// a jump landing on another function's entry is a tail
			// call: apply call effects, do not descend
			if f := w.functionAt(dest); f != nil && !w.sameFunction(in.Addr, dest) {
				w.handleCallEffects(in, dest, f)
				return true, nil
			}
			w.pushFlow(prog.UnconditionalJump, in.Addr, dest, 0, true)
			return true, nil

		case pcode.CBranch:
			if len(op.In) == 0 {
				return false, fmt.Errorf("%w: CBRANCH at %s", ErrBadFlowTarget, in.Addr)
			}
			cond := read(op, 1)
			if op.In[0].IsConst() {
				c, known := cond.Const()
				if !known || c == 0 {
					continue
				}
				next := i + int(int64(op.In[0].Off))
				if next <= i {
					return false, nil
				}
				i = next - 1
				continue
			}
			if !op.In[0].IsAddress() {
				return false, fmt.Errorf("%w: CBRANCH at %s", ErrBadFlowTarget, in.Addr)
			}
			w.hitCodeFlow = true
			dest := op.In[0].Addr()
			c, known := cond.Const()
			switch {
			case known && c == 0:
				// never taken on this path
			case known:
				w.pushFlow(prog.ConditionalJump, in.Addr, dest, 0, true)
				return true, nil
			default:
				w.pushFlow(prog.ConditionalJump, in.Addr, dest, 0, true)
				if !w.eval.FollowFalseBranches() {
					return true, nil
				}
			}

		case pcode.BranchInd:
			w.hitCodeFlow = true
			if dest, ok := w.addrFromValue(read(op, 0)); ok {
				if w.eval.IndirectDestination(w.state, in, dest) {
					w.stopped = true
					return true, nil
				}
				w.placeRef(in, dest, prog.ComputedJump)
				w.pushFlow(prog.ComputedJump, in.Addr, dest, 0, true)
			}
			// jump tables characterized elsewhere show up as existing
			// computed-jump references or as decoded flow targets;
			// honor both as extra targets
			for _, r := range w.prog.ReferencesFrom(in.Addr) {
				if r.Type.IsJump() && r.Type.IsComputed() {
					w.pushFlow(prog.ComputedJump, in.Addr, r.To, 0, true)
				}
			}
			for _, ft := range w.flowsOf(in) {
				w.pushFlow(prog.ComputedJump, in.Addr, ft, 0, true)
			}
			return true, nil

		case pcode.Call, pcode.CallInd:
			w.hitCodeFlow = true
			dest := space.None
			if op.Code == pcode.Call {
				if len(op.In) == 0 || !op.In[0].IsAddress() {
					return false, fmt.Errorf("%w: CALL at %s", ErrBadFlowTarget, in.Addr)
				}
				dest = op.In[0].Addr()
			} else {
				if d, ok := w.addrFromValue(read(op, 0)); ok {
					dest = d
					if w.eval.IndirectDestination(w.state, in, dest) {
						w.stopped = true
						return true, nil
					}
					w.placeRef(in, dest, prog.ComputedCall)
				} else {
					// an unresolved target may already be characterized
					// by an existing call reference on the instruction
					for _, r := range w.prog.ReferencesFrom(in.Addr) {
						if r.Type.IsCall() {
							dest = r.To
							break
						}
					}
				}
			}
			var f *prog.Function
			if !dest.IsNone() {
				f = w.functionAt(dest)
			}

			if f != nil && f.CallFixup != "" && !prevInject[f.CallFixup] {
				repl := w.inject(in, "call fixup", func(site prog.InjectSite) ([]pcode.Op, error) {
					site.Call = dest
					return w.injector.CallFixup(f.CallFixup, site)
				})
				if repl != nil {
					if prevInject == nil {
						prevInject = make(map[string]bool)
					}
					prevInject[f.CallFixup] = true
					ops = spliceOps(ops, i, repl)
					injectedSeq = true
					i = -1
					continue
				}
			}

			if f != nil && f.Inline {
				// callee first, deferred fallthrough after; remaining
				// ops of this instruction are skipped
				if ft, ok := in.FallThrough(); ok {
					w.pushFlow(prog.FallThrough, in.Addr, ft, 0, true)
				}
				w.pushFlow(prog.UnconditionalCall, in.Addr, dest, 0, false)
				return true, nil
			}

			if w.handleCallEffects(in, dest, f) {
				// no-return callee: no fallthrough state exists
				return true, nil
			}

			if conv := w.convention(f); conv != nil && conv.Name != "" {
				repl := w.inject(in, "on-return injection", func(site prog.InjectSite) ([]pcode.Op, error) {
					site.Call = dest
					return w.injector.OnReturn(conv.Name, site)
				})
				if repl != nil {
					ops = spliceOps(ops, i, repl)
					injectedSeq = true
					i = -1
					continue
				}
			}

		case pcode.CallOther:
			if len(op.In) == 0 {
				if op.Out != nil {
					w.state.Clear(*op.Out)
				}
				continue
			}
			var inputs []value.Value
			for n := 1; n < len(op.In); n++ {
				inputs = append(inputs, read(op, n))
			}
			repl := w.inject(in, "call-other fixup", func(site prog.InjectSite) ([]pcode.Op, error) {
				site.Inputs = inputs
				site.Output = op.Out
				return w.injector.CallOtherFixup(op.In[0].Off, site)
			})
			if repl != nil {
				ops = spliceOps(ops, i, repl)
				injectedSeq = true
				i = -1
				continue
			}
			if op.Out != nil {
				w.state.Clear(*op.Out)
			}

		case pcode.Return:
			if w.eval.ReturnValue(w.state, in, read(op, 0)) {
				w.stopped = true
				return true, nil
			}
			if w.params.ReturnRefs {
				w.returnRefs(in)
			}
			return true, nil

		case pcode.IntAdd:
			w.setOut(op, value.Add(read(op, 0), read(op, 1)))
		case pcode.IntSub:
			w.setOut(op, value.Sub(read(op, 0), read(op, 1)))
		case pcode.IntXor:
			// xor of a register with itself is the idiomatic zeroing,
			// regardless of the register's current value
			if len(op.In) > 1 && op.In[0].Equal(op.In[1]) {
				w.setOut(op, value.MakeConst(0, op.In[0].Size))
			} else {
				w.setOut(op, value.Xor(read(op, 0), read(op, 1)))
			}
		case pcode.IntAnd:
			w.setOut(op, value.And(read(op, 0), read(op, 1)))
		case pcode.IntOr:
			w.setOut(op, value.Or(read(op, 0), read(op, 1)))
		case pcode.IntLeft:
			w.setOut(op, value.Lsh(read(op, 0), read(op, 1)))
		case pcode.IntRight:
			w.setOut(op, value.Rsh(read(op, 0), read(op, 1)))
		case pcode.IntSRight:
			w.setOut(op, value.SRsh(read(op, 0), read(op, 1)))
		case pcode.IntMult:
			w.setOut(op, value.Mult(read(op, 0), read(op, 1)))
		case pcode.IntDiv:
			w.setOut(op, value.Div(read(op, 0), read(op, 1)))
		case pcode.IntSDiv:
			w.setOut(op, value.SDiv(read(op, 0), read(op, 1)))
		case pcode.IntRem:
			w.setOut(op, value.Rem(read(op, 0), read(op, 1)))
		case pcode.IntSRem:
			w.setOut(op, value.SRem(read(op, 0), read(op, 1)))
		case pcode.Int2Comp:
			w.setOut(op, value.Neg(read(op, 0)))
		case pcode.IntNegate:
			w.setOut(op, value.Not(read(op, 0)))
		case pcode.IntCarry:
			w.setOut(op, value.Carry(read(op, 0), read(op, 1)))
		case pcode.IntSCarry:
			w.setOut(op, value.SCarry(read(op, 0), read(op, 1)))
		case pcode.IntSBorrow:
			w.setOut(op, value.SBorrow(read(op, 0), read(op, 1)))

		case pcode.IntEqual:
			w.setOut(op, value.CmpEqual(read(op, 0), read(op, 1)))
		case pcode.IntNotEqual:
			w.setOut(op, value.CmpNotEqual(read(op, 0), read(op, 1)))
		case pcode.IntLess:
			w.setOut(op, value.CmpLess(read(op, 0), read(op, 1)))
		case pcode.IntLessEqual:
			w.setOut(op, value.CmpLessEqual(read(op, 0), read(op, 1)))
		case pcode.IntSLess:
			w.setOut(op, value.CmpSLess(read(op, 0), read(op, 1)))
		case pcode.IntSLessEqual:
			w.setOut(op, value.CmpSLessEqual(read(op, 0), read(op, 1)))

		case pcode.IntZExt:
			w.setOut(op, value.ZeroExtend(read(op, 0), op.Out.Size))
		case pcode.IntSExt:
			w.setOut(op, value.SignExtend(read(op, 0), op.Out.Size))
		case pcode.Subpiece:
			w.setOut(op, value.Subpiece(read(op, 0), op.In[1].Off, op.Out.Size, ptrSize))
		case pcode.Piece:
			w.setOut(op, value.Piece(read(op, 0), read(op, 1)))

		case pcode.BoolNegate:
			w.setOut(op, value.BoolNegate(read(op, 0)))
		case pcode.BoolAnd:
			w.setOut(op, value.BoolAnd(read(op, 0), read(op, 1)))
		case pcode.BoolOr:
			w.setOut(op, value.BoolOr(read(op, 0), read(op, 1)))
		case pcode.BoolXor:
			w.setOut(op, value.BoolXor(read(op, 0), read(op, 1)))

		default:
			// unmodeled opcode: the output must not keep a stale value
			if op.Out != nil {
				w.state.Clear(*op.Out)
			}
		}
	}
	return false, nil
}

// setOut writes an op result, clearing instead when the result is
// unknown without provenance loss mattering.
func (w *walker) setOut(op pcode.Op, v value.Value) {
	if op.Out == nil {
		return
	}
	w.state.Write(*op.Out, v)
}

// spliceOps replaces the op at index and everything before it with the
// replacement sequence; evaluation restarts at the replacement.
func spliceOps(ops []pcode.Op, at int, repl []pcode.Op) []pcode.Op {
	out := make([]pcode.Op, 0, len(repl)+len(ops)-at-1)
	out = append(out, repl...)
	out = append(out, ops[at+1:]...)
	return out
}

// inject runs one injection lookup. A failed injection is logged and
// treated as absent.
func (w *walker) inject(in *prog.Instruction, what string, f func(prog.InjectSite) ([]pcode.Op, error)) []pcode.Op {
	site := prog.InjectSite{Base: in.Addr}
	if ft, ok := in.FallThrough(); ok {
		site.Next = ft
	}
	repl, err := f(site)
	if err != nil {
		w.log.WithFields(logrus.Fields{
			"addr": in.Addr.String(),
			"err":  err,
		}).Warnf("%s failed, treating as absent", what)
		return nil
	}
	return repl
}

// slotFor turns a (space selector, offset value) pair into a storage
// location. Symbolic offsets address the cell inside their base's
// tracking space; unknown offsets address nothing.
func (w *walker) slotFor(sel pcode.Varnode, off value.Value, size int) (pcode.Varnode, bool) {
	switch {
	case off.IsConst():
		sp := w.prog.Spaces().ByID(int(sel.Off))
		if sp == nil {
			return pcode.Varnode{}, false
		}
		c, _ := off.Const()
		return pcode.Varnode{Space: sp, Off: sp.Wrap(c), Size: size}, true
	case off.IsRel():
		return pcode.Varnode{Space: off.Base, Off: off.Base.Wrap(off.Off), Size: size}, true
	}
	return pcode.Varnode{}, false
}

// addrFromValue resolves a value to a concrete code/data address.
func (w *walker) addrFromValue(v value.Value) (space.Address, bool) {
	if c, ok := v.Const(); ok {
		sp := w.prog.DefaultSpace()
		return sp.Addr(sp.Wrap(c)), true
	}
	if v.IsRel() && (v.Base.Kind == space.RAM || v.Base.Kind == space.Overlay) {
		return v.Base.Addr(v.Base.Wrap(v.Off)), true
	}
	return space.None, false
}

func (w *walker) sameFunction(a, b space.Address) bool {
	fa := w.prog.FunctionContaining(a)
	fb := w.prog.FunctionContaining(b)
	return fa != nil && fb != nil && fa.Entry.Equal(fb.Entry)
}

func (w *walker) ptrSize() int {
	n := w.prog.DefaultSpace().PtrSize
	if n > 8 {
		n = 8
	}
	return n
}

// noteDataRead flags data reads that touch executable memory.
func (w *walker) noteDataRead(a space.Address) {
	if w.prog.IsExecutable(a) {
		w.readExec = true
	}
}
