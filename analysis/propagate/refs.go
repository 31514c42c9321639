package propagate

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

// placeRef commits a reference candidate: the hook may still veto it,
// then an operand is picked and the annotation is written synchronously.
func (w *walker) placeRef(in *prog.Instruction, to space.Address, rt prog.RefType) {
	ref := prog.Reference{
		From:    in.Addr,
		OpIndex: w.findOpIndex(in, to, rt),
		To:      to,
		Type:    rt,
	}
	if !w.eval.Reference(w.state, in, ref) {
		return
	}
	w.prog.AddReference(ref)
}

// accessRef annotates a read or write of a directly named memory cell.
func (w *walker) accessRef(in *prog.Instruction, a space.Address, rt prog.RefType) {
	if !w.plausibleTarget(a, rt) {
		return
	}
	w.placeRef(in, a, rt)
}

// loadStoreRef annotates the memory access of a LOAD or STORE whose
// address operand resolved. Accesses relative to a purely symbolic base
// (stack frames and the like) are only annotated if the hook asks.
func (w *walker) loadStoreRef(in *prog.Instruction, sel pcode.Varnode, off value.Value, rt prog.RefType) {
	switch {
	case off.IsConst():
		sp := w.prog.Spaces().ByID(int(sel.Off))
		if sp == nil {
			return
		}
		c, _ := off.Const()
		a := sp.Addr(sp.Wrap(c))
		if !w.plausibleTarget(a, rt) {
			return
		}
		w.placeRef(in, a, rt)
	case off.IsRel():
		if off.Base.Kind == space.RAM || off.Base.Kind == space.Overlay {
			a := off.Base.Addr(off.Base.Wrap(off.Off))
			if !w.plausibleTarget(a, rt) {
				return
			}
			w.placeRef(in, a, rt)
			return
		}
		if w.eval.SymbolicReference(w.state, in, off, rt) {
			a := off.Base.Addr(off.Base.Wrap(off.Off))
			w.placeRef(in, a, rt)
		}
	}
}

// speculativeAddr decides whether a computed value plausibly names
// memory, and in which space. Symbolic values resolve only when their
// base is itself a memory space; constants go through the space
// heuristics.
func (w *walker) speculativeAddr(in *prog.Instruction, v value.Value, rt prog.RefType) (space.Address, bool) {
	switch {
	case v.IsRel():
		if v.Base.Kind == space.RAM || v.Base.Kind == space.Overlay {
			a := v.Base.Addr(v.Base.Wrap(v.Off))
			if !w.plausibleTarget(a, rt) {
				return space.None, false
			}
			return w.vetDataRef(a, rt)
		}
		return space.None, false
	case v.IsConst():
		vv, ok := w.eval.Constant(w.state, in, v, rt)
		if !ok {
			return space.None, false
		}
		c, ok := vv.Const()
		if !ok {
			return space.None, false
		}
		return w.referenceSpace(c, rt)
	}
	return space.None, false
}

// referenceSpace picks the target space for a bare offset, refusing to
// guess when the choice stays ambiguous.
func (w *walker) referenceSpace(off uint64, rt prog.RefType) (space.Address, bool) {
	def := w.prog.DefaultSpace()
	if w.smallOffset(off, def) {
		return space.None, false
	}
	var containing []*space.Space
	for _, sp := range w.prog.MemorySpaces() {
		if w.prog.Contains(sp.Addr(sp.Wrap(off))) {
			containing = append(containing, sp)
		}
	}
	switch len(containing) {
	case 0:
		// flow targets are allowed to point at memory not yet loaded
		a := def.Addr(def.Wrap(off))
		if rt.IsFlow() || w.prog.HasReferencesTo(a) {
			return a, true
		}
		return space.None, false
	case 1:
		return w.vetDataRef(containing[0].Addr(containing[0].Wrap(off)), rt)
	}
	// several spaces could hold the offset; one with a symbol or an
	// incoming reference wins, any remaining tie is refused
	picked := space.None
	hits := 0
	for _, sp := range containing {
		a := sp.Addr(sp.Wrap(off))
		if w.prog.HasSymbolAt(a) || w.prog.HasReferencesTo(a) {
			picked = a
			hits++
		}
	}
	if hits == 1 {
		return w.vetDataRef(picked, rt)
	}
	return space.None, false
}

// smallOffset rejects offsets too likely to be incidental integers:
// tiny signed values and anything within the pointer bounds margin of
// either end of the space.
func (w *walker) smallOffset(off uint64, sp *space.Space) bool {
	if s := int64(off); s >= -1 && s <= w.params.SmallOffsetMax {
		return true
	}
	wrapped := sp.Wrap(off)
	mask := sp.Mask()
	return wrapped < w.params.PointerMinBounds || wrapped > mask-w.params.PointerMinBounds
}

// plausibleTarget applies the populated-memory rule: non-flow targets
// must land in loaded memory or already be referenced from elsewhere,
// and must not look like a small incidental integer.
func (w *walker) plausibleTarget(a space.Address, rt prog.RefType) bool {
	if s := int64(a.Offset); s >= -1 && s <= w.params.SmallOffsetMax {
		return false
	}
	if rt.IsFlow() {
		return true
	}
	return w.prog.Contains(a) || w.prog.HasReferencesTo(a)
}

// vetDataRef guards pure-data candidates landing inside decoded code:
// the target must be an instruction start, and a function entry when it
// falls inside a function body.
func (w *walker) vetDataRef(a space.Address, rt prog.RefType) (space.Address, bool) {
	if rt != prog.Data && rt != prog.ParamRef {
		return a, true
	}
	if ci := w.prog.InstructionContaining(a); ci != nil {
		if !ci.MinAddr().Equal(a) {
			return space.None, false
		}
		if f := w.prog.FunctionContaining(a); f != nil && !f.Entry.Equal(a) {
			return space.None, false
		}
	}
	return a, true
}

// findOpIndex picks the operand to carry a reference: an operand whose
// address or scalar rendering matches the target, then a scalar buried
// in a dynamic operand, then a program-counter register operand for
// flows, and finally the mnemonic.
func (w *walker) findOpIndex(in *prog.Instruction, to space.Address, rt prog.RefType) int {
	for i, opnd := range in.Operands {
		if opnd.Kind&prog.OperandAddress != 0 && opnd.Addr.Equal(to) {
			return i
		}
		if opnd.Kind&prog.OperandScalar != 0 && opnd.Scalar == to.Offset {
			return i
		}
		if opnd.Kind&prog.OperandDynamic != 0 {
			for _, el := range opnd.Elems {
				if !el.IsReg && uint64(el.Scalar) == to.Offset {
					return i
				}
			}
		}
	}
	if rt.IsFlow() {
		for i, opnd := range in.Operands {
			if opnd.Kind&prog.OperandRegister != 0 && opnd.IsPC {
				return i
			}
		}
	}
	return prog.MnemonicIndex
}
