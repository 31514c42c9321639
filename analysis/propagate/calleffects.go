package propagate

import (
	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

func (w *walker) convention(f *prog.Function) *prog.Convention {
	if f != nil && f.Conv != nil {
		return f.Conv
	}
	return w.prog.DefaultConvention()
}

// handleCallEffects models a call without descending into the callee:
// parameter reference discovery, the callee's stack effect, and
// invalidation of return and caller-saved storage. It reports true for
// a no-return callee, whose fallthrough state must not exist.
func (w *walker) handleCallEffects(in *prog.Instruction, dest space.Address, f *prog.Function) (noReturn bool) {
	if f != nil && f.NoReturn {
		return true
	}
	conv := w.convention(f)
	if w.params.ParamRefs && conv != nil {
		w.paramRefs(in, f, conv)
	}
	w.adjustStack(in, f, conv)
	if conv != nil {
		for _, vn := range conv.ReturnStorage {
			w.state.Clear(vn)
		}
		for _, vn := range conv.Killed {
			w.state.Clear(vn)
		}
	}
	return false
}

// adjustStack applies the callee's stack effect. Resolution order:
// a trusted declared purge, then the convention's fixed extra pop,
// then recovery of the depth from another edge already known to reach
// the fallthrough, and as a last resort the stack slot is invalidated.
func (w *walker) adjustStack(in *prog.Instruction, f *prog.Function, conv *prog.Convention) {
	spVn := w.prog.StackPointer()
	if spVn.IsNil() {
		return
	}
	purge := prog.UnknownPurge
	if f != nil && f.PurgeValid() {
		purge = f.Purge
	}
	shift := 0
	if conv != nil {
		shift = conv.StackShift
		if purge == prog.UnknownPurge && conv.ExtraPop != prog.UnknownExtraPop {
			purge = conv.ExtraPop
		}
	}
	if purge != prog.UnknownPurge {
		cur := w.state.Read(spVn)
		adj := value.MakeConst(uint64(int64(purge+shift)), spVn.Size)
		w.state.Write(spVn, value.Add(cur, adj))
		return
	}
	if ft, ok := in.FallThrough(); ok {
		if v, ok := w.state.KnownStackAt(ft); ok {
			w.state.Write(spVn, v)
			return
		}
	}
	// single-byte call instructions are almost always thunk tricks
	// (call next; pop reg) that leave the stack recoverable
	if in.Size != 1 {
		w.state.Clear(spVn)
	}
}

// paramRefs scans the callee's argument storage for pointer values.
// With a declared signature only declared parameters are checked;
// otherwise the convention's first argument homes are assumed. A hit is
// attached to the instruction that produced the value, not the call.
func (w *walker) paramRefs(in *prog.Instruction, f *prog.Function, conv *prog.Convention) {
	var params []prog.Param
	if f != nil && f.SignatureKnown {
		params = f.Params
	} else {
		n := len(conv.ArgLocations)
		if n > 8 {
			n = 8
		}
		for _, vn := range conv.ArgLocations[:n] {
			params = append(params, prog.Param{Storage: vn, MaybePointer: true})
		}
	}
	for _, p := range params {
		if w.params.ParamPointerRefs && !p.Pointer {
			continue
		}
		if !p.Pointer && !p.MaybePointer {
			continue
		}
		slot, ok := w.resolveStorage(p.Storage)
		if !ok {
			continue
		}
		v := w.state.Read(slot)
		target, ok := w.speculativeAddr(in, v, prog.ParamRef)
		if !ok {
			continue
		}
		w.placeRef(w.producerOf(slot, in), target, prog.ParamRef)
	}
}

// returnRefs checks the convention's return storage for a pointer value
// at a return site.
func (w *walker) returnRefs(in *prog.Instruction) {
	conv := w.convention(w.prog.FunctionContaining(in.Addr))
	if conv == nil {
		return
	}
	ptr := w.ptrSize()
	for _, vn := range conv.ReturnStorage {
		if vn.Size != ptr {
			continue
		}
		v := w.state.Read(vn)
		target, ok := w.speculativeAddr(in, v, prog.Data)
		if !ok {
			continue
		}
		w.placeRef(w.producerOf(vn, in), target, prog.Data)
	}
}

// resolveStorage maps declared storage to a live slot. Stack-relative
// storage (a varnode in a tracking space) is translated through the
// current symbolic stack pointer.
func (w *walker) resolveStorage(vn pcode.Varnode) (pcode.Varnode, bool) {
	if vn.IsNil() {
		return vn, false
	}
	if vn.Space.Kind == space.Tracking {
		sp := w.stackValue()
		if !sp.IsRel() {
			return pcode.Varnode{}, false
		}
		return pcode.Varnode{
			Space: sp.Base,
			Off:   sp.Base.Wrap(sp.Off + vn.Off),
			Size:  vn.Size,
		}, true
	}
	return vn, true
}

// producerOf walks back to the instruction that last assigned a slot,
// falling back to the consuming instruction.
func (w *walker) producerOf(vn pcode.Varnode, fallback *prog.Instruction) *prog.Instruction {
	if at, ok := w.state.LastAssigned(vn); ok {
		if ai := w.instructionAt(at); ai != nil {
			return ai
		}
	}
	return fallback
}
