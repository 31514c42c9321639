package propagate

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

// notFound is cached in place of a nil result so a repeated failed
// lookup never goes back to the program. A plain cache miss is
// indistinguishable from "looked up, nothing there" otherwise.
type notFound struct{}

// lookupCache bounds the per-engine program lookups. One cache set per
// engine instance; never shared between engines.
type lookupCache struct {
	instrs *lru.Cache
	funcs  *lru.Cache
	ops    *lru.Cache
	flows  *lru.Cache
}

func newLookupCache(size int) (*lookupCache, error) {
	c := &lookupCache{}
	for _, p := range []**lru.Cache{&c.instrs, &c.funcs, &c.ops, &c.flows} {
		l, err := lru.New(size)
		if err != nil {
			return nil, err
		}
		*p = l
	}
	return c, nil
}

func (e *Engine) instructionAt(a space.Address) *prog.Instruction {
	if v, ok := e.cache.instrs.Get(a); ok {
		if in, ok := v.(*prog.Instruction); ok {
			return in
		}
		return nil
	}
	in := e.prog.InstructionAt(a)
	if in == nil {
		e.cache.instrs.Add(a, notFound{})
	} else {
		e.cache.instrs.Add(a, in)
	}
	return in
}

func (e *Engine) functionAt(a space.Address) *prog.Function {
	if v, ok := e.cache.funcs.Get(a); ok {
		if f, ok := v.(*prog.Function); ok {
			return f
		}
		return nil
	}
	f := e.prog.FunctionAt(a)
	if f == nil {
		e.cache.funcs.Add(a, notFound{})
	} else {
		e.cache.funcs.Add(a, f)
	}
	return f
}

func (e *Engine) opsOf(in *prog.Instruction) []pcode.Op {
	if v, ok := e.cache.ops.Get(in.Addr); ok {
		ops, _ := v.([]pcode.Op)
		return ops
	}
	ops := e.prog.OpsOf(in)
	e.cache.ops.Add(in.Addr, ops)
	return ops
}

func (e *Engine) flowsOf(in *prog.Instruction) []space.Address {
	if v, ok := e.cache.flows.Get(in.Addr); ok {
		fl, _ := v.([]space.Address)
		return fl
	}
	fl := e.prog.FlowsOf(in)
	e.cache.flows.Add(in.Addr, fl)
	return fl
}
