// Package propagate implements a flow-sensitive symbolic value
// propagation pass over decoded machine instructions. The engine walks
// control flow instruction by instruction, evaluates each instruction's
// micro-ops against an abstract value domain and annotates the
// references the resulting values reveal.
//
// One pass is single-threaded. Separate engine instances may run
// concurrently over the same program as long as the program itself is
// not mutated.
package propagate

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/analysis/state"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
	"github.com/X-EcutiOnner/Ghidra/utils/worklist"
)

// ErrBadFlowTarget reports a decoded flow operand that is neither a
// constant op offset nor a resolvable address. It indicates a decoder
// contract violation upstream and is fatal to the pass.
var ErrBadFlowTarget = errors.New("flow target is neither constant nor address")

// Engine runs propagation passes over one program.
type Engine struct {
	prog     prog.Program
	injector prog.Injector
	params   Params
	log      *logrus.Logger
	cache    *lookupCache

	state *state.Context

	visited     *space.AddressSet
	edges       []FlowEdge
	hitCodeFlow bool
	readExec    bool
}

// New builds an engine over a program with the given policy bounds.
func New(p prog.Program, params Params) (*Engine, error) {
	cache, err := newLookupCache(params.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating lookup caches: %w", err)
	}
	return &Engine{
		prog:     p,
		injector: prog.NoInjections{},
		params:   params,
		log:      logrus.StandardLogger(),
		cache:    cache,
	}, nil
}

// SetInjector installs a platform injection provider.
func (e *Engine) SetInjector(inj prog.Injector) { e.injector = inj }

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(l *logrus.Logger) { e.log = l }

// EncounteredBranch reports whether any non-trivial control flow was
// seen in the last pass.
func (e *Engine) EncounteredBranch() bool { return e.hitCodeFlow }

// ReadExecutable reports whether the last pass observed a data read of
// executable memory, a hint of self-modifying or decrypted code.
func (e *Engine) ReadExecutable() bool { return e.readExec }

// Edges lists the flow edges discovered by the last pass.
func (e *Engine) Edges() []FlowEdge { return e.edges }

// ValueAt returns the value a storage location held on entry to the
// instruction at a during the last pass. Requires Params.RecordState.
func (e *Engine) ValueAt(v pcode.Varnode, a space.Address) (value.Value, bool) {
	if e.state == nil {
		return value.Bad, false
	}
	return e.state.ValueAt(v, a)
}

// EndValueAt is ValueAt for the state after the instruction executed.
func (e *Engine) EndValueAt(v pcode.Varnode, a space.Address) (value.Value, bool) {
	if e.state == nil {
		return value.Bad, false
	}
	return e.state.EndValueAt(v, a)
}

// savedFlow is one unit of pending work: a context snapshot plus the
// edge it arrived on. opIndex resumes mid-instruction after an inlined
// call; extra, when active, bounds how far the flow may keep walking
// through already visited code.
type savedFlow struct {
	snap     state.Snapshot
	flow     prog.RefType
	from, to space.Address
	opIndex  int
	extra    bool
}

// notContinuing marks a flow with no active extra-instruction budget.
const notContinuing = -1

type edgeKey struct {
	from, to space.Address
}

// walker is the per-pass driver state.
type walker struct {
	*Engine
	ctx      context.Context
	eval     Evaluator
	restrict *space.AddressSet
	work     worklist.Stack[savedFlow]
	seen     map[edgeKey]bool
	stopped  bool

	lastProto uint64
	lastBytes []byte
	runLen    int
}

// FlowConstants runs one pass rooted at start. A non-nil restrict set
// confines the walk to its addresses. The pass drains a worklist of
// saved flow states; it returns the set of addresses visited together
// with ctx.Err() if the pass was cancelled. A hook requesting a stop
// ends the pass without error.
func (e *Engine) FlowConstants(ctx context.Context, start space.Address, restrict *space.AddressSet, eval Evaluator) (*space.AddressSet, error) {
	if eval == nil {
		eval = BaseEvaluator{}
	}
	e.state = state.New(e.prog)
	if e.params.RecordState {
		e.state.EnableRecording()
	}
	e.visited = space.NewAddressSet()
	e.edges = nil
	e.hitCodeFlow = false
	e.readExec = false

	w := &walker{
		Engine:   e,
		ctx:      ctx,
		eval:     eval,
		restrict: restrict,
		seen:     make(map[edgeKey]bool),
	}
	w.work.Push(savedFlow{
		snap: e.state.Snapshot(),
		from: space.None,
		to:   start,
	})
	if err := w.run(); err != nil {
		return e.visited, err
	}
	return e.visited, nil
}

func (w *walker) run() error {
	for !w.work.IsEmpty() {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		sf, _ := w.work.Pop()
		if err := w.runFlow(sf); err != nil {
			return err
		}
		if w.stopped {
			return nil
		}
	}
	return nil
}

// runFlow walks one saved flow state until it ends, queues new edges or
// exhausts its budget.
func (w *walker) runFlow(sf savedFlow) error {
	key := edgeKey{sf.from, sf.to}
	if w.seen[key] {
		return nil
	}
	w.seen[key] = true

	if w.log.IsLevelEnabled(logrus.DebugLevel) {
		w.log.WithFields(logrus.Fields{
			"kind": sf.flow.String(),
			"from": sf.from.String(),
			"to":   sf.to.String(),
		}).Debug("resuming flow")
	}

	// A destination already inside the visited body only keeps flowing
	// on a bounded budget, and never past a call.
	budget := notContinuing
	if w.visited.Contains(sf.to) {
		if !sf.extra {
			return nil
		}
		budget = w.params.MaxExtraFlow
	}

	w.state.Restore(sf.snap)
	w.runLen = 0
	w.lastProto = 0

	addr := sf.to
	opIndex := sf.opIndex
	for !addr.IsNone() {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if w.restrict != nil && !w.restrict.Contains(addr) {
			return nil
		}
		in := w.instructionAt(addr)
		if in == nil {
			return nil
		}
		if w.sameRunExceeded(in) {
			w.log.WithField("addr", addr.String()).
				Debug("abandoning run of identical instructions")
			return nil
		}

		w.state.FlowTo(addr, w.stackValue())
		if w.eval.BeforeInstruction(w.state, in) {
			w.stopped = true
			return nil
		}
		w.state.SetCurrent(addr)
		w.state.RecordStart(addr)

		flowed, err := w.applyOps(in, w.opsOf(in), opIndex)
		if err != nil {
			return err
		}
		opIndex = 0

		if w.eval.AfterInstruction(w.state, in) {
			w.stopped = true
			return nil
		}
		w.visited.AddRange(in.MinAddr(), in.MaxAddr())
		w.state.RecordEnd(addr)

		if flowed {
			return nil
		}
		ft, ok := in.FallThrough()
		if !ok {
			return nil
		}
		if budget != notContinuing {
			if in.Flow.IsCall() {
				return nil
			}
			budget--
			if budget <= 0 {
				return nil
			}
		}
		addr = ft
	}
	return nil
}

// pushFlow queues an edge for later processing with the current state.
func (w *walker) pushFlow(flow prog.RefType, from, to space.Address, opIndex int, extra bool) {
	w.edges = append(w.edges, FlowEdge{From: from, To: to, Kind: flow})
	w.state.FlowTo(to, w.stackValue())
	w.work.Push(savedFlow{
		snap:    w.state.Snapshot(),
		flow:    flow,
		from:    from,
		to:      to,
		opIndex: opIndex,
		extra:   extra,
	})
}

// stackValue reads the current symbolic stack pointer.
func (w *walker) stackValue() value.Value {
	sp := w.prog.StackPointer()
	if sp.IsNil() {
		return value.Bad
	}
	return w.state.Read(sp)
}

// sameRunExceeded cuts runs of repeated instructions, the signature of
// walking into padding or filler. The cheap prototype id is compared
// first; only byte-identical instructions count toward the run.
func (w *walker) sameRunExceeded(in *prog.Instruction) bool {
	if w.lastProto != 0 && w.lastProto == in.ProtoID &&
		bytes.Equal(w.lastBytes, in.Bytes) {
		w.runLen++
		if w.runLen > w.params.MaxSameInstruction {
			return true
		}
	} else {
		w.runLen = 0
	}
	w.lastProto = in.ProtoID
	w.lastBytes = in.Bytes
	return false
}
