package prog

import (
	"fmt"
	"sort"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
)

// maxInstrLen bounds the backward scan of InstructionContaining.
const maxInstrLen = 16

type memBlock struct {
	min, max space.Address
	exec     bool
}

// Builder is an in-memory Program. Front-ends populate it from decoded
// machine code; tests hand-build listings on it. It implements both the
// listing contracts and the annotation sink.
type Builder struct {
	factory     *space.Factory
	defaultSp   *space.Space
	defaultData *space.Space
	constSp     *space.Space
	uniqueSp    *space.Space
	registerSp  *space.Space

	stackPtr pcode.Varnode
	pc       pcode.Varnode
	conv     *Convention

	instrs  map[space.Address]*Instruction
	ops     map[space.Address][]pcode.Op
	flows   map[space.Address][]space.Address
	funcs   map[space.Address]*Function
	symbols map[space.Address]string
	refFrom map[space.Address][]Reference
	refTo   map[space.Address]int
	memory  []memBlock
}

// NewBuilder creates a program with the standard space set: a default
// loaded space named "ram" plus register, unique and constant spaces.
func NewBuilder(ptrSize int) *Builder {
	f := space.NewFactory()
	ram := f.New("ram", space.RAM, ptrSize)
	b := &Builder{
		factory:     f,
		defaultSp:   ram,
		defaultData: ram,
		constSp:     f.New("const", space.Constant, ptrSize),
		uniqueSp:    f.New("unique", space.Unique, ptrSize),
		registerSp:  f.New("register", space.Register, ptrSize),
		instrs:      make(map[space.Address]*Instruction),
		ops:         make(map[space.Address][]pcode.Op),
		flows:       make(map[space.Address][]space.Address),
		funcs:       make(map[space.Address]*Function),
		symbols:     make(map[space.Address]string),
		refFrom:     make(map[space.Address][]Reference),
		refTo:       make(map[space.Address]int),
	}
	return b
}

// Construction helpers.

func (b *Builder) RAM() *space.Space { return b.defaultSp }
func (b *Builder) ConstSpace() *space.Space { return b.constSp }
func (b *Builder) UniqueSpace() *space.Space { return b.uniqueSp }
func (b *Builder) RegisterSpace() *space.Space { return b.registerSp }

// Const builds a literal varnode.
func (b *Builder) Const(v uint64, size int) pcode.Varnode {
	return pcode.Varnode{Space: b.constSp, Off: v, Size: size}
}

// Reg builds a register varnode at the given register-space offset.
func (b *Builder) Reg(off uint64, size int) pcode.Varnode {
	return pcode.Varnode{Space: b.registerSp, Off: off, Size: size}
}

// Unique builds a temporary varnode.
func (b *Builder) Unique(off uint64, size int) pcode.Varnode {
	return pcode.Varnode{Space: b.uniqueSp, Off: off, Size: size}
}

// Mem builds a varnode naming a cell of the default space.
func (b *Builder) Mem(off uint64, size int) pcode.Varnode {
	return pcode.Varnode{Space: b.defaultSp, Off: off, Size: size}
}

// SetStackPointer declares the stack-pointer register.
func (b *Builder) SetStackPointer(v pcode.Varnode) { b.stackPtr = v }

// SetProgramCounter declares the program-counter register.
func (b *Builder) SetProgramCounter(v pcode.Varnode) { b.pc = v }

// SetDefaultConvention installs the program's default calling convention.
func (b *Builder) SetDefaultConvention(c *Convention) { b.conv = c }

// SetDataSpace separates the data space from the default (code) space.
func (b *Builder) SetDataSpace(s *space.Space) { b.defaultData = s }

// AddInstruction installs a decoded instruction with its micro-ops.
// Static flow targets are derived from branch/call ops with address
// inputs.
func (b *Builder) AddInstruction(in *Instruction, ops ...pcode.Op) *Instruction {
	if in.Size == 0 {
		in.Size = len(in.Bytes)
	}
	if in.Size == 0 {
		in.Size = 1
	}
	if in.ProtoID == 0 {
		in.ProtoID = protoHash(in.Mnemonic, ops)
	}
	b.instrs[in.Addr] = in
	b.ops[in.Addr] = ops

	var flows []space.Address
	for _, op := range ops {
		switch op.Code {
		case pcode.Branch, pcode.CBranch, pcode.Call:
			if len(op.In) > 0 && op.In[0].IsAddress() {
				flows = append(flows, op.In[0].Addr())
			}
		}
	}
	b.flows[in.Addr] = flows
	return in
}

// AddFlowTarget registers an extra decoded flow target for the
// instruction at from, such as a recovered jump-table entry. The
// target shows up in FlowsOf alongside the derived static flows.
func (b *Builder) AddFlowTarget(from, to space.Address) {
	b.flows[from] = append(b.flows[from], to)
}

// AddFunction installs a catalog entry. A nil body gets a body covering
// just the entry.
func (b *Builder) AddFunction(f *Function) *Function {
	if f.Body == nil {
		f.Body = space.NewAddressSet()
		f.Body.Add(f.Entry)
	}
	b.funcs[f.Entry] = f
	return f
}

// AddSymbol installs a primary symbol.
func (b *Builder) AddSymbol(a space.Address, name string) {
	b.symbols[a] = name
}

// AddMemory declares a populated memory range.
func (b *Builder) AddMemory(min, max space.Address, exec bool) {
	b.memory = append(b.memory, memBlock{min, max, exec})
}

// Program interface.

func (b *Builder) InstructionAt(a space.Address) *Instruction {
	return b.instrs[a]
}

func (b *Builder) InstructionContaining(a space.Address) *Instruction {
	if in := b.instrs[a]; in != nil {
		return in
	}
	for d := int64(1); d < maxInstrLen; d++ {
		if in := b.instrs[a.Add(-d)]; in != nil {
			if in.Contains(a) {
				return in
			}
			return nil
		}
	}
	return nil
}

func (b *Builder) OpsOf(in *Instruction) []pcode.Op {
	return b.ops[in.Addr]
}

func (b *Builder) FlowsOf(in *Instruction) []space.Address {
	return b.flows[in.Addr]
}

func (b *Builder) FunctionAt(a space.Address) *Function {
	return b.funcs[a]
}

func (b *Builder) FunctionContaining(a space.Address) *Function {
	if f := b.funcs[a]; f != nil {
		return f
	}
	for _, f := range b.funcs {
		if f.Body.Contains(a) {
			return f
		}
	}
	return nil
}

func (b *Builder) DefaultConvention() *Convention { return b.conv }

func (b *Builder) ReferencesFrom(a space.Address) []Reference {
	return b.refFrom[a]
}

func (b *Builder) HasReferencesTo(a space.Address) bool {
	return b.refTo[a] > 0
}

func (b *Builder) HasSymbolAt(a space.Address) bool {
	_, ok := b.symbols[a]
	return ok
}

func (b *Builder) Contains(a space.Address) bool {
	p := a.Physical()
	for _, blk := range b.memory {
		if blk.min.Space == p.Space && blk.min.Offset <= p.Offset && p.Offset <= blk.max.Offset {
			return true
		}
	}
	return false
}

func (b *Builder) IsExecutable(a space.Address) bool {
	p := a.Physical()
	for _, blk := range b.memory {
		if blk.exec && blk.min.Space == p.Space && blk.min.Offset <= p.Offset && p.Offset <= blk.max.Offset {
			return true
		}
	}
	return false
}

func (b *Builder) AddReference(r Reference) {
	b.refFrom[r.From] = append(b.refFrom[r.From], r)
	b.refTo[r.To]++
}

func (b *Builder) Spaces() *space.Factory { return b.factory }

func (b *Builder) MemorySpaces() []*space.Space {
	var out []*space.Space
	for _, s := range b.factory.All() {
		if s.Kind != space.RAM && s.Kind != space.Overlay {
			continue
		}
		if s.Kind == space.Overlay {
			base := s.Physical()
			if base != b.defaultSp && base != b.defaultData {
				continue
			}
		} else if s != b.defaultSp && s != b.defaultData {
			continue
		}
		if s == b.defaultSp {
			out = append([]*space.Space{s}, out...)
		} else {
			out = append(out, s)
		}
	}
	return out
}

func (b *Builder) DefaultSpace() *space.Space     { return b.defaultSp }
func (b *Builder) DefaultDataSpace() *space.Space { return b.defaultData }
func (b *Builder) StackPointer() pcode.Varnode    { return b.stackPtr }
func (b *Builder) ProgramCounter() pcode.Varnode  { return b.pc }

// References returns all annotations placed so far, ordered by source
// address then target. Used for reporting.
func (b *Builder) References() []Reference {
	var out []Reference
	for _, refs := range b.refFrom {
		out = append(out, refs...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From.Offset != b.From.Offset {
			return a.From.Offset < b.From.Offset
		}
		return a.To.Offset < b.To.Offset
	})
	return out
}

// protoHash derives a prototype identity from the decode shape.
func protoHash(mnemonic string, ops []pcode.Op) uint64 {
	h := uint64(14695981039346656037)
	step := func(x uint64) {
		h ^= x
		h *= 1099511628211
	}
	for _, c := range []byte(mnemonic) {
		step(uint64(c))
	}
	for _, op := range ops {
		step(uint64(op.Code))
		step(uint64(len(op.In)))
	}
	if h == 0 {
		h = 1
	}
	return h
}

var _ Program = (*Builder)(nil)

func (b *Builder) String() string {
	return fmt.Sprintf("program{%d instructions, %d functions}", len(b.instrs), len(b.funcs))
}
