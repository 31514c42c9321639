package propagate_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/X-EcutiOnner/Ghidra/analysis/pcode"
	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/propagate"
)

func TestAnnotationReport(t *testing.T) {
	p := newTestProg()
	arg := p.b.Reg(0x10, 8)
	p.b.AddFunction(&prog.Function{Name: "helper", Entry: p.addr(0x1800), Purge: 8})
	p.instr(0x1000, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, p.r1, p.b.Const(0x4800, 8)))
	p.instr(0x1005, 5, "mov", 0, pcode.NewOp(pcode.Store, p.sel, p.r1, p.b.Const(0x4100, 8)))
	p.instr(0x100a, 5, "mov", 0, pcode.NewOpOut(pcode.Copy, arg, p.b.Const(0x4200, 8)))
	p.instr(0x100f, 5, "call", prog.UnconditionalCall, p.callOps(0x1014, 0x1800)...)
	p.instr(0x1014, 1, "ret", prog.Terminator, p.ret()...)

	eng, err := propagate.New(p.b, propagate.DefaultParams())
	require.NoError(t, err)
	visited, err := eng.FlowConstants(context.Background(), p.addr(0x1000), nil, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	fmt.Fprintf(&out, "visited %s\n", visited)
	fmt.Fprintln(&out, "references:")
	for _, r := range p.b.References() {
		fmt.Fprintf(&out, "  %s\n", r)
	}
	goldie.New(t).Assert(t, t.Name(), out.Bytes())
}
