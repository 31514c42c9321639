package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/value"
)

func newTestContext(t *testing.T) (*Context, *prog.Builder) {
	t.Helper()
	b := prog.NewBuilder(8)
	b.SetStackPointer(b.Reg(0x20, 8))
	return New(b), b
}

func TestStackPointerSeeded(t *testing.T) {
	c, b := newTestContext(t)
	v := c.Read(b.Reg(0x20, 8))
	require.True(t, v.IsRel())
	assert.Equal(t, c.StackSpace(), v.Base)
	assert.Equal(t, uint64(0), v.Off)
}

func TestReadWriteClear(t *testing.T) {
	c, b := newTestContext(t)
	ax := b.Reg(0x0, 8)

	assert.True(t, c.Read(ax).IsUnknown())

	c.SetCurrent(b.RAM().Addr(0x1000))
	c.Write(ax, value.MakeConst(42, 8))
	got, ok := c.Read(ax).Const()
	require.True(t, ok)
	assert.Equal(t, uint64(42), got)

	at, ok := c.LastAssigned(ax)
	require.True(t, ok)
	assert.Equal(t, b.RAM().Addr(0x1000), at)

	c.Clear(ax)
	assert.True(t, c.Read(ax).IsUnknown())
	_, ok = c.LastAssigned(ax)
	assert.False(t, ok)
}

func TestConstVarnodeReadsAsItself(t *testing.T) {
	c, b := newTestContext(t)
	got, ok := c.Read(b.Const(0xff, 4)).Const()
	require.True(t, ok)
	assert.Equal(t, uint64(0xff), got)
}

func TestSnapshotRestore(t *testing.T) {
	c, b := newTestContext(t)
	ax := b.Reg(0x0, 8)
	bx := b.Reg(0x8, 8)

	c.Write(ax, value.MakeConst(1, 8))
	snap := c.Snapshot()

	c.Write(ax, value.MakeConst(2, 8))
	c.Write(bx, value.MakeConst(3, 8))

	c.Restore(snap)
	got, _ := c.Read(ax).Const()
	assert.Equal(t, uint64(1), got)
	assert.True(t, c.Read(bx).IsUnknown())
}

func TestKnownStackSurvivesRestore(t *testing.T) {
	c, b := newTestContext(t)
	dest := b.RAM().Addr(0x2000)

	snap := c.Snapshot()
	c.FlowTo(dest, value.MakeRel(c.StackSpace(), 0x10, 8))
	c.Restore(snap)

	v, ok := c.KnownStackAt(dest)
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), v.Off)
}

func TestRecording(t *testing.T) {
	c, b := newTestContext(t)
	ax := b.Reg(0x0, 8)
	a := b.RAM().Addr(0x1000)

	c.EnableRecording()
	c.Write(ax, value.MakeConst(7, 8))
	c.RecordStart(a)
	c.Write(ax, value.MakeConst(9, 8))
	c.RecordEnd(a)

	v, ok := c.ValueAt(ax, a)
	require.True(t, ok)
	assert.Equal(t, uint64(7), v.Off)

	v, ok = c.EndValueAt(ax, a)
	require.True(t, ok)
	assert.Equal(t, uint64(9), v.Off)

	_, ok = c.ValueAt(ax, b.RAM().Addr(0x2000))
	assert.False(t, ok)
}
