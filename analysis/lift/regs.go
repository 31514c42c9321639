package lift

import "golang.org/x/arch/x86/x86asm"

// Register-space offsets of the canonical 64-bit registers. Every
// sub-register access is canonicalized to its 64-bit parent so a value
// written through EAX is found again through RAX.
const (
	offRAX uint64 = iota * 8
	offRCX
	offRDX
	offRBX
	offRSP
	offRBP
	offRSI
	offRDI
	offR8
	offR9
	offR10
	offR11
	offR12
	offR13
	offR14
	offR15
	offRIP
	offFlags
)

// parentOff maps any GPR alias to its canonical parent's offset.
var parentOff = map[x86asm.Reg]uint64{
	x86asm.RAX: offRAX, x86asm.EAX: offRAX, x86asm.AX: offRAX, x86asm.AL: offRAX, x86asm.AH: offRAX,
	x86asm.RCX: offRCX, x86asm.ECX: offRCX, x86asm.CX: offRCX, x86asm.CL: offRCX, x86asm.CH: offRCX,
	x86asm.RDX: offRDX, x86asm.EDX: offRDX, x86asm.DX: offRDX, x86asm.DL: offRDX, x86asm.DH: offRDX,
	x86asm.RBX: offRBX, x86asm.EBX: offRBX, x86asm.BX: offRBX, x86asm.BL: offRBX, x86asm.BH: offRBX,
	x86asm.RSP: offRSP, x86asm.ESP: offRSP, x86asm.SP: offRSP, x86asm.SPB: offRSP,
	x86asm.RBP: offRBP, x86asm.EBP: offRBP, x86asm.BP: offRBP, x86asm.BPB: offRBP,
	x86asm.RSI: offRSI, x86asm.ESI: offRSI, x86asm.SI: offRSI, x86asm.SIB: offRSI,
	x86asm.RDI: offRDI, x86asm.EDI: offRDI, x86asm.DI: offRDI, x86asm.DIB: offRDI,
	x86asm.R8: offR8, x86asm.R8L: offR8, x86asm.R8W: offR8, x86asm.R8B: offR8,
	x86asm.R9: offR9, x86asm.R9L: offR9, x86asm.R9W: offR9, x86asm.R9B: offR9,
	x86asm.R10: offR10, x86asm.R10L: offR10, x86asm.R10W: offR10, x86asm.R10B: offR10,
	x86asm.R11: offR11, x86asm.R11L: offR11, x86asm.R11W: offR11, x86asm.R11B: offR11,
	x86asm.R12: offR12, x86asm.R12L: offR12, x86asm.R12W: offR12, x86asm.R12B: offR12,
	x86asm.R13: offR13, x86asm.R13L: offR13, x86asm.R13W: offR13, x86asm.R13B: offR13,
	x86asm.R14: offR14, x86asm.R14L: offR14, x86asm.R14W: offR14, x86asm.R14B: offR14,
	x86asm.R15: offR15, x86asm.R15L: offR15, x86asm.R15W: offR15, x86asm.R15B: offR15,
	x86asm.RIP: offRIP, x86asm.EIP: offRIP, x86asm.IP: offRIP,
}

// regWidth is the access width of an alias in bytes.
func regWidth(r x86asm.Reg) int {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 1
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 2
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 4
	}
	return 8
}
