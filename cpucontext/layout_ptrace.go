package cpucontext

import "encoding/binary"

// ELF note types selecting a ptrace regset.
const (
	ntPRStatus   = 1
	ntPRFPReg    = 2
	ntPRXFPReg   = 0x46e62b7f
	ntARMHWBreak = 0x402
	ntARMHWWatch = 0x403
)

// offsetof(struct user, u_debugreg)
const (
	i386DebugBase  = 252
	amd64DebugBase = 848
)

var linuxNative = map[RegSet]uint32{
	SetGeneral: ntPRStatus,
	SetFloat:   ntPRFPReg,
	SetXFloat:  ntPRXFPReg,
	SetDebug:   ntARMHWBreak,
	SetWatch:   ntARMHWWatch,
}

// debugRegs lays out dr0-dr3 and dr6-dr7 in the user area.
func debugRegs(regs map[string]Location, base, word int) {
	for i, n := range []string{"dr0", "dr1", "dr2", "dr3"} {
		regs[n] = at(SetUser, base+i*word, word)
	}
	regs["dr6"] = at(SetUser, base+6*word, word)
	regs["dr7"] = at(SetUser, base+7*word, word)
}

func init() {
	// struct user_regs_struct (i386)
	i386 := map[string]Location{}
	words(i386, SetGeneral, []string{"ebx", "ecx", "edx", "esi", "edi", "ebp", "eax", "ds", "es", "fs", "gs"}, 0, 4, 4)
	words(i386, SetGeneral, []string{"eip", "cs", "eflags", "esp", "ss"}, 48, 4, 4)
	// struct user_i387_struct, fsave format
	words(i386, SetFloat, fileI386.Groups[3], 0, 4, 4)
	words(i386, SetXFloat, fileI386.Groups[5], 0, 8, 8)
	debugRegs(i386, i386DebugBase, 4)
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   fileI386,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{SetGeneral: 68, SetFloat: 108, SetXFloat: 512},
		native: linuxNative,
		regs:   i386,
	})

	// struct user_regs_struct (x86_64)
	amd64 := map[string]Location{}
	words(amd64, SetGeneral, []string{
		"r15", "r14", "r13", "r12", "rbp", "rbx", "r11", "r10",
		"r9", "r8", "rax", "rcx", "rdx", "rsi", "rdi",
	}, 0, 8, 8)
	words(amd64, SetGeneral, []string{"rip", "cs", "eflags", "rsp", "ss"}, 128, 8, 8)
	words(amd64, SetGeneral, []string{"ds", "es", "fs", "gs"}, 184, 8, 8)
	words(amd64, SetFloat, fileAMD64.Groups[3], 0, 8, 8)
	debugRegs(amd64, amd64DebugBase, 8)
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   fileAMD64,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{SetGeneral: 216, SetFloat: 512},
		native: linuxNative,
		regs:   amd64,
	})

	// struct pt_regs (ppc32); gpr[32] then nip, msr, orig_gpr3, ctr, link, xer, ccr
	ppc := map[string]Location{}
	words(ppc, SetGeneral, seqNames("r", 0, 31), 0, 4, 4)
	ppc["iar"] = at(SetGeneral, 128, 4)
	ppc["msr"] = at(SetGeneral, 132, 4)
	ppc["ctr"] = at(SetGeneral, 140, 4)
	ppc["lr"] = at(SetGeneral, 144, 4)
	ppc["xer"] = at(SetGeneral, 148, 4)
	ppc["cr"] = at(SetGeneral, 152, 4)
	words(ppc, SetFloat, seqNames("f", 0, 31), 0, 8, 8)
	ppc["fpscr"] = at(SetFloat, 256, 8)
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   filePowerPC,
		order:  binary.BigEndian,
		sizes:  map[RegSet]int{SetGeneral: 192, SetFloat: 264},
		native: linuxNative,
		regs:   ppc,
	})

	// sparc32 elf_gregset_t: g, o, l, i windows then psr, pc, npc, y, wim, tbr
	sparc := map[string]Location{}
	words(sparc, SetGeneral, fileSPARC.Groups[1], 0, 4, 4)
	words(sparc, SetGeneral, fileSPARC.Groups[0], 128, 4, 4)
	words(sparc, SetFloat, seqNames("f", 0, 31), 0, 4, 4)
	sparc["fsr"] = at(SetFloat, 128, 4)
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   fileSPARC,
		order:  binary.BigEndian,
		sizes:  map[RegSet]int{SetGeneral: 152, SetFloat: 136},
		native: linuxNative,
		regs:   sparc,
	})

	// alpha has no regsets; PEEKUSER takes the register number as address
	alpha := map[string]Location{}
	alphaRegno := []string{
		"v0", "t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
		"s0", "s1", "s2", "s3", "s4", "s5", "fp",
		"a0", "a1", "a2", "a3", "a4", "a5",
		"t8", "t9", "t10", "t11", "ra", "t12", "at", "gp", "sp", "zero",
	}
	words(alpha, SetUser, alphaRegno, 0, 1, 8)
	words(alpha, SetUser, seqNames("f", 0, 30), 32, 1, 8)
	alpha["fpcr"] = at(SetUser, 63, 8)
	alpha["fir"] = at(SetUser, 64, 8)
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   fileAlpha,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{},
		native: linuxNative,
		regs:   alpha,
	})

	// struct user_pt_regs, user_fpsimd_state, user_hwdebug_state
	arm64 := map[string]Location{}
	words(arm64, SetGeneral, seqNames("x", 0, 28), 0, 8, 8)
	words(arm64, SetGeneral, []string{"fp", "lr", "sp", "pc", "cpsr"}, 232, 8, 8)
	words(arm64, SetFloat, vectorNames(32), 0, 8, 8)
	arm64["fpsr"] = at(SetFloat, 512, 4)
	arm64["fpcr"] = at(SetFloat, 516, 4)
	for i := 0; i < 8; i++ {
		arm64[seqNames("bvr", i, i)[0]] = at(SetDebug, 8+16*i, 8)
		arm64[seqNames("bcr", i, i)[0]] = at(SetDebug, 16+16*i, 4)
	}
	for i := 0; i < 2; i++ {
		arm64[seqNames("wvr", i, i)[0]] = at(SetWatch, 8+16*i, 8)
		arm64[seqNames("wcr", i, i)[0]] = at(SetWatch, 16+16*i, 4)
	}
	defineLayout(layoutSpec{
		abi:    ABILinux,
		file:   fileARM64,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{SetGeneral: 272, SetFloat: 528, SetDebug: 8 + 16*16, SetWatch: 8 + 16*16},
		native: linuxNative,
		regs:   arm64,
	})
}
