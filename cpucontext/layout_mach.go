package cpucontext

import "encoding/binary"

// Mach thread_state flavors.
const (
	x86ThreadState32 = 1
	x86FloatState32  = 2
	x86ThreadState64 = 4
	x86FloatState64  = 5
	x86DebugState32  = 10
	x86DebugState64  = 11
	armThreadState64 = 6
	armDebugState64  = 15
	armNeonState64   = 17
)

func init() {
	// x86_thread_state32_t
	i386 := map[string]Location{}
	words(i386, SetGeneral, []string{
		"eax", "ebx", "ecx", "edx", "edi", "esi", "ebp", "esp",
		"ss", "eflags", "eip", "cs", "ds", "es", "fs", "gs",
	}, 0, 4, 4)
	// x86_float_state32_t: two reserved ints then the fxsave image
	words(i386, SetFloat, fileI386.Groups[5], 8, 8, 8)
	// x86_debug_state32_t: dr0..dr7
	words(i386, SetDebug, []string{"dr0", "dr1", "dr2", "dr3"}, 0, 4, 4)
	i386["dr6"] = at(SetDebug, 24, 4)
	i386["dr7"] = at(SetDebug, 28, 4)
	defineLayout(layoutSpec{
		abi:   ABIDarwin,
		file:  fileI386,
		order: binary.LittleEndian,
		sizes: map[RegSet]int{SetGeneral: 64, SetFloat: 524, SetDebug: 32},
		native: map[RegSet]uint32{
			SetGeneral: x86ThreadState32,
			SetFloat:   x86FloatState32,
			SetDebug:   x86DebugState32,
		},
		regs: i386,
	})

	// x86_thread_state64_t
	amd64 := map[string]Location{}
	words(amd64, SetGeneral, []string{
		"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"rip", "eflags", "cs", "fs", "gs",
	}, 0, 8, 8)
	words(amd64, SetFloat, fileAMD64.Groups[3], 8, 8, 8)
	words(amd64, SetDebug, []string{"dr0", "dr1", "dr2", "dr3"}, 0, 8, 8)
	amd64["dr6"] = at(SetDebug, 48, 8)
	amd64["dr7"] = at(SetDebug, 56, 8)
	defineLayout(layoutSpec{
		abi:   ABIDarwin,
		file:  fileAMD64,
		order: binary.LittleEndian,
		sizes: map[RegSet]int{SetGeneral: 168, SetFloat: 524, SetDebug: 64},
		native: map[RegSet]uint32{
			SetGeneral: x86ThreadState64,
			SetFloat:   x86FloatState64,
			SetDebug:   x86DebugState64,
		},
		regs: amd64,
	})

	// arm_thread_state64_t, arm_neon_state64_t, arm_debug_state64_t
	arm64 := map[string]Location{}
	words(arm64, SetGeneral, seqNames("x", 0, 28), 0, 8, 8)
	words(arm64, SetGeneral, []string{"fp", "lr", "sp", "pc"}, 232, 8, 8)
	arm64["cpsr"] = at(SetGeneral, 264, 4)
	words(arm64, SetFloat, vectorNames(32), 0, 8, 8)
	arm64["fpsr"] = at(SetFloat, 512, 4)
	arm64["fpcr"] = at(SetFloat, 516, 4)
	words(arm64, SetDebug, seqNames("bvr", 0, 7), 0, 8, 8)
	words(arm64, SetDebug, seqNames("bcr", 0, 7), 128, 8, 8)
	words(arm64, SetDebug, seqNames("wvr", 0, 1), 256, 8, 8)
	words(arm64, SetDebug, seqNames("wcr", 0, 1), 384, 8, 8)
	defineLayout(layoutSpec{
		abi:   ABIDarwin,
		file:  fileARM64,
		order: binary.LittleEndian,
		sizes: map[RegSet]int{SetGeneral: 272, SetFloat: 528, SetDebug: 520},
		native: map[RegSet]uint32{
			SetGeneral: armThreadState64,
			SetFloat:   armNeonState64,
			SetDebug:   armDebugState64,
		},
		regs: arm64,
	})
}
