package cpucontext

import "encoding/binary"

// procfs lwpctl control codes.
const (
	pcStop    = 1
	pcRun     = 5
	pcSetReg  = 18
	pcSetFReg = 19
)

// Offsets of pr_reg and pr_fpreg inside lwpstatus_t.
const (
	lwpstatusRegAMD64   = 0x1a0
	lwpstatusFPRegAMD64 = 0x280
	lwpstatusRegI386    = 0x128
	lwpstatusFPRegI386  = 0x174
	lwpstatusRegSPARC   = 0x100
	lwpstatusFPRegSPARC = 0x198
)

var procfsNative = map[RegSet]uint32{
	SetGeneral: pcSetReg,
	SetFloat:   pcSetFReg,
}

func init() {
	// prgregset_t, REG_R15 first
	amd64 := map[string]Location{}
	words(amd64, SetGeneral, []string{
		"r15", "r14", "r13", "r12", "r11", "r10", "r9", "r8",
		"rdi", "rsi", "rbp", "rbx", "rdx", "rcx", "rax",
	}, 0, 8, 8)
	words(amd64, SetGeneral, []string{"rip", "cs", "eflags", "rsp", "ss", "fs", "gs", "es", "ds"}, 136, 8, 8)
	words(amd64, SetFloat, fileAMD64.Groups[3], 0, 8, 8)
	defineLayout(layoutSpec{
		abi:    ABISolaris,
		file:   fileAMD64,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{SetGeneral: 224, SetFloat: 528},
		native: procfsNative,
		base:   map[RegSet]int{SetGeneral: lwpstatusRegAMD64, SetFloat: lwpstatusFPRegAMD64},
		regs:   amd64,
	})

	// prgregset_t, REG_GS first
	i386 := map[string]Location{}
	words(i386, SetGeneral, []string{"gs", "fs", "es", "ds", "edi", "esi", "ebp"}, 0, 4, 4)
	words(i386, SetGeneral, []string{"ebx", "edx", "ecx", "eax"}, 32, 4, 4)
	words(i386, SetGeneral, []string{"eip", "cs", "eflags", "esp", "ss"}, 56, 4, 4)
	// fpchip_state keeps the fsave image first
	words(i386, SetFloat, fileI386.Groups[3], 0, 4, 4)
	defineLayout(layoutSpec{
		abi:    ABISolaris,
		file:   fileI386,
		order:  binary.LittleEndian,
		sizes:  map[RegSet]int{SetGeneral: 76, SetFloat: 380},
		native: procfsNative,
		base:   map[RegSet]int{SetGeneral: lwpstatusRegI386, SetFloat: lwpstatusFPRegI386},
		regs:   i386,
	})

	// sparc v8 prgregset_t matches the ELF gregset order
	sparc := map[string]Location{}
	words(sparc, SetGeneral, fileSPARC.Groups[1], 0, 4, 4)
	words(sparc, SetGeneral, fileSPARC.Groups[0], 128, 4, 4)
	words(sparc, SetFloat, seqNames("f", 0, 31), 0, 4, 4)
	sparc["fsr"] = at(SetFloat, 136, 4)
	defineLayout(layoutSpec{
		abi:    ABISolaris,
		file:   fileSPARC,
		order:  binary.BigEndian,
		sizes:  map[RegSet]int{SetGeneral: 152, SetFloat: 152},
		native: procfsNative,
		base:   map[RegSet]int{SetGeneral: lwpstatusRegSPARC, SetFloat: lwpstatusFPRegSPARC},
		regs:   sparc,
	})
}
