package cpucontext

import "fmt"

// RegisterFile is the canonical, host-independent register set of a machine:
// the ordered register names in each group. Context values are indexed by it.
type RegisterFile struct {
	Machine     Machine
	PointerSize int
	Groups      [numGroups][]string
}

// Names returns the register names of a single group.
func (f *RegisterFile) Names(g Group) []string {
	var names []string
	g.each(func(i int, _ Group) {
		names = append(names, f.Groups[i]...)
	})
	return names
}

// Supported returns the groups that have at least one register.
func (f *RegisterFile) Supported() Group {
	var g Group
	for i := 0; i < numGroups; i++ {
		if len(f.Groups[i]) > 0 {
			g |= 1 << i
		}
	}
	return g
}

// Find locates a register by name.
func (f *RegisterFile) Find(name string) (group int, index int, ok bool) {
	for gi, names := range f.Groups {
		for ri, n := range names {
			if n == name {
				return gi, ri, true
			}
		}
	}
	return 0, 0, false
}

func seqNames(prefix string, from, to int) []string {
	names := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		names = append(names, fmt.Sprintf("%s%d", prefix, i))
	}
	return names
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

var registerFiles = map[Machine]*RegisterFile{}

func registerFile(f *RegisterFile) *RegisterFile {
	registerFiles[f.Machine] = f
	return f
}

// RegisterFileFor returns the canonical register file of m.
func RegisterFileFor(m Machine) (*RegisterFile, bool) {
	f, ok := registerFiles[m]
	return f, ok
}

func vectorNames(n int) []string {
	names := make([]string, 0, 2*n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("v%d.lo", i), fmt.Sprintf("v%d.hi", i))
	}
	return names
}

var (
	fileI386 = registerFile(&RegisterFile{
		Machine:     MachineI386,
		PointerSize: 4,
		Groups: [numGroups][]string{
			{"ebp", "eip", "cs", "eflags", "esp", "ss"},
			{"edi", "esi", "ebx", "edx", "ecx", "eax"},
			{"gs", "fs", "es", "ds"},
			concat([]string{"ctrl", "status", "tag", "erroff", "errsel", "dataoff", "datasel"}, seqNames("st.", 0, 19)),
			{"dr0", "dr1", "dr2", "dr3", "dr6", "dr7"},
			seqNames("fx.", 0, 63),
		},
	})

	fileAMD64 = registerFile(&RegisterFile{
		Machine:     MachineAMD64,
		PointerSize: 8,
		Groups: [numGroups][]string{
			{"rip", "cs", "eflags", "rsp", "ss"},
			concat([]string{"rax", "rcx", "rdx", "rbx", "rbp", "rsi", "rdi"}, seqNames("r", 8, 15)),
			{"ds", "es", "fs", "gs"},
			seqNames("fx.", 0, 63),
			{"dr0", "dr1", "dr2", "dr3", "dr6", "dr7"},
			nil,
		},
	})

	filePowerPC = registerFile(&RegisterFile{
		Machine:     MachinePowerPC,
		PointerSize: 4,
		Groups: [numGroups][]string{
			{"msr", "iar", "lr", "ctr", "r1"},
			concat([]string{"r0"}, seqNames("r", 2, 31), []string{"xer", "cr"}),
			nil,
			concat(seqNames("f", 0, 31), []string{"fpscr"}),
			seqNames("dr", 0, 7),
			nil,
		},
	})

	fileSPARC = registerFile(&RegisterFile{
		Machine:     MachineSPARC,
		PointerSize: 4,
		Groups: [numGroups][]string{
			{"psr", "pc", "npc", "y", "wim", "tbr"},
			concat(seqNames("g", 0, 7), seqNames("o", 0, 7), seqNames("l", 0, 7), seqNames("i", 0, 7)),
			nil,
			concat(seqNames("f", 0, 31), []string{"fsr"}),
			nil,
			nil,
		},
	})

	fileAlpha = registerFile(&RegisterFile{
		Machine:     MachineAlpha,
		PointerSize: 8,
		Groups: [numGroups][]string{
			{"fp", "ra", "sp", "fir", "psr"},
			concat([]string{"v0"}, seqNames("t", 0, 7), seqNames("s", 0, 5), seqNames("a", 0, 5),
				seqNames("t", 8, 12), []string{"at", "gp", "zero"}),
			nil,
			concat(seqNames("f", 0, 30), []string{"fpcr"}),
			nil,
			nil,
		},
	})

	fileARM64 = registerFile(&RegisterFile{
		Machine:     MachineARM64,
		PointerSize: 8,
		Groups: [numGroups][]string{
			{"fp", "lr", "sp", "pc", "cpsr"},
			seqNames("x", 0, 28),
			nil,
			concat(vectorNames(32), []string{"fpsr", "fpcr"}),
			concat(seqNames("bvr", 0, 7), seqNames("bcr", 0, 7), seqNames("wvr", 0, 1), seqNames("wcr", 0, 1)),
			nil,
		},
	})
)
