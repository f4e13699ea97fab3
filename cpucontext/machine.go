package cpucontext

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/wippyai/ntserver/errors"
)

// Machine identifies a CPU architecture by its PE machine id.
type Machine uint16

const (
	MachineUnknown Machine = 0
	MachineI386    Machine = 0x014c
	MachineAlpha   Machine = 0x0184
	MachinePowerPC Machine = 0x01f0
	MachineSPARC   Machine = 0x2000 // no PE id was ever assigned
	MachineAMD64   Machine = 0x8664
	MachineARM64   Machine = 0xaa64
)

var machineNames = map[Machine]string{
	MachineI386:    "i386",
	MachineAlpha:   "alpha",
	MachinePowerPC: "powerpc",
	MachineSPARC:   "sparc",
	MachineAMD64:   "x86_64",
	MachineARM64:   "arm64",
}

func (m Machine) String() string {
	if n, ok := machineNames[m]; ok {
		return n
	}
	return fmt.Sprintf("machine(%#04x)", uint16(m))
}

// ParseMachine accepts the names printed by String plus the usual aliases.
func ParseMachine(s string) (Machine, error) {
	switch strings.ToLower(s) {
	case "i386", "x86", "386":
		return MachineI386, nil
	case "x86_64", "amd64", "x64":
		return MachineAMD64, nil
	case "powerpc", "ppc":
		return MachinePowerPC, nil
	case "sparc":
		return MachineSPARC, nil
	case "alpha":
		return MachineAlpha, nil
	case "arm64", "aarch64":
		return MachineARM64, nil
	case "auto", "":
		return HostMachine(), nil
	}
	return MachineUnknown, errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("unknown machine %q", s))
}

// HostMachine returns the machine the server binary runs on.
func HostMachine() Machine {
	switch runtime.GOARCH {
	case "386":
		return MachineI386
	case "amd64":
		return MachineAMD64
	case "arm64":
		return MachineARM64
	case "ppc64", "ppc64le":
		return MachinePowerPC
	}
	return MachineUnknown
}

// Group is a bitmask of register groups.
type Group uint32

const (
	GroupControl Group = 1 << iota
	GroupInteger
	GroupSegments
	GroupFloatingPoint
	GroupDebugRegisters
	GroupExtended

	numGroups = iota

	GroupAll  Group = 1<<numGroups - 1
	GroupFull Group = GroupControl | GroupInteger | GroupFloatingPoint
)

var groupNames = [numGroups]string{"control", "integer", "segments", "fpu", "debug", "extended"}

func (g Group) String() string {
	if g == 0 {
		return "none"
	}
	var parts []string
	for i := 0; i < numGroups; i++ {
		if g&(1<<i) != 0 {
			parts = append(parts, groupNames[i])
		}
	}
	if rest := g &^ GroupAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// each calls fn with the index of every group bit set in g.
func (g Group) each(fn func(i int, bit Group)) {
	for i := 0; i < numGroups; i++ {
		bit := Group(1) << i
		if g&bit != 0 {
			fn(i, bit)
		}
	}
}

// ABI names a host register-access convention. The same machine has
// different native layouts under each.
type ABI uint8

const (
	ABILinux   ABI = iota // ptrace regsets and PEEKUSER offsets
	ABIDarwin             // Mach thread_state flavors
	ABISolaris            // procfs lwpstatus / lwpctl
)

func (a ABI) String() string {
	switch a {
	case ABILinux:
		return "linux"
	case ABIDarwin:
		return "darwin"
	case ABISolaris:
		return "solaris"
	}
	return fmt.Sprintf("abi(%d)", uint8(a))
}

// RegSet names a native register area that is transferred as one unit.
type RegSet uint8

const (
	SetNone    RegSet = iota // not reachable on this host; reads as zero
	SetGeneral               // general purpose registers
	SetFloat                 // floating point / vector state
	SetXFloat                // extended x87 state (fxsave)
	SetUser                  // per-register word in the user area
	SetDebug                 // hardware breakpoint state
	SetWatch                 // hardware watchpoint state
)

func (s RegSet) String() string {
	switch s {
	case SetNone:
		return "none"
	case SetGeneral:
		return "general"
	case SetFloat:
		return "float"
	case SetXFloat:
		return "xfloat"
	case SetUser:
		return "user"
	case SetDebug:
		return "debug"
	case SetWatch:
		return "watch"
	}
	return fmt.Sprintf("set(%d)", uint8(s))
}
