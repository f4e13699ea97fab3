package cpucontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allLayouts() []*Layout {
	var out []*Layout
	for _, abi := range []ABI{ABILinux, ABIDarwin, ABISolaris} {
		out = append(out, Layouts(abi)...)
	}
	return out
}

func TestLayoutsRegistered(t *testing.T) {
	assert.Len(t, Layouts(ABILinux), 6)
	assert.Len(t, Layouts(ABIDarwin), 3)
	assert.Len(t, Layouts(ABISolaris), 3)

	_, err := LayoutFor(ABIDarwin, MachineSPARC)
	assert.Error(t, err)
}

func TestLayoutLocationsFit(t *testing.T) {
	for _, l := range allLayouts() {
		name := l.ABI.String() + "/" + l.Machine().String()
		type span struct {
			reg      string
			from, to int
		}
		spans := map[RegSet][]span{}
		for gi, names := range l.File.Groups {
			for ri, loc := range l.loc[gi] {
				if loc.Set == SetNone || loc.Set == SetUser {
					continue
				}
				size, ok := l.Sizes[loc.Set]
				require.True(t, ok, "%s: %s lives in unsized set %s", name, names[ri], loc.Set)
				assert.LessOrEqual(t, loc.Offset+loc.Size, size, "%s: %s overflows %s", name, names[ri], loc.Set)
				_, ok = l.Native[loc.Set]
				assert.True(t, ok, "%s: no native id for %s", name, loc.Set)
				spans[loc.Set] = append(spans[loc.Set], span{names[ri], loc.Offset, loc.Offset + loc.Size})
			}
		}
		for set, ss := range spans {
			for i := range ss {
				for j := i + 1; j < len(ss); j++ {
					overlap := ss[i].from < ss[j].to && ss[j].from < ss[i].to
					assert.False(t, overlap, "%s: %s and %s overlap in %s", name, ss[i].reg, ss[j].reg, set)
				}
			}
		}
	}
}

func TestLayoutControlReachable(t *testing.T) {
	for _, l := range allLayouts() {
		reach := l.Reachable()
		assert.NotZero(t, reach&GroupControl, "%s/%s", l.ABI, l.Machine())
		assert.NotZero(t, reach&GroupInteger, "%s/%s", l.ABI, l.Machine())
	}
}

func TestLayoutRoundTrip(t *testing.T) {
	for _, l := range allLayouts() {
		src := MustNew(l.Machine())
		for gi := range src.regs {
			for ri := range src.regs[gi] {
				src.regs[gi][ri] = uint64(gi<<8 | ri + 1)
			}
		}
		dst := MustNew(l.Machine())
		groups := l.Reachable()
		for _, set := range l.Sets(groups) {
			if set == SetUser {
				continue
			}
			buf := make([]byte, l.Sizes[set])
			l.Encode(set, buf, src, groups)
			l.Decode(set, buf, dst, groups)
		}
		for _, ur := range l.UserRegs(groups) {
			buf := make([]byte, ur.Size)
			l.StoreWord(buf, ur.Size, src.regs[ur.Group][ur.Index])
			dst.regs[ur.Group][ur.Index] = l.LoadWord(buf, ur.Size)
		}
		for gi := range dst.regs {
			for ri, loc := range l.loc[gi] {
				if loc.Set == SetNone {
					continue
				}
				assert.Equal(t, src.regs[gi][ri], dst.regs[gi][ri],
					"%s/%s %s", l.ABI, l.Machine(), l.File.Groups[gi][ri])
			}
		}
	}
}

func TestEncodeLeavesOtherBytes(t *testing.T) {
	l, err := LayoutFor(ABILinux, MachineAMD64)
	require.NoError(t, err)

	buf := make([]byte, l.Sizes[SetGeneral])
	for i := range buf {
		buf[i] = 0xff
	}
	c := MustNew(MachineAMD64)
	l.Encode(SetGeneral, buf, c, GroupControl)

	// rip is zeroed, rax (offset 80) is untouched
	assert.Equal(t, make([]byte, 8), buf[128:136])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, buf[80:88])
}

func TestBigEndianLayout(t *testing.T) {
	l, err := LayoutFor(ABILinux, MachinePowerPC)
	require.NoError(t, err)

	buf := make([]byte, l.Sizes[SetGeneral])
	buf[128], buf[129], buf[130], buf[131] = 0x00, 0x01, 0x02, 0x03
	c := MustNew(MachinePowerPC)
	l.Decode(SetGeneral, buf, c, GroupControl)
	iar, _ := c.Reg("iar")
	assert.Equal(t, uint64(0x00010203), iar)
}

func TestSetsOrder(t *testing.T) {
	l, err := LayoutFor(ABILinux, MachineI386)
	require.NoError(t, err)
	assert.Equal(t, []RegSet{SetGeneral}, l.Sets(GroupControl|GroupInteger|GroupSegments))
	assert.Equal(t, []RegSet{SetGeneral, SetFloat, SetXFloat, SetUser}, l.Sets(GroupAll))
}
