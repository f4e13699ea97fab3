package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/protocol"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true).Foreground(lipgloss.Color("#87CEEB"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

func layoutsCmd() *cobra.Command {
	var machine string
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "Print the register layouts of every host ABI and the wire layouts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var only cpucontext.Machine
			if machine != "" {
				m, err := cpucontext.ParseMachine(machine)
				if err != nil {
					return err
				}
				only = m
			}
			printLayouts(cmd.OutOrStdout(), only)
			return nil
		},
	}
	cmd.Flags().StringVarP(&machine, "machine", "m", "", "only this machine")
	return cmd
}

func printLayouts(w io.Writer, only cpucontext.Machine) {
	fmt.Fprintln(w, headingStyle.Render("Wire layouts"))
	wire := newTable("layout", "request header", "reply header", "fixed part")
	for _, l := range []protocol.Layout{protocol.Layout32, protocol.Layout64} {
		wire.Row(l.String(), fmt.Sprint(l.RequestHeaderSize()), fmt.Sprint(l.ReplyHeaderSize()), fmt.Sprint(protocol.FixedSize))
	}
	fmt.Fprintln(w, wire.Render())

	for _, abi := range []cpucontext.ABI{cpucontext.ABILinux, cpucontext.ABIDarwin, cpucontext.ABISolaris} {
		t := newTable("machine", "reachable", "area", "native", "bytes", "registers")
		rows := 0
		for _, l := range cpucontext.Layouts(abi) {
			if only != cpucontext.MachineUnknown && l.Machine() != only {
				continue
			}
			for _, area := range areas(l) {
				t.Row(l.Machine().String(), l.Reachable().String(), area.set.String(),
					fmt.Sprintf("%#x", l.Native[area.set]), fmt.Sprint(l.Sizes[area.set]), area.summary())
				rows++
			}
		}
		if rows == 0 {
			continue
		}
		fmt.Fprintln(w, headingStyle.Render("Register layouts: "+abi.String()))
		fmt.Fprintln(w, t.Render())
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

type area struct {
	set   cpucontext.RegSet
	names []string
}

func (a area) summary() string {
	const shown = 6
	if len(a.names) <= shown {
		return strings.Join(a.names, " ")
	}
	return fmt.Sprintf("%s ... (%d)", strings.Join(a.names[:shown], " "), len(a.names))
}

// areas groups the registers of l by the native area holding them.
func areas(l *cpucontext.Layout) []area {
	bySet := map[cpucontext.RegSet][]string{}
	for _, g := range []cpucontext.Group{
		cpucontext.GroupControl, cpucontext.GroupInteger, cpucontext.GroupSegments,
		cpucontext.GroupFloatingPoint, cpucontext.GroupDebugRegisters, cpucontext.GroupExtended,
	} {
		names := l.File.Names(g)
		for i, loc := range l.Locations(g) {
			if loc.Set == cpucontext.SetNone || i >= len(names) {
				continue
			}
			bySet[loc.Set] = append(bySet[loc.Set], names[i])
		}
	}
	out := make([]area, 0, len(bySet))
	for set, names := range bySet {
		out = append(out, area{set: set, names: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].set < out[j].set })
	return out
}
