package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/ntserver/client"
	"github.com/wippyai/ntserver/config"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

const historyLines = 12

func consoleCmd() *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Connect to a running server as a client process",
		Long: `Opens a terminal console that connects to the server as a new client
process and sends requests typed at the prompt. Type help for the command
list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("console needs a terminal")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if socket == "" {
				socket = cfg.SocketPath
			}
			l, err := protocol.ParseLayout(cfg.Layout)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(newConsoleModel(socket, l), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&socket, "socket", "s", "", "socket path, default from the configuration")
	return cmd
}

type historyEntry struct {
	line string
	out  string
	err  error
}

type consoleModel struct {
	err     error
	sess    *session
	socket  string
	layout  protocol.Layout
	input   textinput.Model
	objects table.Model
	history []historyEntry
}

type connectedMsg struct {
	err  error
	sess *session
}

type execMsg struct {
	entry   historyEntry
	objects *protocol.ListObjectsReply
}

func newConsoleModel(socket string, l protocol.Layout) *consoleModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("nt> ")
	ti.Placeholder = "help"
	ti.Width = 60
	ti.Focus()

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Kind", Width: 10},
			{Title: "Live", Width: 6},
		}),
		table.WithHeight(len(objectKinds)+1),
	)
	return &consoleModel{socket: socket, layout: l, input: ti, objects: tbl}
}

var objectKinds = []kernel.Kind{
	kernel.KindProcess, kernel.KindThread, kernel.KindEvent,
	kernel.KindMutex, kernel.KindSemaphore, kernel.KindAPC,
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connect)
}

func (m *consoleModel) connect() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, m.socket, m.layout)
	if err != nil {
		return connectedMsg{err: err}
	}
	pid := os.Getpid()
	if err := c.InitProcess(pid, pid, 0, false); err != nil {
		c.Close()
		return connectedMsg{err: err}
	}
	return connectedMsg{sess: newSession(c)}
}

func (m *consoleModel) run(line string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		out, err := sess.exec(line)
		msg := execMsg{entry: historyEntry{line: line, out: out, err: err}}
		if list, lerr := sess.c.ListObjects(); lerr == nil {
			msg.objects = &list
		}
		return msg
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.sess != nil {
				m.sess.c.Close()
			}
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "quit" || line == "exit" {
				if m.sess != nil {
					m.sess.c.Close()
				}
				return m, tea.Quit
			}
			if line == "" || m.sess == nil {
				return m, nil
			}
			return m, m.run(line)
		}

	case connectedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sess = msg.sess
		return m, m.run("objects")

	case execMsg:
		m.history = append(m.history, msg.entry)
		if len(m.history) > historyLines {
			m.history = m.history[len(m.history)-historyLines:]
		}
		if msg.objects != nil {
			m.setObjects(*msg.objects)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) setObjects(list protocol.ListObjectsReply) {
	live := map[kernel.Kind]uint32{}
	for _, o := range list.Objects {
		live[kernel.Kind(o.Kind)] = o.Live
	}
	rows := make([]table.Row, 0, len(objectKinds))
	for _, k := range objectKinds {
		rows = append(rows, table.Row{k.String(), fmt.Sprint(live[k])})
	}
	m.objects.SetRows(rows)
}

func (m *consoleModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.sess == nil {
		return "Connecting to " + m.socket + "..."
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("ntserver console"))
	fmt.Fprintf(&b, " process %04x thread %04x on %s\n\n", m.sess.c.ProcessID, m.sess.c.ThreadID, m.socket)

	var hist strings.Builder
	for _, e := range m.history {
		if e.line == "objects" && e.err == nil && len(m.history) > 1 {
			continue
		}
		hist.WriteString(promptStyle.Render("> " + e.line))
		hist.WriteString("\n")
		if e.err != nil {
			hist.WriteString(errorStyle.Render(e.err.Error()))
		} else if e.out != "" {
			hist.WriteString(resultStyle.Render(e.out))
		}
		hist.WriteString("\n")
	}

	handles := strings.Join(m.sess.handleList(), "\n")
	if handles == "" {
		handles = "no handles"
	}

	side := lipgloss.JoinVertical(lipgloss.Left,
		paneStyle.Render(m.objects.View()),
		paneStyle.Render(handles))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Width(70).Render(strings.TrimRight(hist.String(), "\n")), side))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • help commands • esc quit"))
	return b.String()
}
