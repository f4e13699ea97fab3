package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wippyai/ntserver/client"
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

const consoleHelp = `event [manual] [set] [name]   create an event
mutex [owned] [name]          create a mutex
sem <initial> <max> [name]    create a semaphore
set|reset|pulse <h>           signal an event
release <h> [n]               release a mutex or a semaphore
query <h>                     show an event
wait <h,h...> [ms] [all]      wait on handles, 0 ms polls
thread                        create a suspended thread
suspend|resume <h>            change a thread's suspend count
regs <h>                      show a thread's control and integer registers
close <h>                     close a handle
info                          show this process
objects                       refresh the object table`

// session runs console commands over one client connection and remembers
// the handles it created.
type session struct {
	c *client.Conn

	mu      sync.Mutex
	handles map[uint32]string
}

func newSession(c *client.Conn) *session {
	return &session{c: c, handles: map[uint32]string{}}
}

func (s *session) remember(h uint32, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h] = kind
}

func (s *session) forget(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h)
}

func (s *session) kind(h uint32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[h]
}

// handleList describes the known handles in handle order.
func (s *session) handleList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := make([]uint32, 0, len(s.handles))
	for h := range s.handles {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = fmt.Sprintf("%#06x %s", h, s.handles[h])
	}
	return out
}

func parseHandle(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad handle %q", s)
	}
	return uint32(v), nil
}

func parseCount(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad count %q", s)
	}
	return uint32(v), nil
}

// takeFlag removes word from args when it is the first element.
func takeFlag(args []string, word string) ([]string, bool) {
	if len(args) > 0 && args[0] == word {
		return args[1:], true
	}
	return args, false
}

func (s *session) exec(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := fields[0], fields[1:]
	one := func() (uint32, error) {
		if len(args) < 1 {
			return 0, fmt.Errorf("%s needs a handle", cmd)
		}
		return parseHandle(args[0])
	}

	switch cmd {
	case "help", "?":
		return consoleHelp, nil

	case "event":
		args, manual := takeFlag(args, "manual")
		args, initial := takeFlag(args, "set")
		h, err := s.c.CreateEvent(strings.Join(args, " "), manual, initial)
		if err != nil {
			return "", err
		}
		s.remember(h, "event")
		return fmt.Sprintf("event %#x", h), nil

	case "mutex":
		args, owned := takeFlag(args, "owned")
		h, err := s.c.CreateMutex(strings.Join(args, " "), owned)
		if err != nil {
			return "", err
		}
		s.remember(h, "mutex")
		return fmt.Sprintf("mutex %#x", h), nil

	case "sem":
		if len(args) < 2 {
			return "", fmt.Errorf("sem needs an initial and a maximum count")
		}
		initial, err := parseCount(args[0])
		if err != nil {
			return "", err
		}
		maxCount, err := parseCount(args[1])
		if err != nil {
			return "", err
		}
		h, err := s.c.CreateSemaphore(strings.Join(args[2:], " "), initial, maxCount)
		if err != nil {
			return "", err
		}
		s.remember(h, "semaphore")
		return fmt.Sprintf("semaphore %#x", h), nil

	case "set", "reset", "pulse":
		h, err := one()
		if err != nil {
			return "", err
		}
		op := map[string]uint32{"set": protocol.EventSet, "reset": protocol.EventReset, "pulse": protocol.EventPulse}[cmd]
		prev, err := s.c.EventOp(h, op)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%#x was %s", h, signaled(prev)), nil

	case "query":
		h, err := one()
		if err != nil {
			return "", err
		}
		st, err := s.c.QueryEvent(h)
		if err != nil {
			return "", err
		}
		kind := "auto-reset"
		if st.Manual {
			kind = "manual-reset"
		}
		return fmt.Sprintf("%#x %s, %s", h, kind, signaled(st.Signaled)), nil

	case "release":
		h, err := one()
		if err != nil {
			return "", err
		}
		if s.kind(h) == "mutex" {
			n, err := s.c.Count(protocol.OpReleaseMutex, h)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%#x previous count %d", h, n), nil
		}
		n := uint32(1)
		if len(args) > 1 {
			if n, err = parseCount(args[1]); err != nil {
				return "", err
			}
		}
		prev, err := s.c.ReleaseSemaphore(h, n)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%#x previous count %d", h, prev), nil

	case "wait":
		if len(args) < 1 {
			return "", fmt.Errorf("wait needs handles")
		}
		var handles []uint32
		for _, part := range strings.Split(args[0], ",") {
			h, err := parseHandle(part)
			if err != nil {
				return "", err
			}
			handles = append(handles, h)
		}
		timeout := time.Duration(0)
		var flags uint32
		for _, a := range args[1:] {
			if a == "all" {
				flags |= protocol.SelectAll
				continue
			}
			ms, err := strconv.Atoi(a)
			if err != nil || ms < 0 {
				return "", fmt.Errorf("bad timeout %q", a)
			}
			timeout = time.Duration(ms) * time.Millisecond
		}
		st, err := s.c.Select(handles, flags, timeout, uint64(time.Now().UnixNano()))
		if err != nil {
			return "", err
		}
		return st.String(), nil

	case "thread":
		id, h, err := s.c.NewThread(uint32(kernel.CurrentProcess), kernel.ThreadAllAccess, true)
		if err != nil {
			return "", err
		}
		s.remember(h, "thread")
		return fmt.Sprintf("thread %04x handle %#x (suspended)", id, h), nil

	case "suspend", "resume":
		h, err := one()
		if err != nil {
			return "", err
		}
		op := protocol.OpSuspendThread
		if cmd == "resume" {
			op = protocol.OpResumeThread
		}
		n, err := s.c.Count(op, h)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%#x previous suspend count %d", h, n), nil

	case "regs":
		h, err := one()
		if err != nil {
			return "", err
		}
		regs, err := s.c.GetContext(h, cpucontext.GroupControl|cpucontext.GroupInteger)
		if err != nil {
			return "", err
		}
		return regs.String(), nil

	case "close":
		h, err := one()
		if err != nil {
			return "", err
		}
		if err := s.c.CloseHandle(h); err != nil {
			return "", err
		}
		s.forget(h)
		return fmt.Sprintf("closed %#x", h), nil

	case "info":
		p, err := s.c.ProcessInfo(uint32(kernel.CurrentProcess))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("process %04x pid %d: %d threads, %d handles, suspend count %d",
			p.ProcessID, p.UnixPID, p.Threads, p.Handles, p.SuspendCount), nil

	case "objects":
		list, err := s.c.ListObjects()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d processes", len(list.Processes)), nil
	}
	return "", fmt.Errorf("unknown command %q, try help", cmd)
}

func signaled(b bool) string {
	if b {
		return "signaled"
	}
	return "not signaled"
}
