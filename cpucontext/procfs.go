package cpucontext

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wippyai/ntserver/errors"
)

// procfsBackend reads registers from lwpstatus and writes them through
// lwpctl control messages, as on Solaris-style hosts.
type procfsBackend struct {
	layout *Layout
	root   string
	word   int
}

// NewProcfs returns a backend over the procfs tree rooted at root.
func NewProcfs(root string, m Machine) (Backend, error) {
	l, err := LayoutFor(ABISolaris, m)
	if err != nil {
		return nil, err
	}
	return &procfsBackend{layout: l, root: root, word: l.File.PointerSize}, nil
}

func (p *procfsBackend) Name() string { return KindProcfs }

func (p *procfsBackend) Capabilities() Capabilities {
	return Capabilities{Groups: p.layout.Reachable()}
}

func (p *procfsBackend) Close() error { return nil }

// Trace holds the process directory open so the lwp files of a process that
// exits are not looked up under a recycled pid.
func (p *procfsBackend) Trace(pid int) (Trace, error) {
	dir, err := os.Open(filepath.Join(p.root, strconv.Itoa(pid)))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.ProcessGone(pid, err)
		}
		return nil, procfsError(Target{PID: pid}, err)
	}
	return &procfsTrace{pid: pid, dir: dir}, nil
}

type procfsTrace struct {
	pid int
	dir *os.File
}

func (t *procfsTrace) Resolve(target Target) (Target, error) {
	if target.PID == 0 {
		target.PID = t.pid
	}
	if target.PID != t.pid {
		return target, errors.InvalidParameter(errors.PhaseContext,
			fmt.Sprintf("thread %s is not in process %d", target, t.pid))
	}
	return target, nil
}

func (t *procfsTrace) Close() error { return t.dir.Close() }

func (p *procfsBackend) lwpPath(t Target, name string) string {
	return filepath.Join(p.root, strconv.Itoa(t.PID), "lwp", strconv.Itoa(t.TID), name)
}

func (p *procfsBackend) Get(ctx context.Context, t Target, regs *Context, groups Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.held(t, func(status, _ *os.File) error {
		for _, set := range p.layout.Sets(groups) {
			buf, err := p.readSet(status, set)
			if err != nil {
				return err
			}
			p.layout.Decode(set, buf, regs, groups)
		}
		p.layout.ZeroUnreachable(regs, groups)
		regs.Flags |= groups
		return nil
	})
}

func (p *procfsBackend) Set(ctx context.Context, t Target, regs *Context, groups Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.held(t, func(status, ctl *os.File) error {
		for _, set := range p.layout.Sets(groups) {
			// read-modify-write keeps registers outside the request intact
			buf, err := p.readSet(status, set)
			if err != nil {
				return err
			}
			p.layout.Encode(set, buf, regs, groups)
			if _, err := ctl.Write(p.message(p.layout.Native[set], buf)); err != nil {
				return err
			}
		}
		return nil
	})
}

// held stops the lwp with PCSTOP, runs fn with its status and control files
// and lets it run again with PCRUN.
func (p *procfsBackend) held(t Target, fn func(status, ctl *os.File) error) error {
	status, err := os.Open(p.lwpPath(t, "lwpstatus"))
	if err != nil {
		return procfsError(t, err)
	}
	defer status.Close()
	ctl, err := os.OpenFile(p.lwpPath(t, "lwpctl"), os.O_WRONLY, 0)
	if err != nil {
		return procfsError(t, err)
	}
	defer ctl.Close()

	if _, err := ctl.Write(p.message(pcStop, nil)); err != nil {
		return procfsError(t, err)
	}
	ferr := fn(status, ctl)
	run := make([]byte, p.word)
	if _, err := ctl.Write(p.message(pcRun, run)); err != nil && ferr == nil {
		ferr = err
	}
	if ferr != nil {
		return procfsError(t, ferr)
	}
	return nil
}

func (p *procfsBackend) readSet(f *os.File, set RegSet) ([]byte, error) {
	buf := make([]byte, p.layout.Sizes[set])
	if _, err := f.ReadAt(buf, int64(p.layout.Base[set])); err != nil {
		return nil, err
	}
	return buf, nil
}

// message builds a control message: a native long code followed by its
// operand.
func (p *procfsBackend) message(code uint32, operand []byte) []byte {
	msg := make([]byte, p.word, p.word+len(operand))
	p.layout.StoreWord(msg, p.word, uint64(code))
	return append(msg, operand...)
}

func procfsError(t Target, err error) error {
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.ThreadGone(t.TID, err)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.New(errors.PhaseHost, errors.KindAccessDenied).
			Cause(err).Detail("procfs %s", t).Build()
	}
	return errors.Wrap(errors.PhaseHost, errors.KindUnsuccessful, err, fmt.Sprintf("procfs %s", t))
}
