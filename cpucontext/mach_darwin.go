//go:build darwin && cgo

package cpucontext

/*
#include <stdlib.h>
#include <mach/mach.h>
#include <mach/mach_traps.h>
#include <sys/sysctl.h>

static kern_return_t nt_get_state(mach_port_name_t thread, int flavor, void *buf, mach_msg_type_number_t *count) {
	return thread_get_state((thread_act_t)thread, flavor, (thread_state_t)buf, count);
}

static kern_return_t nt_set_state(mach_port_name_t thread, int flavor, void *buf, mach_msg_type_number_t count) {
	return thread_set_state((thread_act_t)thread, flavor, (thread_state_t)buf, count);
}

static kern_return_t nt_suspend(mach_port_name_t thread) {
	return thread_suspend((thread_act_t)thread);
}

static kern_return_t nt_resume(mach_port_name_t thread) {
	return thread_resume((thread_act_t)thread);
}

static kern_return_t nt_task_for_pid(int pid, mach_port_name_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

// nt_thread_port finds the thread of task whose unique id is tid and keeps
// its send right; every other right task_threads returned is released.
static kern_return_t nt_thread_port(mach_port_name_t task, uint64_t tid, mach_port_name_t *out) {
	thread_act_array_t threads;
	mach_msg_type_number_t count;
	kern_return_t kr = task_threads((task_t)task, &threads, &count);
	if (kr != KERN_SUCCESS)
		return kr;
	*out = MACH_PORT_NULL;
	for (mach_msg_type_number_t i = 0; i < count; i++) {
		thread_identifier_info_data_t info;
		mach_msg_type_number_t n = THREAD_IDENTIFIER_INFO_COUNT;
		if (*out == MACH_PORT_NULL &&
		    thread_info(threads[i], THREAD_IDENTIFIER_INFO, (thread_info_t)&info, &n) == KERN_SUCCESS &&
		    info.thread_id == tid) {
			*out = threads[i];
			continue;
		}
		mach_port_deallocate(mach_task_self(), threads[i]);
	}
	vm_deallocate(mach_task_self(), (vm_address_t)threads, count * sizeof(thread_act_t));
	return *out == MACH_PORT_NULL ? KERN_INVALID_ARGUMENT : KERN_SUCCESS;
}

static void nt_port_release(mach_port_name_t port) {
	mach_port_deallocate(mach_task_self(), port);
}

static int nt_translated(void) {
	int ret = 0;
	size_t size = sizeof(ret);
	if (sysctlbyname("sysctl.proc_translated", &ret, &size, NULL, 0) == -1)
		return 0;
	return ret;
}
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// machBackend reads and writes thread state through Mach thread ports. The
// target's Port must be a send right to the thread held by the server; a
// Trace resolves it from the task port.
type machBackend struct {
	layout     *Layout
	translated bool
}

func newMachBackend(opts Options) (Backend, error) {
	l, err := LayoutFor(ABIDarwin, opts.Machine)
	if err != nil {
		return nil, err
	}
	b := &machBackend{layout: l, translated: C.nt_translated() == 1}
	if b.translated {
		Logger().Info("running under translation, debug registers are unavailable")
	}
	return b, nil
}

func (m *machBackend) Name() string { return KindMach }

func (m *machBackend) Capabilities() Capabilities {
	reach := m.layout.Reachable()
	debug := reach&GroupDebugRegisters != 0 && !m.translated
	if m.translated {
		reach &^= GroupDebugRegisters
	}
	return Capabilities{
		Groups:     reach,
		DebugRead:  debug,
		DebugWrite: debug,
		Translated: m.translated,
	}
}

func (m *machBackend) Close() error { return nil }

// Trace takes the task port of pid. It needs the debugger entitlement or
// root.
func (m *machBackend) Trace(pid int) (Trace, error) {
	var task C.mach_port_name_t
	if kr := C.nt_task_for_pid(C.int(pid), &task); kr != C.KERN_SUCCESS {
		return nil, machError(Target{PID: pid}, "task_for_pid", kr)
	}
	return &machTrace{pid: pid, task: task, ports: map[int]C.mach_port_name_t{}}, nil
}

// machTrace owns a task port and the thread ports resolved through it.
type machTrace struct {
	pid   int
	task  C.mach_port_name_t
	ports map[int]C.mach_port_name_t
}

func (t *machTrace) Resolve(target Target) (Target, error) {
	if target.Port != 0 {
		return target, nil
	}
	port, ok := t.ports[target.TID]
	if !ok {
		if kr := C.nt_thread_port(t.task, C.uint64_t(target.TID), &port); kr != C.KERN_SUCCESS {
			return target, machError(target, "task_threads", kr)
		}
		t.ports[target.TID] = port
	}
	target.Port = uint32(port)
	return target, nil
}

func (t *machTrace) Close() error {
	for tid, port := range t.ports {
		C.nt_port_release(port)
		delete(t.ports, tid)
	}
	if t.task == 0 {
		return errors.Unsuccessful(errors.PhaseHost, fmt.Sprintf("task port of %d already released", t.pid))
	}
	C.nt_port_release(t.task)
	t.task = 0
	return nil
}

func (m *machBackend) Get(ctx context.Context, t Target, regs *Context, groups Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.suspended(t, func() error {
		for _, set := range m.layout.Sets(groups) {
			buf, err := m.getState(t, set)
			if err != nil {
				return err
			}
			m.layout.Decode(set, buf, regs, groups)
		}
		m.layout.ZeroUnreachable(regs, groups)
		regs.Flags |= groups
		return nil
	})
}

func (m *machBackend) Set(ctx context.Context, t Target, regs *Context, groups Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.suspended(t, func() error {
		for _, set := range m.layout.Sets(groups) {
			buf, err := m.getState(t, set)
			if err != nil {
				return err
			}
			m.layout.Encode(set, buf, regs, groups)
			count := C.mach_msg_type_number_t(len(buf) / 4)
			kr := C.nt_set_state(C.mach_port_name_t(t.Port), C.int(m.layout.Native[set]), unsafe.Pointer(&buf[0]), count)
			if kr != C.KERN_SUCCESS {
				return machError(t, "thread_set_state", kr)
			}
		}
		return nil
	})
}

// getState fetches one flavor. Every set in a Mach layout is a whole number
// of 32-bit words.
func (m *machBackend) getState(t Target, set RegSet) ([]byte, error) {
	buf := make([]byte, m.layout.Sizes[set])
	count := C.mach_msg_type_number_t(len(buf) / 4)
	kr := C.nt_get_state(C.mach_port_name_t(t.Port), C.int(m.layout.Native[set]), unsafe.Pointer(&buf[0]), &count)
	if kr != C.KERN_SUCCESS {
		return nil, machError(t, "thread_get_state", kr)
	}
	return buf, nil
}

func (m *machBackend) suspended(t Target, fn func() error) error {
	if t.Port == 0 {
		return errors.InvalidParameter(errors.PhaseContext, fmt.Sprintf("no thread port for %s", t))
	}
	if kr := C.nt_suspend(C.mach_port_name_t(t.Port)); kr != C.KERN_SUCCESS {
		return machError(t, "thread_suspend", kr)
	}
	err := fn()
	if kr := C.nt_resume(C.mach_port_name_t(t.Port)); kr != C.KERN_SUCCESS {
		Logger().Debug("thread_resume failed", zap.Stringer("target", t), zap.Int("kr", int(kr)))
	}
	return err
}

func machError(t Target, op string, kr C.kern_return_t) error {
	switch kr {
	case C.KERN_INVALID_ARGUMENT, C.MACH_SEND_INVALID_DEST, C.KERN_TERMINATED:
		return errors.New(errors.PhaseHost, errors.KindThreadGone).
			Value(t.TID).Detail("%s %s: kern_return %d", op, t, int(kr)).Build()
	case C.KERN_PROTECTION_FAILURE, C.KERN_NO_ACCESS:
		return errors.New(errors.PhaseHost, errors.KindAccessDenied).
			Detail("%s %s: kern_return %d", op, t, int(kr)).Build()
	case C.KERN_NOT_SUPPORTED:
		return errors.New(errors.PhaseHost, errors.KindUnsupported).
			Detail("%s %s", op, t).Build()
	}
	return errors.New(errors.PhaseHost, errors.KindUnsuccessful).
		Detail("%s %s: kern_return %d", op, t, int(kr)).Build()
}
