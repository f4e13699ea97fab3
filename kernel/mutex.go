package kernel

import (
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
)

// Mutex is an NT mutant: owned by at most one thread, recursively.
type Mutex struct {
	Header
	owner     *Thread
	count     uint32
	abandoned bool
}

// MutexInfo is the queried state of a mutex.
type MutexInfo struct {
	Count     uint32
	Owned     bool
	Abandoned bool
}

// Owner returns the owning thread, nil when free.
func (m *Mutex) Owner() *Thread { return m.owner }

func (m *Mutex) signaled(t *Thread) bool {
	return m.count == 0 || m.owner == t
}

func (m *Mutex) satisfied(t *Thread) bool {
	m.acquire(t)
	abandoned := m.abandoned
	m.abandoned = false
	return abandoned
}

func (m *Mutex) acquire(t *Thread) {
	if m.count == 0 {
		m.owner = t
		t.mutexes = append(t.mutexes, m)
	}
	m.count++
}

func (m *Mutex) disown() {
	t := m.owner
	for i, om := range t.mutexes {
		if om == m {
			t.mutexes = append(t.mutexes[:i], t.mutexes[i+1:]...)
			break
		}
	}
	m.owner = nil
	m.count = 0
}

// CreateMutex makes a mutex, owned by caller when owned is set, and opens
// a handle to it in the caller's process.
func (k *Kernel) CreateMutex(caller *Thread, name string, owned bool, access, attrs uint32) (handle.Handle, *Mutex, error) {
	m := &Mutex{}
	k.initHeader(&m.Header, KindMutex, name, nil)
	if owned {
		m.acquire(caller)
	}
	h, err := k.allocOwned(caller.process, m, access, attrs)
	if err != nil {
		if owned {
			m.disown()
		}
		_ = release(m)
		return 0, nil, err
	}
	return h, m, nil
}

// ReleaseMutex drops one level of ownership held by t and returns the
// previous recursion count.
func (k *Kernel) ReleaseMutex(t *Thread, m *Mutex) (uint32, error) {
	if m.count == 0 || m.owner != t {
		return 0, errors.New(errors.PhaseObject, errors.KindMutantNotOwned).Detail("%s", t).Build()
	}
	prev := m.count
	m.count--
	if m.count == 0 {
		m.disown()
		k.WakeUp(m, 0)
	}
	return prev, nil
}

// QueryMutex returns the state of m.
func (k *Kernel) QueryMutex(caller *Thread, m *Mutex) MutexInfo {
	return MutexInfo{Count: m.count, Owned: m.owner == caller && m.count > 0, Abandoned: m.abandoned}
}

// abandonMutexes frees every mutex t owns so its next owner sees
// ABANDONED_WAIT_0.
func (k *Kernel) abandonMutexes(t *Thread) {
	for len(t.mutexes) > 0 {
		m := t.mutexes[0]
		m.disown()
		m.abandoned = true
		k.WakeUp(m, 0)
	}
}
