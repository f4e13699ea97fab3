package kernel

import (
	"fmt"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
)

// Semaphore is a counted NT semaphore.
type Semaphore struct {
	Header
	count uint32
	max   uint32
}

// Count returns the current count.
func (s *Semaphore) Count() uint32 { return s.count }

// Max returns the maximum count.
func (s *Semaphore) Max() uint32 { return s.max }

func (s *Semaphore) signaled(*Thread) bool { return s.count > 0 }

func (s *Semaphore) satisfied(*Thread) bool {
	s.count--
	return false
}

// CreateSemaphore makes a semaphore and opens a handle to it in p.
func (k *Kernel) CreateSemaphore(p *Process, name string, initial, max uint32, access, attrs uint32) (handle.Handle, *Semaphore, error) {
	if max == 0 || initial > max {
		return 0, nil, errors.InvalidParameter(errors.PhaseObject, fmt.Sprintf("semaphore count %d of %d", initial, max))
	}
	s := &Semaphore{count: initial, max: max}
	k.initHeader(&s.Header, KindSemaphore, name, nil)
	h, err := k.allocOwned(p, s, access, attrs)
	if err != nil {
		_ = release(s)
		return 0, nil, err
	}
	return h, s, nil
}

// ReleaseSemaphore adds n to the count and returns the previous count.
func (k *Kernel) ReleaseSemaphore(s *Semaphore, n uint32) (uint32, error) {
	prev := s.count
	if n > s.max-s.count {
		return prev, errors.New(errors.PhaseObject, errors.KindLimitExceeded).
			Detail("release %d at %d of %d", n, s.count, s.max).Build()
	}
	s.count += n
	if prev == 0 {
		k.WakeUp(s, int(n))
	}
	return prev, nil
}
