package cpucontext

import (
	"context"
	"fmt"

	"github.com/wippyai/ntserver/errors"
)

// noneBackend is used on hosts without register access. Wrapped by
// WithCapabilities it reads debug registers as zeros and rejects everything
// else.
type noneBackend struct {
	machine Machine
}

// NewNone returns the backend that reaches no registers.
func NewNone(m Machine) (Backend, error) {
	if _, ok := RegisterFileFor(m); !ok {
		return nil, errors.Unsupported(errors.PhaseContext, fmt.Sprintf("no register file for %s", m))
	}
	return &noneBackend{machine: m}, nil
}

func (n *noneBackend) Name() string               { return KindNone }
func (n *noneBackend) Capabilities() Capabilities { return Capabilities{} }
func (n *noneBackend) Close() error               { return nil }

func (n *noneBackend) Get(_ context.Context, _ Target, _ *Context, groups Group) error {
	return errors.Unsupported(errors.PhaseContext, fmt.Sprintf("no context backend for %s registers", groups))
}

func (n *noneBackend) Set(_ context.Context, _ Target, _ *Context, groups Group) error {
	return errors.Unsupported(errors.PhaseContext, fmt.Sprintf("no context backend for %s registers", groups))
}
