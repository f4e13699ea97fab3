package syncprim

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// DefaultDevicePath is where the ntsync driver registers its device.
const DefaultDevicePath = "/dev/ntsync"

// Opener opens a sync device.
type Opener func(path string) (Device, error)

// Provider owns the server's sync device. The device is opened on first use
// and the outcome, success or failure, is kept for the server's lifetime.
type Provider struct {
	path     string
	open     Opener
	disabled bool
	observe  func(fast bool)

	once sync.Once
	dev  Device
	err  error
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithOpener replaces the device opener.
func WithOpener(fn Opener) ProviderOption {
	return func(p *Provider) { p.open = fn }
}

// WithDevice makes the provider use an already opened device.
func WithDevice(d Device) ProviderOption {
	return func(p *Provider) {
		p.open = func(string) (Device, error) { return d, nil }
	}
}

// Disabled turns the fast path off; every primitive uses in-process state.
func Disabled() ProviderOption {
	return func(p *Provider) { p.disabled = true }
}

// WithCreateObserver is told whether each created primitive got a device
// descriptor.
func WithCreateObserver(fn func(fast bool)) ProviderOption {
	return func(p *Provider) { p.observe = fn }
}

// NewProvider returns a provider for the device at path.
func NewProvider(path string, opts ...ProviderOption) *Provider {
	if path == "" {
		path = DefaultDevicePath
	}
	p := &Provider{path: path, open: OpenNtsync}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Device returns the opened device, opening it on the first call.
func (p *Provider) Device() (Device, error) {
	p.once.Do(func() {
		if p.disabled {
			p.err = errors.Unsupported(errors.PhaseSync, "sync device disabled")
			return
		}
		p.dev, p.err = p.open(p.path)
		if p.err != nil {
			Logger().Info("sync device unavailable, using in-process fallback",
				zap.String("path", p.path), zap.Error(p.err))
			return
		}
		Logger().Info("sync device opened", zap.String("path", p.path))
	})
	return p.dev, p.err
}

// Available reports whether the fast path is usable.
func (p *Provider) Available() bool {
	_, err := p.Device()
	return err == nil
}

// Close closes the device if it was opened. Later Device calls fail.
func (p *Provider) Close() error {
	closed := errors.Unsuccessful(errors.PhaseSync, "provider closed")
	p.once.Do(func() { p.err = closed })
	if p.dev == nil {
		return nil
	}
	dev := p.dev
	p.dev, p.err = nil, closed
	return dev.Close()
}

func (p *Provider) created(fast bool) {
	if p.observe != nil {
		p.observe(fast)
	}
}
