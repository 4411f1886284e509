package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type RequestResult string

const (
	RequestResultOK            RequestResult = "ok"
	RequestResultUpstreamError RequestResult = "upstream_error"
	RequestResultClientGone    RequestResult = "client_gone"
)

type RewriteKind string

const (
	RewriteKindPrefixed RewriteKind = "prefixed"
	RewriteKindRestored RewriteKind = "restored"
	RewriteKindRedirect RewriteKind = "redirect"
	RewriteKindSkipped  RewriteKind = "skipped"
)

type ConnectResult string

const (
	ConnectResultOK   ConnectResult = "ok"
	ConnectResultFail ConnectResult = "fail"
)

type EventKind string

const (
	EventKindConsoleLog   EventKind = "console_log"
	EventKindConsoleError EventKind = "console_error"
	EventKindConsoleOther EventKind = "console_other"
	EventKindException    EventKind = "exception"
	EventKindUnclassified EventKind = "unclassified"
)

// ProxyObserver receives reverse proxy metric events.
type ProxyObserver interface {
	InFlight(delta int)
	Request(result RequestResult, status int, d time.Duration)
	Rewrite(kind RewriteKind)
}

// BridgeObserver receives inspector bridge metric events.
type BridgeObserver interface {
	Connect(result ConnectResult)
	Event(kind EventKind)
}

type noopProxyObserver struct{}

func (noopProxyObserver) InFlight(int)                              {}
func (noopProxyObserver) Request(RequestResult, int, time.Duration) {}
func (noopProxyObserver) Rewrite(RewriteKind)                       {}

type noopBridgeObserver struct{}

func (noopBridgeObserver) Connect(ConnectResult) {}
func (noopBridgeObserver) Event(EventKind)       {}

// NoopProxyObserver is a zero-cost observer used when metrics are disabled.
var NoopProxyObserver ProxyObserver = noopProxyObserver{}

// NoopBridgeObserver is a zero-cost observer used when metrics are disabled.
var NoopBridgeObserver BridgeObserver = noopBridgeObserver{}

// AtomicProxyObserver swaps its delegate at runtime, so the CLI can hand the
// proxy an observer before deciding whether metrics are exported.
type AtomicProxyObserver struct {
	once sync.Once
	v    atomic.Value
}

type proxyObserverHolder struct {
	obs ProxyObserver
}

// NewAtomicProxyObserver returns an initialized atomic observer.
func NewAtomicProxyObserver() *AtomicProxyObserver {
	a := &AtomicProxyObserver{}
	a.once.Do(func() { a.v.Store(&proxyObserverHolder{obs: NoopProxyObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicProxyObserver) Set(obs ProxyObserver) {
	if obs == nil {
		obs = NoopProxyObserver
	}
	a.once.Do(func() { a.v.Store(&proxyObserverHolder{obs: NoopProxyObserver}) })
	a.v.Store(&proxyObserverHolder{obs: obs})
}

func (a *AtomicProxyObserver) load() ProxyObserver {
	a.once.Do(func() { a.v.Store(&proxyObserverHolder{obs: NoopProxyObserver}) })
	return a.v.Load().(*proxyObserverHolder).obs
}

func (a *AtomicProxyObserver) InFlight(delta int) { a.load().InFlight(delta) }
func (a *AtomicProxyObserver) Request(result RequestResult, status int, d time.Duration) {
	a.load().Request(result, status, d)
}
func (a *AtomicProxyObserver) Rewrite(kind RewriteKind) { a.load().Rewrite(kind) }
