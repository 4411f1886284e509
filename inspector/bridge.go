package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/floegence/previewdev/deverrors"
	"github.com/floegence/previewdev/internal/defaults"
	"github.com/floegence/previewdev/observability"
	"github.com/floegence/previewdev/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

// DefaultURL is the inspector endpoint prefix; the session id is appended.
const DefaultURL = "wss://rawhttp.cloudflareworkers.com/inspect/"

// activationMethods are sent in order, with ids 1, 2, 3, right after the
// connection opens.
var activationMethods = []string{"Profiler.enable", "Runtime.enable", "Debugger.enable"}

// Options configures a Bridge.
type Options struct {
	// URL is the endpoint prefix. Empty uses DefaultURL.
	URL string
	// SessionID selects the dev run to attach to (required).
	SessionID session.ID

	// Stdout and Stderr receive printed events. nil discards them.
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives diagnostics. nil discards them.
	Logger *zerolog.Logger
	// Dialer is used for the websocket handshake. nil uses a zero Dialer.
	Dialer *websocket.Dialer
	// Observer receives metric events. nil disables metrics.
	Observer observability.BridgeObserver

	// ConnectTimeout bounds the handshake. Zero uses the package default.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each activation command. Zero uses the package default.
	WriteTimeout time.Duration
}

// Bridge relays console and exception events from the remote inspector to
// the terminal.
type Bridge struct {
	url            string
	dialer         *websocket.Dialer
	printer        *Printer
	logger         zerolog.Logger
	observer       observability.BridgeObserver
	connectTimeout time.Duration
	writeTimeout   time.Duration
}

// New validates opts and returns a Bridge. It does not connect.
func New(opts Options) (*Bridge, error) {
	if opts.SessionID == "" {
		return nil, errors.New("missing SessionID")
	}
	base := opts.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base + string(opts.SessionID))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid URL scheme (expected ws/wss): %q", u.Scheme)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	observer := opts.Observer
	if observer == nil {
		observer = observability.NoopBridgeObserver
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaults.InspectorConnectTimeout
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaults.InspectorWriteTimeout
	}
	return &Bridge{
		url:            u.String(),
		dialer:         opts.Dialer,
		printer:        NewPrinter(opts.Stdout, opts.Stderr),
		logger:         logger.With().Str("component", "inspector").Logger(),
		observer:       observer,
		connectTimeout: connectTimeout,
		writeTimeout:   writeTimeout,
	}, nil
}

// URL returns the full endpoint the bridge connects to.
func (b *Bridge) URL() string { return b.url }

// Run connects, activates the inspector domains and prints events until the
// connection ends or ctx is canceled. Cancellation and a normal close return
// nil.
func (b *Bridge) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	c, err := dial(dialCtx, b.dialer, b.url)
	cancel()
	if err != nil {
		b.observer.Connect(observability.ConnectResultFail)
		return deverrors.Wrap(deverrors.StageBridge, deverrors.ClassifyBridgeDialCode(err), err)
	}
	b.observer.Connect(observability.ConnectResultOK)
	defer c.close()
	b.logger.Debug().Str("url", b.url).Msg("inspector connected")

	for i, method := range activationMethods {
		msg, err := activationCommand(i+1, method)
		if err != nil {
			return deverrors.Wrap(deverrors.StageBridge, deverrors.CodeActivateFailed, err)
		}
		wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
		err = c.writeText(wctx, msg)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return deverrors.Wrap(deverrors.StageBridge, deverrors.CodeActivateFailed, fmt.Errorf("%s: %w", method, err))
		}
	}

	for {
		mt, msg, err := c.read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return deverrors.Wrap(deverrors.StageBridge, deverrors.CodeReadFailed, err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		b.handle(msg)
	}
}

func (b *Bridge) handle(msg []byte) {
	b.logger.Trace().Bytes("message", msg).Msg("inspector message")
	ev, err := Parse(msg)
	if err != nil {
		b.observer.Event(observability.EventKindUnclassified)
		b.logger.Debug().Err(err).Bytes("message", msg).Msg("inspector message not classified")
		return
	}
	b.observer.Event(b.printer.Print(ev))
}

func activationCommand(id int, method string) ([]byte, error) {
	msg, err := sjson.SetBytes(nil, "id", id)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(msg, "method", method)
}

// Go runs b on its own goroutine for the rest of the process. A failure is
// logged as a warning; the proxy keeps running without console output.
func Go(ctx context.Context, b *Bridge, logger *zerolog.Logger) {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			l.Warn().Err(err).Str("url", b.url).Msg("inspector bridge unavailable, console output disabled")
		}
	}()
}
