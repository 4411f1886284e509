package inspector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/floegence/previewdev/deverrors"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"
)

const (
	methodConsoleAPICalled = "Runtime.consoleAPICalled"
	methodExceptionThrown  = "Runtime.exceptionThrown"
)

// ErrUnclassified is returned by Parse for messages that are not console or
// exception events. Command replies and every other protocol event land here.
var ErrUnclassified = deverrors.Wrap(deverrors.StageBridge, deverrors.CodeUnclassifiedMessage, errors.New("not a console or exception event"))

// Event is a classified inspector event. The concrete type is *ConsoleEvent
// or *ExceptionEvent.
type Event interface {
	fmt.Stringer
	isEvent()
}

// ConsoleEvent is a Runtime.consoleAPICalled notification.
type ConsoleEvent struct {
	runtime.ConsoleAPICalledReply
}

// ExceptionEvent is a Runtime.exceptionThrown notification.
type ExceptionEvent struct {
	runtime.ExceptionThrownReply
}

func (*ConsoleEvent) isEvent()   {}
func (*ExceptionEvent) isEvent() {}

// Parse classifies one inspector text message.
func Parse(msg []byte) (Event, error) {
	if !gjson.ValidBytes(msg) {
		return nil, ErrUnclassified
	}
	res := gjson.GetManyBytes(msg, "method", "params")
	method, params := res[0], res[1]
	if !params.IsObject() {
		return nil, ErrUnclassified
	}
	raw := []byte(params.Raw)
	switch method.String() {
	case methodConsoleAPICalled:
		var ev ConsoleEvent
		if err := json.Unmarshal(raw, &ev.ConsoleAPICalledReply); err != nil {
			return nil, deverrors.Wrap(deverrors.StageBridge, deverrors.CodeUnclassifiedMessage, err)
		}
		return &ev, nil
	case methodExceptionThrown:
		var ev ExceptionEvent
		if err := json.Unmarshal(raw, &ev.ExceptionThrownReply); err != nil {
			return nil, deverrors.Wrap(deverrors.StageBridge, deverrors.CodeUnclassifiedMessage, err)
		}
		return &ev, nil
	default:
		return nil, ErrUnclassified
	}
}

// String renders the console arguments separated by spaces, the way a
// browser console shows them.
func (e *ConsoleEvent) String() string {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		parts = append(parts, formatRemoteObject(arg))
	}
	return strings.Join(parts, " ")
}

// String renders the thrown value and, when known, where it was thrown.
func (e *ExceptionEvent) String() string {
	d := e.ExceptionDetails
	msg := d.Text
	if d.Exception != nil {
		if v := formatRemoteObject(*d.Exception); v != "" {
			if msg == "" || msg == "Uncaught" {
				msg = "Uncaught " + v
			} else {
				msg = msg + " " + v
			}
		}
	}
	if d.URL != nil && *d.URL != "" {
		msg += fmt.Sprintf("\n    at %s:%d:%d", *d.URL, d.LineNumber+1, d.ColumnNumber+1)
	}
	return msg
}

func formatRemoteObject(o runtime.RemoteObject) string {
	if o.UnserializableValue != nil {
		return string(*o.UnserializableValue)
	}
	if len(o.Value) > 0 {
		v := gjson.ParseBytes(o.Value)
		switch v.Type {
		case gjson.String:
			return v.String()
		case gjson.Null:
			return "null"
		case gjson.Number, gjson.True, gjson.False:
			return v.Raw
		default:
			return string(o.Value)
		}
	}
	if o.Description != nil {
		return *o.Description
	}
	if o.Type == "undefined" {
		return "undefined"
	}
	return "[" + o.Type + "]"
}
