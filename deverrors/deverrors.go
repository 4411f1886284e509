package deverrors

import (
	"errors"
	"fmt"
)

// Stage identifies which part of a dev run failed.
type Stage string

const (
	StageConfig   Stage = "config"
	StageSession  Stage = "session"
	StageRewrite  Stage = "rewrite"
	StageUpstream Stage = "upstream"
	StageBridge   Stage = "bridge"
	StageBuild    Stage = "build"
	StagePublish  Stage = "publish"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeTimeout  Code = "timeout"
	CodeCanceled Code = "canceled"

	CodeInvalidHost   Code = "invalid_host"
	CodeInvalidIP     Code = "invalid_ip"
	CodeInvalidPort   Code = "invalid_port"
	CodeInvalidOption Code = "invalid_option"
	CodeBindFailed    Code = "bind_failed"

	CodeRandomFailed      Code = "random_failed"
	CodeMissingArtifactID Code = "missing_artifact_id"

	CodeInvalidHeaderValue Code = "invalid_header_value"
	CodeInvalidLocation    Code = "invalid_location"

	CodeDialFailed    Code = "dial_failed"
	CodeTLSFailed     Code = "tls_failed"
	CodeRequestFailed Code = "request_failed"

	CodeUnclassifiedMessage Code = "unclassified_message"
	CodeActivateFailed      Code = "activate_failed"
	CodeReadFailed          Code = "read_failed"

	CodeCommandFailed Code = "command_failed"
	CodeUploadFailed  Code = "upload_failed"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(stage Stage, code Code, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}

// Config builds a config-stage error from a format string.
func Config(code Code, format string, args ...any) error {
	return &Error{Stage: StageConfig, Code: code, Err: fmt.Errorf(format, args...)}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

func stageOf(err error) Stage {
	if e, ok := As(err); ok {
		return e.Stage
	}
	return ""
}

// IsConfig reports a bad host/IP/port or an unusable listener. These abort startup.
func IsConfig(err error) bool { return stageOf(err) == StageConfig }

// IsUpstream reports a failure talking to the preview host.
func IsUpstream(err error) bool { return stageOf(err) == StageUpstream }

// IsRewrite reports a header or redirect rewrite that was skipped.
func IsRewrite(err error) bool { return stageOf(err) == StageRewrite }

// IsBridgeParse reports an inspector message that is not a known event.
func IsBridgeParse(err error) bool {
	e, ok := As(err)
	return ok && e.Stage == StageBridge && e.Code == CodeUnclassifiedMessage
}

// IsBridgeConnection reports an inspector connection that could not be used.
func IsBridgeConnection(err error) bool {
	e, ok := As(err)
	return ok && e.Stage == StageBridge && e.Code != CodeUnclassifiedMessage
}
