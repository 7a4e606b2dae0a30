// Unified error handling for the CAM core
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Design document errors
	ErrDesignDecode ErrorCode = "DESIGN_DECODE"
	ErrDesignShape  ErrorCode = "DESIGN_SHAPE"

	// Geometry and toolpath errors. These are recovered locally and
	// never cross the CAM boundary.
	ErrGeometryDegenerate ErrorCode = "GEOMETRY_DEGENERATE"
	ErrToolpathEmpty      ErrorCode = "TOOLPATH_EMPTY"

	// G-code parsing errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Protocol errors
	ErrProtoInvalidResponse    ErrorCode = "PROTO_INVALID_RESPONSE"
	ErrProtoIncompleteResponse ErrorCode = "PROTO_INCOMPLETE_RESPONSE"
	ErrProtoChecksum           ErrorCode = "PROTO_CHECKSUM"
	ErrProtoUnsupported        ErrorCode = "PROTO_UNSUPPORTED"
	ErrProtoFirmware           ErrorCode = "PROTO_FIRMWARE"
	ErrProtoAlarm              ErrorCode = "PROTO_ALARM"

	// Transport errors
	ErrConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrConnectionLost   ErrorCode = "CONNECTION_LOST"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrPortUnavailable  ErrorCode = "PORT_UNAVAILABLE"
	ErrConfiguration    ErrorCode = "CONFIGURATION"
	ErrWriteFailed      ErrorCode = "WRITE_FAILED"
	ErrReadFailed       ErrorCode = "READ_FAILED"
	ErrIO               ErrorCode = "IO"
	ErrNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrDeviceBusy       ErrorCode = "DEVICE_BUSY"
	ErrBufferOverflow   ErrorCode = "BUFFER_OVERFLOW"

	// Streaming errors
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Runtime errors
	ErrRuntime   ErrorCode = "RUNTIME"
	ErrCancelled ErrorCode = "CANCELLED"
	ErrNotFound  ErrorCode = "NOT_FOUND"
)

// CamError is the unified error type for the CAM core
type CamError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the line number in the source file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *CamError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	if e.Section != "" {
		b.WriteString(":")
		b.WriteString(e.Section)
	}
	if e.Option != "" {
		b.WriteString(":")
		b.WriteString(e.Option)
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", e.File, e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *CamError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *CamError) SetFile(file string) *CamError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *CamError) SetLine(line int) *CamError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *CamError) SetSection(section string) *CamError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *CamError) SetOption(option string) *CamError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *CamError) SetContext(key string, value interface{}) *CamError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *CamError {
	return &CamError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new CamError
func New(code ErrorCode, message string) *CamError {
	return &CamError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *CamError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *CamError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *CamError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeParseError creates an error for G-code parsing failure
func GCodeParseError(line string, reason string) *CamError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeInvalidParameterError creates an error for an invalid G-code word
func GCodeInvalidParameterError(word, value string) *CamError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("invalid parameter '%s%s'", word, value))
}

// Protocol errors

// InvalidResponse reports a controller line that fits no known grammar
func InvalidResponse(line string) *CamError {
	return New(ErrProtoInvalidResponse, fmt.Sprintf("invalid response: %q", line))
}

// IncompleteResponse reports a truncated controller line
func IncompleteResponse(line string) *CamError {
	return New(ErrProtoIncompleteResponse, fmt.Sprintf("incomplete response: %q", line))
}

// FirmwareError reports an error:N response from the controller
func FirmwareError(code int, message string) *CamError {
	return New(ErrProtoFirmware, fmt.Sprintf("error:%d %s", code, message)).
		SetContext("code", code)
}

// AlarmError reports an ALARM:N response from the controller
func AlarmError(code int, message string) *CamError {
	return New(ErrProtoAlarm, fmt.Sprintf("ALARM:%d %s", code, message)).
		SetContext("code", code)
}

// Transport errors

// ConnectionFailed creates an error for a failed dial
func ConnectionFailed(target string, err error) *CamError {
	return Wrap(err, ErrConnectionFailed, fmt.Sprintf("connect to %s failed", target))
}

// ConnectionLost creates an error for a link dropped mid-session
func ConnectionLost(err error) *CamError {
	return Wrap(err, ErrConnectionLost, "connection lost")
}

// Timeout creates a timeout error carrying timeout_ms
func Timeout(operation string, timeoutMs int64) *CamError {
	return New(ErrTimeout, fmt.Sprintf("%s timed out after %d ms", operation, timeoutMs)).
		SetContext("timeout_ms", timeoutMs)
}

// PortUnavailable creates an error for a missing or busy serial port
func PortUnavailable(port string, err error) *CamError {
	return Wrap(err, ErrPortUnavailable, fmt.Sprintf("port %s unavailable", port))
}

// NotConnected creates an error for I/O on a closed transport
func NotConnected() *CamError {
	return New(ErrNotConnected, "not connected")
}

// WriteFailed creates an error for a failed transport write
func WriteFailed(err error) *CamError {
	return Wrap(err, ErrWriteFailed, "write failed")
}

// ReadFailed creates an error for a failed transport read
func ReadFailed(err error) *CamError {
	return Wrap(err, ErrReadFailed, "read failed")
}

// QueueFull creates an error for a rejected enqueue
func QueueFull(capacity int) *CamError {
	return New(ErrQueueFull, fmt.Sprintf("queue full (capacity %d)", capacity)).
		SetContext("capacity", capacity)
}

// Cancelled reports work abandoned on request.
func Cancelled(operation string) *CamError {
	return New(ErrCancelled, operation+" cancelled").SetContext("operation", operation)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *CamError {
	return New(ErrRuntime, message)
}

// FromPanic converts a recovered panic value into an error. It returns nil
// when r is nil so it can be used directly with recover().
func FromPanic(r interface{}) *CamError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return RuntimeError(x.Error())
	case error:
		return RuntimeError(x.Error())
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*CamError); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the code of the outermost CamError in err's chain
func CodeOf(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*CamError); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsProtocol checks if error is a controller protocol error
func IsProtocol(err error) bool {
	switch CodeOf(err) {
	case ErrProtoInvalidResponse, ErrProtoIncompleteResponse, ErrProtoChecksum,
		ErrProtoUnsupported, ErrProtoFirmware, ErrProtoAlarm:
		return true
	}
	return false
}

// IsTransport checks if error is a transport error
func IsTransport(err error) bool {
	switch CodeOf(err) {
	case ErrConnectionFailed, ErrConnectionLost, ErrTimeout, ErrPortUnavailable,
		ErrConfiguration, ErrWriteFailed, ErrReadFailed, ErrIO, ErrNotConnected,
		ErrDeviceBusy, ErrBufferOverflow:
		return true
	}
	return false
}
