// Package errors provides the single rich error type used across the deploy tool.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
)

// Severity represents how bad the error is.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Rich wraps every error leaving a package boundary.
type Rich struct {
	Code      Code           `json:"code"`
	Domain    string         `json:"domain,omitempty"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Location  string         `json:"location"`
	Cause     error          `json:"-"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New builds a Rich error in one line.
//
//	errors.New(CodeTransferFailed, "transfer", "scp exited non-zero", err)
func New(code Code, domain, msg string, cause error) *Rich {
	_, file, line, _ := runtime.Caller(1)

	severity := SeverityMedium
	retryable := false
	if sev, retry, ok := GetCodeMetadata(code); ok {
		severity = sev
		retryable = retry
	}

	return &Rich{
		Code:      code,
		Domain:    domain,
		Message:   msg,
		Cause:     cause,
		Severity:  severity,
		Retryable: retryable,
		Location:  fmt.Sprintf("%s:%d", file, line),
	}
}

// Error implements error.
func (r *Rich) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", r.Domain, r.Code, r.Message, r.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", r.Domain, r.Code, r.Message)
}

func (r *Rich) Unwrap() error { return r.Cause }

// Is matches another Rich error by code.
func (r *Rich) Is(target error) bool {
	t, ok := target.(*Rich)
	if !ok {
		return false
	}
	return r.Code == t.Code
}

func (r *Rich) With(key string, val any) *Rich {
	if r.Fields == nil {
		r.Fields = make(map[string]any, 4)
	}
	r.Fields[key] = val
	return r
}

func (r *Rich) JSON() string {
	out, _ := json.Marshal(r)
	return string(out)
}

// CodeOf returns the code of the outermost Rich error in err's chain.
func CodeOf(err error) Code {
	var r *Rich
	if stderrors.As(err, &r) {
		return r.Code
	}
	return CodeUnknown
}

// HasCode reports whether any Rich error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if r, ok := err.(*Rich); ok && r.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable reports whether the outermost Rich error is marked retryable.
func IsRetryable(err error) bool {
	var r *Rich
	if stderrors.As(err, &r) {
		return r.Retryable
	}
	return false
}
