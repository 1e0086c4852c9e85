package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Wrap these with NewDomainError or the typed errors
// below so callers can match with errors.Is regardless of context.
var (
	ErrTransport      = fmt.Errorf("transport fault")
	ErrOffline        = fmt.Errorf("connection offline")
	ErrClosedByCaller = fmt.Errorf("connection closed by caller")
	ErrProtocol       = fmt.Errorf("protocol fault")
	ErrRequest        = fmt.Errorf("request failed")
	ErrQueryData      = fmt.Errorf("query data error")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrNotCommitted   = fmt.Errorf("commit not acknowledged")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrDecryption     = fmt.Errorf("decryption failed")
	ErrEncryption     = fmt.Errorf("encryption operation failed")
	ErrReconnectLimit = fmt.Errorf("reconnect attempts exhausted")
)

// NoResultData is the message reported when a reply or push carries no data.
const NoResultData = "no result data"

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Conn.Subscribe")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "transport", "querydoc")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RequestError is the server's rejection of one tagged request.
// The Message is exactly what the server put in the reply's error field.
type RequestError struct {
	Tag     string
	Type    string
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Unwrap() error { return ErrRequest }

// QueryDataError reports a reply or push whose data block was absent or
// carried a non-empty errors list.
type QueryDataError struct {
	Messages []string
}

// NewQueryDataError builds a QueryDataError. An empty list means the data
// block was missing altogether.
func NewQueryDataError(messages ...string) *QueryDataError {
	return &QueryDataError{Messages: messages}
}

func (e *QueryDataError) Error() string {
	if len(e.Messages) == 0 {
		return NoResultData
	}
	return strings.Join(e.Messages, " AND ")
}

func (e *QueryDataError) Unwrap() error { return ErrQueryData }

// ProtocolFault signals that client and server state machines disagree.
// It invalidates the whole session.
type ProtocolFault struct {
	Reason string
	Raw    []byte
}

func (e *ProtocolFault) Error() string {
	return fmt.Sprintf("protocol fault: %s: %s", e.Reason, truncate(string(e.Raw), 256))
}

func (e *ProtocolFault) Unwrap() error { return ErrProtocol }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsSessionFatal reports whether err invalidates the whole multiplexed
// session rather than a single exchange.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) || errors.Is(err, ErrOffline)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeTransport       ErrorCode = "TRANSPORT_FAULT"
	CodeOffline         ErrorCode = "OFFLINE"
	CodeClosedByCaller  ErrorCode = "CLOSED_BY_CALLER"
	CodeProtocol        ErrorCode = "PROTOCOL_FAULT"
	CodeRequest         ErrorCode = "REQUEST_ERROR"
	CodeQueryData       ErrorCode = "QUERY_DATA_ERROR"
	CodeInvalidInput    ErrorCode = "VALIDATION_ERROR"
	CodeNotCommitted    ErrorCode = "NOT_COMMITTED"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeDecryption      ErrorCode = "DECRYPTION"
	CodeEncryption      ErrorCode = "ENCRYPTION"
	CodeReconnectLimit  ErrorCode = "RECONNECT_LIMIT"
	CodeParamType       ErrorCode = "PARAM_TYPE"
	CodeSubscriptionDup ErrorCode = "SUBSCRIPTION_DUPLICATE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTransport:      CodeTransport,
	ErrOffline:        CodeOffline,
	ErrClosedByCaller: CodeClosedByCaller,
	ErrProtocol:       CodeProtocol,
	ErrRequest:        CodeRequest,
	ErrQueryData:      CodeQueryData,
	ErrInvalidInput:   CodeInvalidInput,
	ErrNotCommitted:   CodeNotCommitted,
	ErrConfigLoad:     CodeConfigLoad,
	ErrDecryption:     CodeDecryption,
	ErrEncryption:     CodeEncryption,
	ErrReconnectLimit: CodeReconnectLimit,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrInvalidInput: {
		"querydoc":     CodeParamType,
		"subscription": CodeSubscriptionDup,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
