package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Conn.Subscribe", ErrInvalidInput, "empty subscription id")
	want := "Conn.Subscribe: empty subscription id: invalid input"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Handle.Acquire", ErrOffline, "")
	want := "Handle.Acquire: connection offline"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Conn.Do", ErrTransport, "write"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Conn.Do", de.Op)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestRequestError(t *testing.T) {
	err := &RequestError{Tag: "4", Type: "error", Message: "unknown field nodez"}
	assert.Equal(t, "unknown field nodez", err.Error())
	assert.ErrorIs(t, err, ErrRequest)
	assert.Equal(t, CodeRequest, ErrorCodeOf(err))
}

func TestQueryDataError(t *testing.T) {
	assert.Equal(t, "no result data", NewQueryDataError().Error())
	assert.Equal(t, "a AND b", NewQueryDataError("a", "b").Error())
	assert.ErrorIs(t, NewQueryDataError("x"), ErrQueryData)
}

func TestProtocolFault(t *testing.T) {
	err := &ProtocolFault{Reason: "unknown tag", Raw: []byte(`{"tag":"9"}`)}
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "unknown tag")
	assert.True(t, IsSessionFatal(err))
	assert.False(t, IsSessionFatal(NewQueryDataError()))
}

func TestErrorCodeOf(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("other")))
	assert.Equal(t, CodeOffline, ErrorCodeOf(ErrOffline))
	assert.Equal(t, CodeTransport, ErrorCodeOf(WrapOp("dial", ErrTransport)))
	assert.Equal(t, CodeParamType, ErrorCodeOf(NewSubSystemError("querydoc", "Build", ErrInvalidInput, "no paramType given")))
	assert.Equal(t, CodeInvalidInput, ErrorCodeOf(NewSubSystemError("other", "Build", ErrInvalidInput, "")))
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
}
