package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIsThroughWrapping(t *testing.T) {
	err := ErrNotConnected.WrapMsg("publish dropped", "dest", "/app/private-chat")
	err = fmt.Errorf("send: %w", err)

	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, errors.Is(err, ErrDecode))
	assert.Equal(t, NotConnected, Code(err))
	assert.Contains(t, err.Error(), "dest=/app/private-chat")
}

func TestWrapMsgKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapMsg(cause, "dial", "url", "ws://x/ws")

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "dial, url=ws://x/ws: boom", err.Error())
	assert.Nil(t, WrapMsg(nil, "noop"))
	assert.Equal(t, 0, Code(cause))
}

func TestFromPanic(t *testing.T) {
	assert.Nil(t, FromPanic(nil))
	err := FromPanic("bad handler")
	assert.True(t, errors.Is(err, ErrPanic))
	assert.Contains(t, err.Error(), "bad handler")
}

func TestToStringOddKV(t *testing.T) {
	assert.Equal(t, "m, a=1, b=MISSING", toString("m", []any{"a", 1, "b"}))
}
