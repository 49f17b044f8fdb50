package safe

import (
	"errors"
	"testing"

	"PPRealtime/tools/errs"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call(zap.NewNop(), "test", func() { panic("boom") })
	assert.True(t, errors.Is(err, errs.ErrPanic))

	assert.NoError(t, Call(nil, "ok", func() {}))
}

func TestGoRecovers(t *testing.T) {
	done := make(chan struct{})
	Go(zap.NewNop(), "bg", func() {
		defer close(done)
		panic("bg boom")
	})
	<-done
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(3, "three") })
}
