package safe

import (
	"fmt"
	"reflect"

	"PPRealtime/logger"
	"PPRealtime/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Call runs f and turns a panic into an error, logging it under name.
// Consumer callbacks run through here so a bad callback cannot kill the
// goroutine that delivers frames.
func Call(log *zap.Logger, name string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.FromPanic(r)
			if log == nil {
				log = logger.Log
			}
			log.Error("[safe] panic recovered", zap.String("where", name), zap.Any("panic", r))
		}
	}()
	f()
	return nil
}

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		_ = Call(log, name, f)
	}()
}
