package errs

import (
	"fmt"

	pkgerr "github.com/pkg/errors"
)

// FromPanic 把 recover() 的值转成带栈的 CodeError；r 为 nil 返回 nil
func FromPanic(r any) error {
	if r == nil {
		return nil
	}
	return pkgerr.WithStack(ErrPanic.WithDetail(fmt.Sprint(r)))
}
