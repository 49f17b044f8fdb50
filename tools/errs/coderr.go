package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// 错误码：认证、连接、握手、broker、解码、持久化、输入校验
const (
	NotAuthenticated = 1001 // 没有凭证，尚未登录
	NotConnected     = 1002 // 会话未连接
	HandshakeError   = 1003 // 传输握手失败
	BrokerError      = 1004 // broker 返回 ERROR 帧
	DecodeError      = 1005 // 入站帧解码失败
	InvalidEnvelope  = 1006 // 出站信封不合法
	PersistError     = 1007 // REST 持久化失败
	NoConversation   = 1008 // 当前没有打开的会话
	ServerInternal   = 1500
)

var (
	ErrNotAuthenticated = NewCodeError(NotAuthenticated, "not authenticated")
	ErrNotConnected     = NewCodeError(NotConnected, "session not connected")
	ErrHandshake        = NewCodeError(HandshakeError, "transport handshake failed")
	ErrBrokerError      = NewCodeError(BrokerError, "broker error")
	ErrDecode           = NewCodeError(DecodeError, "decode frame failed")
	ErrInvalidEnvelope  = NewCodeError(InvalidEnvelope, "invalid envelope")
	ErrPersist          = NewCodeError(PersistError, "persist message failed")
	ErrNoConversation   = NewCodeError(NoConversation, "no active conversation")
	ErrPanic            = NewCodeError(ServerInternal, "panic error")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap 带调用栈返回
func (e CodeError) Wrap() error {
	return pkgerr.WithStack(e)
}

// WrapMsg 追加 detail（msg + kv）后带栈返回
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e
	if msg != "" || len(kv) > 0 {
		ret = e.WithDetail(toString(msg, kv))
	}
	return pkgerr.WithStack(ret)
}

// Is 只比较错误码，detail 不参与
func (e CodeError) Is(target error) bool {
	var t CodeError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code 取链上第一个 CodeError 的错误码，没有则 0
func Code(err error) int {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(err)
}

// WrapMsg 给 err 加上下文；kv 按 key=value 拼接
func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerr.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
