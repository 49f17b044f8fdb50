package natsx

import (
	"context"

	"PPRealtime/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

// Delivery 一条入站 NATS 消息，连同它属于哪个 STOMP 风格的订阅
type Delivery struct {
	SubscriptionID string
	Destination    string // 订阅时用的目的地，如 /user/queue/message
	Subject        string // 映射后的 NATS subject
	Data           []byte
	Header         map[string]string
}

// Handler 处理一条 Delivery；链尾把它变成 realtime.Frame
type Handler func(ctx context.Context, d Delivery) error

// Middleware 包一层 Handler，返回错误或 nil 都会终止后续处理
type Middleware func(Handler) Handler

// Chain mws[0] 在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoverMiddleware 中间件 panic 不能打断 nats 的回调协程
func RecoverMiddleware(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, d Delivery) (err error) {
			if perr := safe.Call(log, "natsx."+d.Subject, func() { err = next(ctx, d) }); perr != nil {
				return perr
			}
			return err
		}
	}
}

func TraceMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, d Delivery) error {
			if glog.V(2) {
				glog.Infof("[natsx] deliver sub=%s subject=%s bytes=%d msgid=%s",
					d.SubscriptionID, d.Subject, len(d.Data), msgIDFromHeader(d.Header))
			}
			return next(ctx, d)
		}
	}
}
