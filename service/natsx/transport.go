package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/realtime"
	"PPRealtime/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	HdrMsgID  = "Nats-Msg-Id"
	HdrSender = "X-Sender"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	Prefix        string        // subject 前缀，如 ppchat
	Timeout       time.Duration // 建连超时
	MaxReconnects int           // 0 = 不在客户端库里重连，交给 realtime.Session
	ReconnectWait time.Duration
	Middlewares   []Middleware
	Logger        *zap.Logger
}

// Transport 用 NATS 承载实时通道；/app/* 的 SEND 需要服务端有对应的桥接订阅
type Transport struct {
	cfg NatsxConfig
	log *zap.Logger
}

var _ realtime.Transport = (*Transport)(nil)

func NewTransport(cfg NatsxConfig) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Name == "" {
		cfg.Name = "ppchat-client"
	}
	return &Transport{cfg: cfg, log: logger.Named(cfg.Logger, "natsx")}
}

func (t *Transport) options(ep realtime.Endpoint, c *conn) []nats.Option {
	opts := []nats.Option{
		nats.Name(t.cfg.Name),
		nats.Timeout(t.cfg.Timeout),
		nats.ClosedHandler(func(nc *nats.Conn) { c.fail(nc.LastError()) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.log.Warn("[natsx] disconnected", zap.Error(err))
			}
		}),
	}
	if ep.Token != "" {
		opts = append(opts, nats.Token(ep.Token))
	}
	if t.cfg.MaxReconnects == 0 {
		opts = append(opts, nats.NoReconnect())
	} else {
		opts = append(opts,
			nats.MaxReconnects(t.cfg.MaxReconnects),
			nats.ReconnectWait(t.cfg.ReconnectWait),
			nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		)
	}
	return opts
}

func (t *Transport) Dial(ctx context.Context, ep realtime.Endpoint) (realtime.Conn, error) {
	if len(t.cfg.Servers) == 0 {
		return nil, errs.ErrHandshake.WrapMsg("nats servers missing")
	}
	c := newConn(t.cfg.Prefix, ep.Username, t.log, t.cfg.Middlewares...)

	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(strings.Join(t.cfg.Servers, ","), t.options(ep, c)...)
		ch <- result{nc, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, errs.ErrHandshake.WrapMsg(r.err.Error(), "servers", strings.Join(t.cfg.Servers, ","))
		}
		c.nc = r.nc
	}
	t.log.Debug("[natsx] connected", zap.String("url", c.nc.ConnectedUrlRedacted()), zap.String("user", ep.Username))
	return c, nil
}

// conn 一条 NATS 连接上的订阅集合
type conn struct {
	nc       *nats.Conn
	prefix   string
	username string
	log      *zap.Logger
	mws      []Middleware

	mu   sync.Mutex
	subs map[string]*nats.Subscription // subscription id -> sub

	frames    chan realtime.Frame
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ realtime.Conn = (*conn)(nil)

func newConn(prefix, username string, log *zap.Logger, mws ...Middleware) *conn {
	return &conn{
		prefix:   prefix,
		username: username,
		log:      log,
		mws:      mws,
		subs:     make(map[string]*nats.Subscription),
		frames:   make(chan realtime.Frame, 256),
		done:     make(chan struct{}),
	}
}

func (c *conn) subject(destination string) string {
	return Subject(c.prefix, c.username, destination)
}

// handler 订阅 id 对应的入站处理链，链尾把 Delivery 转成 realtime.Frame
func (c *conn) handler() Handler {
	final := func(ctx context.Context, d Delivery) error {
		f := realtime.Frame{SubscriptionID: d.SubscriptionID, Destination: d.Destination, Body: d.Data, Headers: d.Header}
		select {
		case c.frames <- f:
			return nil
		case <-c.done:
			return ctx.Err()
		}
	}
	return Chain(final, c.mws...)
}

func (c *conn) onMsg(id, destination string, h Handler) nats.MsgHandler {
	return func(m *nats.Msg) {
		err := h(context.Background(), Delivery{
			SubscriptionID: id,
			Destination:    destination,
			Subject:        m.Subject,
			Data:           append([]byte(nil), m.Data...),
			Header:         headerToMap(m.Header),
		})
		if err != nil {
			c.log.Warn("[natsx] handle message failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
}

func (c *conn) Subscribe(id, destination string) error {
	if c.closed() {
		return errs.ErrNotConnected.WrapMsg("nats connection closed")
	}
	subj := c.subject(destination)
	sub, err := c.nc.Subscribe(subj, c.onMsg(id, destination, c.handler()))
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", subj)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	c.mu.Lock()
	old := c.subs[id]
	c.subs[id] = sub
	c.mu.Unlock()
	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

func (c *conn) Unsubscribe(id string) error {
	c.mu.Lock()
	sub := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (c *conn) Send(destination string, body []byte) error {
	if c.closed() {
		return errs.ErrNotConnected.WrapMsg("nats connection closed")
	}
	msg := nats.NewMsg(c.subject(destination))
	msg.Data = body
	msg.Header.Set(HdrMsgID, genMsgID())
	if c.username != "" {
		msg.Header.Set(HdrSender, c.username)
	}
	return c.nc.PublishMsg(msg)
}

func (c *conn) Frames() <-chan realtime.Frame { return c.frames }
func (c *conn) Done() <-chan struct{}         { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.mu.Lock()
	for id, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if c.nc != nil {
		c.nc.Close()
	}
	// ClosedHandler 可能带着 LastError 先到；本地关闭不算错误
	c.fail(nil)
	return nil
}

func (c *conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
