package stomp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/realtime"
	"PPRealtime/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	Version = "1.2"

	defaultHandshakeTimeout = 10 * time.Second
	defaultHeartbeat        = 10 * time.Second
	writeWait               = 10 * time.Second
	sendQueue               = 256
)

type Options struct {
	HandshakeTimeout time.Duration // 等 CONNECTED 的时间
	Heartbeat        time.Duration // 双向心跳期望，0 表示关闭
	Path             string        // 默认 /ws
	Dialer           *websocket.Dialer
	Logger           *zap.Logger
}

// Transport STOMP 1.2 over WebSocket
type Transport struct {
	opts Options
	log  *zap.Logger
}

var _ realtime.Transport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Heartbeat < 0 {
		opts.Heartbeat = 0
	}
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}
	return &Transport{opts: opts, log: logger.Named(opts.Logger, "stomp")}
}

// WebSocketURL http(s)://host[/prefix] -> ws(s)://host[/prefix]/ws?token=...
func WebSocketURL(base, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", errs.ErrHandshake.WrapMsg("bad base url", "base", base)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errs.ErrHandshake.WrapMsg("unsupported scheme", "scheme", u.Scheme)
	}
	if u.Host == "" {
		return "", errs.ErrHandshake.WrapMsg("base url without host", "base", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transport) Dial(ctx context.Context, ep realtime.Endpoint) (realtime.Conn, error) {
	if ep.Token == "" {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	wsURL, err := WebSocketURL(ep.BaseURL, t.opts.Path, ep.Token)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set(HdrAuthorization, "Bearer "+ep.Token)

	ws, resp, err := t.opts.Dialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, errs.ErrHandshake.WrapMsg(err.Error(), "status", status)
	}

	hb, err := t.handshake(ctx, ws, ep)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := newConn(ws, t.log.With(zap.String("user", ep.Username)), hb)
	go c.writeLoop()
	go c.readLoop()
	t.log.Debug("[stomp] connected", zap.String("url", redact(wsURL)),
		zap.Duration("send_every", hb.send), zap.Duration("expect_every", hb.expect))
	return c, nil
}

type heartbeat struct {
	send   time.Duration // 客户端发心跳的间隔
	expect time.Duration // 超过这个时间收不到任何数据视为断开
}

func (t *Transport) handshake(ctx context.Context, ws *websocket.Conn, ep realtime.Endpoint) (heartbeat, error) {
	ms := t.opts.Heartbeat.Milliseconds()
	host := ""
	if u, err := url.Parse(ep.BaseURL); err == nil {
		host = u.Hostname()
	}
	connect := NewFrame(CmdConnect,
		HdrAcceptVersion, Version,
		HdrHost, host,
		HdrHeartBeat, fmt.Sprintf("%d,%d", ms, ms),
		HdrAuthorization, "Bearer "+ep.Token,
	)

	deadline := time.Now().Add(t.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, Encode(connect)); err != nil {
		return heartbeat{}, errs.ErrHandshake.WrapMsg(err.Error(), "step", "CONNECT")
	}

	// ctx 取消时打断阻塞的读
	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()
	_ = ws.SetReadDeadline(deadline)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return heartbeat{}, ctx.Err()
			}
			return heartbeat{}, errs.ErrHandshake.WrapMsg(err.Error(), "step", "CONNECTED")
		}
		frames, err := Decode(data)
		if err != nil {
			return heartbeat{}, errs.ErrHandshake.WrapMsg(err.Error(), "step", "CONNECTED")
		}
		for _, f := range frames {
			switch f.Command {
			case CmdConnected:
				_ = ws.SetReadDeadline(time.Time{})
				_ = ws.SetWriteDeadline(time.Time{})
				return negotiate(t.opts.Heartbeat, f.Header.Get(HdrHeartBeat)), nil
			case CmdError:
				return heartbeat{}, errs.ErrBrokerError.WrapMsg(f.Header.Get(HdrMessage), "body", string(f.Body))
			default:
				return heartbeat{}, errs.ErrHandshake.WrapMsg("unexpected frame", "command", f.Command)
			}
		}
	}
}

// negotiate 按 1.2 规则：双方都非 0 时取较大者；读超时放宽到两倍
func negotiate(want time.Duration, server string) heartbeat {
	var sx, sy int64
	if parts := strings.Split(server, ","); len(parts) == 2 {
		sx, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		sy, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	}
	cx := want.Milliseconds()
	cy := cx
	var hb heartbeat
	if cx > 0 && sy > 0 {
		hb.send = time.Duration(max(cx, sy)) * time.Millisecond
	}
	if cy > 0 && sx > 0 {
		hb.expect = 2 * time.Duration(max(cy, sx)) * time.Millisecond
	}
	return hb
}

func redact(u string) string {
	if i := strings.Index(u, "token="); i >= 0 {
		return u[:i] + "token=***"
	}
	return u
}
