package stomp

import (
	"net"
	"sync"
	"time"

	"PPRealtime/service/realtime"
	"PPRealtime/tools/errs"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var eol = []byte{'\n'}

// conn 一条 STOMP 会话。只有 writeLoop 写 websocket，readLoop 只读。
type conn struct {
	ws  *websocket.Conn
	log *zap.Logger
	hb  heartbeat

	send   chan []byte
	frames chan realtime.Frame
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

var _ realtime.Conn = (*conn)(nil)

func newConn(ws *websocket.Conn, log *zap.Logger, hb heartbeat) *conn {
	return &conn{
		ws:     ws,
		log:    log,
		hb:     hb,
		send:   make(chan []byte, sendQueue),
		frames: make(chan realtime.Frame, sendQueue),
		done:   make(chan struct{}),
	}
}

func (c *conn) Subscribe(id, destination string) error {
	return c.enqueue(NewFrame(CmdSubscribe, HdrID, id, HdrDestination, destination, HdrAck, "auto"))
}

func (c *conn) Unsubscribe(id string) error {
	return c.enqueue(NewFrame(CmdUnsubscribe, HdrID, id))
}

func (c *conn) Send(destination string, body []byte) error {
	f := NewFrame(CmdSend, HdrDestination, destination, HdrContentType, "application/json")
	f.Body = body
	return c.enqueue(f)
}

func (c *conn) Frames() <-chan realtime.Frame { return c.frames }
func (c *conn) Done() <-chan struct{}         { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close 主动关闭，writeLoop 负责发 DISCONNECT 和 close 帧
func (c *conn) Close() error {
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

func (c *conn) enqueue(f *Frame) error {
	b := Encode(f)
	select {
	case <-c.done:
		return errs.ErrNotConnected.WrapMsg("stomp connection closed", "command", f.Command)
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errs.ErrNotConnected.WrapMsg("stomp connection closed", "command", f.Command)
	}
}

func (c *conn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) writeLoop() {
	var tick <-chan time.Time
	if c.hb.send > 0 {
		t := time.NewTicker(c.hb.send)
		defer t.Stop()
		tick = t.C
	}
	defer func() {
		// 统一由写协程收尾
		if c.Err() == nil {
			// 正常关闭：先把已入队的帧写完再 DISCONNECT
			for drained := false; !drained; {
				select {
				case b := <-c.send:
					_ = c.write(b)
				default:
					drained = true
				}
			}
			_ = c.write(Encode(NewFrame(CmdDisconnect)))
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.log.Warn("[stomp] write failed", zap.Error(err))
				c.fail(errs.WrapMsg(err, "stomp write"))
				return
			}
		case <-tick:
			if err := c.write(eol); err != nil {
				c.fail(errs.WrapMsg(err, "stomp heartbeat"))
				return
			}
		}
	}
}

func (c *conn) readLoop() {
	for {
		if c.hb.expect > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.hb.expect))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// 本地关闭引起的读错误
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Info("[stomp] peer closed", zap.Error(err))
				} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.log.Warn("[stomp] heartbeat timeout", zap.Duration("expect", c.hb.expect))
				} else {
					c.log.Warn("[stomp] read failed", zap.Error(err))
				}
				c.fail(errs.WrapMsg(err, "stomp read"))
			}
			return
		}

		frames, err := Decode(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			c.log.Warn("[stomp] bad frame", zap.ByteString("sample", sample), zap.Error(err))
		}
		for _, f := range frames {
			if !c.handle(f) {
				return
			}
		}
	}
}

func (c *conn) handle(f *Frame) bool {
	switch f.Command {
	case CmdMessage:
		rf := realtime.Frame{
			SubscriptionID: f.Header.Get(HdrSubscription),
			Destination:    f.Header.Get(HdrDestination),
			Body:           f.Body,
			Headers:        headerMap(f.Header),
		}
		select {
		case c.frames <- rf:
		case <-c.done:
			return false
		}
	case CmdError:
		msg := f.Header.Get(HdrMessage)
		c.log.Warn("[stomp] broker error", zap.String("message", msg), zap.ByteString("body", f.Body))
		c.fail(errs.ErrBrokerError.WrapMsg(msg))
		return false
	case CmdReceipt:
		if glog.V(2) {
			glog.Infof("[stomp] receipt %s", f.Header.Get(HdrReceiptID))
		}
	default:
		c.log.Debug("[stomp] ignore frame", zap.String("command", f.Command))
	}
	return true
}
