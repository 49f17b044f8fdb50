package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTransport 内存传输，记录每次拨号产生的连接
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	dialAt  []time.Time
	failN   int           // 前 N 次拨号失败
	gate    chan struct{} // 非 nil 时拨号阻塞到 gate 关闭
	lastEP  Endpoint
	dialled chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialled: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	t.mu.Lock()
	gate := t.gate
	t.dials++
	t.dialAt = append(t.dialAt, time.Now())
	t.lastEP = ep
	fail := t.failN > 0
	if fail {
		t.failN--
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("dial refused")
	}
	c := &fakeConn{
		subs:   make(map[string]string),
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	t.dialled <- c
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// gaps 相邻两次拨号的间隔
func (t *fakeTransport) gaps() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(t.dialAt); i++ {
		out = append(out, t.dialAt[i].Sub(t.dialAt[i-1]))
	}
	return out
}

func (t *fakeTransport) endpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEP
}

// active 未关闭的连接数
func (t *fakeTransport) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

type sent struct {
	dest string
	body []byte
}

type fakeConn struct {
	mu        sync.Mutex
	subs      map[string]string // id -> destination
	subCalls  int
	sent      []sent
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	err       error
}

func (c *fakeConn) Subscribe(id, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.subs[id] = destination
	c.subCalls++
	return nil
}

func (c *fakeConn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	return nil
}

func (c *fakeConn) Send(destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, sent{dest: destination, body: append([]byte(nil), body...)})
	return nil
}

func (c *fakeConn) Frames() <-chan Frame { return c.frames }
func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.fail(nil)
	return nil
}

// fail 模拟网络断开
func (c *fakeConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver 模拟 broker 向某个地址的全部订阅推送
func (c *fakeConn) deliver(destination string, body string) int {
	c.mu.Lock()
	var ids []string
	for id, d := range c.subs {
		if d == destination {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.frames <- Frame{SubscriptionID: id, Destination: destination, Body: []byte(body)}
	}
	return len(ids)
}

func (c *fakeConn) subscriptions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *fakeConn) sentFrames() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sent...)
}
