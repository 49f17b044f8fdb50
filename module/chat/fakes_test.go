package chat

import (
	"context"
	"strconv"
	"sync"
	"time"

	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
	"PPRealtime/tools/errs"
)

// hub 把每个客户端的 Publish 通过真实的编解码投给所有人（包括发送者自己，模拟 broker 回声）
type hub struct {
	mu      sync.Mutex
	clients []*fakeRealtime
}

func (h *hub) broadcast(dest realtime.Destination, env realtime.Envelope) {
	body, err := env.Marshal()
	if err != nil {
		panic(err)
	}
	p := env.Payload()
	h.mu.Lock()
	clients := append([]*fakeRealtime(nil), h.clients...)
	h.mu.Unlock()
	for _, c := range clients {
		switch dest {
		case realtime.SendPrivate:
			if c.identity == p.Receiver || c.identity == p.Sender {
				c.deliver(realtime.PrivateChannel(), body)
			}
		case realtime.SendGroup:
			c.deliver(realtime.GroupChannel(p.Group), body)
		}
	}
}

type fakeRealtime struct {
	identity string
	hub      *hub

	mu         sync.Mutex
	connected  bool
	handlers   map[string]realtime.Handler
	subCalls   map[string]int
	published  []realtime.Envelope
	publishErr error
}

func newFakeRealtime(identity string, h *hub) *fakeRealtime {
	f := &fakeRealtime{
		identity:  identity,
		hub:       h,
		connected: true,
		handlers:  make(map[string]realtime.Handler),
		subCalls:  make(map[string]int),
	}
	if h != nil {
		h.mu.Lock()
		h.clients = append(h.clients, f)
		h.mu.Unlock()
	}
	return f
}

func (f *fakeRealtime) Subscribe(ch realtime.Channel, h realtime.Handler) *realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.subCalls[ch.Key()]++
	if _, ok := f.handlers[ch.Key()]; !ok {
		f.handlers[ch.Key()] = h
	}
	return &realtime.Subscription{}
}

func (f *fakeRealtime) AwaitSubscribe(ctx context.Context, ch realtime.Channel, h realtime.Handler) (*realtime.Subscription, error) {
	for {
		if sub := f.Subscribe(ch, h); sub != nil {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeRealtime) Publish(dest realtime.Destination, env realtime.Envelope) error {
	f.mu.Lock()
	err := f.publishErr
	if err == nil {
		f.published = append(f.published, env)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if f.hub != nil {
		f.hub.broadcast(dest, env)
	}
	return nil
}

func (f *fakeRealtime) Identity() string { return f.identity }

func (f *fakeRealtime) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// deliver 走真实解码，等同于 Dispatcher 之后的回调
func (f *fakeRealtime) deliver(ch realtime.Channel, body []byte) {
	f.mu.Lock()
	h := f.handlers[ch.Key()]
	f.mu.Unlock()
	if h == nil {
		return
	}
	m, err := realtime.DecodeMessage(ch, body)
	if err != nil {
		panic(err)
	}
	h(m)
}

func (f *fakeRealtime) inject(ch realtime.Channel, body string) { f.deliver(ch, []byte(body)) }

func (f *fakeRealtime) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeRealtime) subscribeCalls(ch realtime.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls[ch.Key()]
}

// backend 模拟服务端存储：持久化分配递增 id，所有用户共享
type backend struct {
	mu     sync.Mutex
	nextID int
	now    time.Time
	msgs   []restapi.Message
}

func newBackend(firstID int) *backend {
	return &backend{nextID: firstID, now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (b *backend) store(m restapi.Message) restapi.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.ID = strconv.Itoa(b.nextID)
	b.nextID++
	m.Timestamp = b.now
	b.msgs = append(b.msgs, m)
	return m
}

// seed 直接写入一条历史（不经过客户端）
func (b *backend) seed(m restapi.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

// fakeAPI 某个登录用户看到的 REST
type fakeAPI struct {
	b     *backend
	owner string

	mu         sync.Mutex
	persistErr error
	gate       chan struct{} // 非 nil 时历史拉取阻塞到 gate 关闭
	snapshot   bool          // true 时先取历史快照再阻塞，模拟服务端在发送前就已返回的结果
	persists   int
}

func newFakeAPI(b *backend, owner string) *fakeAPI {
	return &fakeAPI{b: b, owner: owner}
}

func (a *fakeAPI) persist(m restapi.Message) (restapi.Message, error) {
	a.mu.Lock()
	a.persists++
	err := a.persistErr
	a.mu.Unlock()
	if err != nil {
		return restapi.Message{}, err
	}
	m.Sender = restapi.UserRef{Username: a.owner}
	return a.b.store(m), nil
}

func (a *fakeAPI) PersistPrivateMessage(_ context.Context, req restapi.PrivateRequest) (restapi.Message, error) {
	return a.persist(restapi.Message{
		Receiver: &restapi.UserRef{Username: req.ReceiverUsername},
		Content:  req.Content, MediaType: req.MediaType, FileURL: req.FileURL, FileName: req.FileName,
	})
}

func (a *fakeAPI) PersistGroupMessage(_ context.Context, req restapi.GroupRequest) (restapi.Message, error) {
	return a.persist(restapi.Message{
		GroupName: req.GroupName,
		Content:   req.Content, MediaType: req.MediaType, FileURL: req.FileURL, FileName: req.FileName,
	})
}

func (a *fakeAPI) wait(ctx context.Context) error {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *fakeAPI) FetchConversationHistory(ctx context.Context, peer string) ([]restapi.Message, error) {
	a.mu.Lock()
	early := a.snapshot
	a.mu.Unlock()
	if early {
		out := a.conversation(peer)
		if err := a.wait(ctx); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return a.conversation(peer), nil
}

func (a *fakeAPI) conversation(peer string) []restapi.Message {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	var out []restapi.Message
	for _, m := range a.b.msgs {
		if m.GroupName != "" {
			continue
		}
		s, r := m.Sender.Username, m.ReceiverName()
		if (s == a.owner && r == peer) || (s == peer && r == a.owner) {
			out = append(out, m)
		}
	}
	return out
}

func (a *fakeAPI) FetchGroupHistory(ctx context.Context, group string) ([]restapi.Message, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	var out []restapi.Message
	for _, m := range a.b.msgs {
		if m.GroupName == group {
			out = append(out, m)
		}
	}
	return out, nil
}

func (a *fakeAPI) block() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = make(chan struct{})
	return a.gate
}

// blockAfterSnapshot 历史在调用时就定下来，gate 关闭后才返回
func (a *fakeAPI) blockAfterSnapshot() chan struct{} {
	a.mu.Lock()
	a.snapshot = true
	a.mu.Unlock()
	return a.block()
}

func (a *fakeAPI) failPersist(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persistErr = err
}

var errBoom = errs.ErrPersist.WrapMsg("db down")
