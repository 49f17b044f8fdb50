package realtime

import (
	"sync"

	"PPRealtime/tools/ids"
	"PPRealtime/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

// Subscription 一个 Channel 上的活跃订阅句柄。
// 每个订阅一个 mailbox + 单消费协程，保证同一 Channel 内按序回调。
type Subscription struct {
	id      string
	channel Channel
	handler Handler

	mailbox chan Frame
	quit    chan struct{}
	stop    sync.Once
}

func (s *Subscription) ID() string       { return s.id }
func (s *Subscription) Channel() Channel { return s.channel }

// enqueue mailbox 满时阻塞读协程（背压）；订阅已取消则丢弃
func (s *Subscription) enqueue(f Frame) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.mailbox <- f:
	case <-s.quit:
	}
}

func (s *Subscription) run(d *dispatcher) {
	for {
		select {
		case <-s.quit:
			return
		case f := <-s.mailbox:
			// 取消之后还在途的帧直接丢
			select {
			case <-s.quit:
				return
			default:
			}
			d.deliver(s, f)
		}
	}
}

func (s *Subscription) cancel() {
	s.stop.Do(func() { close(s.quit) })
}

// Registry Channel -> 订阅 的唯一维护者。
// 连接断开后登记仍保留，新连接 attach 时全部重放。
type Registry struct {
	mu    sync.Mutex
	conn  Conn
	byKey map[string]*Subscription // channel key -> sub
	byID  map[string]*Subscription // subscription id -> sub

	mailboxSize int
	disp        *dispatcher
	log         *zap.Logger
}

func newRegistry(mailboxSize int, disp *dispatcher, log *zap.Logger) *Registry {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	return &Registry{
		byKey:       make(map[string]*Subscription),
		byID:        make(map[string]*Subscription),
		mailboxSize: mailboxSize,
		disp:        disp,
		log:         log,
	}
}

// Subscribe 未连接时一律返回 nil，即使该 Channel 在断开前已登记（登记仍保留，重连后恢复）；
// 已连接且已订阅时返回原句柄，不会重复订阅
func (r *Registry) Subscribe(ch Channel, h Handler) *Subscription {
	if !ch.valid() || h == nil {
		r.log.Warn("[registry] invalid subscribe", zap.String("channel", ch.Key()))
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		r.log.Debug("[registry] subscribe before connected", zap.String("channel", ch.Key()))
		return nil
	}
	if sub, ok := r.byKey[ch.Key()]; ok {
		return sub
	}

	sub := &Subscription{
		id:      ids.WithPrefix("sub"),
		channel: ch,
		handler: h,
		mailbox: make(chan Frame, r.mailboxSize),
		quit:    make(chan struct{}),
	}
	if err := r.conn.Subscribe(sub.id, ch.Destination()); err != nil {
		r.log.Warn("[registry] transport subscribe failed", zap.String("channel", ch.Key()), zap.Error(err))
		return nil
	}
	r.byKey[ch.Key()] = sub
	r.byID[sub.id] = sub
	safe.Go(r.log, "registry.consumer."+ch.Key(), func() { sub.run(r.disp) })

	r.log.Info("[registry] subscribed", zap.String("channel", ch.Key()), zap.String("sub", sub.id))
	return sub
}

// Unsubscribe 取消传输层订阅并移出重连恢复集合；不存在返回 false
func (r *Registry) Unsubscribe(ch Channel) bool {
	r.mu.Lock()
	sub, ok := r.byKey[ch.Key()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byKey, ch.Key())
	delete(r.byID, sub.id)
	conn := r.conn
	r.mu.Unlock()

	sub.cancel()
	if conn != nil {
		if err := conn.Unsubscribe(sub.id); err != nil {
			r.log.Warn("[registry] transport unsubscribe failed", zap.String("channel", ch.Key()), zap.Error(err))
		}
	}
	r.log.Info("[registry] unsubscribed", zap.String("channel", ch.Key()), zap.String("sub", sub.id))
	return true
}

// Lookup 当前活跃句柄
func (r *Registry) Lookup(ch Channel) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[ch.Key()]
}

// Channels 当前登记的所有 Channel（调试/统计用）
func (r *Registry) Channels() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Channel, 0, len(r.byKey))
	for _, s := range r.byKey {
		out = append(out, s.channel)
	}
	return out
}

// attach 绑定新连接并重放全部订阅，返回重放成功数
func (r *Registry) attach(conn Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
	n := 0
	for key, sub := range r.byKey {
		if err := conn.Subscribe(sub.id, sub.channel.Destination()); err != nil {
			r.log.Warn("[registry] restore failed", zap.String("channel", key), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		r.log.Info("[registry] restored subscriptions", zap.Int("count", n))
	}
	return n
}

func (r *Registry) detach(conn Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

func (r *Registry) current() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// route 读协程调用；找不到订阅（已取消、在途帧）就丢
func (r *Registry) route(f Frame) {
	r.mu.Lock()
	sub := r.byID[f.SubscriptionID]
	r.mu.Unlock()
	if sub == nil {
		if glog.V(2) {
			glog.Infof("[registry] no subscription for id=%s dest=%s, drop", f.SubscriptionID, f.Destination)
		}
		return
	}
	sub.enqueue(f)
}

// reset 取消全部订阅（会话关闭）
func (r *Registry) reset() {
	r.mu.Lock()
	subs := r.byKey
	r.byKey = make(map[string]*Subscription)
	r.byID = make(map[string]*Subscription)
	conn := r.conn
	r.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		if conn != nil {
			_ = conn.Unsubscribe(sub.id)
		}
	}
}
