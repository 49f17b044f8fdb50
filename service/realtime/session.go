package realtime

import (
	"context"
	"sync"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/metrics"
	"PPRealtime/tools/safe"
	"PPRealtime/tools/security"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultSubscribeRetry = 500 * time.Millisecond
)

// Options 会话依赖，全部注入，测试可以换成假传输
type Options struct {
	Endpoint    Endpoint      // BaseURL / Username；Token 可由 Credentials 提供
	Credentials func() string // 每次 Connect 时读取；nil 时用 Endpoint.Token
	Transport   Transport

	ReconnectDelay    time.Duration // 固定重连间隔，默认 5s
	ReconnectMaxDelay time.Duration // > ReconnectDelay 时改为封顶的指数退避
	SubscribeRetry    time.Duration // AwaitSubscribe 的重试间隔
	MailboxSize       int

	Logger        *zap.Logger
	Metrics       *metrics.Collector
	OnStateChange func(State) // 在连接协程里同步调用，不能在里面 Connect/Disconnect
}

// Session 每个登录用户一条：连接生命周期 + 订阅登记 + 出站发送。
// 同一时刻最多一个活跃传输。
type Session struct {
	opts      Options
	log       *zap.Logger
	registry  *Registry
	publisher *Publisher

	lifecycle sync.Mutex // 串行化 Connect / Disconnect

	mu       sync.Mutex
	state    State
	changed  chan struct{} // 每次状态变化 close 后替换
	identity string
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewSession(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SubscribeRetry <= 0 {
		opts.SubscribeRetry = DefaultSubscribeRetry
	}
	log := logger.Named(opts.Logger, "realtime")
	disp := &dispatcher{log: log, metrics: opts.Metrics}
	reg := newRegistry(opts.MailboxSize, disp, log)
	s := &Session{
		opts:      opts,
		log:       log,
		registry:  reg,
		publisher: &Publisher{reg: reg, log: log, metrics: opts.Metrics},
		state:     Disconnected,
		changed:   make(chan struct{}),
		identity:  opts.Endpoint.Username,
	}
	opts.Metrics.SetState(Disconnected.String(), stateNames())
	return s
}

func stateNames() []string {
	out := make([]string, 0, len(allStates))
	for _, s := range allStates {
		out = append(out, s.String())
	}
	return out
}

// Connect 先强制停掉已有传输，再用当前凭证开新的；没有凭证时什么也不做（还没登录）。
// 不等待握手完成，用 WaitState 观察。
func (s *Session) Connect() error {
	safe.MustNotNil(s.opts.Transport, "realtime: Session Transport")
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.deactivate() {
		s.log.Info("[session] previous transport deactivated before reconnect")
	}

	token := s.credential()
	if token == "" {
		s.log.Info("[session] no credential yet, connect skipped")
		s.setState(Disconnected)
		return nil
	}

	ep := s.opts.Endpoint
	ep.Token = token
	if ep.Username == "" {
		if id, err := security.ParseIdentity(token); err == nil {
			ep.Username = id.Username
		} else {
			s.log.Warn("[session] cannot read username from token", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.loopDone = done
	s.identity = ep.Username
	s.mu.Unlock()

	s.setState(Connecting)
	s.log.Info("[session] connecting",
		zap.String("base", ep.BaseURL),
		zap.String("user", ep.Username),
		zap.String("token", security.HashToken(token)))
	safe.Go(s.log, "session.run", func() { s.run(ctx, ep, done) })
	return nil
}

// Disconnect 幂等；订阅登记保留，下次 Connect 会恢复
func (s *Session) Disconnect() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.deactivate() {
		s.log.Info("[session] disconnected")
	}
	s.setState(Disconnected)
}

// Close 断开并清空全部订阅（登出）
func (s *Session) Close() {
	s.Disconnect()
	s.registry.reset()
}

func (s *Session) credential() string {
	if s.opts.Credentials != nil {
		return s.opts.Credentials()
	}
	return s.opts.Endpoint.Token
}

// deactivate 停掉运行中的连接循环并等它退出；调用方持有 lifecycle 锁
func (s *Session) deactivate() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (s *Session) newBackOff() backoff.BackOff {
	if s.opts.ReconnectMaxDelay > s.opts.ReconnectDelay {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = s.opts.ReconnectDelay
		eb.MaxInterval = s.opts.ReconnectMaxDelay
		eb.MaxElapsedTime = 0 // 一直重试，直到 Disconnect
		eb.Reset()
		return eb
	}
	return backoff.NewConstantBackOff(s.opts.ReconnectDelay)
}

// run 连接循环：拨号 -> 已连接 -> 断开 -> 等待 -> 重拨，直到 ctx 取消
func (s *Session) run(ctx context.Context, ep Endpoint, done chan struct{}) {
	defer close(done)
	bo := s.newBackOff()
	attempt := 0
	for {
		if attempt > 0 {
			s.opts.Metrics.IncReconnect()
		}
		attempt++
		s.setState(Connecting)

		conn, err := s.opts.Transport.Dial(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("[session] dial failed", zap.Int("attempt", attempt), zap.Error(err))
			s.setState(Errored)
			if !s.wait(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		n := s.registry.attach(conn)
		s.setState(Connected)
		s.log.Info("[session] connected", zap.Int("attempt", attempt), zap.Int("restored", n))
		safe.Go(s.log, "session.pump", func() { s.pump(conn) })

		select {
		case <-ctx.Done():
			s.registry.detach(conn)
			_ = conn.Close()
			return
		case <-conn.Done():
			s.registry.detach(conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("[session] transport dropped", zap.Error(conn.Err()))
			s.setState(Errored)
			if !s.wait(ctx, bo.NextBackOff()) {
				return
			}
		}
	}
}

// pump 单条连接的读协程：按订阅 id 路由
func (s *Session) pump(conn Conn) {
	frames := conn.Frames()
	for {
		select {
		case <-conn.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			s.registry.route(f)
		}
	}
}

func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop || d <= 0 {
		d = s.opts.ReconnectDelay
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.opts.Metrics.SetState(st.String(), stateNames())
	s.log.Debug("[session] state", zap.Stringer("from", prev), zap.Stringer("to", st))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

// State 当前连接状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitState 阻塞直到进入 want 或 ctx 结束
func (s *Session) WaitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		st, ch := s.state, s.changed
		s.mu.Unlock()
		if st == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Identity 本地用户名，用于自回声过滤
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Subscribe 未连接时返回 nil（软失败），调用方稍后重试或用 AwaitSubscribe
func (s *Session) Subscribe(ch Channel, h Handler) *Subscription {
	return s.registry.Subscribe(ch, h)
}

// AwaitSubscribe 每隔 SubscribeRetry 重试，直到成功或 ctx 结束
func (s *Session) AwaitSubscribe(ctx context.Context, ch Channel, h Handler) (*Subscription, error) {
	for {
		if sub := s.registry.Subscribe(ch, h); sub != nil {
			return sub, nil
		}
		t := time.NewTimer(s.opts.SubscribeRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Session) Unsubscribe(ch Channel) bool { return s.registry.Unsubscribe(ch) }

// Subscribed 已登记的 Channel
func (s *Session) Subscribed() []Channel { return s.registry.Channels() }

// Publish 未连接时返回 ErrNotConnected 并记日志，不会 panic
func (s *Session) Publish(dest Destination, env Envelope) error {
	return s.publisher.Publish(dest, env)
}
