package chat

import (
	"context"
	"sync"
	"time"

	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

// ViewState 聊天视图状态：NoActiveConversation -> Loading -> Live -> NoActiveConversation
type ViewState int

const (
	NoActiveConversation ViewState = iota
	Loading
	Live
)

func (s ViewState) String() string {
	switch s {
	case NoActiveConversation:
		return "NoActiveConversation"
	case Loading:
		return "Loading"
	case Live:
		return "Live"
	default:
		return "Unknown"
	}
}

// Realtime 视图需要的会话能力，*realtime.Session 满足
type Realtime interface {
	Subscribe(ch realtime.Channel, h realtime.Handler) *realtime.Subscription
	AwaitSubscribe(ctx context.Context, ch realtime.Channel, h realtime.Handler) (*realtime.Subscription, error)
	Publish(dest realtime.Destination, env realtime.Envelope) error
	Identity() string
}

// MessageAPI REST 协作方，*restapi.Client 满足
type MessageAPI interface {
	PersistPrivateMessage(ctx context.Context, req restapi.PrivateRequest) (restapi.Message, error)
	PersistGroupMessage(ctx context.Context, req restapi.GroupRequest) (restapi.Message, error)
	FetchConversationHistory(ctx context.Context, peer string) ([]restapi.Message, error)
	FetchGroupHistory(ctx context.Context, group string) ([]restapi.Message, error)
}

const defaultEchoWindow = 5 * time.Second

type Options struct {
	Realtime Realtime
	API      MessageAPI
	Logger   *zap.Logger

	SortByTimestamp bool
	// EchoWindow Loading 期间缓冲的广播与历史按发送方+内容比对的时间窗，默认 5s
	EchoWindow time.Duration
	// OnChange 每次视图变化后调用，参数是快照；在消息投递协程或调用方协程里同步执行
	OnChange func(state ViewState, msgs []Message)
}

// SendInput 文本和文件二选一
type SendInput struct {
	Content  string
	FileURL  string
	FileName string
}

// room 私聊和群聊共用的对账核心
type room struct {
	opts Options
	log  *zap.Logger
	view *ConversationView

	mu      sync.Mutex
	state   ViewState
	target  string // 私聊对端用户名 / 群名
	gen     uint64 // 每次 Open/Close 递增，丢弃过期的历史结果和发送确认
	pending []Message
}

func newRoom(opts Options, log *zap.Logger) *room {
	safe.MustNotNil(opts.Realtime, "chat: Options.Realtime")
	safe.MustNotNil(opts.API, "chat: Options.API")
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = defaultEchoWindow
	}
	return &room{opts: opts, log: log, view: NewConversationView(opts.SortByTimestamp)}
}

func (r *room) State() ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *room) Target() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

func (r *room) Messages() []Message { return r.view.Messages() }

func (r *room) notify() {
	if r.opts.OnChange == nil {
		return
	}
	r.opts.OnChange(r.State(), r.view.Messages())
}

// open 切换到 target：Loading，拉历史，Seed，合并缓冲，Live
func (r *room) open(ctx context.Context, target string, fetch func(context.Context, string) ([]restapi.Message, error)) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.state = Loading
	r.target = target
	r.pending = nil
	r.view.Reset()
	r.mu.Unlock()
	r.notify()

	history, err := fetch(ctx, target)

	r.mu.Lock()
	if r.gen != gen {
		// 拉取期间已经切走
		r.mu.Unlock()
		return nil
	}
	seed := make([]Message, 0, len(history))
	for _, m := range history {
		seed = append(seed, fromREST(m, OriginHistory))
	}
	r.view.Seed(seed)
	merged := 0
	for _, m := range r.pending {
		// 有 id / correlationId 的靠键去重；都没有时才按发送方+内容+时间窗兜底
		if m.ID == "" && m.CorrelationID == "" && r.view.NearDuplicate(m, r.opts.EchoWindow) {
			continue
		}
		if r.view.Append(m) {
			merged++
		}
	}
	r.pending = nil
	r.state = Live
	r.mu.Unlock()

	r.log.Info("[chat] conversation live", zap.String("target", target),
		zap.Int("history", len(history)), zap.Int("buffered", merged), zap.Error(err))
	r.notify()
	if err != nil {
		return errs.WrapMsg(err, "fetch history", "target", target)
	}
	return nil
}

// close 只改视图过滤目标，传输层订阅保留
func (r *room) close() {
	r.mu.Lock()
	r.gen++
	r.state = NoActiveConversation
	r.target = ""
	r.pending = nil
	r.view.Reset()
	r.mu.Unlock()
	r.notify()
}

// accept 广播入口；relevant 判定消息是否属于当前会话
func (r *room) accept(m realtime.InboundMessage, relevant func(target string, m realtime.InboundMessage) bool) {
	self := r.opts.Realtime.Identity()
	if self != "" && m.Sender == self {
		// 自己发的已经在 REST 确认时入视图
		if glog.V(2) {
			glog.Infof("[chat] drop self echo sender=%s cid=%s", m.Sender, m.CorrelationID)
		}
		return
	}
	msg := fromInbound(m)

	r.mu.Lock()
	switch {
	case r.state == NoActiveConversation || !relevant(r.target, m):
		r.mu.Unlock()
		if glog.V(2) {
			glog.Infof("[chat] ignore broadcast sender=%s group=%s", m.Sender, m.Group)
		}
		return
	case r.state == Loading:
		r.pending = append(r.pending, msg)
		r.mu.Unlock()
		return
	}
	added := r.view.Append(msg)
	r.mu.Unlock()
	if added {
		r.notify()
	}
}

// send 先持久化，成功后以 confirmed 入视图，再实时发布；发布失败只记日志
func (r *room) send(ctx context.Context, dest realtime.Destination, build func(self, target string) realtime.Payload,
	persist func(ctx context.Context, env realtime.Envelope) (restapi.Message, error)) (Message, error) {

	r.mu.Lock()
	state, target, gen := r.state, r.target, r.gen
	r.mu.Unlock()
	if state == NoActiveConversation {
		return Message{}, errs.ErrNoConversation.Wrap()
	}

	env, err := realtime.NewEnvelope(dest, build(r.opts.Realtime.Identity(), target))
	if err != nil {
		return Message{}, err
	}
	confirmed, err := persist(ctx, env)
	if err != nil {
		r.log.Warn("[chat] persist failed, nothing published", zap.String("target", target), zap.Error(err))
		if errs.Code(err) == 0 {
			err = errs.ErrPersist.WrapMsg(err.Error())
		}
		return Message{}, err
	}

	msg := fromREST(confirmed, OriginConfirmed)
	msg.CorrelationID = env.Payload().CorrelationID
	if msg.Sender == "" {
		msg.Sender = env.Payload().Sender
	}

	r.mu.Lock()
	added := false
	if r.gen == gen {
		if r.state == Loading {
			r.pending = append(r.pending, msg)
		} else {
			added = r.view.Append(msg)
		}
	}
	r.mu.Unlock()
	if added {
		r.notify()
	}

	// 广播带上服务端 id 和时间，接收方的实时气泡和之后的历史能对上
	pub := env
	p := env.Payload()
	p.ID = confirmed.ID
	if !confirmed.Timestamp.IsZero() {
		p.Timestamp = confirmed.Timestamp
	}
	if e, err := realtime.NewEnvelope(dest, p); err == nil {
		pub = e
	}
	if err := r.opts.Realtime.Publish(dest, pub); err != nil {
		r.log.Warn("[chat] live fan-out delayed", zap.String("target", target), zap.Error(err))
	}
	return msg, nil
}
