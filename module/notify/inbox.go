package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/realtime"
	"PPRealtime/tools/decode"

	"go.uber.org/zap"
)

const defaultRecent = 50

// Notification 通知队列里的一条
type Notification struct {
	Type      string    `json:"type"`
	Sender    string    `json:"senderUname"`
	Group     string    `json:"groupName"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber *realtime.Session 满足
type Subscriber interface {
	AwaitSubscribe(ctx context.Context, ch realtime.Channel, h realtime.Handler) (*realtime.Subscription, error)
}

type Options struct {
	Recent   int // 保留最近多少条
	Logger   *zap.Logger
	OnNotify func(Notification)
}

// Inbox 按发送方计未读。私聊视图只显示当前会话，其余会话的提醒都走这里。
type Inbox struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	unread map[string]int
	recent []Notification
}

func NewInbox(opts Options) *Inbox {
	if opts.Recent <= 0 {
		opts.Recent = defaultRecent
	}
	return &Inbox{opts: opts, log: logger.Named(opts.Logger, "notify"), unread: make(map[string]int)}
}

// Start 订阅通知队列，未连接时阻塞到连上或 ctx 结束
func (in *Inbox) Start(ctx context.Context, s Subscriber) error {
	_, err := s.AwaitSubscribe(ctx, realtime.NotificationChannel(), in.Handle)
	return err
}

// Handle 通知队列回调；body 用宽松解码，字段类型不对也尽量收下
func (in *Inbox) Handle(m realtime.InboundMessage) {
	n, err := decode.JSON[Notification](m.Raw)
	if err != nil || n == nil {
		in.log.Warn("[notify] drop undecodable notification", zap.ByteString("raw", m.Raw), zap.Error(err))
		return
	}
	if n.Sender == "" {
		n.Sender = m.Sender
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = m.Timestamp
	}
	in.Add(*n)
}

func (in *Inbox) Add(n Notification) {
	in.mu.Lock()
	if n.Sender != "" {
		in.unread[n.Sender]++
	}
	in.recent = append(in.recent, n)
	if over := len(in.recent) - in.opts.Recent; over > 0 {
		in.recent = append([]Notification(nil), in.recent[over:]...)
	}
	in.mu.Unlock()

	if in.opts.OnNotify != nil {
		in.opts.OnNotify(n)
	}
}

// Unread 某个发送方的未读数
func (in *Inbox) Unread(from string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread[from]
}

func (in *Inbox) TotalUnread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, c := range in.unread {
		n += c
	}
	return n
}

// Senders 有未读的发送方，按名字排序
func (in *Inbox) Senders() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, 0, len(in.unread))
	for s, c := range in.unread {
		if c > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// MarkRead 打开与 from 的会话时调用
func (in *Inbox) MarkRead(from string) {
	in.mu.Lock()
	delete(in.unread, from)
	in.mu.Unlock()
}

// Recent 最近的通知，旧的在前
func (in *Inbox) Recent() []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Notification(nil), in.recent...)
}
