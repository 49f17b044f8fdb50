package realtime

import (
	"time"
)

// State 会话连接状态
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

var allStates = []State{Disconnected, Connecting, Connected, Errored}

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// ChannelKind 订阅目标的种类
type ChannelKind int

const (
	PrivateQueue ChannelKind = iota + 1
	GroupTopic
	NotificationQueue
)

// 入站订阅地址
const (
	PrivateQueueDestination      = "/user/queue/message"
	NotificationQueueDestination = "/user/queue/notification"
	GroupTopicPrefix             = "/topic/group/"
)

// Channel 逻辑订阅目标；同一个 Key 同时最多一个活跃订阅
type Channel struct {
	Kind ChannelKind
	ID   string // 仅 GroupTopic 使用：群名
}

func PrivateChannel() Channel      { return Channel{Kind: PrivateQueue} }
func NotificationChannel() Channel { return Channel{Kind: NotificationQueue} }
func GroupChannel(group string) Channel {
	return Channel{Kind: GroupTopic, ID: group}
}

// Key 稳定字符串键：variant + id
func (c Channel) Key() string {
	switch c.Kind {
	case PrivateQueue:
		return "private"
	case NotificationQueue:
		return "notification"
	case GroupTopic:
		return "group:" + c.ID
	default:
		return "unknown:" + c.ID
	}
}

// Destination broker 侧的订阅地址
func (c Channel) Destination() string {
	switch c.Kind {
	case PrivateQueue:
		return PrivateQueueDestination
	case NotificationQueue:
		return NotificationQueueDestination
	case GroupTopic:
		return GroupTopicPrefix + c.ID
	default:
		return ""
	}
}

func (c Channel) valid() bool {
	switch c.Kind {
	case PrivateQueue, NotificationQueue:
		return true
	case GroupTopic:
		return c.ID != ""
	}
	return false
}

func (c Channel) String() string { return c.Key() }

// Destination 出站路由，和 Channel 不是一回事
type Destination string

const (
	SendPrivate Destination = "/app/private-chat"
	SendGroup   Destination = "/app/group-chat"
)

// MediaType 消息载荷类型
type MediaType string

const (
	MediaText MediaType = "TEXT"
	MediaFile MediaType = "FILE"
)

// MessageKind 分发器给入站消息打的标签，取决于到达的 Channel
type MessageKind string

const (
	KindPrivate      MessageKind = "PRIVATE"
	KindGroup        MessageKind = "GROUP"
	KindNotification MessageKind = "NOTIFICATION"
)

func kindOf(c Channel) MessageKind {
	switch c.Kind {
	case GroupTopic:
		return KindGroup
	case NotificationQueue:
		return KindNotification
	default:
		return KindPrivate
	}
}

// InboundMessage 解码后的入站帧
type InboundMessage struct {
	ID            string // 服务端消息 id，广播里可能没有
	CorrelationID string
	Sender        string
	Receiver      string
	Group         string // 群消息的群名
	Content       string
	FileURL       string
	FileName      string
	MediaType     MediaType
	Timestamp     time.Time

	Kind    MessageKind
	Channel Channel
	Raw     []byte // 原始 body，通知等松散载荷由上层再解
}

// Handler 订阅回调，每个 Channel 上按到达顺序串行调用
type Handler func(InboundMessage)
