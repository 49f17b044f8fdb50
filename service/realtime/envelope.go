package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"PPRealtime/tools/errs"

	"github.com/google/uuid"
)

// wireTimeLayout 与浏览器 toISOString() 一致：毫秒 + Z
const wireTimeLayout = "2006-01-02T15:04:05.000Z"

// Payload 构造 Envelope 的输入
type Payload struct {
	Sender        string
	Receiver      string // 私聊对端
	Group         string // 群聊群名
	MediaType     MediaType
	Content       string
	FileURL       string
	FileName      string
	Timestamp     time.Time // 客户端时间，零值取当前时间
	CorrelationID string    // 为空时自动生成
	ID            string    // 服务端 id，REST 确认后才有
}

// Envelope 出站消息，构造后不可修改
type Envelope struct {
	dest    Destination
	payload Payload
}

// NewEnvelope 校验并冻结一条出站消息：TEXT 只带 content，FILE 只带 fileUrl+fileName
func NewEnvelope(dest Destination, p Payload) (Envelope, error) {
	p.Sender = strings.TrimSpace(p.Sender)
	if p.Sender == "" {
		return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("sender required")
	}
	switch dest {
	case SendPrivate:
		if p.Receiver == "" {
			return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("receiver required", "dest", dest)
		}
		p.Group = ""
	case SendGroup:
		if p.Group == "" {
			return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("group required", "dest", dest)
		}
		p.Receiver = ""
	default:
		return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("unknown destination", "dest", dest)
	}

	if p.MediaType == "" {
		p.MediaType = MediaText
		if p.FileURL != "" {
			p.MediaType = MediaFile
		}
	}
	switch p.MediaType {
	case MediaText:
		if p.Content == "" {
			return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("text message without content")
		}
		p.FileURL, p.FileName = "", ""
	case MediaFile:
		if p.FileURL == "" || p.FileName == "" {
			return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("file message needs fileUrl and fileName")
		}
		p.Content = ""
	default:
		return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("unknown media type", "mediaType", p.MediaType)
	}

	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	p.Timestamp = p.Timestamp.UTC().Truncate(time.Millisecond)
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	return Envelope{dest: dest, payload: p}, nil
}

func (e Envelope) Destination() Destination { return e.dest }

// Payload 返回副本
func (e Envelope) Payload() Payload { return e.payload }

func (e Envelope) IsZero() bool { return e.dest == "" }

// wireEnvelope 与服务端约定的 JSON 形状；未使用的一侧发 null
type wireEnvelope struct {
	ID            string    `json:"id,omitempty"`
	SenderUname   string    `json:"senderUname"`
	ReceiverUname string    `json:"receiverUname,omitempty"`
	GroupName     string    `json:"groupName,omitempty"`
	Timestamp     string    `json:"timestamp"`
	MediaType     MediaType `json:"mediaType"`
	Content       *string   `json:"content"`
	FileURL       *string   `json:"fileUrl"`
	FileName      *string   `json:"fileName"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Marshal 序列化成 broker 需要的 body
func (e Envelope) Marshal() ([]byte, error) {
	if e.IsZero() {
		return nil, errs.ErrInvalidEnvelope.WrapMsg("zero envelope")
	}
	p := e.payload
	return json.Marshal(wireEnvelope{
		ID:            p.ID,
		SenderUname:   p.Sender,
		ReceiverUname: p.Receiver,
		GroupName:     p.Group,
		Timestamp:     p.Timestamp.Format(wireTimeLayout),
		MediaType:     p.MediaType,
		Content:       optional(p.Content),
		FileURL:       optional(p.FileURL),
		FileName:      optional(p.FileName),
		CorrelationID: p.CorrelationID,
	})
}
