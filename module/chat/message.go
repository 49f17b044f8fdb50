package chat

import (
	"strconv"
	"time"

	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
)

// Origin 消息进入视图的途径
type Origin int

const (
	OriginConfirmed Origin = iota + 1 // 本地发送，REST 已确认（带服务端 id）
	OriginRemote                      // 实时广播
	OriginHistory                     // 历史拉取
)

func (o Origin) String() string {
	switch o {
	case OriginConfirmed:
		return "confirmed"
	case OriginRemote:
		return "remote"
	case OriginHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Message 视图里的一条气泡
type Message struct {
	ID            string
	CorrelationID string
	Sender        string
	Receiver      string
	Group         string
	Content       string
	MediaType     realtime.MediaType
	FileURL       string
	FileName      string
	Timestamp     time.Time
	Origin        Origin
}

func fromInbound(m realtime.InboundMessage) Message {
	return Message{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		Sender:        m.Sender,
		Receiver:      m.Receiver,
		Group:         m.Group,
		Content:       m.Content,
		MediaType:     m.MediaType,
		FileURL:       m.FileURL,
		FileName:      m.FileName,
		Timestamp:     m.Timestamp,
		Origin:        OriginRemote,
	}
}

func fromREST(m restapi.Message, origin Origin) Message {
	mt := realtime.MediaType(m.MediaType)
	if mt == "" {
		mt = realtime.MediaText
		if m.FileURL != "" {
			mt = realtime.MediaFile
		}
	}
	return Message{
		ID:        m.ID,
		Sender:    m.Sender.Username,
		Receiver:  m.ReceiverName(),
		Group:     m.GroupName,
		Content:   m.Content,
		MediaType: mt,
		FileURL:   m.FileURL,
		FileName:  m.FileName,
		Timestamp: m.Timestamp,
		Origin:    origin,
	}
}

// keys 去重键：服务端 id > correlation id > sender+timestamp+content
func (m Message) keys() []string {
	out := make([]string, 0, 3)
	if m.ID != "" {
		out = append(out, "id:"+m.ID)
	}
	if m.CorrelationID != "" {
		out = append(out, "cid:"+m.CorrelationID)
	}
	if !m.Timestamp.IsZero() {
		body := m.Content
		if body == "" {
			body = m.FileURL
		}
		out = append(out, "sig:"+m.Sender+"|"+strconv.FormatInt(m.Timestamp.UnixMilli(), 10)+"|"+body)
	}
	return out
}
