package realtime

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"PPRealtime/service/metrics"
	"PPRealtime/tools/decode"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/safe"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

// userRef 服务端有时给 {"sender":{"username":"A"}} 而不是 senderUname
type userRef struct {
	Username string `json:"username"`
}

// wireMessage 入站 body；同时兼容广播信封和 REST 确认消息两种形状
type wireMessage struct {
	ID            any      `json:"id"`
	CorrelationID string   `json:"correlationId"`
	SenderUname   string   `json:"senderUname"`
	Sender        *userRef `json:"sender"`
	ReceiverUname string   `json:"receiverUname"`
	Receiver      *userRef `json:"receiver"`
	GroupName     string   `json:"groupName"`
	MediaType     string   `json:"mediaType"`
	Content       string   `json:"content"`
	FileURL       string   `json:"fileUrl"`
	FileName      string   `json:"fileName"`
	Timestamp     any      `json:"timestamp"`
}

// DecodeMessage 解 body 并按到达的 Channel 打标签
func DecodeMessage(ch Channel, body []byte) (InboundMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return InboundMessage{}, errs.ErrDecode.WrapMsg("body is not a JSON object", "channel", ch.Key())
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return InboundMessage{}, errs.ErrDecode.WrapMsg(err.Error(), "channel", ch.Key())
	}

	msg := InboundMessage{
		ID:            idString(w.ID),
		CorrelationID: w.CorrelationID,
		Sender:        w.SenderUname,
		Receiver:      w.ReceiverUname,
		Group:         w.GroupName,
		Content:       w.Content,
		FileURL:       w.FileURL,
		FileName:      w.FileName,
		MediaType:     MediaType(strings.ToUpper(w.MediaType)),
		Kind:          kindOf(ch),
		Channel:       ch,
		Raw:           append([]byte(nil), body...),
	}
	if msg.Sender == "" && w.Sender != nil {
		msg.Sender = w.Sender.Username
	}
	if msg.Receiver == "" && w.Receiver != nil {
		msg.Receiver = w.Receiver.Username
	}
	if msg.Group == "" && ch.Kind == GroupTopic {
		msg.Group = ch.ID
	}
	if msg.MediaType == "" {
		msg.MediaType = MediaText
		if msg.FileURL != "" {
			msg.MediaType = MediaFile
		}
	}
	ts, err := timestamp(w.Timestamp)
	if err != nil {
		return InboundMessage{}, errs.ErrDecode.WrapMsg(err.Error(), "channel", ch.Key())
	}
	msg.Timestamp = ts
	return msg, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func timestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		return decode.ParseTime(t)
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return time.Time{}, errs.ErrDecode.WrapMsg("timestamp has unexpected type")
	}
}

// dispatcher 把帧解码后交给订阅回调；坏帧只影响自己
type dispatcher struct {
	log     *zap.Logger
	metrics *metrics.Collector
}

func (d *dispatcher) deliver(sub *Subscription, f Frame) {
	msg, err := DecodeMessage(sub.channel, f.Body)
	if err != nil {
		sample := f.Body
		if len(sample) > 256 {
			sample = sample[:256]
		}
		d.log.Warn("[dispatch] drop malformed frame",
			zap.String("channel", sub.channel.Key()),
			zap.String("sub", sub.id),
			zap.ByteString("sample", sample),
			zap.Int("len", len(f.Body)),
			zap.Error(err))
		d.metrics.IncDecodeFailure(string(kindOf(sub.channel)))
		return
	}
	if glog.V(2) {
		glog.Infof("[dispatch] channel=%s sub=%s kind=%s sender=%s", sub.channel.Key(), sub.id, msg.Kind, msg.Sender)
	}
	d.metrics.IncFrame(string(msg.Kind))
	_ = safe.Call(d.log, "handler "+sub.channel.Key(), func() { sub.handler(msg) })
}
