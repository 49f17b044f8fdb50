package stomp

import (
	"bytes"
	"io"
	"strconv"

	"PPRealtime/tools/errs"

	"github.com/go-stomp/stomp/v3/frame"
)

// 命令
const (
	CmdConnect     = frame.CONNECT
	CmdConnected   = frame.CONNECTED
	CmdSubscribe   = frame.SUBSCRIBE
	CmdUnsubscribe = frame.UNSUBSCRIBE
	CmdSend        = frame.SEND
	CmdMessage     = frame.MESSAGE
	CmdReceipt     = frame.RECEIPT
	CmdError       = frame.ERROR
	CmdDisconnect  = frame.DISCONNECT
)

// 常用 header
const (
	HdrAcceptVersion = frame.AcceptVersion
	HdrVersion       = frame.Version
	HdrHost          = frame.Host
	HdrHeartBeat     = frame.HeartBeat
	HdrAuthorization = "Authorization"
	HdrDestination   = frame.Destination
	HdrID            = frame.Id
	HdrSubscription  = frame.Subscription
	HdrMessageID     = frame.MessageId
	HdrAck           = frame.Ack
	HdrContentType   = frame.ContentType
	HdrContentLength = frame.ContentLength
	HdrMessage       = frame.Message
	HdrReceipt       = frame.Receipt
	HdrReceiptID     = frame.ReceiptId
)

type (
	Frame  = frame.Frame
	Header = frame.Header
)

// NewFrame kv 成对给出 header，顺序保留
func NewFrame(cmd string, kv ...string) *Frame {
	return frame.New(cmd, kv...)
}

// headerMap 拍平成 map，重复 key 取第一个（STOMP 1.2）
func headerMap(h *Header) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, h.Len())
	for i := 0; i < h.Len(); i++ {
		k, v := h.GetAt(i)
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Encode 一帧对应一条 WebSocket 消息；有 body 时补 content-length
func Encode(f *Frame) []byte {
	if len(f.Body) > 0 {
		if _, ok := f.Header.Contains(HdrContentLength); !ok {
			f.Header.Set(HdrContentLength, strconv.Itoa(len(f.Body)))
		}
	}
	var b bytes.Buffer
	// 写 bytes.Buffer 不会失败
	_ = frame.NewWriter(&b).Write(f)
	return b.Bytes()
}

// countingReader 每次只给一个字节，n 就是 frame.Reader 实际消费的字节数，
// 用来区分消息正好读完和帧读到一半遇到 EOF
type countingReader struct {
	data []byte
	n    int
}

func (r *countingReader) Read(p []byte) (int, error) {
	if r.n >= len(r.data) {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[r.n]
	r.n++
	return 1, nil
}

// Decode 解析一条 WebSocket 消息里的全部帧；单独的 EOL 是心跳，返回空切片
func Decode(data []byte) ([]*Frame, error) {
	src := &countingReader{data: data}
	rd := frame.NewReader(src)
	var out []*Frame
	for {
		start := src.n
		f, err := rd.Read()
		switch {
		case err == io.EOF && start == len(data):
			return out, nil
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return out, errs.ErrDecode.WrapMsg("stomp: truncated frame", "offset", start)
		case err != nil:
			return out, errs.ErrDecode.WrapMsg("stomp: "+err.Error(), "offset", start)
		case f == nil:
			// 心跳
			continue
		}
		out = append(out, f)
	}
}
