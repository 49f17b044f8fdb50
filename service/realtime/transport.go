package realtime

import "context"

// Endpoint 建连参数；凭证只读，由外部提供
type Endpoint struct {
	BaseURL  string
	Token    string
	Username string
}

// Frame 传输层收到的一条 MESSAGE
type Frame struct {
	SubscriptionID string
	Destination    string
	Body           []byte
	Headers        map[string]string
}

// Transport 建立一条已认证的双工连接
type Transport interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Conn 一条活跃连接。Frames 在连接结束时关闭；Done 关闭后 Err 给出原因（主动 Close 为 nil）
type Conn interface {
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	Send(destination string, body []byte) error
	Frames() <-chan Frame
	Done() <-chan struct{}
	Err() error
	Close() error
}
