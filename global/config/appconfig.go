package config

import "time"

const (
	TransportStomp = "stomp" // STOMP over WebSocket（默认）
	TransportNats  = "nats"  // NATS broker
)

// AppConfig 客户端实时会话配置，全部可由环境变量 PPCHAT_* 覆盖
type AppConfig struct {
	BaseURL  string `env:"BASE_URL" envDefault:"http://127.0.0.1:8080"` // http(s) 基础地址，ws 端点为 BaseURL + /ws
	Token    string `env:"TOKEN"`                                       // bearer token
	Username string `env:"USERNAME"`                                    // 为空时从 token 的 sub/username claim 读取

	Transport  string `env:"TRANSPORT" envDefault:"stomp"`
	NatsURL    string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NatsPrefix string `env:"NATS_PREFIX" envDefault:"ppchat"` // subject 前缀

	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	ReconnectMaxDelay time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"0s"` // > ReconnectDelay 时启用指数退避
	Heartbeat         time.Duration `env:"HEARTBEAT" envDefault:"10s"`
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	SubscribeRetry    time.Duration `env:"SUBSCRIBE_RETRY" envDefault:"500ms"`
	MailboxSize       int           `env:"MAILBOX_SIZE" envDefault:"256"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"` // REST 请求超时

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR"`
	NodeID      int64  `env:"NODE_ID" envDefault:"1"` // 订阅 id 雪花节点号 0~1023，多开客户端时区分
}
