package ids

import (
	"strconv"
	"sync"
	"time"
)

// epoch 2024-01-01 UTC
var epochMS = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Generator 雪花 ID：41 位毫秒 + 10 位节点 + 12 位序列
type Generator struct {
	mu       sync.Mutex
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

var (
	defaultGen *Generator
	once       sync.Once
)

// NewGenerator nodeID 越界时退回 1
func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Generator{nodeID: nodeID, now: time.Now}
}

func def() *Generator {
	once.Do(func() { defaultGen = NewGenerator(1) })
	return defaultGen
}

// Generate 用默认生成器取一个新 ID
func Generate() int64 { return def().Next() }

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// WithPrefix 形如 "sub-7420..."，用作 STOMP subscription id / receipt id
func WithPrefix(prefix string) string {
	return prefix + "-" + GenerateString()
}

// SetNodeID 设置默认生成器 nodeID（0~1023），越界忽略
func SetNodeID(nodeID int64) {
	g := def()
	if nodeID < 0 || nodeID > 1023 {
		return
	}
	g.mu.Lock()
	g.nodeID = nodeID
	g.mu.Unlock()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTSMS {
		// 时钟回拨：沿用上次时间戳继续递增序列
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & 0xFFF
		if g.seq == 0 {
			// 序列溢出，借用下一毫秒
			now++
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now

	ts := (now - epochMS) & ((1 << 41) - 1)
	return (ts << 22) | (g.nodeID << 12) | g.seq
}
