package chat

import (
	"sort"
	"sync"
	"time"
)

// ConversationView 一个会话当前显示的消息列表。只追加，按键去重。
type ConversationView struct {
	mu     sync.RWMutex
	items  []Message
	index  map[string]int // dedup key -> items 下标
	sorted bool
}

func NewConversationView(sortByTimestamp bool) *ConversationView {
	return &ConversationView{index: make(map[string]int), sorted: sortByTimestamp}
}

// Append 重复时返回 false；重复项带来的新键（比如确认后的 id）并入原条目
func (v *ConversationView) Append(m Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.appendLocked(m)
}

func (v *ConversationView) appendLocked(m Message) bool {
	keys := m.keys()
	for _, k := range keys {
		if i, ok := v.index[k]; ok {
			v.mergeLocked(i, m, keys)
			return false
		}
	}
	v.items = append(v.items, m)
	for _, k := range keys {
		v.index[k] = len(v.items) - 1
	}
	return true
}

func (v *ConversationView) mergeLocked(i int, m Message, keys []string) {
	cur := &v.items[i]
	if cur.ID == "" && m.ID != "" {
		cur.ID = m.ID
	}
	if cur.CorrelationID == "" && m.CorrelationID != "" {
		cur.CorrelationID = m.CorrelationID
	}
	for _, k := range keys {
		if _, ok := v.index[k]; !ok {
			v.index[k] = i
		}
	}
}

// Seed 用历史替换整个视图（不是追加），历史内部同样去重
func (v *ConversationView) Seed(history []Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
	for _, m := range history {
		v.appendLocked(m)
	}
}

// NearDuplicate 发送方和内容相同、时间差在 window 内的已有条目。
// 广播用客户端时钟，历史用服务端时钟，两者没有公共键时靠它兜底。
func (v *ConversationView) NearDuplicate(m Message, window time.Duration) bool {
	if m.Timestamp.IsZero() {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, cur := range v.items {
		if cur.Sender != m.Sender || cur.Content != m.Content || cur.FileURL != m.FileURL {
			continue
		}
		d := cur.Timestamp.Sub(m.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}

func (v *ConversationView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

func (v *ConversationView) resetLocked() {
	v.items = nil
	v.index = make(map[string]int)
}

func (v *ConversationView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

// Messages 快照；开启 sorted 时按服务端时间稳定排序，否则按到达顺序
func (v *ConversationView) Messages() []Message {
	v.mu.RLock()
	out := append([]Message(nil), v.items...)
	v.mu.RUnlock()
	if v.sorted {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.Before(out[j].Timestamp)
		})
	}
	return out
}
