package notify

import (
	"context"
	"testing"
	"time"

	"PPRealtime/service/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func inbound(t *testing.T, body string) realtime.InboundMessage {
	t.Helper()
	m, err := realtime.DecodeMessage(realtime.NotificationChannel(), []byte(body))
	require.NoError(t, err)
	return m
}

func TestInboxCountsPerSender(t *testing.T) {
	var seen []Notification
	in := NewInbox(Options{Logger: zap.NewNop(), OnNotify: func(n Notification) { seen = append(seen, n) }})

	in.Handle(inbound(t, `{"type":"PRIVATE","senderUname":"B","content":"hi","timestamp":"2024-01-01T10:00:00Z"}`))
	in.Handle(inbound(t, `{"type":"PRIVATE","senderUname":"B","content":"again"}`))
	in.Handle(inbound(t, `{"type":"PRIVATE","sender":{"username":"C"},"content":"yo","timestamp":1704103200000}`))

	assert.Equal(t, 2, in.Unread("B"))
	assert.Equal(t, 1, in.Unread("C"), "sender object falls back through the dispatcher")
	assert.Equal(t, 3, in.TotalUnread())
	assert.Equal(t, []string{"B", "C"}, in.Senders())
	require.Len(t, seen, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), seen[2].Timestamp.UTC())

	in.MarkRead("B")
	assert.Zero(t, in.Unread("B"))
	assert.Equal(t, []string{"C"}, in.Senders())
}

func TestInboxRecentIsBounded(t *testing.T) {
	in := NewInbox(Options{Recent: 2, Logger: zap.NewNop()})
	for _, c := range []string{"1", "2", "3"} {
		in.Add(Notification{Sender: "B", Content: c})
	}
	r := in.Recent()
	require.Len(t, r, 2)
	assert.Equal(t, "2", r[0].Content)
	assert.Equal(t, "3", r[1].Content)
}

func TestInboxWeakTyping(t *testing.T) {
	in := NewInbox(Options{Logger: zap.NewNop()})
	in.Handle(inbound(t, `{"type":7,"senderUname":"D","content":"numeric type"}`))
	r := in.Recent()
	require.Len(t, r, 1)
	assert.Equal(t, "7", r[0].Type)
}

type fakeSub struct{ h realtime.Handler }

func (f *fakeSub) AwaitSubscribe(_ context.Context, ch realtime.Channel, h realtime.Handler) (*realtime.Subscription, error) {
	if ch != realtime.NotificationChannel() {
		return nil, context.Canceled
	}
	f.h = h
	return &realtime.Subscription{}, nil
}

func TestInboxStartSubscribesNotificationQueue(t *testing.T) {
	in := NewInbox(Options{Logger: zap.NewNop()})
	s := &fakeSub{}
	require.NoError(t, in.Start(context.Background(), s))
	require.NotNil(t, s.h)
	s.h(inbound(t, `{"senderUname":"E","content":"ping"}`))
	assert.Equal(t, 1, in.Unread("E"))
}
