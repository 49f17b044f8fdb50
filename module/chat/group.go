package chat

import (
	"context"
	"sync"

	"PPRealtime/logger"
	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
)

// GroupChat 群聊视图。打开过的群 topic 都保持订阅，只有当前群的广播进入视图。
type GroupChat struct {
	*room

	subMu sync.Mutex
	subs  map[string]*realtime.Subscription
}

func NewGroupChat(opts Options) *GroupChat {
	return &GroupChat{
		room: newRoom(opts, logger.Named(opts.Logger, "chat.group")),
		subs: make(map[string]*realtime.Subscription),
	}
}

func (c *GroupChat) ensureSubscribed(ctx context.Context, group string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subs[group] != nil {
		return nil
	}
	sub, err := c.opts.Realtime.AwaitSubscribe(ctx, realtime.GroupChannel(group), c.handle)
	if err != nil {
		return err
	}
	c.subs[group] = sub
	return nil
}

func (c *GroupChat) handle(m realtime.InboundMessage) {
	c.accept(m, func(group string, m realtime.InboundMessage) bool {
		return m.Group == group
	})
}

func (c *GroupChat) Open(ctx context.Context, group string) error {
	if err := c.ensureSubscribed(ctx, group); err != nil {
		return err
	}
	return c.open(ctx, group, c.opts.API.FetchGroupHistory)
}

func (c *GroupChat) Close() { c.close() }

func (c *GroupChat) Group() string { return c.Target() }

// Joined 已订阅过的群
func (c *GroupChat) Joined() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.subs))
	for g := range c.subs {
		out = append(out, g)
	}
	return out
}

func (c *GroupChat) Send(ctx context.Context, in SendInput) (Message, error) {
	return c.send(ctx, realtime.SendGroup,
		func(self, group string) realtime.Payload {
			return realtime.Payload{Sender: self, Group: group, Content: in.Content, FileURL: in.FileURL, FileName: in.FileName}
		},
		func(ctx context.Context, env realtime.Envelope) (restapi.Message, error) {
			p := env.Payload()
			return c.opts.API.PersistGroupMessage(ctx, restapi.GroupRequest{
				GroupName: p.Group,
				Content:   p.Content,
				MediaType: string(p.MediaType),
				FileURL:   p.FileURL,
				FileName:  p.FileName,
			})
		})
}
