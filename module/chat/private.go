package chat

import (
	"context"
	"sync"

	"PPRealtime/logger"
	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
)

// PrivateChat 一对一聊天视图。私聊队列只订阅一次，切换对端只改过滤目标。
type PrivateChat struct {
	*room

	subOnce sync.Mutex
	sub     *realtime.Subscription
}

func NewPrivateChat(opts Options) *PrivateChat {
	return &PrivateChat{room: newRoom(opts, logger.Named(opts.Logger, "chat.private"))}
}

func (c *PrivateChat) ensureSubscribed(ctx context.Context) error {
	c.subOnce.Lock()
	defer c.subOnce.Unlock()
	if c.sub != nil {
		return nil
	}
	sub, err := c.opts.Realtime.AwaitSubscribe(ctx, realtime.PrivateChannel(), c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

func (c *PrivateChat) handle(m realtime.InboundMessage) {
	c.accept(m, func(peer string, m realtime.InboundMessage) bool {
		return m.Sender == peer
	})
}

// Open 订阅私聊队列（未连接时等到连上或 ctx 结束），然后加载与 peer 的历史
func (c *PrivateChat) Open(ctx context.Context, peer string) error {
	if err := c.ensureSubscribed(ctx); err != nil {
		return err
	}
	return c.open(ctx, peer, c.opts.API.FetchConversationHistory)
}

func (c *PrivateChat) Close() { c.close() }

// Peer 当前对端，没有打开会话时为空
func (c *PrivateChat) Peer() string { return c.Target() }

func (c *PrivateChat) Send(ctx context.Context, in SendInput) (Message, error) {
	return c.send(ctx, realtime.SendPrivate,
		func(self, peer string) realtime.Payload {
			return realtime.Payload{Sender: self, Receiver: peer, Content: in.Content, FileURL: in.FileURL, FileName: in.FileName}
		},
		func(ctx context.Context, env realtime.Envelope) (restapi.Message, error) {
			p := env.Payload()
			return c.opts.API.PersistPrivateMessage(ctx, restapi.PrivateRequest{
				ReceiverUsername: p.Receiver,
				Content:          p.Content,
				MediaType:        string(p.MediaType),
				FileURL:          p.FileURL,
				FileName:         p.FileName,
			})
		})
}
