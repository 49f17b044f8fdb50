package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PPRealtime/logger"
	"PPRealtime/tools/decode"
	"PPRealtime/tools/errs"

	"go.uber.org/zap"
)

const (
	pathPrivate = "/api/messages/private"
	pathGroup   = "/api/messages/group"
)

// UserRef {"username": "..."}
type UserRef struct {
	Username string `json:"username"`
}

// Message 服务端持久化后的消息（含 id）
type Message struct {
	ID        string    `json:"id"`
	Sender    UserRef   `json:"sender"`
	Receiver  *UserRef  `json:"receiver,omitempty"`
	GroupName string    `json:"groupName,omitempty"`
	Content   string    `json:"content"`
	MediaType string    `json:"mediaType"`
	FileURL   string    `json:"fileUrl"`
	FileName  string    `json:"fileName"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Message) ReceiverName() string {
	if m.Receiver == nil {
		return ""
	}
	return m.Receiver.Username
}

// PrivateRequest POST /api/messages/private
type PrivateRequest struct {
	ReceiverUsername string `json:"receiverUsername"`
	Content          string `json:"content,omitempty"`
	MediaType        string `json:"mediaType"`
	FileURL          string `json:"fileUrl,omitempty"`
	FileName         string `json:"fileName,omitempty"`
}

// GroupRequest POST /api/messages/group
type GroupRequest struct {
	GroupName string `json:"groupName"`
	Content   string `json:"content,omitempty"`
	MediaType string `json:"mediaType"`
	FileURL   string `json:"fileUrl,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type Options struct {
	BaseURL     string
	Credentials func() string // 每次请求读取 bearer token
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client 消息持久化和历史拉取
type Client struct {
	base  string
	token func() string
	hc    *http.Client
	log   *zap.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	tok := opts.Credentials
	if tok == nil {
		tok = func() string { return "" }
	}
	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		token: tok,
		hc:    hc,
		log:   logger.Named(opts.Logger, "restapi"),
	}
}

// PersistPrivateMessage 成功时返回带服务端 id 的消息
func (c *Client) PersistPrivateMessage(ctx context.Context, req PrivateRequest) (Message, error) {
	var m Message
	if req.ReceiverUsername == "" {
		return m, errs.ErrPersist.WrapMsg("receiver required")
	}
	err := c.do(ctx, http.MethodPost, pathPrivate, req, &m)
	return m, err
}

func (c *Client) PersistGroupMessage(ctx context.Context, req GroupRequest) (Message, error) {
	var m Message
	if req.GroupName == "" {
		return m, errs.ErrPersist.WrapMsg("group required")
	}
	err := c.do(ctx, http.MethodPost, pathGroup, req, &m)
	return m, err
}

// FetchConversationHistory 与 peer 的私聊记录，服务端顺序
func (c *Client) FetchConversationHistory(ctx context.Context, peer string) ([]Message, error) {
	var out []Message
	err := c.do(ctx, http.MethodGet, pathPrivate+"/"+url.PathEscape(peer), nil, &out)
	return out, err
}

func (c *Client) FetchGroupHistory(ctx context.Context, group string) ([]Message, error) {
	var out []Message
	err := c.do(ctx, http.MethodGet, pathGroup+"/"+url.PathEscape(group), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.ErrPersist.WrapMsg(err.Error(), "path", path)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errs.ErrPersist.WrapMsg(err.Error(), "path", path)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("[restapi] request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return errs.ErrPersist.WrapMsg(err.Error(), "method", method, "path", path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errs.ErrPersist.WrapMsg(err.Error(), "path", path)
	}
	c.log.Debug("[restapi] done", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("cost", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("http %d", resp.StatusCode)
		if reason := serverReason(raw); reason != "" {
			msg += ": " + reason
		}
		return errs.ErrPersist.WrapMsg(msg, "method", method, "path", path)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decodeInto(raw, out)
}

// serverReason 错误响应里的 message / error 字段；不是 JSON 时取前 256 字节
func serverReason(raw []byte) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 256 {
			raw = raw[:256]
		}
		return string(raw)
	}
	for _, key := range []string{"message", "error"} {
		if v, err := decode.ReadString(m, key); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// decodeInto id 可能是数字或字符串，timestamp 可能是 ISO 或毫秒，交给 mapstructure 做宽松转换
func decodeInto(raw []byte, out any) error {
	switch v := out.(type) {
	case *Message:
		m, err := decode.JSON[Message](raw)
		if err != nil {
			return errs.ErrDecode.WrapMsg(err.Error(), "shape", "message")
		}
		*v = *m
	case *[]Message:
		ms, err := decode.JSONList[Message](raw)
		if err != nil {
			return errs.ErrDecode.WrapMsg(err.Error(), "shape", "message list")
		}
		*v = ms
	default:
		if err := json.Unmarshal(raw, out); err != nil {
			return errs.ErrDecode.WrapMsg(err.Error())
		}
	}
	return nil
}
