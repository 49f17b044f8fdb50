package config

import "time"

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSubscribeRetry   = 500 * time.Millisecond
	defaultMailboxSize      = 256
	defaultRequestTimeout   = 10 * time.Second
)
