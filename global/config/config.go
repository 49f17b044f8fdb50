package config

import (
	"fmt"
	"strings"

	"PPRealtime/logger"

	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "PPCHAT_"

// Load 读取环境变量并做归一化
func Load() (AppConfig, error) {
	return LoadFrom(nil)
}

// LoadFrom environment 为 nil 时读取进程环境，测试里传 map
func LoadFrom(environment map[string]string) (AppConfig, error) {
	var cfg AppConfig
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return AppConfig{}, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Normalize 补默认值并校验；flag 覆盖之后也要再调一次
func (c *AppConfig) Normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportStomp
	}
	if c.Transport != TransportStomp && c.Transport != TransportNats {
		return fmt.Errorf("unknown transport %q (use %s|%s)", c.Transport, TransportStomp, TransportNats)
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.SubscribeRetry <= 0 {
		c.SubscribeRetry = defaultSubscribeRetry
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// ApplyLogLevel 把配置里的日志级别应用到全局 logger
func (c *AppConfig) ApplyLogLevel() {
	if c.LogLevel == "" {
		return
	}
	if !logger.SetLevel(c.LogLevel) {
		logger.Infof("[config] unknown log level %q, keep current", c.LogLevel)
	}
}
