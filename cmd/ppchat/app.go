package main

import (
	"context"
	"net/http"
	"time"

	"PPRealtime/global/config"
	"PPRealtime/logger"
	"PPRealtime/module/chat"
	"PPRealtime/module/notify"
	"PPRealtime/service/metrics"
	"PPRealtime/service/natsx"
	"PPRealtime/service/realtime"
	"PPRealtime/service/restapi"
	"PPRealtime/service/stomp"
	"PPRealtime/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// app 一个登录用户的全部组件
type app struct {
	cfg     config.AppConfig
	log     *zap.Logger
	reg     *prometheus.Registry
	session *realtime.Session
	api     *restapi.Client
	inbox   *notify.Inbox
	metrics *http.Server
}

func newTransport(cfg config.AppConfig, log *zap.Logger) realtime.Transport {
	if cfg.Transport == config.TransportNats {
		return natsx.NewTransport(natsx.NatsxConfig{
			Servers:     []string{cfg.NatsURL},
			Prefix:      cfg.NatsPrefix,
			Timeout:     cfg.HandshakeTimeout,
			Middlewares: []natsx.Middleware{
				natsx.RecoverMiddleware(log),
				natsx.TraceMiddleware(),
				natsx.IdemMiddleware(natsx.NewMemIdem(time.Minute), 0),
			},
			Logger:      log,
		})
	}
	return stomp.New(stomp.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Heartbeat:        cfg.Heartbeat,
		Logger:           log,
	})
}

func newApp(cfg config.AppConfig, onNotify func(notify.Notification)) (*app, error) {
	log := logger.Log
	ids.SetNodeID(cfg.NodeID)
	reg := prometheus.NewRegistry()
	col, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	token := func() string { return cfg.Token }

	a := &app{
		cfg: cfg,
		log: log,
		reg: reg,
		session: realtime.NewSession(realtime.Options{
			Endpoint:          realtime.Endpoint{BaseURL: cfg.BaseURL, Username: cfg.Username},
			Credentials:       token,
			Transport:         newTransport(cfg, log),
			ReconnectDelay:    cfg.ReconnectDelay,
			ReconnectMaxDelay: cfg.ReconnectMaxDelay,
			SubscribeRetry:    cfg.SubscribeRetry,
			MailboxSize:       cfg.MailboxSize,
			Logger:            log,
			Metrics:           col,
			OnStateChange: func(s realtime.State) {
				log.Info("[ppchat] connection state", zap.Stringer("state", s))
			},
		}),
		api: restapi.New(restapi.Options{
			BaseURL:     cfg.BaseURL,
			Credentials: token,
			Timeout:     cfg.RequestTimeout,
			Logger:      log,
		}),
		inbox: notify.NewInbox(notify.Options{Logger: log, OnNotify: onNotify}),
	}
	return a, nil
}

// router /metrics 和 /healthz
func (a *app) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		st := a.session.State()
		code := http.StatusOK
		if st != realtime.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"state":      st.String(),
			"user":       a.session.Identity(),
			"subscribed": len(a.session.Subscribed()),
			"unread":     a.inbox.TotalUnread(),
		})
	})
	return r
}

func (a *app) serveMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: a.router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("[ppchat] metrics server", zap.Error(err))
		}
	}()
	a.log.Info("[ppchat] metrics listening", zap.String("addr", a.cfg.MetricsAddr))
}

// start 连接并订阅通知队列
func (a *app) start(ctx context.Context) error {
	a.serveMetrics()
	if err := a.session.Connect(); err != nil {
		return err
	}
	return a.inbox.Start(ctx, a.session)
}

func (a *app) chatOptions(onChange func(chat.ViewState, []chat.Message)) chat.Options {
	return chat.Options{Realtime: a.session, API: a.api, Logger: a.log, SortByTimestamp: true, OnChange: onChange}
}

func (a *app) stop() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}
	a.session.Close()
	_ = a.log.Sync()
}
