package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ppchat"

// Collector 实时会话指标；nil 指针上的方法都是空操作，组件可以不接指标
type Collector struct {
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	frames         *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	published      *prometheus.CounterVec
}

// New 创建并注册到 reg；reg 为 nil 时注册到 prometheus.DefaultRegisterer
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "state",
			Help: "1 for the current connection state of the realtime session.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "reconnects_total",
			Help: "Transport reconnect attempts after a drop or failed dial.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "frames_received_total",
			Help: "Inbound frames delivered to subscribers, by message kind.",
		}, []string{"kind"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "decode_failures_total",
			Help: "Inbound frames dropped because the body could not be decoded.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "publish_dropped_total",
			Help: "Publishes dropped because the session was not connected.",
		}, []string{"destination"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "published_total",
			Help: "Envelopes handed to the transport.",
		}, []string{"destination"}),
	}
	for _, col := range []prometheus.Collector{c.state, c.reconnects, c.frames, c.decodeFailures, c.dropped, c.published} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetState 当前状态置 1，其余置 0
func (c *Collector) SetState(current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collector) IncFrame(kind string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(kind).Inc()
}

func (c *Collector) IncDecodeFailure(kind string) {
	if c == nil {
		return
	}
	c.decodeFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) IncPublishDropped(dest string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(dest).Inc()
}

func (c *Collector) IncPublished(dest string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(dest).Inc()
}

// ReconnectsCounter 测试和诊断读数用
func (c *Collector) ReconnectsCounter() prometheus.Counter { return c.reconnects }

func (c *Collector) DecodeFailuresCounter(kind string) prometheus.Counter {
	return c.decodeFailures.WithLabelValues(kind)
}

func (c *Collector) PublishedCounter(dest string) prometheus.Counter {
	return c.published.WithLabelValues(dest)
}

func (c *Collector) DroppedCounter(dest string) prometheus.Counter {
	return c.dropped.WithLabelValues(dest)
}
