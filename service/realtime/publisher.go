package realtime

import (
	"PPRealtime/service/metrics"
	"PPRealtime/tools/errs"

	"go.uber.org/zap"
)

// Publisher 出站发送，fire-and-forget；持久化由 REST 负责，未连接时只丢实时扇出
type Publisher struct {
	reg     *Registry
	log     *zap.Logger
	metrics *metrics.Collector
}

func (p *Publisher) Publish(dest Destination, env Envelope) error {
	if env.IsZero() {
		return errs.ErrInvalidEnvelope.WrapMsg("zero envelope")
	}
	if env.Destination() != dest {
		return errs.ErrInvalidEnvelope.WrapMsg("destination mismatch", "route", dest, "envelope", env.Destination())
	}
	conn := p.reg.current()
	if conn == nil {
		p.log.Warn("[publish] not connected, drop live fan-out", zap.String("dest", string(dest)))
		p.metrics.IncPublishDropped(string(dest))
		return errs.ErrNotConnected.WrapMsg("publish dropped", "dest", dest)
	}
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := conn.Send(string(dest), body); err != nil {
		p.log.Warn("[publish] transport send failed", zap.String("dest", string(dest)), zap.Error(err))
		p.metrics.IncPublishDropped(string(dest))
		return errs.WrapMsg(err, "publish", "dest", dest)
	}
	p.metrics.IncPublished(string(dest))
	return nil
}
