package probe

import (
	"Go2NetCache/internal/config"
	"Go2NetCache/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes decoded records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to NATS.
func NewPublisher(cfg config.ProbeConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-probe"))
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", "publisher"))
	logger.Info("Connected to NATS server", zap.String("url", cfg.NATSURL))
	return &Publisher{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Publish encodes info and publishes it to the configured subject.
func (p *Publisher) Publish(info *model.PacketInfo) error {
	return p.nc.Publish(p.subject, Marshal(info))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
		p.logger.Info("NATS connection drained and closed.")
	}
}
