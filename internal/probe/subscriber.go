package probe

import (
	"Go2NetCache/internal/config"
	"Go2NetCache/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PacketHandler processes a received record. It returns false when the
// record could not be accepted.
type PacketHandler func(info *model.PacketInfo) bool

// Subscriber consumes decoded records from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber connects to NATS.
func NewSubscriber(cfg config.ProbeConfig, logger *zap.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-cache"))
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", "subscriber"))
	logger.Info("Connected to NATS server", zap.String("url", cfg.NATSURL))
	return &Subscriber{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Start subscribes and passes every decoded record to handler.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		info, err := Unmarshal(msg.Data)
		if err != nil {
			s.logger.Warn("Dropping undecodable message", zap.Error(err))
			return
		}
		if !handler(info) {
			s.logger.Debug("Record rejected by handler")
		}
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed, waiting for messages", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed.")
	}
}
