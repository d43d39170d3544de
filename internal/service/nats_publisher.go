package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"riskguard/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultAlertSubject - префикс subject для алертов: {prefix}.{type}.{severity}
const DefaultAlertSubject = "riskguard.alerts"

// natsConn - часть *nats.Conn, нужная публикатору
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSPublisher публикует уведомления движка риска в NATS
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NewNATSPublisher создаёт публикатор поверх установленного соединения
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return newNATSPublisher(nc, prefix)
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultAlertSubject
	}
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS подключается к NATS с бесконечным переподключением
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("riskguard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// Subject возвращает subject уведомления
func (p *NATSPublisher) Subject(n *models.Notification) string {
	kind := strings.ToLower(n.Type)
	if kind == "" {
		kind = "unknown"
	}
	severity := n.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, kind, severity)
}

// Publish сериализует уведомление и отправляет его
//
// Критичные алерты дожидаются flush в пределах дедлайна ctx.
func (p *NATSPublisher) Publish(ctx context.Context, n *models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.conn.Publish(p.Subject(n), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}

	if n.Severity == models.SeverityCritical {
		timeout := publishTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := p.conn.FlushTimeout(timeout); err != nil {
			return fmt.Errorf("flush %s: %w", n.Type, err)
		}
	}
	return nil
}
