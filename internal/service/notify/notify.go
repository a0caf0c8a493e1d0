package notify

import (
	"context"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/logger"
)

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) Notify(_ context.Context, level models.NotifyLevel, message string, fields map[string]interface{}) {
	fs := make([]logger.Field, 0, len(fields)+1)
	fs = append(fs, logger.String("level", string(level)))
	for k, v := range fields {
		fs = append(fs, logger.Any(k, v))
	}
	switch level {
	case models.NotifyCritical, models.NotifyError:
		n.log.Error("notification: "+message, fs...)
	case models.NotifyWarning:
		n.log.Warn("notification: "+message, fs...)
	default:
		n.log.Info("notification: "+message, fs...)
	}
}

// Publisher is the slice of the Kafka producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaNotifier publishes notifications as JSON keyed by account.
type KafkaNotifier struct {
	pub       Publisher
	topic     string
	accountID string
	timeout   time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func NewKafkaNotifier(pub Publisher, topic, accountID string, timeout time.Duration, log *logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, topic: topic, accountID: accountID, timeout: timeout, log: log, now: time.Now}
}

func (n *KafkaNotifier) Notify(ctx context.Context, level models.NotifyLevel, message string, fields map[string]interface{}) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	msg := models.Notification{
		AccountID: n.accountID,
		Level:     level,
		Message:   message,
		Fields:    fields,
		At:        n.now().UTC(),
	}
	if err := n.pub.Publish(cctx, n.topic, []byte(n.accountID), msg); err != nil {
		n.log.Warn("publish notification", logger.String("topic", n.topic), logger.Error(err))
	}
}

// Multi fans a notification out to every backend.
type Multi []drepo.Notifier

func (m Multi) Notify(ctx context.Context, level models.NotifyLevel, message string, fields map[string]interface{}) {
	for _, n := range m {
		n.Notify(ctx, level, message, fields)
	}
}

var (
	_ drepo.Notifier = (*LogNotifier)(nil)
	_ drepo.Notifier = (*KafkaNotifier)(nil)
	_ drepo.Notifier = Multi(nil)
)
