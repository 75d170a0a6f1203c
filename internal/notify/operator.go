package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"recovery-service/internal/client"
	"recovery-service/internal/config"
	"recovery-service/internal/util"
)

// OperatorNotice is a message for the on-call operator channel. Phone
// values are already masked by the caller.
type OperatorNotice struct {
	Kind       string            `json:"kind"`
	Text       string            `json:"text"`
	PhoneMasked string           `json:"phone_masked,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	At         time.Time         `json:"at"`
}

// OperatorNotifier delivers notices best-effort; delivery failure never
// fails the operation that raised the notice.
type OperatorNotifier interface {
	Notify(ctx context.Context, notice OperatorNotice)
}

// LogOperatorNotifier writes notices to the process log. The development
// default.
type LogOperatorNotifier struct{}

func NewLogOperatorNotifier() *LogOperatorNotifier {
	return &LogOperatorNotifier{}
}

func (n *LogOperatorNotifier) Notify(ctx context.Context, notice OperatorNotice) {
	util.Info("operator notice",
		zap.String("kind", notice.Kind),
		zap.String("text", notice.Text),
		zap.String("phone_masked", notice.PhoneMasked),
		zap.Any("meta", notice.Meta))
}

// KafkaOperatorNotifier publishes notices to the operator alert topic.
type KafkaOperatorNotifier struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaOperatorNotifier(producer *client.KafkaProducer, cfg *config.Config) *KafkaOperatorNotifier {
	return &KafkaOperatorNotifier{
		producer: producer,
		topic:    cfg.Kafka.OperatorTopic,
	}
}

func (n *KafkaOperatorNotifier) Notify(ctx context.Context, notice OperatorNotice) {
	if notice.At.IsZero() {
		notice.At = time.Now().UTC()
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		util.Error("Failed to encode operator notice", zap.Error(err))
		return
	}

	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(notice.Kind), payload, nil); err != nil {
		util.Warn("Operator notice not delivered",
			zap.String("kind", notice.Kind),
			zap.Error(err))
	}
}
