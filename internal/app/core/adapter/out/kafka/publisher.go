package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// DefaultTopic 交易事件的預設 topic
const DefaultTopic = "ledger.transaction_posted"

// messageWriter 是 *kafka.Writer 用到的部分，測試可替換
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把 TransactionPosted 以 JSON 寫入 Kafka
type Publisher struct {
	writer messageWriter
}

// NewPublisher 建立 Publisher
//
// 參數:
//
//	brokers: broker 位址
//	topic: 空字串時使用 DefaultTopic
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish 以扣款帳戶 (沒有的話用入帳帳戶) 當 key，同一帳戶的事件落在同一個 partition，保持順序
func (p *Publisher) Publish(ctx context.Context, event domain.TransactionPosted) error {
	msg, err := message(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(event domain.TransactionPosted) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	key := event.FromAccount
	if key == 0 {
		key = event.ToAccount
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}, nil
}

var _ usecase.EventPublisher = (*Publisher)(nil)
