package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishTransfer(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	event := domain.TransactionPosted{
		CorrelationID: uuid.New(),
		Kind:          "TRANSFER",
		FromAccount:   7,
		ToAccount:     9,
		Amount:        500,
		EntryIDs:      []string{"1", "2"},
		OccurredAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "7" {
		t.Fatalf("key=%q want debit account", msg.Key)
	}
	var decoded domain.TransactionPosted
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.CorrelationID != event.CorrelationID || decoded.Amount != 500 || len(decoded.EntryIDs) != 2 {
		t.Fatalf("decoded=%+v", decoded)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "TRANSFER" {
		t.Fatalf("headers=%+v", msg.Headers)
	}
}

func TestPublishDepositKeyedByCreditAccount(t *testing.T) {
	msg, err := message(domain.TransactionPosted{Kind: "DEPOSIT", ToAccount: 3, Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "3" {
		t.Fatalf("key=%q want 3", msg.Key)
	}
}

func TestPublishError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("no brokers")}}
	if err := p.Publish(context.Background(), domain.TransactionPosted{}); err == nil {
		t.Fatal("writer error should be returned")
	}
}
