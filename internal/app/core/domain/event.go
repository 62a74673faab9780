package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionPosted 交易寫入成功後發布的事件
type TransactionPosted struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	RefID         uuid.UUID `json:"ref_id"`
	Kind          string    `json:"kind"`
	FromAccount   int64     `json:"from_account,omitempty"`
	ToAccount     int64     `json:"to_account,omitempty"`
	Amount        int64     `json:"amount"`
	EntryIDs      []string  `json:"entry_ids"`
	OccurredAt    time.Time `json:"occurred_at"`
}
