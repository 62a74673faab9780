package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/pkg/money"
)

// ---- request ----

type createAccountRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

// amountRequest 存款 / 提款。Amount 為十進位金額，字串或數字皆可 ("12.50" / 12.5)
type amountRequest struct {
	Amount json.Number `json:"amount"`
	Note   string      `json:"note"`
	RefID  string      `json:"ref_id"`
}

type transferRequest struct {
	FromAccountID int64       `json:"from_account_id"`
	ToAccountID   int64       `json:"to_account_id"`
	Amount        json.Number `json:"amount"`
	Note          string      `json:"note"`
	RefID         string      `json:"ref_id"`
}

type reverseRequest struct {
	Note string `json:"note"`
}

// parseAmount 依幣別精度轉成最小貨幣單位
func parseAmount(raw json.Number, currency string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: amount is required", domain.ErrValidation)
	}
	minor, err := money.Parse(raw.String(), currency)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return minor, nil
}

func parseRefID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid ref_id: %v", domain.ErrValidation, err)
	}
	return id, nil
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrValidation, name, raw)
	}
	return id, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339, got %q", domain.ErrValidation, name, raw)
	}
	return t.UTC(), nil
}

// ---- response ----

type errorResponse struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(a domain.Account) accountResponse {
	return accountResponse{ID: a.ID, OwnerID: a.OwnerID, Currency: a.Currency, CreatedAt: a.CreatedAt}
}

// entryResponse 分錄 ID 是 snowflake，以字串輸出避免 JS 精度問題
type entryResponse struct {
	ID            string    `json:"id"`
	Sequence      uint64    `json:"sequence"`
	AccountID     int64     `json:"account_id"`
	Amount        string    `json:"amount"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RefID         string    `json:"ref_id,omitempty"`
	ReversalOf    string    `json:"reversal_of,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newEntryResponse(e domain.LedgerEntry, currency string) entryResponse {
	r := entryResponse{
		ID:          strconv.FormatInt(e.ID, 10),
		Sequence:    e.Sequence,
		AccountID:   e.AccountID,
		Amount:      money.Format(e.Amount, currency),
		AmountMinor: e.Amount,
		Currency:    currency,
		Kind:        e.Kind.String(),
		Status:      e.Status.String(),
		Note:        e.Note,
		CreatedAt:   e.CreatedAt,
	}
	if e.CorrelationID != uuid.Nil {
		r.CorrelationID = e.CorrelationID.String()
	}
	if e.RefID != uuid.Nil {
		r.RefID = e.RefID.String()
	}
	if e.ReversalOf != 0 {
		r.ReversalOf = strconv.FormatInt(e.ReversalOf, 10)
	}
	return r
}

type balanceResponse struct {
	AccountID    int64      `json:"account_id"`
	Currency     string     `json:"currency"`
	Balance      string     `json:"balance"`
	BalanceMinor int64      `json:"balance_minor"`
	At           *time.Time `json:"at,omitempty"`
}

func newBalance(accountID int64, minor int64, currency string) balanceResponse {
	return balanceResponse{
		AccountID:    accountID,
		Currency:     currency,
		Balance:      money.Format(minor, currency),
		BalanceMinor: minor,
	}
}

type entryReceiptResponse struct {
	Entry    entryResponse   `json:"entry"`
	Balance  balanceResponse `json:"balance"`
	Replayed bool            `json:"replayed"`
}

type transferResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Debit         entryResponse   `json:"debit"`
	Credit        entryResponse   `json:"credit"`
	FromBalance   balanceResponse `json:"from_balance"`
	ToBalance     balanceResponse `json:"to_balance"`
	Replayed      bool            `json:"replayed"`
}

type reversalResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Entries       []entryResponse `json:"entries"`
}

type pageResponse struct {
	Entries       []entryResponse `json:"entries"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type checkpointResponse struct {
	AccountID    int64     `json:"account_id"`
	Balance      string    `json:"balance"`
	BalanceMinor int64     `json:"balance_minor"`
	Entries      int64     `json:"entries"`
	AsOf         time.Time `json:"as_of"`
	AsOfSequence uint64    `json:"as_of_sequence"`
}
