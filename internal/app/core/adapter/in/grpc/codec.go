package grpc

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// ---- 讀取欄位 ----

func stringField(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

func int64Field(s *structpb.Struct, key string) (int64, error) {
	raw := stringField(s, key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrValidation, key, raw)
	}
	return n, nil
}

func uuidField(s *structpb.Struct, key string) (uuid.UUID, error) {
	raw := stringField(s, key)
	if raw == "" {
		return uuid.Nil, nil
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s: %v", domain.ErrValidation, key, err)
	}
	return u, nil
}

func timeField(s *structpb.Struct, key string) (time.Time, error) {
	raw := stringField(s, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339, got %q", domain.ErrValidation, key, raw)
	}
	return t.UTC(), nil
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func structField(s *structpb.Struct, key string) *structpb.Struct {
	return s.GetFields()[key].GetStructValue()
}

func listField(s *structpb.Struct, key string) []*structpb.Value {
	return s.GetFields()[key].GetListValue().GetValues()
}

// ---- 組裝 ----

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func uuidText(u uuid.UUID) string {
	if u == uuid.Nil {
		return ""
	}
	return u.String()
}

func accountValue(a domain.Account) map[string]any {
	return map[string]any{
		"id":         itoa(a.ID),
		"owner_id":   a.OwnerID,
		"currency":   a.Currency,
		"created_at": formatTime(a.CreatedAt),
	}
}

func entryValue(e domain.LedgerEntry) map[string]any {
	v := map[string]any{
		"id":         itoa(e.ID),
		"sequence":   strconv.FormatUint(e.Sequence, 10),
		"account_id": itoa(e.AccountID),
		"amount":     itoa(e.Amount),
		"kind":       e.Kind.String(),
		"status":     e.Status.String(),
		"created_at": formatTime(e.CreatedAt),
		"note":       e.Note,
	}
	if e.CorrelationID != uuid.Nil {
		v["correlation_id"] = e.CorrelationID.String()
	}
	if e.RefID != uuid.Nil {
		v["ref_id"] = e.RefID.String()
	}
	if e.ReversalOf != 0 {
		v["reversal_of"] = itoa(e.ReversalOf)
	}
	return v
}

func entryList(entries []domain.LedgerEntry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryValue(e))
	}
	return out
}

func pageValue(p domain.EntryPage) map[string]any {
	return map[string]any{
		"entries":         entryList(p.Entries),
		"next_page_token": p.NextPageToken,
	}
}

func entryReceiptValue(r usecase.EntryReceipt) map[string]any {
	return map[string]any{
		"entry":    entryValue(r.Entry),
		"balance":  itoa(r.Balance),
		"replayed": r.Replayed,
	}
}

func transferReceiptValue(r usecase.TransferReceipt) map[string]any {
	return map[string]any{
		"debit":          entryValue(r.Debit),
		"credit":         entryValue(r.Credit),
		"correlation_id": r.CorrelationID.String(),
		"from_balance":   itoa(r.FromBalance),
		"to_balance":     itoa(r.ToBalance),
		"replayed":       r.Replayed,
	}
}

func reversalReceiptValue(r usecase.ReversalReceipt) map[string]any {
	return map[string]any{
		"entries":        entryList(r.Entries),
		"correlation_id": r.CorrelationID.String(),
	}
}

// ---- 解析回應 (client 端) ----

func parseAccount(s *structpb.Struct) (domain.Account, error) {
	id, err := int64Field(s, "id")
	if err != nil {
		return domain.Account{}, err
	}
	created, err := timeField(s, "created_at")
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		ID:        id,
		OwnerID:   stringField(s, "owner_id"),
		Currency:  stringField(s, "currency"),
		CreatedAt: created,
	}, nil
}

func parseEntry(s *structpb.Struct) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var err error
	if e.ID, err = int64Field(s, "id"); err != nil {
		return e, err
	}
	if e.AccountID, err = int64Field(s, "account_id"); err != nil {
		return e, err
	}
	if e.Amount, err = int64Field(s, "amount"); err != nil {
		return e, err
	}
	if e.ReversalOf, err = int64Field(s, "reversal_of"); err != nil {
		return e, err
	}
	seq, err := int64Field(s, "sequence")
	if err != nil {
		return e, err
	}
	e.Sequence = uint64(seq)
	if e.CreatedAt, err = timeField(s, "created_at"); err != nil {
		return e, err
	}
	if e.CorrelationID, err = uuidField(s, "correlation_id"); err != nil {
		return e, err
	}
	if e.RefID, err = uuidField(s, "ref_id"); err != nil {
		return e, err
	}
	if e.Kind, err = domain.ParseEntryKind(stringField(s, "kind")); err != nil {
		return e, err
	}
	if e.Status, err = domain.ParseEntryStatus(stringField(s, "status")); err != nil {
		return e, err
	}
	e.Note = stringField(s, "note")
	return e, nil
}

func parseEntries(values []*structpb.Value) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0, len(values))
	for _, v := range values {
		e, err := parseEntry(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parsePage(s *structpb.Struct) (domain.EntryPage, error) {
	entries, err := parseEntries(listField(s, "entries"))
	if err != nil {
		return domain.EntryPage{}, err
	}
	return domain.EntryPage{Entries: entries, NextPageToken: stringField(s, "next_page_token")}, nil
}

func queryValue(q domain.EntryQuery) map[string]any {
	v := map[string]any{
		"page_token": q.PageToken,
		"limit":      strconv.Itoa(q.Limit),
	}
	if !q.From.IsZero() {
		v["from"] = formatTime(q.From)
	}
	if !q.To.IsZero() {
		v["to"] = formatTime(q.To)
	}
	return v
}

func parseQuery(s *structpb.Struct) (domain.EntryQuery, error) {
	var q domain.EntryQuery
	var err error
	if q.From, err = timeField(s, "from"); err != nil {
		return q, err
	}
	if q.To, err = timeField(s, "to"); err != nil {
		return q, err
	}
	limit, err := int64Field(s, "limit")
	if err != nil {
		return q, err
	}
	q.Limit = int(limit)
	q.PageToken = stringField(s, "page_token")
	return q, nil
}
