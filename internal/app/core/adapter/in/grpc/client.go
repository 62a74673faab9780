package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// codeErrors gRPC status code 還原成 domain sentinel
var codeErrors = map[codes.Code]error{
	codes.InvalidArgument:    domain.ErrValidation,
	codes.FailedPrecondition: domain.ErrInsufficientFunds,
	codes.Aborted:            domain.ErrAtomicity,
	codes.ResourceExhausted:  domain.ErrConcurrencyTimeout,
	codes.DeadlineExceeded:   domain.ErrConcurrencyTimeout,
	codes.NotFound:           domain.ErrNotFound,
}

// remoteError 保留伺服器端訊息，同時可用 errors.Is 比對 sentinel
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	sentinel, ok := codeErrors[st.Code()]
	if !ok {
		return err
	}
	return &remoteError{msg: st.Message(), sentinel: sentinel}
}

// Client 是 LedgerService 的 typed client，錯誤會還原成 domain sentinel
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) CreateAccount(ctx context.Context, ownerID, currency string) (domain.Account, error) {
	out, err := c.call(ctx, MethodCreateAccount, map[string]any{"owner_id": ownerID, "currency": currency})
	if err != nil {
		return domain.Account{}, err
	}
	return parseAccount(out)
}

func (c *Client) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	out, err := c.call(ctx, MethodGetAccount, map[string]any{"account_id": itoa(id)})
	if err != nil {
		return domain.Account{}, err
	}
	return parseAccount(out)
}

func (c *Client) Deposit(ctx context.Context, cmd usecase.DepositCommand) (usecase.EntryReceipt, error) {
	return c.postEntry(ctx, MethodDeposit, cmd)
}

func (c *Client) Withdraw(ctx context.Context, cmd usecase.WithdrawCommand) (usecase.EntryReceipt, error) {
	return c.postEntry(ctx, MethodWithdraw, cmd)
}

func (c *Client) postEntry(ctx context.Context, method string, cmd usecase.DepositCommand) (usecase.EntryReceipt, error) {
	out, err := c.call(ctx, method, map[string]any{
		"account_id": itoa(cmd.AccountID),
		"amount":     itoa(cmd.Amount),
		"note":       cmd.Note,
		"ref_id":     uuidText(cmd.RefID),
	})
	if err != nil {
		return usecase.EntryReceipt{}, err
	}
	entry, err := parseEntry(structField(out, "entry"))
	if err != nil {
		return usecase.EntryReceipt{}, err
	}
	balance, err := int64Field(out, "balance")
	if err != nil {
		return usecase.EntryReceipt{}, err
	}
	return usecase.EntryReceipt{Entry: entry, Balance: balance, Replayed: boolField(out, "replayed")}, nil
}

func (c *Client) Transfer(ctx context.Context, cmd usecase.TransferCommand) (usecase.TransferReceipt, error) {
	out, err := c.call(ctx, MethodTransfer, map[string]any{
		"from_account_id": itoa(cmd.From),
		"to_account_id":   itoa(cmd.To),
		"amount":          itoa(cmd.Amount),
		"note":            cmd.Note,
		"ref_id":          uuidText(cmd.RefID),
	})
	if err != nil {
		return usecase.TransferReceipt{}, err
	}
	var r usecase.TransferReceipt
	if r.Debit, err = parseEntry(structField(out, "debit")); err != nil {
		return r, err
	}
	if r.Credit, err = parseEntry(structField(out, "credit")); err != nil {
		return r, err
	}
	if r.CorrelationID, err = uuidField(out, "correlation_id"); err != nil {
		return r, err
	}
	if r.FromBalance, err = int64Field(out, "from_balance"); err != nil {
		return r, err
	}
	if r.ToBalance, err = int64Field(out, "to_balance"); err != nil {
		return r, err
	}
	r.Replayed = boolField(out, "replayed")
	return r, nil
}

func (c *Client) Reverse(ctx context.Context, entryID int64, note string) (usecase.ReversalReceipt, error) {
	out, err := c.call(ctx, MethodReverse, map[string]any{"entry_id": itoa(entryID), "note": note})
	if err != nil {
		return usecase.ReversalReceipt{}, err
	}
	entries, err := parseEntries(listField(out, "entries"))
	if err != nil {
		return usecase.ReversalReceipt{}, err
	}
	corr, err := uuidField(out, "correlation_id")
	if err != nil {
		return usecase.ReversalReceipt{}, err
	}
	return usecase.ReversalReceipt{Entries: entries, CorrelationID: corr}, nil
}

func (c *Client) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	out, err := c.call(ctx, MethodGetBalance, map[string]any{"account_id": itoa(accountID)})
	if err != nil {
		return 0, err
	}
	return int64Field(out, "balance")
}

func (c *Client) GetBalanceAsOf(ctx context.Context, accountID int64, at time.Time) (int64, error) {
	out, err := c.call(ctx, MethodGetBalanceAsOf, map[string]any{"account_id": itoa(accountID), "at": formatTime(at)})
	if err != nil {
		return 0, err
	}
	return int64Field(out, "balance")
}

func (c *Client) ListEntries(ctx context.Context, accountID int64, q domain.EntryQuery) (domain.EntryPage, error) {
	in := queryValue(q)
	in["account_id"] = itoa(accountID)
	out, err := c.call(ctx, MethodListEntries, in)
	if err != nil {
		return domain.EntryPage{}, err
	}
	return parsePage(out)
}

func (c *Client) ListAllEntries(ctx context.Context, q domain.EntryQuery) (domain.EntryPage, error) {
	out, err := c.call(ctx, MethodListAllEntries, queryValue(q))
	if err != nil {
		return domain.EntryPage{}, err
	}
	return parsePage(out)
}

// IsRetryable 判斷錯誤是否值得整筆重送 (鎖等待逾時或原子寫入失敗，兩者都沒有寫入任何分錄)
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyTimeout) || errors.Is(err, domain.ErrAtomicity)
}
