package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// kindCodes ErrorKind 與 gRPC status code 的對應
var kindCodes = map[domain.ErrorKind]codes.Code{
	domain.KindValidation:         codes.InvalidArgument,
	domain.KindInsufficientFunds:  codes.FailedPrecondition,
	domain.KindAtomicity:          codes.Aborted,
	domain.KindConcurrencyTimeout: codes.ResourceExhausted,
	domain.KindNotFound:           codes.NotFound,
	domain.KindInternal:           codes.Internal,
}

type GrpcServer struct {
	core *usecase.CoreUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

// toStatus 將業務錯誤轉成 gRPC status (Hard Failure)
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, ok := kindCodes[domain.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func reply(v map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func (s *GrpcServer) CreateAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.core.CreateAccount(ctx, stringField(req, "owner_id"), stringField(req, "currency"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(accountValue(acc))
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := int64Field(req, "account_id")
	if err != nil {
		return nil, toStatus(err)
	}
	acc, err := s.core.GetAccount(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(accountValue(acc))
}

// entryCommand 解析存款 / 提款共用的欄位
func entryCommand(req *structpb.Struct) (usecase.DepositCommand, error) {
	var cmd usecase.DepositCommand
	var err error
	if cmd.AccountID, err = int64Field(req, "account_id"); err != nil {
		return cmd, err
	}
	if cmd.Amount, err = int64Field(req, "amount"); err != nil {
		return cmd, err
	}
	if cmd.RefID, err = uuidField(req, "ref_id"); err != nil {
		return cmd, err
	}
	cmd.Note = stringField(req, "note")
	return cmd, nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := entryCommand(req)
	if err != nil {
		return nil, toStatus(err)
	}
	receipt, err := s.core.Deposit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(entryReceiptValue(receipt))
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := entryCommand(req)
	if err != nil {
		return nil, toStatus(err)
	}
	receipt, err := s.core.Withdraw(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(entryReceiptValue(receipt))
}

func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var cmd usecase.TransferCommand
	var err error
	if cmd.From, err = int64Field(req, "from_account_id"); err != nil {
		return nil, toStatus(err)
	}
	if cmd.To, err = int64Field(req, "to_account_id"); err != nil {
		return nil, toStatus(err)
	}
	if cmd.Amount, err = int64Field(req, "amount"); err != nil {
		return nil, toStatus(err)
	}
	if cmd.RefID, err = uuidField(req, "ref_id"); err != nil {
		return nil, toStatus(err)
	}
	cmd.Note = stringField(req, "note")

	receipt, err := s.core.Transfer(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(transferReceiptValue(receipt))
}

func (s *GrpcServer) Reverse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := int64Field(req, "entry_id")
	if err != nil {
		return nil, toStatus(err)
	}
	receipt, err := s.core.Reverse(ctx, usecase.ReverseCommand{EntryID: id, Note: stringField(req, "note")})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(reversalReceiptValue(receipt))
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := int64Field(req, "account_id")
	if err != nil {
		return nil, toStatus(err)
	}
	balance, err := s.core.GetAccountBalance(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"account_id": itoa(id), "balance": itoa(balance)})
}

func (s *GrpcServer) GetBalanceAsOf(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := int64Field(req, "account_id")
	if err != nil {
		return nil, toStatus(err)
	}
	at, err := timeField(req, "at")
	if err != nil {
		return nil, toStatus(err)
	}
	if at.IsZero() {
		return nil, toStatus(fmt.Errorf("%w: at is required", domain.ErrValidation))
	}
	balance, err := s.core.GetBalanceAsOf(ctx, id, at)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"account_id": itoa(id), "balance": itoa(balance), "at": formatTime(at)})
}

func (s *GrpcServer) ListEntries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := int64Field(req, "account_id")
	if err != nil {
		return nil, toStatus(err)
	}
	q, err := parseQuery(req)
	if err != nil {
		return nil, toStatus(err)
	}
	page, err := s.core.ListEntries(ctx, id, q)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(pageValue(page))
}

func (s *GrpcServer) ListAllEntries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := parseQuery(req)
	if err != nil {
		return nil, toStatus(err)
	}
	page, err := s.core.ListAllEntries(ctx, q)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(pageValue(page))
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
