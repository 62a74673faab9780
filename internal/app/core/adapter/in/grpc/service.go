package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 完整的 gRPC service 名稱
const ServiceName = "ledger.v1.LedgerService"

// RPC 方法名稱
const (
	MethodCreateAccount  = "CreateAccount"
	MethodGetAccount     = "GetAccount"
	MethodDeposit        = "Deposit"
	MethodWithdraw       = "Withdraw"
	MethodTransfer       = "Transfer"
	MethodReverse        = "Reverse"
	MethodGetBalance     = "GetBalance"
	MethodGetBalanceAsOf = "GetBalanceAsOf"
	MethodListEntries    = "ListEntries"
	MethodListAllEntries = "ListAllEntries"
)

// LedgerServiceServer 所有 RPC 的請求與回應都是 google.protobuf.Struct，
// int64 (ID、金額) 一律以十進位字串傳遞，避免 double 精度問題
type LedgerServiceServer interface {
	CreateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reverse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalanceAsOf(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEntries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAllEntries(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod 回傳 "/ledger.v1.LedgerService/<method>"
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc 手寫的 service 描述，對應 protoc 產生的 _grpc.pb.go
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateAccount, LedgerServiceServer.CreateAccount),
		unary(MethodGetAccount, LedgerServiceServer.GetAccount),
		unary(MethodDeposit, LedgerServiceServer.Deposit),
		unary(MethodWithdraw, LedgerServiceServer.Withdraw),
		unary(MethodTransfer, LedgerServiceServer.Transfer),
		unary(MethodReverse, LedgerServiceServer.Reverse),
		unary(MethodGetBalance, LedgerServiceServer.GetBalance),
		unary(MethodGetBalanceAsOf, LedgerServiceServer.GetBalanceAsOf),
		unary(MethodListEntries, LedgerServiceServer.ListEntries),
		unary(MethodListAllEntries, LedgerServiceServer.ListAllEntries),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterLedgerServiceServer 註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
