package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/pkg/money"
	grpcpool "github.com/JoeShih716/go-ledger/pkg/grpc"
)

// cli 保存全域設定與連線池，子命令透過 client() 取得 ledger client
type cli struct {
	v        *viper.Viper
	pool     *grpcpool.Pool
	dialOpts []grpc.DialOption
}

func newCLI(dialOpts ...grpc.DialOption) *cli {
	v := viper.New()
	v.SetEnvPrefix("LEDGERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &cli{v: v, dialOpts: dialOpts}
}

func (c *cli) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "ledgerctl talks to the ledger core over gRPC",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
				return err
			}
			c.close()
			c.pool = grpcpool.NewPool(
				grpcpool.WithInterceptor(grpc_adapter.TimeoutInterceptor(c.v.GetDuration("timeout"))),
				grpcpool.WithDialOptions(c.dialOpts...),
			)
			return nil
		},
	}
	cmd.PersistentFlags().String("addr", "localhost:50051", "ledger gRPC address (env LEDGERCTL_ADDR)")
	cmd.PersistentFlags().Duration("timeout", 5*time.Second, "per-request timeout (env LEDGERCTL_TIMEOUT)")

	cmd.AddCommand(
		c.accountCmd(),
		c.depositCmd(),
		c.withdrawCmd(),
		c.transferCmd(),
		c.reverseCmd(),
		c.balanceCmd(),
		c.historyCmd(),
		c.benchCmd(),
	)
	return cmd
}

func (c *cli) client() (*grpc_adapter.Client, error) {
	if c.pool == nil {
		return nil, fmt.Errorf("connection pool not initialised")
	}
	conn, err := c.pool.GetConnection(c.v.GetString("addr"))
	if err != nil {
		return nil, err
	}
	return grpc_adapter.NewClient(conn), nil
}

func (c *cli) close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// minorAmount 依帳戶幣別把十進位金額轉成最小單位
func minorAmount(ctx context.Context, client *grpc_adapter.Client, accountID int64, raw string) (int64, domain.Account, error) {
	acc, err := client.GetAccount(ctx, accountID)
	if err != nil {
		return 0, acc, err
	}
	minor, err := money.Parse(raw, acc.Currency)
	if err != nil {
		return 0, acc, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return minor, acc, nil
}
