package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	grpc_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

type benchFlags struct {
	account     int64
	to          int64
	count       int
	concurrency int
	amount      int64
	deadline    time.Duration
}

// benchResult 壓測統計
type benchResult struct {
	ok       int64
	rejected map[domain.ErrorKind]int64
	elapsed  time.Duration
}

func (r benchResult) tps() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.ok) / r.elapsed.Seconds()
}

func (c *cli) benchCmd() *cobra.Command {
	flags := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent deposits (or transfers with --to) and report throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.account == 0 || flags.count <= 0 || flags.concurrency <= 0 || flags.amount <= 0 {
				return fmt.Errorf("%w: --account, --count, --concurrency and --amount must be positive", domain.ErrValidation)
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.deadline)
			defer cancel()

			pterm.Info.Printfln("Sending %d requests with concurrency %d", flags.count, flags.concurrency)
			res := runBench(ctx, client, *flags)

			data := pterm.TableData{
				{"Succeeded", fmt.Sprint(res.ok)},
				{"Elapsed", res.elapsed.Round(time.Millisecond).String()},
				{"TPS", fmt.Sprintf("%.2f", res.tps())},
			}
			for kind, n := range res.rejected {
				data = append(data, []string{"Rejected (" + string(kind) + ")", fmt.Sprint(n)})
			}
			return pterm.DefaultTable.WithData(data).Render()
		},
	}
	cmd.Flags().Int64Var(&flags.account, "account", 0, "account to deposit into (or transfer from)")
	cmd.Flags().Int64Var(&flags.to, "to", 0, "transfer target; deposits when omitted")
	cmd.Flags().IntVar(&flags.count, "count", 10000, "number of requests")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 100, "requests in flight")
	cmd.Flags().Int64Var(&flags.amount, "amount", 100, "amount per request in minor units")
	cmd.Flags().DurationVar(&flags.deadline, "deadline", 2*time.Minute, "overall deadline")
	return cmd
}

// runBench 以 semaphore channel 控制同時在途的請求數，每個請求帶新的 ref id
func runBench(ctx context.Context, client *grpc_adapter.Client, f benchFlags) benchResult {
	var ok atomic.Int64
	var mu sync.Mutex
	rejected := make(map[domain.ErrorKind]int64)

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.concurrency)
	start := time.Now()

	for i := 0; i < f.count; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			var err error
			ref := uuid.New()
			if f.to != 0 {
				_, err = client.Transfer(ctx, usecase.TransferCommand{From: f.account, To: f.to, Amount: f.amount, RefID: ref})
			} else {
				_, err = client.Deposit(ctx, usecase.DepositCommand{AccountID: f.account, Amount: f.amount, RefID: ref})
			}
			if err != nil {
				mu.Lock()
				rejected[domain.KindOf(err)]++
				mu.Unlock()
				return
			}
			ok.Add(1)
		}()
	}
	wg.Wait()

	return benchResult{ok: ok.Load(), rejected: rejected, elapsed: time.Since(start)}
}
