package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/money"
)

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrValidation, name, raw)
	}
	return id, nil
}

func parseRef(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	ref, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid --ref: %v", domain.ErrValidation, err)
	}
	return ref, nil
}

func parseWhen(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s must be RFC3339 (e.g. 2024-06-01T00:00:00Z)", domain.ErrValidation, name)
	}
	return t, nil
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create and inspect accounts",
	}

	var owner, currency string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			acc, err := client.CreateAccount(cmd.Context(), owner, currency)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Account %d created (%s, %s)", acc.ID, acc.OwnerID, acc.Currency)
			return nil
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "owner id")
	create.Flags().StringVar(&currency, "currency", "EUR", "ISO-4217 currency code")
	_ = create.MarkFlagRequired("owner")

	get := &cobra.Command{
		Use:   "get <account-id>",
		Short: "Show an account with its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "account id")
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			acc, err := client.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			balance, err := client.GetBalance(cmd.Context(), id)
			if err != nil {
				return err
			}
			pterm.DefaultTable.WithData(pterm.TableData{
				{"ID", strconv.FormatInt(acc.ID, 10)},
				{"Owner", acc.OwnerID},
				{"Currency", acc.Currency},
				{"Created", acc.CreatedAt.Format(time.RFC3339)},
				{"Balance", money.Format(balance, acc.Currency)},
			}).Render()
			return nil
		},
	}

	cmd.AddCommand(create, get)
	return cmd
}

// entryFlags 存款 / 提款 / 轉帳共用
type entryFlags struct {
	note string
	ref  string
}

func (f *entryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.note, "note", "", "free-text note")
	cmd.Flags().StringVar(&f.ref, "ref", "", "idempotency ref id (UUID); resending the same ref is a no-op")
}

func (c *cli) depositCmd() *cobra.Command {
	return c.singleEntryCmd("deposit", "Credit an account", false)
}

func (c *cli) withdrawCmd() *cobra.Command {
	return c.singleEntryCmd("withdraw", "Debit an account (rejected if the balance is insufficient)", true)
}

func (c *cli) singleEntryCmd(use, short string, debit bool) *cobra.Command {
	flags := &entryFlags{}
	cmd := &cobra.Command{
		Use:   use + " <account-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0], "account id")
			if err != nil {
				return err
			}
			ref, err := parseRef(flags.ref)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			amount, acc, err := minorAmount(ctx, client, id, args[1])
			if err != nil {
				return err
			}
			command := usecase.DepositCommand{AccountID: id, Amount: amount, Note: flags.note, RefID: ref}
			var receipt usecase.EntryReceipt
			if debit {
				receipt, err = client.Withdraw(ctx, command)
			} else {
				receipt, err = client.Deposit(ctx, command)
			}
			if err != nil {
				return err
			}
			if receipt.Replayed {
				pterm.Info.Printfln("Already posted as entry %d", receipt.Entry.ID)
			} else {
				pterm.Success.Printfln("Entry %d posted", receipt.Entry.ID)
			}
			pterm.Info.Printfln("Balance: %s %s", money.Format(receipt.Balance, acc.Currency), acc.Currency)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func (c *cli) transferCmd() *cobra.Command {
	flags := &entryFlags{}
	cmd := &cobra.Command{
		Use:   "transfer <from-account> <to-account> <amount>",
		Short: "Move money between two accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := parseID(args[0], "from account")
			if err != nil {
				return err
			}
			to, err := parseID(args[1], "to account")
			if err != nil {
				return err
			}
			ref, err := parseRef(flags.ref)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			amount, acc, err := minorAmount(ctx, client, from, args[2])
			if err != nil {
				return err
			}
			receipt, err := client.Transfer(ctx, usecase.TransferCommand{
				From: from, To: to, Amount: amount, Note: flags.note, RefID: ref,
			})
			if err != nil {
				return err
			}
			if receipt.Replayed {
				pterm.Info.Printfln("Already posted as transfer %s", receipt.CorrelationID)
			} else {
				pterm.Success.Printfln("Transfer %s posted", receipt.CorrelationID)
			}
			pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
				{"Account", "Entry", "Amount", "Balance"},
				{strconv.FormatInt(from, 10), strconv.FormatInt(receipt.Debit.ID, 10),
					money.Format(receipt.Debit.Amount, acc.Currency), money.Format(receipt.FromBalance, acc.Currency)},
				{strconv.FormatInt(to, 10), strconv.FormatInt(receipt.Credit.ID, 10),
					money.Format(receipt.Credit.Amount, acc.Currency), money.Format(receipt.ToBalance, acc.Currency)},
			}).Render()
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func (c *cli) reverseCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reverse <entry-id>",
		Short: "Correct an entry by posting its opposite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry id")
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			receipt, err := client.Reverse(cmd.Context(), id, note)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Entry %d reversed (%s)", id, receipt.CorrelationID)
			return renderEntries(receipt.Entries, nil)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason for the reversal")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the current balance, or the balance at a point in time with --at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0], "account id")
			if err != nil {
				return err
			}
			when, err := parseWhen(at, "at")
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			acc, err := client.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			var balance int64
			if when.IsZero() {
				balance, err = client.GetBalance(ctx, id)
			} else {
				balance, err = client.GetBalanceAsOf(ctx, id, when)
			}
			if err != nil {
				return err
			}
			label := "now"
			if !when.IsZero() {
				label = when.Format(time.RFC3339)
			}
			pterm.Info.Printfln("Account %d balance (%s): %s %s", id, label, money.Format(balance, acc.Currency), acc.Currency)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 timestamp")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var from, to, token string
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "history [account-id]",
		Short: "List entries of an account, or of every account with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all == (len(args) == 1) {
				return fmt.Errorf("%w: pass an account id or --all", domain.ErrValidation)
			}
			q := domain.EntryQuery{Limit: limit, PageToken: token}
			var err error
			if q.From, err = parseWhen(from, "from"); err != nil {
				return err
			}
			if q.To, err = parseWhen(to, "to"); err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}

			var page domain.EntryPage
			currencies := map[int64]string{}
			if all {
				page, err = client.ListAllEntries(ctx, q)
			} else {
				id, perr := parseID(args[0], "account id")
				if perr != nil {
					return perr
				}
				acc, aerr := client.GetAccount(ctx, id)
				if aerr != nil {
					return aerr
				}
				currencies[id] = acc.Currency
				page, err = client.ListEntries(ctx, id, q)
			}
			if err != nil {
				return err
			}
			if all {
				for _, e := range page.Entries {
					if _, ok := currencies[e.AccountID]; ok {
						continue
					}
					acc, err := client.GetAccount(ctx, e.AccountID)
					if err != nil {
						return err
					}
					currencies[e.AccountID] = acc.Currency
				}
			}
			if err := renderEntries(page.Entries, currencies); err != nil {
				return err
			}
			if page.NextPageToken != "" {
				pterm.Info.Printfln("More entries: --page-token %s", page.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end (inclusive)")
	cmd.Flags().StringVar(&token, "page-token", "", "token from the previous page")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultPageSize, "page size")
	cmd.Flags().BoolVar(&all, "all", false, "list entries of every account (admin)")
	return cmd
}

// renderEntries 以表格輸出分錄；currencies 為 nil 時金額以最小單位顯示
func renderEntries(entries []domain.LedgerEntry, currencies map[int64]string) error {
	data := pterm.TableData{{"Entry", "Account", "Kind", "Status", "Amount", "Created", "Note"}}
	for _, e := range entries {
		amount := strconv.FormatInt(e.Amount, 10)
		if cur, ok := currencies[e.AccountID]; ok {
			amount = money.Format(e.Amount, cur) + " " + cur
		}
		if e.Amount > 0 {
			amount = pterm.Green(amount)
		} else {
			amount = pterm.Red(amount)
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.AccountID, 10),
			e.Kind.String(),
			e.Status.String(),
			amount,
			e.CreatedAt.Format(time.RFC3339Nano),
			e.Note,
		})
	}
	if len(entries) == 0 {
		pterm.Info.Println("No entries")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
