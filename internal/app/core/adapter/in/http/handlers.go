package http

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/money"
)

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrValidation, err)
	}
	return nil
}

// pathAccount 解析 :id 並取得帳戶 (金額換算需要幣別)
func (s *Server) pathAccount(c *fiber.Ctx) (domain.Account, error) {
	id, err := parseID(c.Params("id"), "account id")
	if err != nil {
		return domain.Account{}, err
	}
	return s.core.GetAccount(userContext(c), id)
}

func (s *Server) createAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	acc, err := s.core.CreateAccount(userContext(c), req.OwnerID, req.Currency)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newAccountResponse(acc))
}

func (s *Server) listAccounts(c *fiber.Ctx) error {
	accounts, err := s.core.ListAccounts(userContext(c))
	if err != nil {
		return err
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountResponse(a))
	}
	return c.JSON(fiber.Map{"accounts": out})
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	acc, err := s.pathAccount(c)
	if err != nil {
		return err
	}
	return c.JSON(newAccountResponse(acc))
}

// amountCommand 存款 / 提款共用的解析
func (s *Server) amountCommand(c *fiber.Ctx) (usecase.DepositCommand, domain.Account, error) {
	acc, err := s.pathAccount(c)
	if err != nil {
		return usecase.DepositCommand{}, acc, err
	}
	var req amountRequest
	if err := bind(c, &req); err != nil {
		return usecase.DepositCommand{}, acc, err
	}
	amount, err := parseAmount(req.Amount, acc.Currency)
	if err != nil {
		return usecase.DepositCommand{}, acc, err
	}
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return usecase.DepositCommand{}, acc, err
	}
	return usecase.DepositCommand{AccountID: acc.ID, Amount: amount, Note: req.Note, RefID: ref}, acc, nil
}

func (s *Server) deposit(c *fiber.Ctx) error {
	cmd, acc, err := s.amountCommand(c)
	if err != nil {
		return err
	}
	receipt, err := s.core.Deposit(userContext(c), cmd)
	if err != nil {
		return err
	}
	return c.Status(created(receipt.Replayed)).JSON(entryReceipt(receipt, acc.Currency))
}

func (s *Server) withdraw(c *fiber.Ctx) error {
	cmd, acc, err := s.amountCommand(c)
	if err != nil {
		return err
	}
	receipt, err := s.core.Withdraw(userContext(c), cmd)
	if err != nil {
		return err
	}
	return c.Status(created(receipt.Replayed)).JSON(entryReceipt(receipt, acc.Currency))
}

// created 重送的請求回 200，第一次寫入回 201
func created(replayed bool) int {
	if replayed {
		return fiber.StatusOK
	}
	return fiber.StatusCreated
}

func entryReceipt(r usecase.EntryReceipt, currency string) entryReceiptResponse {
	return entryReceiptResponse{
		Entry:    newEntryResponse(r.Entry, currency),
		Balance:  newBalance(r.Entry.AccountID, r.Balance, currency),
		Replayed: r.Replayed,
	}
}

func (s *Server) transfer(c *fiber.Ctx) error {
	ctx := userContext(c)
	var req transferRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	from, err := s.core.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount, from.Currency)
	if err != nil {
		return err
	}
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return err
	}
	receipt, err := s.core.Transfer(ctx, usecase.TransferCommand{
		From:   req.FromAccountID,
		To:     req.ToAccountID,
		Amount: amount,
		Note:   req.Note,
		RefID:  ref,
	})
	if err != nil {
		return err
	}
	cur := from.Currency
	return c.Status(created(receipt.Replayed)).JSON(transferResponse{
		CorrelationID: receipt.CorrelationID.String(),
		Debit:         newEntryResponse(receipt.Debit, cur),
		Credit:        newEntryResponse(receipt.Credit, cur),
		FromBalance:   newBalance(receipt.Debit.AccountID, receipt.FromBalance, cur),
		ToBalance:     newBalance(receipt.Credit.AccountID, receipt.ToBalance, cur),
		Replayed:      receipt.Replayed,
	})
}

func (s *Server) reverse(c *fiber.Ctx) error {
	ctx := userContext(c)
	id, err := parseID(c.Params("id"), "entry id")
	if err != nil {
		return err
	}
	var req reverseRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	receipt, err := s.core.Reverse(ctx, usecase.ReverseCommand{EntryID: id, Note: req.Note})
	if err != nil {
		return err
	}
	entries, err := s.entryResponses(ctx, receipt.Entries)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(reversalResponse{
		CorrelationID: receipt.CorrelationID.String(),
		Entries:       entries,
	})
}

// balance ?at=RFC3339 時回傳該時間點的餘額
func (s *Server) balance(c *fiber.Ctx) error {
	ctx := userContext(c)
	acc, err := s.pathAccount(c)
	if err != nil {
		return err
	}
	at, err := parseTime(c.Query("at"), "at")
	if err != nil {
		return err
	}
	if at.IsZero() {
		minor, err := s.core.GetAccountBalance(ctx, acc.ID)
		if err != nil {
			return err
		}
		return c.JSON(newBalance(acc.ID, minor, acc.Currency))
	}
	minor, err := s.core.GetBalanceAsOf(ctx, acc.ID, at)
	if err != nil {
		return err
	}
	out := newBalance(acc.ID, minor, acc.Currency)
	out.At = &at
	return c.JSON(out)
}

func entryQuery(c *fiber.Ctx) (domain.EntryQuery, error) {
	var q domain.EntryQuery
	var err error
	if q.From, err = parseTime(c.Query("from"), "from"); err != nil {
		return q, err
	}
	if q.To, err = parseTime(c.Query("to"), "to"); err != nil {
		return q, err
	}
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			return q, fmt.Errorf("%w: invalid limit %q", domain.ErrValidation, raw)
		}
	}
	q.PageToken = c.Query("page_token")
	return q, nil
}

func (s *Server) listEntries(c *fiber.Ctx) error {
	acc, err := s.pathAccount(c)
	if err != nil {
		return err
	}
	q, err := entryQuery(c)
	if err != nil {
		return err
	}
	page, err := s.core.ListEntries(userContext(c), acc.ID, q)
	if err != nil {
		return err
	}
	out := pageResponse{Entries: make([]entryResponse, 0, len(page.Entries)), NextPageToken: page.NextPageToken}
	for _, e := range page.Entries {
		out.Entries = append(out.Entries, newEntryResponse(e, acc.Currency))
	}
	return c.JSON(out)
}

func (s *Server) listAllEntries(c *fiber.Ctx) error {
	ctx := userContext(c)
	q, err := entryQuery(c)
	if err != nil {
		return err
	}
	page, err := s.core.ListAllEntries(ctx, q)
	if err != nil {
		return err
	}
	entries, err := s.entryResponses(ctx, page.Entries)
	if err != nil {
		return err
	}
	return c.JSON(pageResponse{Entries: entries, NextPageToken: page.NextPageToken})
}

// entryResponses 跨帳戶的分錄，逐一查幣別 (同一帳戶只查一次)
func (s *Server) entryResponses(ctx context.Context, entries []domain.LedgerEntry) ([]entryResponse, error) {
	currencies := make(map[int64]string)
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		cur, ok := currencies[e.AccountID]
		if !ok {
			acc, err := s.core.GetAccount(ctx, e.AccountID)
			if err != nil {
				return nil, err
			}
			cur = acc.Currency
			currencies[e.AccountID] = cur
		}
		out = append(out, newEntryResponse(e, cur))
	}
	return out, nil
}

// refreshCheckpoint ?rebuild=true 時先刪除舊的 checkpoint 再從頭重放
func (s *Server) refreshCheckpoint(c *fiber.Ctx) error {
	ctx := userContext(c)
	acc, err := s.pathAccount(c)
	if err != nil {
		return err
	}
	var cp domain.Checkpoint
	if c.QueryBool("rebuild") {
		cp, err = s.core.RebuildCheckpoints(ctx, acc.ID)
	} else {
		cp, err = s.core.RefreshCheckpoint(ctx, acc.ID)
	}
	if err != nil {
		return err
	}
	return c.JSON(checkpointResponse{
		AccountID:    cp.AccountID,
		Balance:      money.Format(cp.Balance, acc.Currency),
		BalanceMinor: cp.Balance,
		Entries:      cp.Entries,
		AsOf:         cp.AsOf.At,
		AsOfSequence: cp.AsOf.Seq,
	})
}
