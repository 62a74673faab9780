package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
)

// kindStatus ErrorKind 與 HTTP status 的對應
var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:         fiber.StatusBadRequest,
	domain.KindInsufficientFunds:  fiber.StatusUnprocessableEntity,
	domain.KindAtomicity:          fiber.StatusConflict,
	domain.KindConcurrencyTimeout: fiber.StatusServiceUnavailable,
	domain.KindNotFound:           fiber.StatusNotFound,
	domain.KindInternal:           fiber.StatusInternalServerError,
}

// Config HTTP adapter 設定
type Config struct {
	// WriteLimit 每個 IP 在 WriteWindow 內可送出的寫入請求數，0 表示不限制
	WriteLimit  int
	WriteWindow time.Duration
}

// Server 以 fiber 提供 REST 介面
type Server struct {
	core   *usecase.CoreUseCase
	logger *slog.Logger
	app    *fiber.App
}

func NewServer(core *usecase.CoreUseCase, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{core: core, logger: logger}
	s.app = fiber.New(fiber.Config{
		AppName:               "go-ledger",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes(cfg)
	return s
}

func (s *Server) routes(cfg Config) {
	s.app.Use(requestLogger(s.logger))
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	write := []fiber.Handler{}
	if cfg.WriteLimit > 0 {
		write = append(write, rateLimitWrite(cfg.WriteLimit, cfg.WriteWindow))
	}
	with := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, write...), h)
	}

	v1 := s.app.Group("/v1")
	v1.Post("/accounts", with(s.createAccount)...)
	v1.Get("/accounts", s.listAccounts)
	v1.Get("/accounts/:id", s.getAccount)
	v1.Post("/accounts/:id/deposits", with(s.deposit)...)
	v1.Post("/accounts/:id/withdrawals", with(s.withdraw)...)
	v1.Get("/accounts/:id/balance", s.balance)
	v1.Get("/accounts/:id/entries", s.listEntries)
	v1.Post("/transfers", with(s.transfer)...)
	v1.Post("/entries/:id/reversal", with(s.reverse)...)

	admin := v1.Group("/admin")
	admin.Get("/entries", s.listAllEntries)
	admin.Get("/accounts/:id/balance", s.balance)
	admin.Post("/accounts/:id/checkpoint", s.refreshCheckpoint)
}

// App 回傳底層 fiber.App (測試用 app.Test)
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen 阻塞直到 Shutdown
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError 統一輸出 {kind, message}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind := domain.KindInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			kind = domain.KindNotFound
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed, fiber.StatusUnprocessableEntity:
			kind = domain.KindValidation
		}
		return c.Status(fe.Code).JSON(errorResponse{Kind: kind, Message: fe.Message})
	}

	kind := domain.KindOf(err)
	code, ok := kindStatus[kind]
	if !ok {
		code = fiber.StatusInternalServerError
	}
	if kind == domain.KindInternal {
		s.logger.Error("http request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(errorResponse{Kind: kind, Message: err.Error()})
}

// requestLogger 記錄 method / path / status / latency
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			// ErrorHandler 還沒執行，依錯誤推算最終的 status
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if code, ok := kindStatus[domain.KindOf(err)]; ok {
				status = code
			}
		}
		logger.Info("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start),
		)
		return err
	}
}

// rateLimitWrite 寫入端點依 IP 限流
func rateLimitWrite(max int, window time.Duration) fiber.Handler {
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(errorResponse{
				Kind:    "rate_limited",
				Message: "too many requests",
			})
		},
	})
}
