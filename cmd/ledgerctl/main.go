package main

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/pterm/pterm"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
)

func main() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	c := newCLI()
	defer c.close()
	if err := c.root().Execute(); err != nil {
		pterm.Error.Println(describe(err))
		os.Exit(1)
	}
}

// describe 錯誤訊息前面加上 kind，例如 "[insufficient_funds] account 1 balance 0, required 100"
func describe(err error) string {
	msg := err.Error()
	if msg != "" {
		r := []rune(msg)
		r[0] = unicode.ToUpper(r[0])
		msg = string(r)
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal || strings.HasPrefix(msg, "Unknown command") {
		return msg
	}
	return fmt.Sprintf("[%s] %s", kind, msg)
}
