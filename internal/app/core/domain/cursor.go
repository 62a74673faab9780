package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor 是帳戶內分錄的全序位置 (created-at, sequence)
type Cursor struct {
	At  time.Time
	Seq uint64
}

func (c Cursor) IsZero() bool {
	return c.At.IsZero() && c.Seq == 0
}

// Compare 比較兩個位置，先比時間再比 sequence
func (c Cursor) Compare(o Cursor) int {
	switch {
	case c.At.Before(o.At):
		return -1
	case c.At.After(o.At):
		return 1
	case c.Seq < o.Seq:
		return -1
	case c.Seq > o.Seq:
		return 1
	default:
		return 0
	}
}

// Token 編碼成對外不透明的分頁 token
func (c Cursor) Token() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.At.UnixNano(), 10) + ":" + strconv.FormatUint(c.Seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursorToken 解析 Token() 的輸出；空字串回傳零值
func ParseCursorToken(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed page token", ErrValidation)
	}
	at, seq, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: malformed page token", ErrValidation)
	}
	nanos, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed page token", ErrValidation)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed page token", ErrValidation)
	}
	return Cursor{At: time.Unix(0, nanos).UTC(), Seq: n}, nil
}
