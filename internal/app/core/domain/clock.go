package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Clock 時間來源，測試可替換
type Clock interface {
	Now() time.Time
}

// SystemClock 使用 time.Now 的 UTC 時間
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator 產生分錄 ID (時間有序且唯一)
type IDGenerator interface {
	NextID() int64
}

// SnowflakeIDs 以 snowflake node 產生分錄 ID
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs 建立 ID 產生器，nodeID 範圍 0~1023，多個實例必須不同
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}
