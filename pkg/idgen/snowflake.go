package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 流水号 = 前缀 + 年月日时分秒 + 雪花ID后8位，例如 TRF20240115143052_12345678
// 多实例部署时每个实例需要不同的 workerID
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// MaxWorkerID 可配置的最大机器ID
const MaxWorkerID = maxWorkerID

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

// NewSnowflake workerID 取值 0-1023
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	defaultGenerator *Snowflake
	defaultMu        sync.Mutex
)

// Init 设置默认生成器的 workerID，重复调用以最后一次为准
func Init(workerID int64) error {
	g, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = g
	defaultMu.Unlock()
	return nil
}

func defaultSnowflake() *Snowflake {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultGenerator == nil {
		defaultGenerator = &Snowflake{workerID: 1}
	}
	return defaultGenerator
}

// NextID 使用默认生成器
func NextID() int64 {
	return defaultSnowflake().Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨：沿用上一次的时间戳，靠序列号保证递增
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateNo 生成带前缀的业务单号
func GenerateNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s_%08d", prefix, time.Now().Format("20060102150405"), id%100000000)
}

// 流水号前缀
const (
	PrefixDeposit  = "DEP"
	PrefixWithdraw = "WDR"
	PrefixTransfer = "TRF"
)

var kindPrefixes = map[string]string{
	"DEPOSIT":  PrefixDeposit,
	"WITHDRAW": PrefixWithdraw,
	"TRANSFER": PrefixTransfer,
}

// GenerateTransactionNo 按交易类型选择前缀，未知类型使用 TXN
func GenerateTransactionNo(kind string) string {
	prefix, ok := kindPrefixes[kind]
	if !ok {
		prefix = "TXN"
	}
	return GenerateNo(prefix)
}
