package pool

import (
	"encoding/binary"
	"fmt"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
)

const (
	// MaxPoolSize 奖池最大令牌数量
	MaxPoolSize = 500
	// MaxTokenLen 单个奖励令牌的最大字节长度
	MaxTokenLen = 120

	// InitialCapacity 奖池记录的初始容量（字节）
	InitialCapacity = 512
	// GrowIncrement 每次扩容的固定增量（字节）
	GrowIncrement = 8192
	// MaxGrowSteps 扩容步数上限，决定了容量天花板
	MaxGrowSteps = 10
)

const (
	recordMagic   = uint32(0x47504C31) // "GPL1"
	recordVersion = uint8(1)
	headerSize    = 14
)

// Record 奖池记录：固定头部 + 奖励令牌列表 + 剩余索引列表
// 序列化后保存为单个blob，整条记录随事务一次性改写
type Record struct {
	capacity      uint32
	growSteps     uint8
	decryptionKey []byte
	tokens        [][]byte
	remaining     []uint16
}

// NewRecord 创建初始容量的空奖池记录
func NewRecord() *Record {
	return &Record{capacity: InitialCapacity}
}

// TokenCount 已添加的令牌数量
func (r *Record) TokenCount() int {
	return len(r.tokens)
}

// RemainingCount 尚未抽走的索引数量
func (r *Record) RemainingCount() int {
	return len(r.remaining)
}

// Remaining 返回剩余索引的副本
func (r *Record) Remaining() []uint16 {
	out := make([]uint16, len(r.remaining))
	copy(out, r.remaining)
	return out
}

// Token 按索引读取令牌，越界返回nil
func (r *Record) Token(index int) []byte {
	if index < 0 || index >= len(r.tokens) {
		return nil
	}
	return r.tokens[index]
}

// Capacity 当前记录容量（字节）
func (r *Record) Capacity() uint32 {
	return r.capacity
}

// GrowSteps 已执行的扩容步数
func (r *Record) GrowSteps() uint8 {
	return r.growSteps
}

// DecryptionKey 管理员释放的解密密钥，未释放时为空
func (r *Record) DecryptionKey() []byte {
	return r.decryptionKey
}

// AppendToken 向奖池追加一个奖励令牌，必要时按固定增量扩容
func (r *Record) AppendToken(token []byte) error {
	if len(token) == 0 {
		return gachaerr.ErrEmptyToken
	}
	if len(token) > MaxTokenLen {
		return gachaerr.ErrInvalidTokenLength
	}
	if len(r.tokens) >= MaxPoolSize {
		return gachaerr.ErrPoolFull
	}

	// 按封盘后的大小预留：新令牌条目 + 全部令牌对应的剩余索引
	need := r.serializedSize() + 1 + len(token) + 2*(len(r.tokens)+1)
	if err := r.ensureCapacity(need); err != nil {
		return err
	}

	stored := make([]byte, len(token))
	copy(stored, token)
	r.tokens = append(r.tokens, stored)
	return nil
}

// Finalize 封盘快照：一次性生成完整的剩余索引区间 [0, n)
// 调用方负责保证只在未封盘状态调用一次
func (r *Record) Finalize() error {
	if len(r.tokens) == 0 {
		return gachaerr.ErrEmptyPool
	}
	r.remaining = make([]uint16, len(r.tokens))
	for i := range r.remaining {
		r.remaining[i] = uint16(i)
	}
	return nil
}

// Draw 用随机值抽走一个剩余索引
// 采用交换删除（swap-remove），不保持剩余索引的相对顺序
func (r *Record) Draw(random uint64) (uint16, []byte, error) {
	if len(r.remaining) == 0 {
		return 0, nil, gachaerr.ErrGachaIsEmpty
	}

	selected := int(random % uint64(len(r.remaining)))
	index := r.remaining[selected]
	last := len(r.remaining) - 1
	r.remaining[selected] = r.remaining[last]
	r.remaining = r.remaining[:last]

	if int(index) >= len(r.tokens) {
		// 按照不变式不可能发生，防御性保留
		return 0, nil, gachaerr.ErrIndexOutOfBounds
	}
	return index, r.tokens[index], nil
}

// SetDecryptionKey 写入解密密钥
func (r *Record) SetDecryptionKey(key []byte) error {
	if len(key) == 0 {
		return gachaerr.ErrEmptyToken
	}
	if len(key) > MaxTokenLen {
		return gachaerr.ErrInvalidTokenLength
	}
	need := r.serializedSize() - len(r.decryptionKey) + len(key)
	if err := r.ensureCapacity(need); err != nil {
		return err
	}
	r.decryptionKey = make([]byte, len(key))
	copy(r.decryptionKey, key)
	return nil
}

// ensureCapacity 按固定增量扩容直到容量满足need，步数受MaxGrowSteps限制
func (r *Record) ensureCapacity(need int) error {
	for int(r.capacity) < need {
		if r.growSteps >= MaxGrowSteps {
			return gachaerr.ErrPoolFull
		}
		r.capacity += GrowIncrement
		r.growSteps++
	}
	return nil
}

func (r *Record) serializedSize() int {
	size := headerSize + 1 + len(r.decryptionKey)
	for _, t := range r.tokens {
		size += 1 + len(t)
	}
	size += 2 * len(r.remaining)
	return size
}

// Marshal 序列化奖池记录
func (r *Record) Marshal() ([]byte, error) {
	if len(r.tokens) > MaxPoolSize || len(r.remaining) > len(r.tokens) {
		return nil, fmt.Errorf("奖池记录状态非法: tokens=%d remaining=%d", len(r.tokens), len(r.remaining))
	}

	buf := make([]byte, 0, r.serializedSize())
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], recordMagic)
	buf = append(buf, scratch[:4]...)
	buf = append(buf, recordVersion)
	binary.LittleEndian.PutUint32(scratch[:], r.capacity)
	buf = append(buf, scratch[:4]...)
	buf = append(buf, r.growSteps)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(r.tokens)))
	buf = append(buf, scratch[:2]...)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(r.remaining)))
	buf = append(buf, scratch[:2]...)

	buf = append(buf, uint8(len(r.decryptionKey)))
	buf = append(buf, r.decryptionKey...)

	for _, t := range r.tokens {
		buf = append(buf, uint8(len(t)))
		buf = append(buf, t...)
	}
	for _, idx := range r.remaining {
		binary.LittleEndian.PutUint16(scratch[:2], idx)
		buf = append(buf, scratch[:2]...)
	}
	return buf, nil
}

// Unmarshal 反序列化奖池记录
func Unmarshal(data []byte) (*Record, error) {
	if len(data) < headerSize+1 {
		return nil, fmt.Errorf("奖池记录数据过短: %d字节", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != recordMagic {
		return nil, fmt.Errorf("奖池记录魔数不匹配")
	}
	if data[4] != recordVersion {
		return nil, fmt.Errorf("不支持的奖池记录版本: %d", data[4])
	}

	r := &Record{
		capacity:  binary.LittleEndian.Uint32(data[5:9]),
		growSteps: data[9],
	}
	keyCount := int(binary.LittleEndian.Uint16(data[10:12]))
	remainingCount := int(binary.LittleEndian.Uint16(data[12:14]))
	off := 14

	decKeyLen := int(data[off])
	off++
	if off+decKeyLen > len(data) {
		return nil, fmt.Errorf("奖池记录解密密钥越界")
	}
	if decKeyLen > 0 {
		r.decryptionKey = make([]byte, decKeyLen)
		copy(r.decryptionKey, data[off:off+decKeyLen])
	}
	off += decKeyLen

	r.tokens = make([][]byte, 0, keyCount)
	for i := 0; i < keyCount; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("奖池记录令牌列表越界")
		}
		tokenLen := int(data[off])
		off++
		if tokenLen == 0 || off+tokenLen > len(data) {
			return nil, fmt.Errorf("奖池记录第%d个令牌长度非法", i)
		}
		token := make([]byte, tokenLen)
		copy(token, data[off:off+tokenLen])
		r.tokens = append(r.tokens, token)
		off += tokenLen
	}

	if off+2*remainingCount > len(data) {
		return nil, fmt.Errorf("奖池记录剩余索引列表越界")
	}
	r.remaining = make([]uint16, 0, remainingCount)
	for i := 0; i < remainingCount; i++ {
		idx := binary.LittleEndian.Uint16(data[off : off+2])
		if int(idx) >= keyCount {
			return nil, fmt.Errorf("奖池记录剩余索引%d超出令牌数量%d", idx, keyCount)
		}
		r.remaining = append(r.remaining, idx)
		off += 2
	}

	return r, nil
}
