package model

import (
	"time"
)

// 币种哨兵值：表示账本原生币种，其他值表示具体代币币种
const NativeCurrency = "native"

// 账户归属程序
const (
	OwnerProgramNative = "native"
	OwnerProgramToken  = "token"
)

// GachaFactory 扭蛋机工厂，全局唯一
type GachaFactory struct {
	Admin        string    `json:"admin"`
	MachineCount uint64    `json:"machineCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GachaMachine 扭蛋机主记录
type GachaMachine struct {
	ID          string    `json:"id"`
	Admin       string    `json:"admin"`
	IsFinalized bool      `json:"isFinalized"`
	IsPaused    bool      `json:"isPaused"`
	IsHalted    bool      `json:"isHalted"`
	PullCount   uint64    `json:"pullCount"`
	SettleCount uint64    `json:"settleCount"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PaymentConfig 支付配置，每台扭蛋机每个币种一条，创建后不可修改
type PaymentConfig struct {
	ID         int64     `json:"id"`
	MachineID  string    `json:"machineId"`
	CurrencyID string    `json:"currencyId"`
	Price      uint64    `json:"price"`
	Recipient  string    `json:"recipient"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsNative 是否为原生币种配置
func (c *PaymentConfig) IsNative() bool {
	return c.CurrencyID == NativeCurrency
}

// Ticket 抽取记录，主键为 (machineId, nonce)
type Ticket struct {
	MachineID     string    `json:"machineId"`
	Nonce         uint64    `json:"nonce"`
	User          string    `json:"user"`
	RandomnessRef string    `json:"randomnessRef"`
	CurrencyID    string    `json:"currencyId"`
	IsSettled     bool      `json:"isSettled"`
	PullSlot      uint64    `json:"pullSlot"`
	ResultIndex   uint16    `json:"resultIndex"`
	RewardToken   []byte    `json:"rewardToken"`
	CreatedAt     time.Time `json:"createdAt"`
	SettledAt     time.Time `json:"settledAt"`
}

// LedgerAccount 价值账本账户
// 原生账户: OwnerProgram=native, CurrencyID为空, Holder即地址本人
// 代币账户: OwnerProgram=token, CurrencyID为币种, Holder为授权人
// 币种描述账户: OwnerProgram=token, 地址即币种描述, 余额无意义
type LedgerAccount struct {
	Address      string    `json:"address"`
	OwnerProgram string    `json:"ownerProgram"`
	Holder       string    `json:"holder"`
	CurrencyID   string    `json:"currencyId"`
	Balance      uint64    `json:"balance"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Transfer 一次经过校验、待执行的价值转移
type Transfer struct {
	From       string `json:"from"`
	To         string `json:"to"`
	CurrencyID string `json:"currencyId"`
	Amount     uint64 `json:"amount"`
}

// OracleRound 预言机随机数轮次
// Seed 在 Slot 槽位锚定，Value 在下一槽位揭示前为空
type OracleRound struct {
	Ref        string    `json:"ref"`
	Slot       uint64    `json:"slot"`
	Seed       []byte    `json:"seed"`
	Value      []byte    `json:"value"`
	CreatedAt  time.Time `json:"createdAt"`
	RevealedAt time.Time `json:"revealedAt"`
}

// Resolved 随机数是否已揭示
func (r *OracleRound) Resolved() bool {
	return len(r.Value) > 0
}

// 事件类型
const (
	EventMachineInitialized    = "MachineInitialized"
	EventPaymentConfigAdded    = "PaymentConfigAdded"
	EventPaymentConfigRemoved  = "PaymentConfigRemoved"
	EventKeyAdded              = "KeyAdded"
	EventMachineFinalized      = "MachineFinalized"
	EventPausedStateChanged    = "PausedStateChanged"
	EventHaltedStateChanged    = "HaltedStateChanged"
	EventAdminTransferred      = "AdminTransferred"
	EventDecryptionKeyReleased = "DecryptionKeyReleased"
	EventPullResult            = "PullResult"
	EventSettleResult          = "SettleResult"
	EventMachineClosed         = "MachineClosed"
)

// GachaEvent Kafka扭蛋事件，仅用于观测，核心逻辑不消费
type GachaEvent struct {
	Type      string            `json:"type"`
	MachineID string            `json:"machineId"`
	User      string            `json:"user,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	EmittedAt time.Time         `json:"emittedAt"`
}

// PullRequest 抽取请求
type PullRequest struct {
	MachineID        string `json:"machineId"`
	User             string `json:"user"`
	CurrencyID       string `json:"currencyId"`
	PaymentAccount   string `json:"paymentAccount"`
	RecipientAccount string `json:"recipientAccount"`
	CurrencyAccount  string `json:"currencyAccount,omitempty"`
	RandomnessRef    string `json:"randomnessRef"`
}

// SettleRequest 结算请求
type SettleRequest struct {
	MachineID string `json:"machineId"`
	Nonce     uint64 `json:"nonce"`
}

// PullResponse 抽取响应
type PullResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Nonce     uint64    `json:"nonce"`
	PullSlot  uint64    `json:"pullSlot"`
	Timestamp time.Time `json:"timestamp"`
}

// SettleResponse 结算响应
type SettleResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ResultIndex uint16    `json:"resultIndex"`
	RewardToken string    `json:"rewardToken"`
	Timestamp   time.Time `json:"timestamp"`
}
