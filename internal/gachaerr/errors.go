package gachaerr

import "errors"

// 扭蛋机错误定义，与链上程序的错误码一一对应
// 所有错误都会导致当前事务整体回滚，核心逻辑不做任何内部重试
var (
	// 生命周期错误
	ErrAlreadyFinalized = errors.New("扭蛋机已封盘，不能再修改奖池")
	ErrNotFinalized     = errors.New("扭蛋机尚未封盘")
	ErrEmptyPool        = errors.New("奖池为空，不能封盘")
	ErrPoolFull         = errors.New("奖池已达到最大容量")
	ErrGachaIsEmpty     = errors.New("扭蛋机奖品已抽完")
	ErrGachaPaused      = errors.New("扭蛋机已暂停抽取")
	ErrGachaHalted      = errors.New("扭蛋机已暂停结算")
	ErrGachaNotComplete = errors.New("还有未结算的抽取，不能释放解密密钥")

	// 权限错误
	ErrUnauthorized = errors.New("调用者不是当前管理员")

	// 校验错误
	ErrEmptyToken           = errors.New("奖励令牌不能为空")
	ErrInvalidTokenLength   = errors.New("奖励令牌长度超出上限")
	ErrInvalidPaymentConfig = errors.New("支付配置无效")
	ErrDuplicateCurrency    = errors.New("该币种的支付配置已存在")
	ErrAccountMismatch      = errors.New("账户不匹配")
	ErrMintMismatch         = errors.New("币种描述账户不匹配")
	ErrIncorrectOwner       = errors.New("账户归属程序不正确")

	// 支付错误
	ErrInsufficientFunds   = errors.New("余额不足")
	ErrTokenProgramMissing = errors.New("缺少代币账本转账能力")

	// 随机数错误
	ErrInvalidRandomnessAccount = errors.New("随机数来源无效")
	ErrRandomnessNotCurrent     = errors.New("随机数种子不是最新槽位，不能用于新的抽取")
	ErrRandomnessNotResolved    = errors.New("预言机尚未揭示随机数")
	ErrInvalidRandomnessValue   = errors.New("预言机返回的随机数格式无效")

	// 抽取记录错误
	ErrAlreadySettled = errors.New("该抽取已经结算过")
	ErrSlotNotPassed  = errors.New("不能在抽取的同一槽位内结算，请等待下一槽位")

	// 存储/索引错误
	ErrIndexOutOfBounds = errors.New("抽中的索引没有对应的奖励令牌")
	ErrVersionConflict  = errors.New("记录版本冲突，请重试")
	ErrMachineNotFound  = errors.New("扭蛋机不存在")
	ErrTicketNotFound   = errors.New("抽取记录不存在")
	ErrFactoryExists    = errors.New("工厂已初始化")
	ErrFactoryNotFound  = errors.New("工厂尚未初始化")
)
