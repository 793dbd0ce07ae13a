package payment

import (
	"fmt"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
)

// AccountReader 账本账户读取接口，由MySQL仓库实现
type AccountReader interface {
	GetAccount(address string) (*model.LedgerAccount, error)
}

// Processor 支付校验器：根据支付配置校验账户，产出一笔待执行的转账
// 只做校验和构造，实际扣款在抽取事务内执行
type Processor struct {
	accounts AccountReader
}

func NewProcessor(accounts AccountReader) *Processor {
	return &Processor{accounts: accounts}
}

// Validate 校验抽取请求的支付部分
// 原生币种和代币币种走不同的校验路径，校验通过返回转账指令
func (p *Processor) Validate(req *model.PullRequest, cfg *model.PaymentConfig) (*model.Transfer, error) {
	if cfg.IsNative() {
		return p.validateNative(req, cfg)
	}
	return p.validateToken(req, cfg)
}

// validateNative 原生币种支付校验
// 付款账户必须是用户本人的原生账户，收款账户必须是配置中的收款人
func (p *Processor) validateNative(req *model.PullRequest, cfg *model.PaymentConfig) (*model.Transfer, error) {
	payer, err := p.loadAccount(req.PaymentAccount)
	if err != nil {
		return nil, err
	}

	if payer.OwnerProgram != model.OwnerProgramNative {
		return nil, gachaerr.ErrIncorrectOwner
	}
	if payer.Address != req.User {
		return nil, gachaerr.ErrAccountMismatch
	}

	// 收款账户同样必须是原生账户，防止原生余额被记入代币账户
	recipient, err := p.loadAccount(req.RecipientAccount)
	if err != nil {
		return nil, err
	}
	if recipient.OwnerProgram != model.OwnerProgramNative {
		return nil, gachaerr.ErrIncorrectOwner
	}
	if recipient.Address != cfg.Recipient {
		return nil, gachaerr.ErrAccountMismatch
	}

	if payer.Balance < cfg.Price {
		return nil, gachaerr.ErrInsufficientFunds
	}

	return &model.Transfer{
		From:       payer.Address,
		To:         recipient.Address,
		CurrencyID: model.NativeCurrency,
		Amount:     cfg.Price,
	}, nil
}

// validateToken 代币币种支付校验
// 请求必须带上币种描述账户，付款/收款账户的币种都必须与配置一致
func (p *Processor) validateToken(req *model.PullRequest, cfg *model.PaymentConfig) (*model.Transfer, error) {
	if req.CurrencyAccount == "" {
		return nil, gachaerr.ErrTokenProgramMissing
	}

	currency, err := p.loadAccount(req.CurrencyAccount)
	if err != nil {
		return nil, err
	}
	if currency.OwnerProgram != model.OwnerProgramToken {
		return nil, gachaerr.ErrIncorrectOwner
	}
	if currency.Address != cfg.CurrencyID {
		return nil, gachaerr.ErrMintMismatch
	}

	payer, err := p.loadAccount(req.PaymentAccount)
	if err != nil {
		return nil, err
	}
	if payer.OwnerProgram != model.OwnerProgramToken {
		return nil, gachaerr.ErrIncorrectOwner
	}
	if payer.Holder != req.User {
		return nil, gachaerr.ErrAccountMismatch
	}
	if payer.CurrencyID != cfg.CurrencyID {
		return nil, gachaerr.ErrMintMismatch
	}

	recipient, err := p.loadAccount(req.RecipientAccount)
	if err != nil {
		return nil, err
	}
	if recipient.OwnerProgram != model.OwnerProgramToken {
		return nil, gachaerr.ErrIncorrectOwner
	}
	if recipient.Address != cfg.Recipient {
		return nil, gachaerr.ErrAccountMismatch
	}
	if recipient.CurrencyID != cfg.CurrencyID {
		return nil, gachaerr.ErrMintMismatch
	}

	if payer.Balance < cfg.Price {
		return nil, gachaerr.ErrInsufficientFunds
	}

	return &model.Transfer{
		From:       payer.Address,
		To:         recipient.Address,
		CurrencyID: cfg.CurrencyID,
		Amount:     cfg.Price,
	}, nil
}

func (p *Processor) loadAccount(address string) (*model.LedgerAccount, error) {
	account, err := p.accounts.GetAccount(address)
	if err != nil {
		return nil, fmt.Errorf("读取账本账户 %s 失败: %w", address, err)
	}
	if account == nil {
		return nil, gachaerr.ErrAccountMismatch
	}
	return account, nil
}
