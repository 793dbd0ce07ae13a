package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
)

// fakeAccounts 内存账本，仅用于测试
type fakeAccounts struct {
	accounts map[string]*model.LedgerAccount
}

func (f *fakeAccounts) GetAccount(address string) (*model.LedgerAccount, error) {
	return f.accounts[address], nil
}

func newFakeAccounts(accounts ...*model.LedgerAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*model.LedgerAccount)}
	for _, a := range accounts {
		f.accounts[a.Address] = a
	}
	return f
}

func nativeAccount(address string, balance uint64) *model.LedgerAccount {
	return &model.LedgerAccount{
		Address:      address,
		OwnerProgram: model.OwnerProgramNative,
		Holder:       address,
		Balance:      balance,
	}
}

func tokenAccount(address, holder, currency string, balance uint64) *model.LedgerAccount {
	return &model.LedgerAccount{
		Address:      address,
		OwnerProgram: model.OwnerProgramToken,
		Holder:       holder,
		CurrencyID:   currency,
		Balance:      balance,
	}
}

func TestValidateNative(t *testing.T) {
	cfg := &model.PaymentConfig{
		MachineID:  "machine-1",
		CurrencyID: model.NativeCurrency,
		Price:      100,
		Recipient:  "treasury",
	}

	t.Run("校验通过", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			nativeAccount("alice", 500),
			nativeAccount("treasury", 0),
		))

		transfer, err := p.Validate(&model.PullRequest{
			User:             "alice",
			CurrencyID:       model.NativeCurrency,
			PaymentAccount:   "alice",
			RecipientAccount: "treasury",
		}, cfg)

		require.NoError(t, err)
		assert.Equal(t, "alice", transfer.From)
		assert.Equal(t, "treasury", transfer.To)
		assert.Equal(t, model.NativeCurrency, transfer.CurrencyID)
		assert.Equal(t, uint64(100), transfer.Amount)
	})

	t.Run("余额不足", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			nativeAccount("alice", 99),
			nativeAccount("treasury", 0),
		))

		_, err := p.Validate(&model.PullRequest{
			User:             "alice",
			PaymentAccount:   "alice",
			RecipientAccount: "treasury",
		}, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrInsufficientFunds)
	})

	t.Run("付款账户不是用户本人", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(nativeAccount("bob", 500)))

		_, err := p.Validate(&model.PullRequest{
			User:             "alice",
			PaymentAccount:   "bob",
			RecipientAccount: "treasury",
		}, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrAccountMismatch)
	})

	t.Run("收款账户与配置不符", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(nativeAccount("alice", 500)))

		_, err := p.Validate(&model.PullRequest{
			User:             "alice",
			PaymentAccount:   "alice",
			RecipientAccount: "someone-else",
		}, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrAccountMismatch)
	})

	t.Run("付款账户归属程序错误", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(tokenAccount("alice", "alice", "usd", 500)))

		_, err := p.Validate(&model.PullRequest{
			User:             "alice",
			PaymentAccount:   "alice",
			RecipientAccount: "treasury",
		}, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrIncorrectOwner)
	})

	t.Run("收款账户归属程序错误", func(t *testing.T) {
		// 收款人地址在账本上是代币账户，原生支付必须拒绝
		p := NewProcessor(newFakeAccounts(
			nativeAccount("alice", 500),
			tokenAccount("treasury", "house", "usd", 0),
		))

		_, err := p.Validate(&model.PullRequest{
			User:             "alice",
			PaymentAccount:   "alice",
			RecipientAccount: "treasury",
		}, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrIncorrectOwner)
	})
}

func TestValidateToken(t *testing.T) {
	cfg := &model.PaymentConfig{
		MachineID:  "machine-1",
		CurrencyID: "usd",
		Price:      50,
		Recipient:  "treasury-usd",
	}

	validRequest := func() *model.PullRequest {
		return &model.PullRequest{
			User:             "alice",
			CurrencyID:       "usd",
			PaymentAccount:   "alice-usd",
			RecipientAccount: "treasury-usd",
			CurrencyAccount:  "usd",
		}
	}

	fullLedger := func() *fakeAccounts {
		return newFakeAccounts(
			tokenAccount("usd", "issuer", "usd", 0),
			tokenAccount("alice-usd", "alice", "usd", 200),
			tokenAccount("treasury-usd", "house", "usd", 0),
		)
	}

	t.Run("校验通过", func(t *testing.T) {
		p := NewProcessor(fullLedger())

		transfer, err := p.Validate(validRequest(), cfg)

		require.NoError(t, err)
		assert.Equal(t, "alice-usd", transfer.From)
		assert.Equal(t, "treasury-usd", transfer.To)
		assert.Equal(t, "usd", transfer.CurrencyID)
		assert.Equal(t, uint64(50), transfer.Amount)
	})

	t.Run("缺少币种描述账户", func(t *testing.T) {
		p := NewProcessor(fullLedger())

		req := validRequest()
		req.CurrencyAccount = ""
		_, err := p.Validate(req, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrTokenProgramMissing)
	})

	t.Run("币种描述账户与配置不符", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			tokenAccount("eur", "issuer", "eur", 0),
			tokenAccount("alice-usd", "alice", "usd", 200),
			tokenAccount("treasury-usd", "house", "usd", 0),
		))

		req := validRequest()
		req.CurrencyAccount = "eur"
		_, err := p.Validate(req, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrMintMismatch)
	})

	t.Run("付款账户币种不符", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			tokenAccount("usd", "issuer", "usd", 0),
			tokenAccount("alice-usd", "alice", "eur", 200),
			tokenAccount("treasury-usd", "house", "usd", 0),
		))

		_, err := p.Validate(validRequest(), cfg)

		assert.ErrorIs(t, err, gachaerr.ErrMintMismatch)
	})

	t.Run("付款账户授权人不是用户", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			tokenAccount("usd", "issuer", "usd", 0),
			tokenAccount("alice-usd", "mallory", "usd", 200),
			tokenAccount("treasury-usd", "house", "usd", 0),
		))

		_, err := p.Validate(validRequest(), cfg)

		assert.ErrorIs(t, err, gachaerr.ErrAccountMismatch)
	})

	t.Run("收款账户与配置不符", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			tokenAccount("usd", "issuer", "usd", 0),
			tokenAccount("alice-usd", "alice", "usd", 200),
			tokenAccount("other-usd", "house", "usd", 0),
		))

		req := validRequest()
		req.RecipientAccount = "other-usd"
		_, err := p.Validate(req, cfg)

		assert.ErrorIs(t, err, gachaerr.ErrAccountMismatch)
	})

	t.Run("余额不足", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts(
			tokenAccount("usd", "issuer", "usd", 0),
			tokenAccount("alice-usd", "alice", "usd", 49),
			tokenAccount("treasury-usd", "house", "usd", 0),
		))

		_, err := p.Validate(validRequest(), cfg)

		assert.ErrorIs(t, err, gachaerr.ErrInsufficientFunds)
	})

	t.Run("账户不存在", func(t *testing.T) {
		p := NewProcessor(newFakeAccounts())

		_, err := p.Validate(validRequest(), cfg)

		assert.ErrorIs(t, err, gachaerr.ErrAccountMismatch)
	})
}
