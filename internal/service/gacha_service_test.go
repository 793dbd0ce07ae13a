package service

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/payment"
)

// ---- 内存实现，仅用于测试 ----

type fakeStore struct {
	factory      *model.GachaFactory
	machines     map[string]*model.GachaMachine
	pools        map[string][]byte
	poolVersions map[string]int64
	configs      map[string]*model.PaymentConfig // key: machineID/currencyID
	tickets      map[string]*model.Ticket        // key: machineID/nonce
	accounts     map[string]*model.LedgerAccount
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		machines:     make(map[string]*model.GachaMachine),
		pools:        make(map[string][]byte),
		poolVersions: make(map[string]int64),
		configs:      make(map[string]*model.PaymentConfig),
		tickets:      make(map[string]*model.Ticket),
		accounts:     make(map[string]*model.LedgerAccount),
	}
}

func cfgKey(machineID, currencyID string) string { return machineID + "/" + currencyID }
func ticketKey(machineID string, nonce uint64) string {
	return fmt.Sprintf("%s/%d", machineID, nonce)
}

func (f *fakeStore) InitFactory(admin string) error {
	if f.factory != nil {
		return gachaerr.ErrFactoryExists
	}
	f.factory = &model.GachaFactory{Admin: admin}
	return nil
}

func (f *fakeStore) GetFactory() (*model.GachaFactory, error) {
	if f.factory == nil {
		return nil, gachaerr.ErrFactoryNotFound
	}
	return f.factory, nil
}

func (f *fakeStore) CreateMachine(m *model.GachaMachine, poolRecord []byte) error {
	if f.factory == nil {
		return gachaerr.ErrFactoryNotFound
	}
	cp := *m
	f.machines[m.ID] = &cp
	f.pools[m.ID] = poolRecord
	f.poolVersions[m.ID] = 1
	f.factory.MachineCount++
	return nil
}

func (f *fakeStore) GetMachine(id string) (*model.GachaMachine, error) {
	m, ok := f.machines[id]
	if !ok {
		return nil, gachaerr.ErrMachineNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) GetMachineForUpdate(id string) (*model.GachaMachine, error) {
	return f.GetMachine(id)
}

func (f *fakeStore) UpdateMachine(m *model.GachaMachine, expectedVersion int64) error {
	stored, ok := f.machines[m.ID]
	if !ok || stored.Version != expectedVersion {
		return gachaerr.ErrVersionConflict
	}
	cp := *m
	cp.Version = expectedVersion + 1
	f.machines[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetPool(machineID string) ([]byte, int64, error) {
	data, ok := f.pools[machineID]
	if !ok {
		return nil, 0, gachaerr.ErrMachineNotFound
	}
	return data, f.poolVersions[machineID], nil
}

func (f *fakeStore) UpdatePool(machineID string, record []byte, expectedVersion int64) error {
	if f.poolVersions[machineID] != expectedVersion {
		return gachaerr.ErrVersionConflict
	}
	f.pools[machineID] = record
	f.poolVersions[machineID] = expectedVersion + 1
	return nil
}

func (f *fakeStore) FinalizeMachine(m *model.GachaMachine, machineVersion int64, record []byte, poolVersion int64) error {
	stored, ok := f.machines[m.ID]
	if !ok || stored.Version != machineVersion || stored.IsFinalized {
		return gachaerr.ErrVersionConflict
	}
	if err := f.UpdatePool(m.ID, record, poolVersion); err != nil {
		return err
	}
	stored.IsFinalized = true
	stored.Version++
	return nil
}

func (f *fakeStore) AddPaymentConfig(cfg *model.PaymentConfig) error {
	key := cfgKey(cfg.MachineID, cfg.CurrencyID)
	if _, ok := f.configs[key]; ok {
		return gachaerr.ErrDuplicateCurrency
	}
	cp := *cfg
	f.configs[key] = &cp
	return nil
}

func (f *fakeStore) RemovePaymentConfig(machineID, currencyID string) error {
	key := cfgKey(machineID, currencyID)
	if _, ok := f.configs[key]; !ok {
		return gachaerr.ErrInvalidPaymentConfig
	}
	delete(f.configs, key)
	return nil
}

func (f *fakeStore) GetPaymentConfig(machineID, currencyID string) (*model.PaymentConfig, error) {
	cfg, ok := f.configs[cfgKey(machineID, currencyID)]
	if !ok {
		return nil, gachaerr.ErrInvalidPaymentConfig
	}
	cp := *cfg
	return &cp, nil
}

func (f *fakeStore) ListPaymentConfigs(machineID string) ([]*model.PaymentConfig, error) {
	var out []*model.PaymentConfig
	for _, cfg := range f.configs {
		if cfg.MachineID == machineID {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePull(t *model.Ticket, m *model.GachaMachine, machineVersion int64, transfer *model.Transfer) error {
	from, ok := f.accounts[transfer.From]
	if !ok || from.Balance < transfer.Amount {
		return gachaerr.ErrInsufficientFunds
	}
	to, ok := f.accounts[transfer.To]
	if !ok {
		return gachaerr.ErrAccountMismatch
	}
	stored, ok := f.machines[t.MachineID]
	if !ok || stored.Version != machineVersion {
		return gachaerr.ErrVersionConflict
	}
	from.Balance -= transfer.Amount
	to.Balance += transfer.Amount
	cp := *t
	f.tickets[ticketKey(t.MachineID, t.Nonce)] = &cp
	stored.PullCount++
	stored.Version++
	return nil
}

func (f *fakeStore) GetTicket(machineID string, nonce uint64) (*model.Ticket, error) {
	t, ok := f.tickets[ticketKey(machineID, nonce)]
	if !ok {
		return nil, gachaerr.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) SettleTicket(t *model.Ticket, m *model.GachaMachine, machineVersion int64, poolRecord []byte, poolVersion int64) error {
	stored, ok := f.tickets[ticketKey(t.MachineID, t.Nonce)]
	if !ok || stored.IsSettled {
		return gachaerr.ErrAlreadySettled
	}
	machine, ok := f.machines[t.MachineID]
	if !ok || machine.Version != machineVersion {
		return gachaerr.ErrVersionConflict
	}
	if err := f.UpdatePool(t.MachineID, poolRecord, poolVersion); err != nil {
		return err
	}
	stored.IsSettled = true
	stored.ResultIndex = t.ResultIndex
	stored.RewardToken = t.RewardToken
	machine.SettleCount++
	machine.Version++
	return nil
}

func (f *fakeStore) CloseAll(machineID string) (int, error) {
	if _, ok := f.machines[machineID]; !ok {
		return 0, gachaerr.ErrMachineNotFound
	}
	unsettled := 0
	for key, t := range f.tickets {
		if t.MachineID == machineID {
			if !t.IsSettled {
				unsettled++
			}
			delete(f.tickets, key)
		}
	}
	for key, cfg := range f.configs {
		if cfg.MachineID == machineID {
			delete(f.configs, key)
		}
	}
	delete(f.pools, machineID)
	delete(f.poolVersions, machineID)
	delete(f.machines, machineID)
	f.factory.MachineCount--
	return unsettled, nil
}

func (f *fakeStore) CreateAccount(acc *model.LedgerAccount) error {
	cp := *acc
	f.accounts[acc.Address] = &cp
	return nil
}

func (f *fakeStore) GetAccount(address string) (*model.LedgerAccount, error) {
	acc, ok := f.accounts[address]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

type fakeCache struct{}

func (fakeCache) GetMachineCache(string) (*model.GachaMachine, bool, error) { return nil, false, nil }
func (fakeCache) SetMachineCache(*model.GachaMachine) error                 { return nil }
func (fakeCache) DeleteMachineCache(string) error                           { return nil }

// fakeOracle 可手动推进槽位、锚定和揭示轮次
type fakeOracle struct {
	slot   uint64
	rounds map[string]*model.OracleRound
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{rounds: make(map[string]*model.OracleRound)}
}

func (f *fakeOracle) CurrentSlot() (uint64, error) { return f.slot, nil }

func (f *fakeOracle) Round(ref string) (*model.OracleRound, error) {
	return f.rounds[ref], nil
}

// anchor 推进一个槽位并在新槽位锚定一个轮次，返回轮次引用
func (f *fakeOracle) anchor(seed byte) string {
	f.slot++
	ref := fmt.Sprintf("round-%d", f.slot)
	f.rounds[ref] = &model.OracleRound{
		Ref:  ref,
		Slot: f.slot,
		Seed: []byte{seed},
	}
	return ref
}

// reveal 揭示指定轮次
func (f *fakeOracle) reveal(ref string) {
	round := f.rounds[ref]
	value := sha256.Sum256(round.Seed)
	round.Value = value[:]
}

type fakeEmitter struct {
	events []*model.GachaEvent
}

func (f *fakeEmitter) SendGachaEvent(event *model.GachaEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) lastType() string {
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1].Type
}

// ---- 测试脚手架 ----

const (
	adminAlice = "alice"
	userBob    = "bob"
	treasury   = "treasury"
)

type fixture struct {
	store   *fakeStore
	oracle  *fakeOracle
	emitter *fakeEmitter
	svc     *GachaService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	oracle := newFakeOracle()
	emitter := &fakeEmitter{}
	svc := NewGachaService(store, fakeCache{}, oracle, payment.NewProcessor(store), emitter)

	require.NoError(t, svc.InitFactory(adminAlice))
	require.NoError(t, svc.CreateAccount(&model.LedgerAccount{
		Address: userBob, OwnerProgram: model.OwnerProgramNative, Holder: userBob, Balance: 10000,
	}))
	require.NoError(t, svc.CreateAccount(&model.LedgerAccount{
		Address: treasury, OwnerProgram: model.OwnerProgramNative, Holder: treasury,
	}))

	return &fixture{store: store, oracle: oracle, emitter: emitter, svc: svc}
}

// newMachine 创建扭蛋机并添加keys个奖励令牌，finalize控制是否封盘
func (f *fixture) newMachine(t *testing.T, keys int, finalize bool) *model.GachaMachine {
	t.Helper()

	machine, err := f.svc.CreateMachine(adminAlice)
	require.NoError(t, err)

	require.NoError(t, f.svc.AddPaymentConfig(adminAlice, machine.ID, model.NativeCurrency, 100, treasury))
	for i := 0; i < keys; i++ {
		require.NoError(t, f.svc.AddKey(adminAlice, machine.ID, []byte(fmt.Sprintf("prize-%d", i))))
	}
	if finalize {
		require.NoError(t, f.svc.Finalize(adminAlice, machine.ID))
	}
	return machine
}

func (f *fixture) pullRequest(machineID, ref string) *model.PullRequest {
	return &model.PullRequest{
		MachineID:        machineID,
		User:             userBob,
		CurrencyID:       model.NativeCurrency,
		PaymentAccount:   userBob,
		RecipientAccount: treasury,
		RandomnessRef:    ref,
	}
}

// pull 在最新锚定的轮次上完成一次抽取
func (f *fixture) pull(t *testing.T, machineID string) (*model.PullResponse, string) {
	t.Helper()

	ref := f.oracle.anchor(byte(f.oracle.slot))
	f.oracle.slot++ // 抽取发生在锚定之后的下一个槽位
	resp, err := f.svc.Pull(f.pullRequest(machineID, ref))
	require.NoError(t, err)
	return resp, ref
}

// ---- 测试 ----

func TestPullAndSettleHappyPath(t *testing.T) {
	f := newFixture(t)
	machine := f.newMachine(t, 3, true)

	resp, ref := f.pull(t, machine.ID)
	assert.Equal(t, uint64(0), resp.Nonce)

	// 结算前必须等待抽取槽位过去且随机数已揭示
	f.oracle.slot++
	f.oracle.reveal(ref)

	settle, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
	require.NoError(t, err)
	assert.Less(t, settle.ResultIndex, uint16(3))
	assert.NotEmpty(t, settle.RewardToken)

	// 支付已入账
	acc, err := f.svc.Account(treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)

	m, err := f.svc.Machine(machine.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.PullCount)
	assert.Equal(t, uint64(1), m.SettleCount)
	assert.Equal(t, model.EventSettleResult, f.emitter.lastType())
}

func TestPullGuards(t *testing.T) {
	f := newFixture(t)

	t.Run("未封盘不能抽取", func(t *testing.T) {
		machine := f.newMachine(t, 1, false)
		ref := f.oracle.anchor(1)
		f.oracle.slot++
		_, err := f.svc.Pull(f.pullRequest(machine.ID, ref))
		assert.ErrorIs(t, err, gachaerr.ErrNotFinalized)
	})

	t.Run("暂停后不能抽取", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		require.NoError(t, f.svc.SetPaused(adminAlice, machine.ID, true))
		ref := f.oracle.anchor(1)
		f.oracle.slot++
		_, err := f.svc.Pull(f.pullRequest(machine.ID, ref))
		assert.ErrorIs(t, err, gachaerr.ErrGachaPaused)

		// 取消暂停后恢复
		require.NoError(t, f.svc.SetPaused(adminAlice, machine.ID, false))
		ref = f.oracle.anchor(2)
		f.oracle.slot++
		_, err = f.svc.Pull(f.pullRequest(machine.ID, ref))
		assert.NoError(t, err)
	})

	t.Run("未注册币种不能支付", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		ref := f.oracle.anchor(1)
		f.oracle.slot++
		req := f.pullRequest(machine.ID, ref)
		req.CurrencyID = "unknown"
		_, err := f.svc.Pull(req)
		assert.ErrorIs(t, err, gachaerr.ErrInvalidPaymentConfig)
	})

	t.Run("随机数轮次过期", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		ref := f.oracle.anchor(1)
		f.oracle.slot += 2 // 多过了一个槽位，轮次不再新鲜
		_, err := f.svc.Pull(f.pullRequest(machine.ID, ref))
		assert.ErrorIs(t, err, gachaerr.ErrRandomnessNotCurrent)
	})

	t.Run("随机数轮次不存在", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		f.oracle.anchor(1)
		f.oracle.slot++
		_, err := f.svc.Pull(f.pullRequest(machine.ID, "no-such-round"))
		assert.ErrorIs(t, err, gachaerr.ErrInvalidRandomnessAccount)
	})

	t.Run("奖池抽空后不能超卖", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		f.pull(t, machine.ID)

		// 唯一的奖品已被未结算的抽取占用
		ref := f.oracle.anchor(9)
		f.oracle.slot++
		_, err := f.svc.Pull(f.pullRequest(machine.ID, ref))
		assert.ErrorIs(t, err, gachaerr.ErrGachaIsEmpty)
	})

	t.Run("余额不足", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		require.NoError(t, f.svc.CreateAccount(&model.LedgerAccount{
			Address: "poor", OwnerProgram: model.OwnerProgramNative, Holder: "poor", Balance: 1,
		}))
		ref := f.oracle.anchor(1)
		f.oracle.slot++
		req := f.pullRequest(machine.ID, ref)
		req.User = "poor"
		req.PaymentAccount = "poor"
		_, err := f.svc.Pull(req)
		assert.ErrorIs(t, err, gachaerr.ErrInsufficientFunds)
	})
}

func TestSettleGuards(t *testing.T) {
	f := newFixture(t)

	t.Run("槽位未过不能结算", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		resp, ref := f.pull(t, machine.ID)
		f.oracle.reveal(ref)

		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.ErrorIs(t, err, gachaerr.ErrSlotNotPassed)
	})

	t.Run("随机数未揭示不能结算", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		resp, _ := f.pull(t, machine.ID)
		f.oracle.slot++

		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.ErrorIs(t, err, gachaerr.ErrRandomnessNotResolved)
	})

	t.Run("停摆后不能结算", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		resp, ref := f.pull(t, machine.ID)
		f.oracle.slot++
		f.oracle.reveal(ref)
		require.NoError(t, f.svc.SetHalted(adminAlice, machine.ID, true))

		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.ErrorIs(t, err, gachaerr.ErrGachaHalted)

		// 解除停摆后可以结算
		require.NoError(t, f.svc.SetHalted(adminAlice, machine.ID, false))
		_, err = f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.NoError(t, err)
	})

	t.Run("重复结算", func(t *testing.T) {
		machine := f.newMachine(t, 2, true)
		resp, ref := f.pull(t, machine.ID)
		f.oracle.slot++
		f.oracle.reveal(ref)

		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		require.NoError(t, err)
		_, err = f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.ErrorIs(t, err, gachaerr.ErrAlreadySettled)
	})

	t.Run("随机数值过短", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)
		resp, ref := f.pull(t, machine.ID)
		f.oracle.slot++
		f.oracle.rounds[ref].Value = []byte{1, 2, 3} // 不足8字节

		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		assert.ErrorIs(t, err, gachaerr.ErrInvalidRandomnessValue)
	})
}

func TestEveryPrizeDrawnExactlyOnce(t *testing.T) {
	f := newFixture(t)
	const keys = 5
	machine := f.newMachine(t, keys, true)

	seen := make(map[uint16]bool)
	for i := 0; i < keys; i++ {
		resp, ref := f.pull(t, machine.ID)
		f.oracle.slot++
		f.oracle.reveal(ref)

		settle, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		require.NoError(t, err)
		assert.False(t, seen[settle.ResultIndex], "奖品索引 %d 被抽出了两次", settle.ResultIndex)
		seen[settle.ResultIndex] = true
	}

	assert.Len(t, seen, keys)
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)

	t.Run("非管理员被拒绝", func(t *testing.T) {
		machine := f.newMachine(t, 1, false)

		assert.ErrorIs(t, f.svc.AddKey("mallory", machine.ID, []byte("x")), gachaerr.ErrUnauthorized)
		assert.ErrorIs(t, f.svc.Finalize("mallory", machine.ID), gachaerr.ErrUnauthorized)
		assert.ErrorIs(t, f.svc.SetPaused("mallory", machine.ID, true), gachaerr.ErrUnauthorized)
		assert.ErrorIs(t, f.svc.CloseAll("mallory", machine.ID), gachaerr.ErrUnauthorized)
	})

	t.Run("封盘后冻结奖池和支付配置", func(t *testing.T) {
		machine := f.newMachine(t, 1, true)

		assert.ErrorIs(t, f.svc.AddKey(adminAlice, machine.ID, []byte("late")), gachaerr.ErrAlreadyFinalized)
		assert.ErrorIs(t, f.svc.Finalize(adminAlice, machine.ID), gachaerr.ErrAlreadyFinalized)
		assert.ErrorIs(t,
			f.svc.AddPaymentConfig(adminAlice, machine.ID, "usd", 5, treasury),
			gachaerr.ErrAlreadyFinalized)
	})

	t.Run("空奖池不能封盘", func(t *testing.T) {
		machine := f.newMachine(t, 0, false)
		assert.ErrorIs(t, f.svc.Finalize(adminAlice, machine.ID), gachaerr.ErrEmptyPool)
	})

	t.Run("重复币种被拒绝", func(t *testing.T) {
		machine := f.newMachine(t, 1, false)
		err := f.svc.AddPaymentConfig(adminAlice, machine.ID, model.NativeCurrency, 50, treasury)
		assert.ErrorIs(t, err, gachaerr.ErrDuplicateCurrency)
	})

	t.Run("移交管理权", func(t *testing.T) {
		machine := f.newMachine(t, 1, false)
		require.NoError(t, f.svc.TransferAdmin(adminAlice, machine.ID, "carol"))

		// 原管理员失效，新管理员生效
		assert.ErrorIs(t, f.svc.AddKey(adminAlice, machine.ID, []byte("x")), gachaerr.ErrUnauthorized)
		assert.NoError(t, f.svc.AddKey("carol", machine.ID, []byte("x")))
	})
}

func TestReleaseDecryptionKey(t *testing.T) {
	f := newFixture(t)
	machine := f.newMachine(t, 1, true)

	t.Run("未结清不能释放", func(t *testing.T) {
		err := f.svc.ReleaseDecryptionKey(adminAlice, machine.ID, []byte("secret"))
		assert.ErrorIs(t, err, gachaerr.ErrGachaNotComplete)
	})

	t.Run("全部结清后释放", func(t *testing.T) {
		resp, ref := f.pull(t, machine.ID)
		f.oracle.slot++
		f.oracle.reveal(ref)
		_, err := f.svc.Settle(&model.SettleRequest{MachineID: machine.ID, Nonce: resp.Nonce})
		require.NoError(t, err)

		require.NoError(t, f.svc.ReleaseDecryptionKey(adminAlice, machine.ID, []byte("secret")))

		record, err := f.svc.PoolStatus(machine.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), record.DecryptionKey())
	})
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	machine := f.newMachine(t, 2, true)

	// 留下一笔未结算的抽取再关停
	f.pull(t, machine.ID)
	require.NoError(t, f.svc.CloseAll(adminAlice, machine.ID))

	_, err := f.svc.Machine(machine.ID)
	assert.ErrorIs(t, err, gachaerr.ErrMachineNotFound)
	_, err = f.svc.Ticket(machine.ID, 0)
	assert.ErrorIs(t, err, gachaerr.ErrTicketNotFound)
	assert.Equal(t, model.EventMachineClosed, f.emitter.lastType())
}

func TestInitFactoryOnlyOnce(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.InitFactory(adminAlice), gachaerr.ErrFactoryExists)
}
