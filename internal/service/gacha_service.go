package service

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/pool"
)

// Store 扭蛋机持久化接口，由MySQL仓库实现
type Store interface {
	InitFactory(admin string) error
	GetFactory() (*model.GachaFactory, error)
	CreateMachine(m *model.GachaMachine, poolRecord []byte) error
	GetMachine(id string) (*model.GachaMachine, error)
	GetMachineForUpdate(id string) (*model.GachaMachine, error)
	UpdateMachine(m *model.GachaMachine, expectedVersion int64) error
	GetPool(machineID string) ([]byte, int64, error)
	UpdatePool(machineID string, record []byte, expectedVersion int64) error
	FinalizeMachine(m *model.GachaMachine, machineVersion int64, record []byte, poolVersion int64) error
	AddPaymentConfig(cfg *model.PaymentConfig) error
	RemovePaymentConfig(machineID, currencyID string) error
	GetPaymentConfig(machineID, currencyID string) (*model.PaymentConfig, error)
	ListPaymentConfigs(machineID string) ([]*model.PaymentConfig, error)
	CreatePull(t *model.Ticket, m *model.GachaMachine, machineVersion int64, transfer *model.Transfer) error
	GetTicket(machineID string, nonce uint64) (*model.Ticket, error)
	SettleTicket(t *model.Ticket, m *model.GachaMachine, machineVersion int64, poolRecord []byte, poolVersion int64) error
	CloseAll(machineID string) (int, error)
	CreateAccount(acc *model.LedgerAccount) error
	GetAccount(address string) (*model.LedgerAccount, error)
}

// MachineCache 扭蛋机状态缓存接口，由Redis仓库实现
type MachineCache interface {
	GetMachineCache(machineID string) (*model.GachaMachine, bool, error)
	SetMachineCache(machine *model.GachaMachine) error
	DeleteMachineCache(machineID string) error
}

// RandomnessOracle 随机数预言机读取接口
type RandomnessOracle interface {
	CurrentSlot() (uint64, error)
	Round(ref string) (*model.OracleRound, error)
}

// PaymentValidator 支付校验接口
type PaymentValidator interface {
	Validate(req *model.PullRequest, cfg *model.PaymentConfig) (*model.Transfer, error)
}

// EventEmitter 事件发送接口，由Kafka生产者实现
type EventEmitter interface {
	SendGachaEvent(event *model.GachaEvent) error
}

// GachaService 扭蛋机核心服务
// 所有多步写操作都委托给仓库的复合事务方法，版本冲突直接向上返回
type GachaService struct {
	store   Store
	cache   MachineCache
	oracle  RandomnessOracle
	payment PaymentValidator
	events  EventEmitter
}

func NewGachaService(
	store Store,
	cache MachineCache,
	oracle RandomnessOracle,
	payment PaymentValidator,
	events EventEmitter,
) *GachaService {
	return &GachaService{
		store:   store,
		cache:   cache,
		oracle:  oracle,
		payment: payment,
		events:  events,
	}
}

// InitFactory 初始化扭蛋机工厂，全局仅执行一次
func (s *GachaService) InitFactory(admin string) error {
	if admin == "" {
		return gachaerr.ErrUnauthorized
	}
	if err := s.store.InitFactory(admin); err != nil {
		return err
	}
	log.Printf("扭蛋机工厂已初始化, 管理员: %s", admin)
	return nil
}

// CreateMachine 创建一台新扭蛋机，初始奖池为空
func (s *GachaService) CreateMachine(admin string) (*model.GachaMachine, error) {
	if admin == "" {
		return nil, gachaerr.ErrUnauthorized
	}
	if _, err := s.store.GetFactory(); err != nil {
		return nil, err
	}

	record, err := pool.NewRecord().Marshal()
	if err != nil {
		return nil, fmt.Errorf("序列化初始奖池失败: %w", err)
	}

	machine := &model.GachaMachine{
		ID:      uuid.NewString(),
		Admin:   admin,
		Version: 1,
	}
	if err := s.store.CreateMachine(machine, record); err != nil {
		return nil, err
	}

	s.emit(&model.GachaEvent{
		Type:      model.EventMachineInitialized,
		MachineID: machine.ID,
		User:      admin,
	})
	log.Printf("扭蛋机 %s 已创建, 管理员: %s", machine.ID, admin)
	return machine, nil
}

// AddPaymentConfig 注册一个币种的支付配置，封盘后不允许
func (s *GachaService) AddPaymentConfig(actor, machineID, currencyID string, price uint64, recipient string) error {
	if currencyID == "" || recipient == "" || price == 0 {
		return gachaerr.ErrInvalidPaymentConfig
	}

	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}
	if machine.IsFinalized {
		return gachaerr.ErrAlreadyFinalized
	}

	cfg := &model.PaymentConfig{
		MachineID:  machineID,
		CurrencyID: currencyID,
		Price:      price,
		Recipient:  recipient,
	}
	if err := s.store.AddPaymentConfig(cfg); err != nil {
		return err
	}

	s.emit(&model.GachaEvent{
		Type:      model.EventPaymentConfigAdded,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"currency": currencyID, "price": strconv.FormatUint(price, 10)},
	})
	return nil
}

// RemovePaymentConfig 删除一个币种的支付配置
// 封盘后也允许删除，管理员用它下线某个支付通道
func (s *GachaService) RemovePaymentConfig(actor, machineID, currencyID string) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}

	if err := s.store.RemovePaymentConfig(machineID, currencyID); err != nil {
		return err
	}

	s.emit(&model.GachaEvent{
		Type:      model.EventPaymentConfigRemoved,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"currency": currencyID},
	})
	return nil
}

// AddKey 向奖池追加一个奖励令牌，仅封盘前允许
func (s *GachaService) AddKey(actor, machineID string, token []byte) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}
	if machine.IsFinalized {
		return gachaerr.ErrAlreadyFinalized
	}

	record, version, err := s.loadPool(machineID)
	if err != nil {
		return err
	}
	if err := record.AppendToken(token); err != nil {
		return err
	}

	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("序列化奖池记录失败: %w", err)
	}
	if err := s.store.UpdatePool(machineID, data, version); err != nil {
		return err
	}

	s.emit(&model.GachaEvent{
		Type:      model.EventKeyAdded,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"keyCount": strconv.Itoa(record.TokenCount())},
	})
	return nil
}

// Finalize 封盘：生成完整剩余索引快照，此后奖池与支付配置冻结
func (s *GachaService) Finalize(actor, machineID string) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}
	if machine.IsFinalized {
		return gachaerr.ErrAlreadyFinalized
	}

	record, poolVersion, err := s.loadPool(machineID)
	if err != nil {
		return err
	}
	if err := record.Finalize(); err != nil {
		return err
	}

	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("序列化奖池记录失败: %w", err)
	}
	if err := s.store.FinalizeMachine(machine, machine.Version, data, poolVersion); err != nil {
		return err
	}

	s.invalidateCache(machineID)
	s.emit(&model.GachaEvent{
		Type:      model.EventMachineFinalized,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"keyCount": strconv.Itoa(record.TokenCount())},
	})
	log.Printf("扭蛋机 %s 已封盘, 奖池令牌数: %d", machineID, record.TokenCount())
	return nil
}

// SetPaused 切换暂停标志，暂停只阻止新的抽取
func (s *GachaService) SetPaused(actor, machineID string, paused bool) error {
	return s.setFlag(actor, machineID, model.EventPausedStateChanged, func(m *model.GachaMachine) {
		m.IsPaused = paused
	}, strconv.FormatBool(paused))
}

// SetHalted 切换停摆标志，停摆只阻止结算
func (s *GachaService) SetHalted(actor, machineID string, halted bool) error {
	return s.setFlag(actor, machineID, model.EventHaltedStateChanged, func(m *model.GachaMachine) {
		m.IsHalted = halted
	}, strconv.FormatBool(halted))
}

func (s *GachaService) setFlag(actor, machineID, eventType string, apply func(*model.GachaMachine), value string) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}

	apply(machine)
	if err := s.store.UpdateMachine(machine, machine.Version); err != nil {
		return err
	}

	s.invalidateCache(machineID)
	s.emit(&model.GachaEvent{
		Type:      eventType,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"value": value},
	})
	return nil
}

// TransferAdmin 移交扭蛋机管理权
func (s *GachaService) TransferAdmin(actor, machineID, newAdmin string) error {
	if newAdmin == "" {
		return gachaerr.ErrUnauthorized
	}

	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}

	machine.Admin = newAdmin
	if err := s.store.UpdateMachine(machine, machine.Version); err != nil {
		return err
	}

	s.invalidateCache(machineID)
	s.emit(&model.GachaEvent{
		Type:      model.EventAdminTransferred,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"newAdmin": newAdmin},
	})
	return nil
}

// ReleaseDecryptionKey 释放解密密钥
// 仅当全部抽取都已结算后允许，保证没有未揭晓的结果
func (s *GachaService) ReleaseDecryptionKey(actor, machineID string, key []byte) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}
	if !machine.IsFinalized {
		return gachaerr.ErrNotFinalized
	}

	record, version, err := s.loadPool(machineID)
	if err != nil {
		return err
	}
	if machine.SettleCount != uint64(record.TokenCount()) {
		return gachaerr.ErrGachaNotComplete
	}

	if err := record.SetDecryptionKey(key); err != nil {
		return err
	}
	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("序列化奖池记录失败: %w", err)
	}
	if err := s.store.UpdatePool(machineID, data, version); err != nil {
		return err
	}

	s.emit(&model.GachaEvent{
		Type:      model.EventDecryptionKeyReleased,
		MachineID: machineID,
		User:      actor,
	})
	log.Printf("扭蛋机 %s 的解密密钥已释放", machineID)
	return nil
}

// Pull 抽取：支付并登记一次抽取，结果留待结算时揭晓
// 随机数轮次必须锚定在上一槽位，保证用户无法预知揭示值
func (s *GachaService) Pull(req *model.PullRequest) (*model.PullResponse, error) {
	machine, err := s.store.GetMachineForUpdate(req.MachineID)
	if err != nil {
		return nil, err
	}
	if !machine.IsFinalized {
		return nil, gachaerr.ErrNotFinalized
	}
	if machine.IsPaused {
		return nil, gachaerr.ErrGachaPaused
	}

	record, _, err := s.loadPool(req.MachineID)
	if err != nil {
		return nil, err
	}
	// 剩余奖品数必须大于未结算的抽取数，否则新抽取无奖可兑
	pending := machine.PullCount - machine.SettleCount
	if uint64(record.RemainingCount()) <= pending {
		return nil, gachaerr.ErrGachaIsEmpty
	}

	cfg, err := s.store.GetPaymentConfig(req.MachineID, req.CurrencyID)
	if err != nil {
		return nil, err
	}

	round, err := s.oracle.Round(req.RandomnessRef)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, gachaerr.ErrInvalidRandomnessAccount
	}
	currentSlot, err := s.oracle.CurrentSlot()
	if err != nil {
		return nil, err
	}
	if currentSlot == 0 || round.Slot != currentSlot-1 {
		return nil, gachaerr.ErrRandomnessNotCurrent
	}

	transfer, err := s.payment.Validate(req, cfg)
	if err != nil {
		return nil, err
	}

	ticket := &model.Ticket{
		MachineID:     req.MachineID,
		Nonce:         machine.PullCount,
		User:          req.User,
		RandomnessRef: round.Ref,
		CurrencyID:    cfg.CurrencyID,
		PullSlot:      currentSlot,
	}
	if err := s.store.CreatePull(ticket, machine, machine.Version, transfer); err != nil {
		return nil, err
	}

	s.invalidateCache(req.MachineID)
	s.emit(&model.GachaEvent{
		Type:      model.EventPullResult,
		MachineID: req.MachineID,
		User:      req.User,
		Payload: map[string]string{
			"nonce":    strconv.FormatUint(ticket.Nonce, 10),
			"pullSlot": strconv.FormatUint(ticket.PullSlot, 10),
			"currency": cfg.CurrencyID,
			"price":    strconv.FormatUint(cfg.Price, 10),
		},
	})

	return &model.PullResponse{
		Success:   true,
		Message:   "抽取成功，等待随机数揭示后结算",
		Nonce:     ticket.Nonce,
		PullSlot:  ticket.PullSlot,
		Timestamp: time.Now(),
	}, nil
}

// Settle 结算：用揭示后的随机数从奖池抽走一个奖品并写入抽取记录
func (s *GachaService) Settle(req *model.SettleRequest) (*model.SettleResponse, error) {
	ticket, err := s.store.GetTicket(req.MachineID, req.Nonce)
	if err != nil {
		return nil, err
	}
	if ticket.IsSettled {
		return nil, gachaerr.ErrAlreadySettled
	}

	machine, err := s.store.GetMachineForUpdate(req.MachineID)
	if err != nil {
		return nil, err
	}
	if !machine.IsFinalized {
		return nil, gachaerr.ErrNotFinalized
	}
	if machine.IsHalted {
		return nil, gachaerr.ErrGachaHalted
	}

	currentSlot, err := s.oracle.CurrentSlot()
	if err != nil {
		return nil, err
	}
	if currentSlot <= ticket.PullSlot {
		return nil, gachaerr.ErrSlotNotPassed
	}

	round, err := s.oracle.Round(ticket.RandomnessRef)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, gachaerr.ErrInvalidRandomnessAccount
	}
	if !round.Resolved() {
		return nil, gachaerr.ErrRandomnessNotResolved
	}
	if len(round.Value) < 8 {
		return nil, gachaerr.ErrInvalidRandomnessValue
	}
	random := binary.LittleEndian.Uint64(round.Value[:8])

	record, poolVersion, err := s.loadPool(req.MachineID)
	if err != nil {
		return nil, err
	}
	index, token, err := record.Draw(random)
	if err != nil {
		return nil, err
	}

	data, err := record.Marshal()
	if err != nil {
		return nil, fmt.Errorf("序列化奖池记录失败: %w", err)
	}

	ticket.IsSettled = true
	ticket.ResultIndex = index
	ticket.RewardToken = token
	if err := s.store.SettleTicket(ticket, machine, machine.Version, data, poolVersion); err != nil {
		return nil, err
	}

	s.invalidateCache(req.MachineID)
	s.emit(&model.GachaEvent{
		Type:      model.EventSettleResult,
		MachineID: req.MachineID,
		User:      ticket.User,
		Payload: map[string]string{
			"nonce":       strconv.FormatUint(ticket.Nonce, 10),
			"resultIndex": strconv.FormatUint(uint64(index), 10),
			"rewardToken": hex.EncodeToString(token),
		},
	})

	return &model.SettleResponse{
		Success:     true,
		Message:     "结算成功",
		ResultIndex: index,
		RewardToken: hex.EncodeToString(token),
		Timestamp:   time.Now(),
	}, nil
}

// CloseAll 关停扭蛋机并释放全部存储
// 不以结算完成为前提：残留的未结算抽取会被直接丢弃，只留日志
func (s *GachaService) CloseAll(actor, machineID string) error {
	machine, err := s.store.GetMachineForUpdate(machineID)
	if err != nil {
		return err
	}
	if machine.Admin != actor {
		return gachaerr.ErrUnauthorized
	}

	unsettled, err := s.store.CloseAll(machineID)
	if err != nil {
		return err
	}
	if unsettled > 0 {
		log.Printf("警告: 扭蛋机 %s 关停时丢弃了 %d 笔未结算的抽取", machineID, unsettled)
	}

	s.invalidateCache(machineID)
	s.emit(&model.GachaEvent{
		Type:      model.EventMachineClosed,
		MachineID: machineID,
		User:      actor,
		Payload:   map[string]string{"unsettled": strconv.Itoa(unsettled)},
	})
	log.Printf("扭蛋机 %s 已关停", machineID)
	return nil
}

// Machine 查询扭蛋机状态，优先走缓存
func (s *GachaService) Machine(machineID string) (*model.GachaMachine, error) {
	if cached, hit, err := s.cache.GetMachineCache(machineID); err == nil && hit {
		return cached, nil
	}

	machine, err := s.store.GetMachine(machineID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetMachineCache(machine); err != nil {
		log.Printf("写入扭蛋机缓存失败: %v", err)
	}
	return machine, nil
}

// Ticket 查询抽取记录
func (s *GachaService) Ticket(machineID string, nonce uint64) (*model.Ticket, error) {
	return s.store.GetTicket(machineID, nonce)
}

// PaymentConfigs 查询扭蛋机的全部支付配置
func (s *GachaService) PaymentConfigs(machineID string) ([]*model.PaymentConfig, error) {
	return s.store.ListPaymentConfigs(machineID)
}

// PoolStatus 查询奖池状态
func (s *GachaService) PoolStatus(machineID string) (*pool.Record, error) {
	record, _, err := s.loadPool(machineID)
	return record, err
}

// Factory 查询工厂记录
func (s *GachaService) Factory() (*model.GachaFactory, error) {
	return s.store.GetFactory()
}

// CreateAccount 创建账本账户，运维铺底用
func (s *GachaService) CreateAccount(acc *model.LedgerAccount) error {
	return s.store.CreateAccount(acc)
}

// Account 查询账本账户
func (s *GachaService) Account(address string) (*model.LedgerAccount, error) {
	return s.store.GetAccount(address)
}

func (s *GachaService) loadPool(machineID string) (*pool.Record, int64, error) {
	data, version, err := s.store.GetPool(machineID)
	if err != nil {
		return nil, 0, err
	}
	record, err := pool.Unmarshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("解析奖池记录失败: %w", err)
	}
	return record, version, nil
}

func (s *GachaService) invalidateCache(machineID string) {
	if err := s.cache.DeleteMachineCache(machineID); err != nil {
		log.Printf("删除扭蛋机缓存失败: %v", err)
	}
}

// emit 事件只用于观测，发送失败不影响主流程
func (s *GachaService) emit(event *model.GachaEvent) {
	event.EmittedAt = time.Now()
	if err := s.events.SendGachaEvent(event); err != nil {
		log.Printf("发送扭蛋事件 %s 失败: %v", event.Type, err)
	}
}
