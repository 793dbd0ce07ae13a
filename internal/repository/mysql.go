package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
)

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// InitFactory 初始化扭蛋机工厂（全局仅一次）
func (r *MySQLRepository) InitFactory(admin string) error {
	result, err := r.masterDB.Exec(
		"INSERT IGNORE INTO gacha_factory (id, admin, machine_count) VALUES (1, ?, 0)", admin)
	if err != nil {
		return fmt.Errorf("初始化工厂失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取初始化结果失败: %w", err)
	}
	if rows == 0 {
		return gachaerr.ErrFactoryExists
	}
	return nil
}

// GetFactory 获取工厂记录
func (r *MySQLRepository) GetFactory() (*model.GachaFactory, error) {
	var factory model.GachaFactory
	err := r.slaveDB.QueryRow(
		"SELECT admin, machine_count, created_at FROM gacha_factory WHERE id = 1").
		Scan(&factory.Admin, &factory.MachineCount, &factory.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gachaerr.ErrFactoryNotFound
		}
		return nil, fmt.Errorf("查询工厂记录失败: %w", err)
	}
	return &factory, nil
}

// CreateMachine 创建扭蛋机：主记录、空奖池记录、工厂计数在同一事务内写入
func (r *MySQLRepository) CreateMachine(m *model.GachaMachine, poolRecord []byte) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO gacha_machines
		 (id, admin, is_finalized, is_paused, is_halted, pull_count, settle_count, version)
		 VALUES (?, ?, 0, 0, 0, 0, 0, 1)`,
		m.ID, m.Admin)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("创建扭蛋机记录失败: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO gacha_pools (machine_id, record, version) VALUES (?, ?, 1)",
		m.ID, poolRecord)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("创建奖池记录失败: %w", err)
	}

	result, err := tx.Exec("UPDATE gacha_factory SET machine_count = machine_count + 1 WHERE id = 1")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新工厂计数失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("获取工厂计数更新结果失败: %w", err)
	}
	if rows == 0 {
		tx.Rollback()
		return gachaerr.ErrFactoryNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// GetMachine 获取扭蛋机主记录
func (r *MySQLRepository) GetMachine(id string) (*model.GachaMachine, error) {
	return scanMachine(r.slaveDB.QueryRow(
		`SELECT id, admin, is_finalized, is_paused, is_halted,
		        pull_count, settle_count, version, created_at, updated_at
		 FROM gacha_machines WHERE id = ?`, id))
}

// GetMachineForUpdate 从主库读取扭蛋机主记录，用于读后改写的操作
func (r *MySQLRepository) GetMachineForUpdate(id string) (*model.GachaMachine, error) {
	return scanMachine(r.masterDB.QueryRow(
		`SELECT id, admin, is_finalized, is_paused, is_halted,
		        pull_count, settle_count, version, created_at, updated_at
		 FROM gacha_machines WHERE id = ?`, id))
}

func scanMachine(row *sql.Row) (*model.GachaMachine, error) {
	var m model.GachaMachine
	err := row.Scan(&m.ID, &m.Admin, &m.IsFinalized, &m.IsPaused, &m.IsHalted,
		&m.PullCount, &m.SettleCount, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gachaerr.ErrMachineNotFound
		}
		return nil, fmt.Errorf("查询扭蛋机记录失败: %w", err)
	}
	return &m, nil
}

// UpdateMachine 整条改写扭蛋机主记录，带乐观版本检查
func (r *MySQLRepository) UpdateMachine(m *model.GachaMachine, expectedVersion int64) error {
	result, err := r.masterDB.Exec(
		`UPDATE gacha_machines
		 SET admin = ?, is_finalized = ?, is_paused = ?, is_halted = ?,
		     pull_count = ?, settle_count = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		m.Admin, m.IsFinalized, m.IsPaused, m.IsHalted,
		m.PullCount, m.SettleCount, m.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("更新扭蛋机记录失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rows == 0 {
		return gachaerr.ErrVersionConflict
	}
	return nil
}

// GetPool 读取奖池记录blob及其版本
func (r *MySQLRepository) GetPool(machineID string) ([]byte, int64, error) {
	var record []byte
	var version int64
	err := r.masterDB.QueryRow(
		"SELECT record, version FROM gacha_pools WHERE machine_id = ?", machineID).
		Scan(&record, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, gachaerr.ErrMachineNotFound
		}
		return nil, 0, fmt.Errorf("查询奖池记录失败: %w", err)
	}
	return record, version, nil
}

// UpdatePool 整条改写奖池记录，带乐观版本检查
func (r *MySQLRepository) UpdatePool(machineID string, record []byte, expectedVersion int64) error {
	result, err := r.masterDB.Exec(
		"UPDATE gacha_pools SET record = ?, version = version + 1 WHERE machine_id = ? AND version = ?",
		record, machineID, expectedVersion)
	if err != nil {
		return fmt.Errorf("更新奖池记录失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取奖池更新结果失败: %w", err)
	}
	if rows == 0 {
		return gachaerr.ErrVersionConflict
	}
	return nil
}

// FinalizeMachine 封盘：主记录与奖池快照在同一事务内改写
func (r *MySQLRepository) FinalizeMachine(m *model.GachaMachine, machineVersion int64, record []byte, poolVersion int64) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	result, err := tx.Exec(
		"UPDATE gacha_machines SET is_finalized = 1, version = version + 1 WHERE id = ? AND version = ? AND is_finalized = 0",
		m.ID, machineVersion)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新扭蛋机封盘状态失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrVersionConflict
	}

	result, err = tx.Exec(
		"UPDATE gacha_pools SET record = ?, version = version + 1 WHERE machine_id = ? AND version = ?",
		record, m.ID, poolVersion)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新奖池快照失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// AddPaymentConfig 注册支付配置，币种唯一
func (r *MySQLRepository) AddPaymentConfig(cfg *model.PaymentConfig) error {
	result, err := r.masterDB.Exec(
		`INSERT IGNORE INTO payment_configs (machine_id, currency_id, price, recipient)
		 VALUES (?, ?, ?, ?)`,
		cfg.MachineID, cfg.CurrencyID, cfg.Price, cfg.Recipient)
	if err != nil {
		return fmt.Errorf("创建支付配置失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取支付配置创建结果失败: %w", err)
	}
	if rows == 0 {
		return gachaerr.ErrDuplicateCurrency
	}
	return nil
}

// RemovePaymentConfig 删除支付配置
func (r *MySQLRepository) RemovePaymentConfig(machineID, currencyID string) error {
	result, err := r.masterDB.Exec(
		"DELETE FROM payment_configs WHERE machine_id = ? AND currency_id = ?",
		machineID, currencyID)
	if err != nil {
		return fmt.Errorf("删除支付配置失败: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取支付配置删除结果失败: %w", err)
	}
	if rows == 0 {
		return gachaerr.ErrInvalidPaymentConfig
	}
	return nil
}

// GetPaymentConfig 按币种获取支付配置
func (r *MySQLRepository) GetPaymentConfig(machineID, currencyID string) (*model.PaymentConfig, error) {
	var cfg model.PaymentConfig
	err := r.masterDB.QueryRow(
		`SELECT id, machine_id, currency_id, price, recipient, created_at
		 FROM payment_configs WHERE machine_id = ? AND currency_id = ?`,
		machineID, currencyID).
		Scan(&cfg.ID, &cfg.MachineID, &cfg.CurrencyID, &cfg.Price, &cfg.Recipient, &cfg.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gachaerr.ErrInvalidPaymentConfig
		}
		return nil, fmt.Errorf("查询支付配置失败: %w", err)
	}
	return &cfg, nil
}

// ListPaymentConfigs 按注册顺序列出支付配置
func (r *MySQLRepository) ListPaymentConfigs(machineID string) ([]*model.PaymentConfig, error) {
	rows, err := r.slaveDB.Query(
		`SELECT id, machine_id, currency_id, price, recipient, created_at
		 FROM payment_configs WHERE machine_id = ? ORDER BY id`, machineID)
	if err != nil {
		return nil, fmt.Errorf("查询支付配置列表失败: %w", err)
	}
	defer rows.Close()

	var configs []*model.PaymentConfig
	for rows.Next() {
		var cfg model.PaymentConfig
		if err := rows.Scan(&cfg.ID, &cfg.MachineID, &cfg.CurrencyID, &cfg.Price, &cfg.Recipient, &cfg.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描支付配置失败: %w", err)
		}
		configs = append(configs, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代支付配置失败: %w", err)
	}
	return configs, nil
}

// CreatePull 抽取事务：扣款、入账、创建抽取记录、递增抽取计数，整体成败
func (r *MySQLRepository) CreatePull(t *model.Ticket, m *model.GachaMachine, machineVersion int64, transfer *model.Transfer) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	// 扣款：余额检查与扣减原子完成
	result, err := tx.Exec(
		"UPDATE ledger_accounts SET balance = balance - ? WHERE address = ? AND balance >= ?",
		transfer.Amount, transfer.From, transfer.Amount)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("扣款失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrInsufficientFunds
	}

	// 入账
	result, err = tx.Exec(
		"UPDATE ledger_accounts SET balance = balance + ? WHERE address = ?",
		transfer.Amount, transfer.To)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("入账失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrAccountMismatch
	}

	// 创建抽取记录
	_, err = tx.Exec(
		`INSERT INTO tickets
		 (machine_id, nonce, user, randomness_ref, currency_id, is_settled, pull_slot)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.MachineID, t.Nonce, t.User, t.RandomnessRef, t.CurrencyID, t.PullSlot)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("创建抽取记录失败: %w", err)
	}

	// 递增抽取计数，带乐观版本检查
	result, err = tx.Exec(
		"UPDATE gacha_machines SET pull_count = pull_count + 1, version = version + 1 WHERE id = ? AND version = ?",
		m.ID, machineVersion)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("递增抽取计数失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// GetTicket 获取抽取记录
func (r *MySQLRepository) GetTicket(machineID string, nonce uint64) (*model.Ticket, error) {
	var t model.Ticket
	var settledAt sql.NullTime
	err := r.masterDB.QueryRow(
		`SELECT machine_id, nonce, user, randomness_ref, currency_id, is_settled,
		        pull_slot, result_index, reward_token, created_at, settled_at
		 FROM tickets WHERE machine_id = ? AND nonce = ?`, machineID, nonce).
		Scan(&t.MachineID, &t.Nonce, &t.User, &t.RandomnessRef, &t.CurrencyID, &t.IsSettled,
			&t.PullSlot, &t.ResultIndex, &t.RewardToken, &t.CreatedAt, &settledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gachaerr.ErrTicketNotFound
		}
		return nil, fmt.Errorf("查询抽取记录失败: %w", err)
	}
	if settledAt.Valid {
		t.SettledAt = settledAt.Time
	}
	return &t, nil
}

// SettleTicket 结算事务：抽取记录、扭蛋机计数、奖池记录在同一事务内改写
func (r *MySQLRepository) SettleTicket(t *model.Ticket, m *model.GachaMachine, machineVersion int64, poolRecord []byte, poolVersion int64) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	// is_settled 只允许 false→true，重复结算在这里被数据库挡住
	result, err := tx.Exec(
		`UPDATE tickets SET is_settled = 1, result_index = ?, reward_token = ?, settled_at = NOW()
		 WHERE machine_id = ? AND nonce = ? AND is_settled = 0`,
		t.ResultIndex, t.RewardToken, t.MachineID, t.Nonce)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新抽取记录失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrAlreadySettled
	}

	result, err = tx.Exec(
		"UPDATE gacha_machines SET settle_count = settle_count + 1, version = version + 1 WHERE id = ? AND version = ?",
		m.ID, machineVersion)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("递增结算计数失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrVersionConflict
	}

	result, err = tx.Exec(
		"UPDATE gacha_pools SET record = ?, version = version + 1 WHERE machine_id = ? AND version = ?",
		poolRecord, t.MachineID, poolVersion)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新奖池记录失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return gachaerr.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// ListUnsettledTickets 列出槽位已过、尚未结算的抽取记录，供自动结算器轮询
func (r *MySQLRepository) ListUnsettledTickets(beforeSlot uint64, limit int) ([]*model.Ticket, error) {
	rows, err := r.masterDB.Query(
		`SELECT machine_id, nonce, user, randomness_ref, currency_id, is_settled,
		        pull_slot, result_index, reward_token, created_at
		 FROM tickets WHERE is_settled = 0 AND pull_slot < ?
		 ORDER BY created_at LIMIT ?`, beforeSlot, limit)
	if err != nil {
		return nil, fmt.Errorf("查询未结算抽取记录失败: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.MachineID, &t.Nonce, &t.User, &t.RandomnessRef, &t.CurrencyID,
			&t.IsSettled, &t.PullSlot, &t.ResultIndex, &t.RewardToken, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描抽取记录失败: %w", err)
		}
		tickets = append(tickets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代抽取记录失败: %w", err)
	}
	return tickets, nil
}

// CloseAll 释放一台扭蛋机的全部存储，返回被丢弃的未结算抽取数量
// 不以结算状态为前提，未结算的抽取由管理员自担风险
func (r *MySQLRepository) CloseAll(machineID string) (int, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("开始事务失败: %w", err)
	}

	var unsettled int
	err = tx.QueryRow(
		"SELECT COUNT(*) FROM tickets WHERE machine_id = ? AND is_settled = 0", machineID).
		Scan(&unsettled)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("统计未结算抽取失败: %w", err)
	}

	for _, stmt := range []string{
		"DELETE FROM tickets WHERE machine_id = ?",
		"DELETE FROM payment_configs WHERE machine_id = ?",
		"DELETE FROM gacha_pools WHERE machine_id = ?",
	} {
		if _, err := tx.Exec(stmt, machineID); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("释放存储失败: %w", err)
		}
	}

	result, err := tx.Exec("DELETE FROM gacha_machines WHERE id = ?", machineID)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("删除扭蛋机记录失败: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		tx.Rollback()
		return 0, gachaerr.ErrMachineNotFound
	}

	if _, err := tx.Exec("UPDATE gacha_factory SET machine_count = machine_count - 1 WHERE id = 1 AND machine_count > 0"); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("更新工厂计数失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交事务失败: %w", err)
	}
	return unsettled, nil
}

// CreateAccount 创建账本账户（运维/测试环境铺底用）
func (r *MySQLRepository) CreateAccount(acc *model.LedgerAccount) error {
	_, err := r.masterDB.Exec(
		`INSERT INTO ledger_accounts (address, owner_program, holder, currency_id, balance)
		 VALUES (?, ?, ?, ?, ?)`,
		acc.Address, acc.OwnerProgram, acc.Holder, acc.CurrencyID, acc.Balance)
	if err != nil {
		return fmt.Errorf("创建账本账户失败: %w", err)
	}
	return nil
}

// GetAccount 读取账本账户
func (r *MySQLRepository) GetAccount(address string) (*model.LedgerAccount, error) {
	var acc model.LedgerAccount
	err := r.masterDB.QueryRow(
		`SELECT address, owner_program, holder, currency_id, balance, updated_at
		 FROM ledger_accounts WHERE address = ?`, address).
		Scan(&acc.Address, &acc.OwnerProgram, &acc.Holder, &acc.CurrencyID, &acc.Balance, &acc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gachaerr.ErrAccountMismatch
		}
		return nil, fmt.Errorf("查询账本账户失败: %w", err)
	}
	return &acc, nil
}

// SaveOracleRound 保存预言机轮次历史（揭示时更新value）
func (r *MySQLRepository) SaveOracleRound(round *model.OracleRound) error {
	_, err := r.masterDB.Exec(
		`INSERT INTO oracle_rounds (ref, slot, seed, value)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE value = VALUES(value), revealed_at = NOW()`,
		round.Ref, round.Slot, round.Seed, round.Value)
	if err != nil {
		return fmt.Errorf("保存预言机轮次失败: %w", err)
	}
	return nil
}

// GetOracleRound 从历史表读取预言机轮次（Redis过期后的兜底）
func (r *MySQLRepository) GetOracleRound(ref string) (*model.OracleRound, error) {
	var round model.OracleRound
	var revealedAt sql.NullTime
	err := r.slaveDB.QueryRow(
		"SELECT ref, slot, seed, value, created_at, revealed_at FROM oracle_rounds WHERE ref = ?", ref).
		Scan(&round.Ref, &round.Slot, &round.Seed, &round.Value, &round.CreatedAt, &revealedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("查询预言机轮次历史失败: %w", err)
	}
	if revealedAt.Valid {
		round.RevealedAt = revealedAt.Time
	}
	return &round, nil
}

// SaveEventLog 保存事件审计记录（Kafka消费者使用）
func (r *MySQLRepository) SaveEventLog(event *model.GachaEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("序列化事件负载失败: %w", err)
	}
	_, err = r.masterDB.Exec(
		`INSERT INTO gacha_event_logs (event_type, machine_id, user, payload, emitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.Type, event.MachineID, event.User, payload, event.EmittedAt)
	if err != nil {
		return fmt.Errorf("保存事件审计记录失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
