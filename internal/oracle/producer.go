package oracle

import (
	"crypto/rand"
	"crypto/sha256"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/lock"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/repository"
)

const (
	BeaconLockName = "oracle:beacon:lock"
)

// Beacon 槽位节拍器：周期性推进账本时间并发布/揭示随机数轮次
// 每个槽位的生命周期：T槽位锚定种子 → T+1槽位作为抽取窗口 → T+2槽位揭示随机数
type Beacon struct {
	redisRepo  *repository.RedisRepository
	mysqlRepo  *repository.MySQLRepository
	redlock    lock.Lock
	ticker     *time.Ticker
	stopChan   chan struct{}
	isProducer bool // 标识该实例是否为节拍生产者
}

func NewBeacon(
	redisRepo *repository.RedisRepository,
	mysqlRepo *repository.MySQLRepository,
	distributedLock lock.Lock,
	isProducer bool,
) *Beacon {
	return &Beacon{
		redisRepo:  redisRepo,
		mysqlRepo:  mysqlRepo,
		redlock:    distributedLock,
		stopChan:   make(chan struct{}),
		isProducer: isProducer,
	}
}

// Start 启动节拍器
func (b *Beacon) Start() {
	interval := config.AppConfig.Oracle.SlotInterval

	// 非生产者实例也启动定时器，但不会真正推进槽位
	b.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-b.ticker.C:
				if b.isProducer {
					b.tick()
				}
			case <-b.stopChan:
				b.ticker.Stop()
				log.Println("预言机节拍器已停止")
				return
			}
		}
	}()
}

// Stop 停止节拍器
func (b *Beacon) Stop() {
	close(b.stopChan)
	if b.isProducer {
		b.redlock.ReleaseLock(BeaconLockName)
	}
}

// tick 单次节拍：加锁后推进槽位、锚定新轮次、揭示两个槽位前的轮次
func (b *Beacon) tick() {
	lockAcquired, err := b.redlock.AcquireLock(BeaconLockName, config.AppConfig.Oracle.LockTimeout)
	if err != nil {
		log.Printf("获取节拍器锁失败: %v", err)
		return
	}
	if !lockAcquired {
		log.Println("未能获取节拍器锁，跳过当前节拍")
		return
	}
	defer func() {
		if err := b.redlock.ReleaseLock(BeaconLockName); err != nil {
			log.Printf("释放节拍器锁失败: %v", err)
		}
	}()

	newSlot, err := b.redisRepo.AdvanceSlot()
	if err != nil {
		log.Printf("推进槽位失败: %v", err)
		return
	}

	// 揭示两个槽位前锚定的轮次（其抽取窗口已经关闭）
	if newSlot >= 2 {
		b.revealRound(newSlot - 2)
	}

	b.anchorRound(newSlot)
}

// anchorRound 在新槽位锚定一个新的轮次（仅发布种子）
func (b *Beacon) anchorRound(slot uint64) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		log.Printf("生成轮次种子失败: %v", err)
		return
	}

	round := &model.OracleRound{
		Ref:       uuid.NewString(),
		Slot:      slot,
		Seed:      seed,
		CreatedAt: time.Now(),
	}

	// 首先写入MySQL历史（作为主数据源），成功后同步到Redis
	if err := b.mysqlRepo.SaveOracleRound(round); err != nil {
		log.Printf("保存轮次历史失败: %v", err)
		return
	}
	if err := b.redisRepo.CreateRound(round); err != nil {
		log.Printf("保存轮次到Redis失败: %v", err)
		return
	}
	if err := b.redisRepo.SetSlotRef(slot, round.Ref); err != nil {
		log.Printf("记录槽位轮次引用失败: %v", err)
	}
}

// revealRound 揭示指定槽位锚定的轮次
func (b *Beacon) revealRound(slot uint64) {
	ref, err := b.redisRepo.GetSlotRef(slot)
	if err != nil {
		log.Printf("查询槽位 %d 轮次引用失败: %v", slot, err)
		return
	}
	if ref == "" {
		return // 该槽位没有锚定轮次（例如节拍器刚部署）
	}

	round, err := b.redisRepo.GetRound(ref)
	if err != nil || round == nil {
		log.Printf("读取槽位 %d 轮次失败: %v", slot, err)
		return
	}
	if round.Resolved() {
		return // 已揭示过
	}

	// 揭示值由锚定的种子承诺派生
	value := sha256.Sum256(round.Seed)

	if err := b.redisRepo.RevealRound(ref, value[:]); err != nil {
		log.Printf("揭示槽位 %d 轮次失败: %v", slot, err)
		return
	}

	round.Value = value[:]
	if err := b.mysqlRepo.SaveOracleRound(round); err != nil {
		log.Printf("更新轮次历史失败: %v", err)
	}
}
