package worker

import (
	"errors"
	"log"
	"time"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/lock"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/service"
)

const SettlerLockName = "gacha:settler:leader"

// TicketLister 未结算抽取记录查询接口，由MySQL仓库实现
type TicketLister interface {
	ListUnsettledTickets(beforeSlot uint64, limit int) ([]*model.Ticket, error)
}

// Settler 自动结算器：轮询槽位已过的未结算抽取并代为结算
// 多实例部署时通过分布式锁选主，同一时刻只有一个实例在工作
type Settler struct {
	svc      *service.GachaService
	tickets  TicketLister
	oracle   service.RandomnessOracle
	leader   lock.Lock
	stopChan chan struct{}
}

func NewSettler(
	svc *service.GachaService,
	tickets TicketLister,
	oracle service.RandomnessOracle,
	leader lock.Lock,
) *Settler {
	return &Settler{
		svc:      svc,
		tickets:  tickets,
		oracle:   oracle,
		leader:   leader,
		stopChan: make(chan struct{}),
	}
}

// Start 启动自动结算循环
func (s *Settler) Start() {
	interval := config.AppConfig.Settler.PollInterval
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.settleBatch()
			case <-s.stopChan:
				log.Println("自动结算器已停止")
				return
			}
		}
	}()

	log.Printf("自动结算器已启动, 轮询间隔: %v", interval)
}

// Stop 停止自动结算循环
func (s *Settler) Stop() {
	close(s.stopChan)
}

// settleBatch 结算一批槽位已过的未结算抽取
func (s *Settler) settleBatch() {
	acquired, err := s.leader.AcquireLock(SettlerLockName, config.AppConfig.Settler.PollInterval)
	if err != nil {
		log.Printf("获取结算器锁失败: %v", err)
		return
	}
	if !acquired {
		return // 其他实例是主结算器
	}
	defer func() {
		if err := s.leader.ReleaseLock(SettlerLockName); err != nil {
			log.Printf("释放结算器锁失败: %v", err)
		}
	}()

	currentSlot, err := s.oracle.CurrentSlot()
	if err != nil {
		log.Printf("获取当前槽位失败: %v", err)
		return
	}
	if currentSlot == 0 {
		return
	}

	tickets, err := s.tickets.ListUnsettledTickets(currentSlot, config.AppConfig.Settler.BatchSize)
	if err != nil {
		log.Printf("查询未结算抽取失败: %v", err)
		return
	}

	settled := 0
	for _, t := range tickets {
		_, err := s.svc.Settle(&model.SettleRequest{MachineID: t.MachineID, Nonce: t.Nonce})
		switch {
		case err == nil:
			settled++
		case errors.Is(err, gachaerr.ErrRandomnessNotResolved),
			errors.Is(err, gachaerr.ErrSlotNotPassed):
			// 随机数还没就绪，下一轮再试
		case errors.Is(err, gachaerr.ErrGachaHalted):
			// 管理员停摆了这台机器，留给人工处理
		case errors.Is(err, gachaerr.ErrAlreadySettled),
			errors.Is(err, gachaerr.ErrVersionConflict):
			// 用户或并发实例抢先结算了
		default:
			log.Printf("自动结算 %s/%d 失败: %v", t.MachineID, t.Nonce, err)
		}
	}

	if settled > 0 {
		log.Printf("自动结算器本轮结算了 %d 笔抽取", settled)
	}
}
