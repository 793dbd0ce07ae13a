package oracle

import (
	"fmt"
	"log"

	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/repository"
)

// Service 随机数预言机读取端
// 核心状态机只消费槽位与轮次，不关心提交/揭示的内部密码学
type Service struct {
	redisRepo *repository.RedisRepository
	mysqlRepo *repository.MySQLRepository
}

func NewService(redisRepo *repository.RedisRepository, mysqlRepo *repository.MySQLRepository) *Service {
	return &Service{
		redisRepo: redisRepo,
		mysqlRepo: mysqlRepo,
	}
}

// CurrentSlot 当前槽位（账本时间）
func (s *Service) CurrentSlot() (uint64, error) {
	return s.redisRepo.CurrentSlot()
}

// Round 按引用读取轮次，Redis过期后回退到MySQL历史表
func (s *Service) Round(ref string) (*model.OracleRound, error) {
	round, err := s.redisRepo.GetRound(ref)
	if err != nil {
		log.Printf("从Redis获取轮次失败: %v，尝试从MySQL获取", err)
	}
	if round != nil {
		return round, nil
	}

	round, err = s.mysqlRepo.GetOracleRound(ref)
	if err != nil {
		return nil, fmt.Errorf("获取预言机轮次失败: %w", err)
	}
	return round, nil
}

// PullableRound 当前可用于抽取的轮次：种子锚定在上一槽位
func (s *Service) PullableRound() (*model.OracleRound, error) {
	slot, err := s.redisRepo.CurrentSlot()
	if err != nil {
		return nil, err
	}
	if slot == 0 {
		return nil, fmt.Errorf("预言机节拍器尚未启动")
	}

	ref, err := s.redisRepo.GetSlotRef(slot - 1)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, fmt.Errorf("槽位 %d 没有锚定的轮次", slot-1)
	}

	return s.Round(ref)
}
