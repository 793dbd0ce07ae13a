package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/model"
)

const (
	// Redis键前缀
	MachineCacheKey = "gacha:machine:"
	OracleRoundKey  = "oracle:round:"
	OracleSlotKey   = "oracle:current:slot"
	OracleSlotRef   = "oracle:slot:ref:"

	// 轮次在Redis中的保留时间，历史数据以MySQL为准
	oracleRoundTTL = 24 * time.Hour

	// Lua脚本
	RevealRoundScript = `
		-- 轮次必须存在
		local slot = redis.call('HGET', KEYS[1], 'slot')
		if not slot then
			return {-1, "轮次不存在"}
		end

		-- 只允许揭示一次
		local value = redis.call('HGET', KEYS[1], 'value')
		if value and value ~= '' then
			return {-1, "轮次已揭示"}
		end

		redis.call('HSET', KEYS[1], 'value', ARGV[1])
		redis.call('HSET', KEYS[1], 'revealedAt', ARGV[2])
		return {0, slot}
	`
)

type RedisRepository struct {
	client       *redis.Client
	ctx          context.Context
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	// 创建Redis客户端（普通客户端，用于数据存储）
	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	repo := &RedisRepository{
		client:       client,
		ctx:          ctx,
		scriptHashes: make(map[string]string),
	}

	// 预加载Lua脚本
	if err := repo.preloadScripts(); err != nil {
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return repo, nil
}

// preloadScripts 预加载所有Lua脚本
func (r *RedisRepository) preloadScripts() error {
	sha1, err := r.client.ScriptLoad(r.ctx, RevealRoundScript).Result()
	if err != nil {
		return fmt.Errorf("加载轮次揭示脚本失败: %w", err)
	}
	r.scriptHashes["revealRound"] = sha1

	return nil
}

// GetMachineCache 从缓存获取扭蛋机状态
func (r *RedisRepository) GetMachineCache(machineID string) (*model.GachaMachine, bool, error) {
	key := MachineCacheKey + machineID
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取扭蛋机缓存失败: %w", err)
	}

	var machine model.GachaMachine
	if err := json.Unmarshal([]byte(data), &machine); err != nil {
		return nil, false, fmt.Errorf("解析扭蛋机缓存失败: %w", err)
	}

	return &machine, true, nil
}

// SetMachineCache 设置扭蛋机缓存
func (r *RedisRepository) SetMachineCache(machine *model.GachaMachine) error {
	key := MachineCacheKey + machine.ID
	data, err := json.Marshal(machine)
	if err != nil {
		return fmt.Errorf("序列化扭蛋机状态失败: %w", err)
	}

	// 设置缓存，有效期1小时
	if err := r.client.Set(r.ctx, key, data, time.Hour).Err(); err != nil {
		return fmt.Errorf("设置扭蛋机缓存失败: %w", err)
	}

	return nil
}

// DeleteMachineCache 删除扭蛋机缓存
func (r *RedisRepository) DeleteMachineCache(machineID string) error {
	key := MachineCacheKey + machineID
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除扭蛋机缓存失败: %w", err)
	}
	return nil
}

// CurrentSlot 获取当前槽位（账本时间）
func (r *RedisRepository) CurrentSlot() (uint64, error) {
	slot, err := r.client.Get(r.ctx, OracleSlotKey).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil // 节拍器尚未启动
		}
		return 0, fmt.Errorf("获取当前槽位失败: %w", err)
	}
	return slot, nil
}

// AdvanceSlot 推进槽位，返回新槽位
func (r *RedisRepository) AdvanceSlot() (uint64, error) {
	slot, err := r.client.Incr(r.ctx, OracleSlotKey).Result()
	if err != nil {
		return 0, fmt.Errorf("推进槽位失败: %w", err)
	}
	return uint64(slot), nil
}

// SetSlotRef 记录某槽位锚定的轮次引用
func (r *RedisRepository) SetSlotRef(slot uint64, ref string) error {
	key := fmt.Sprintf("%s%d", OracleSlotRef, slot)
	if err := r.client.Set(r.ctx, key, ref, oracleRoundTTL).Err(); err != nil {
		return fmt.Errorf("记录槽位轮次引用失败: %w", err)
	}
	return nil
}

// GetSlotRef 查询某槽位锚定的轮次引用
func (r *RedisRepository) GetSlotRef(slot uint64) (string, error) {
	key := fmt.Sprintf("%s%d", OracleSlotRef, slot)
	ref, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // 该槽位没有轮次
		}
		return "", fmt.Errorf("查询槽位轮次引用失败: %w", err)
	}
	return ref, nil
}

// CreateRound 创建新的预言机轮次（仅种子，未揭示）
func (r *RedisRepository) CreateRound(round *model.OracleRound) error {
	key := OracleRoundKey + round.Ref
	data := map[string]interface{}{
		"slot":      round.Slot,
		"seed":      hex.EncodeToString(round.Seed),
		"value":     "",
		"createdAt": round.CreatedAt.Format(time.RFC3339),
	}

	pipe := r.client.Pipeline()
	pipe.HMSet(r.ctx, key, data)
	pipe.Expire(r.ctx, key, oracleRoundTTL)
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("创建预言机轮次失败: %w", err)
	}

	return nil
}

// GetRound 读取预言机轮次
func (r *RedisRepository) GetRound(ref string) (*model.OracleRound, error) {
	key := OracleRoundKey + ref
	data, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("获取预言机轮次失败: %w", err)
	}
	if len(data) == 0 {
		return nil, nil // 轮次不存在
	}

	round := &model.OracleRound{Ref: ref}

	if data["slot"] != "" {
		if _, err := fmt.Sscanf(data["slot"], "%d", &round.Slot); err != nil {
			return nil, fmt.Errorf("解析轮次槽位失败: %w", err)
		}
	}
	if data["seed"] != "" {
		seed, err := hex.DecodeString(data["seed"])
		if err != nil {
			return nil, fmt.Errorf("解析轮次种子失败: %w", err)
		}
		round.Seed = seed
	}
	if data["value"] != "" {
		value, err := hex.DecodeString(data["value"])
		if err != nil {
			return nil, fmt.Errorf("解析轮次随机数失败: %w", err)
		}
		round.Value = value
	}
	if data["createdAt"] != "" {
		createdAt, err := time.Parse(time.RFC3339, data["createdAt"])
		if err != nil {
			return nil, fmt.Errorf("解析轮次创建时间失败: %w", err)
		}
		round.CreatedAt = createdAt
	}
	if data["revealedAt"] != "" {
		revealedAt, err := time.Parse(time.RFC3339, data["revealedAt"])
		if err != nil {
			return nil, fmt.Errorf("解析轮次揭示时间失败: %w", err)
		}
		round.RevealedAt = revealedAt
	}

	return round, nil
}

// RevealRound 使用预加载的Lua脚本揭示轮次随机数，保证只揭示一次
func (r *RedisRepository) RevealRound(ref string, value []byte) error {
	key := OracleRoundKey + ref

	sha1, ok := r.scriptHashes["revealRound"]
	if !ok {
		return fmt.Errorf("脚本未预加载")
	}

	args := []interface{}{hex.EncodeToString(value), time.Now().Format(time.RFC3339)}
	result, err := r.client.EvalSha(r.ctx, sha1, []string{key}, args...).Result()
	if err != nil {
		// 如果脚本不存在，重新加载并再次尝试
		if err.Error() == "NOSCRIPT No matching script. Please use EVAL." {
			sha1, err = r.client.ScriptLoad(r.ctx, RevealRoundScript).Result()
			if err != nil {
				return fmt.Errorf("重新加载轮次揭示脚本失败: %w", err)
			}
			r.scriptHashes["revealRound"] = sha1

			result, err = r.client.EvalSha(r.ctx, sha1, []string{key}, args...).Result()
			if err != nil {
				return fmt.Errorf("执行轮次揭示脚本失败: %w", err)
			}
		} else {
			return fmt.Errorf("执行轮次揭示脚本失败: %w", err)
		}
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 2 {
		return fmt.Errorf("LUA脚本返回格式错误")
	}

	status, ok := resultSlice[0].(int64)
	if !ok {
		return fmt.Errorf("LUA脚本返回状态码类型错误")
	}
	if status != 0 {
		errorMsg, _ := resultSlice[1].(string)
		return fmt.Errorf("%s", errorMsg)
	}

	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
