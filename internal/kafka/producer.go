package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/model"
)

type Producer struct {
	writer         *kafka.Writer
	ctx            context.Context
	partitionCount int // 主题的分区数量
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 获取分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	topicPartitions := 0
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions++
		}
	}

	log.Printf("生产者检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, topicPartitions)

	// 使用Hash分区器，基于消息Key进行分区路由
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{}, // 使用基于消息Key的Hash分区器
	}

	return &Producer{
		writer:         writer,
		ctx:            ctx,
		partitionCount: topicPartitions,
	}, nil
}

// SendGachaEvent 发送扭蛋事件到Kafka
func (p *Producer) SendGachaEvent(event *model.GachaEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化扭蛋事件失败: %w", err)
	}

	// 使用扭蛋机ID作为分区key，确保同一台扭蛋机的事件进入同一分区、保持顺序
	key := []byte(event.MachineID)
	if len(key) == 0 {
		key = []byte(event.Type)
	}

	msg := kafka.Message{
		Key:   key,
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送扭蛋事件失败: %w", err)
	}

	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
