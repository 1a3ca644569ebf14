package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"visa-instrument/pkg/protocol"
)

// EventSink 状态变更事件的去向
type EventSink interface {
	Publish(ctx context.Context, event *protocol.StateEvent) error
	Close() error
}

// MessageQueue 通过Redis发布事件，并在List中保留最近的历史
type MessageQueue struct {
	client  *redis.Client
	channel string
	history int64
	log     *logrus.Logger
}

func NewMessageQueue(addr, password, channel string, db, poolSize, history int, log *logrus.Logger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Info("Redis连接成功")

	if history <= 0 {
		history = 1000
	}
	return &MessageQueue{
		client:  client,
		channel: channel,
		history: int64(history),
		log:     log,
	}, nil
}

// historyKey 每台设备一个历史列表
func historyKey(device string) string {
	return fmt.Sprintf("visa:%s:events", device)
}

// Publish 发布事件到Redis
func (mq *MessageQueue) Publish(ctx context.Context, event *protocol.StateEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	// 发布到Redis Pub/Sub
	if err := mq.client.Publish(ctx, mq.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	// 同时保存到Redis List（作为历史记录）
	listKey := historyKey(event.Device)
	if err := mq.client.LPush(ctx, listKey, jsonData).Err(); err != nil {
		mq.log.Warnf("保存到List失败: %v", err)
	}

	// 限制List长度
	mq.client.LTrim(ctx, listKey, 0, mq.history-1)

	return nil
}

// PublishBatch 批量发布
func (mq *MessageQueue) PublishBatch(ctx context.Context, events []*protocol.StateEvent) error {
	pipe := mq.client.Pipeline()

	for _, event := range events {
		jsonData, err := json.Marshal(event)
		if err != nil {
			mq.log.Errorf("序列化事件失败: %v", err)
			continue
		}

		pipe.Publish(ctx, mq.channel, jsonData)
		pipe.LPush(ctx, historyKey(event.Device), jsonData)
	}
	for _, event := range events {
		pipe.LTrim(ctx, historyKey(event.Device), 0, mq.history-1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// History 最近的 n 条事件，新的在前
func (mq *MessageQueue) History(ctx context.Context, device string, n int) ([]*protocol.StateEvent, error) {
	if n <= 0 {
		n = 100
	}
	items, err := mq.client.LRange(ctx, historyKey(device), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取历史失败: %w", err)
	}
	events := make([]*protocol.StateEvent, 0, len(items))
	for _, item := range items {
		var event protocol.StateEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			mq.log.Warnf("跳过无法解析的历史记录: %v", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// Close 关闭连接
func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}

// GetStats 获取统计信息
func (mq *MessageQueue) GetStats(ctx context.Context) map[string]interface{} {
	info := mq.client.Info(ctx, "stats").Val()

	return map[string]interface{}{
		"info":       info,
		"pool_stats": mq.client.PoolStats(),
	}
}
