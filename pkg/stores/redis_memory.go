package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const chatKeyPrefix = "codemother:chat:"

// RedisChatMemory keeps the most recent chat messages of each app in a
// capped Redis list.
type RedisChatMemory struct {
	client redis.UniversalClient
	window int
	ttl    time.Duration
	now    func() time.Time
}

// OpenRedis connects to a redis:// URL and pings it.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisChatMemory keeps at most window messages per app. A zero ttl keeps
// lists until evicted.
func NewRedisChatMemory(client redis.UniversalClient, window int, ttl time.Duration) *RedisChatMemory {
	if window <= 0 {
		window = 20
	}
	return &RedisChatMemory{
		client: client,
		window: window,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func chatKey(appID int64) string {
	return fmt.Sprintf("%s%d", chatKeyPrefix, appID)
}

// Append pushes a message and trims the list to the window.
func (m *RedisChatMemory) Append(ctx context.Context, appID int64, role, text string) error {
	return m.push(ctx, appID, false, m.message(appID, role, text))
}

// appendExisting is Append that leaves a missing list missing.
func (m *RedisChatMemory) appendExisting(ctx context.Context, appID int64, role, text string) error {
	return m.push(ctx, appID, true, m.message(appID, role, text))
}

func (m *RedisChatMemory) message(appID int64, role, text string) ChatMessage {
	return ChatMessage{AppID: appID, Role: role, Message: text, CreatedAt: m.now()}
}

func (m *RedisChatMemory) push(ctx context.Context, appID int64, onlyExisting bool, msgs ...ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	key := chatKey(appID)

	values := make([]interface{}, len(msgs))
	for i, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		values[i] = data
	}

	pipe := m.client.TxPipeline()
	if onlyExisting {
		pipe.RPushX(ctx, key, values...)
	} else {
		pipe.RPush(ctx, key, values...)
	}
	pipe.LTrim(ctx, key, int64(-m.window), -1)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat memory: %w", err)
	}
	return nil
}

// LoadRecent returns up to limit messages, oldest first. limit is capped by
// the window.
func (m *RedisChatMemory) LoadRecent(ctx context.Context, appID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > m.window {
		limit = m.window
	}

	raw, err := m.client.LRange(ctx, chatKey(appID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load chat memory: %w", err)
	}

	msgs := make([]ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode chat memory: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear drops the remembered messages of an app.
func (m *RedisChatMemory) Clear(ctx context.Context, appID int64) error {
	return m.client.Del(ctx, chatKey(appID)).Err()
}

// TieredHistory writes through to a durable history and serves reads from
// Redis. An app's window is loaded from the durable store on the first read;
// appends only extend windows that are already loaded.
type TieredHistory struct {
	memory  *RedisChatMemory
	durable ChatHistory
}

// NewTieredHistory combines memory and durable.
func NewTieredHistory(memory *RedisChatMemory, durable ChatHistory) *TieredHistory {
	return &TieredHistory{memory: memory, durable: durable}
}

// Append records the message durably, then in memory. A memory failure drops
// the cached window so the next read reloads it.
func (h *TieredHistory) Append(ctx context.Context, appID int64, role, text string) error {
	if err := h.durable.Append(ctx, appID, role, text); err != nil {
		return err
	}
	if err := h.memory.appendExisting(ctx, appID, role, text); err != nil {
		_ = h.memory.Clear(ctx, appID)
	}
	return nil
}

// LoadRecent reads the memory window and falls back to the durable store
// when the window is missing or smaller than limit.
func (h *TieredHistory) LoadRecent(ctx context.Context, appID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit <= h.memory.window {
		msgs, err := h.memory.LoadRecent(ctx, appID, limit)
		if err == nil && len(msgs) > 0 {
			return msgs, nil
		}
	}

	msgs, err := h.durable.LoadRecent(ctx, appID, max(limit, h.memory.window))
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		_ = h.memory.Clear(ctx, appID)
		_ = h.memory.push(ctx, appID, false, msgs...)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
