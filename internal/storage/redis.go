package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache Redis 快照快取（V3 架構）
//
// 快取策略：Cache-Aside（旁路快取）
//  1. 讀取：先查 Redis → Miss 時查資料庫組裝 → 寫入 Redis
//  2. 寫入：座位異動成功後主動刪除快取（Cache-Invalidation）
//     → 為什麼刪除而非更新？
//     → 快照由多張表組裝而成，更新快取需要重算，不如讓下一次
//       讀取自然回填；變更通知到達前的短暫不一致本來就被接受
//
// 系統設計考量：
//   - TTL 設置：預設 30 秒，快照落後上限由變更通知兜底，
//     TTL 只防快取與失效訊號都丟失的極端情況
//   - 快取穿透：不存在的場次不快取（查詢本身就會失敗）
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisCache 創建 Redis 快取層
//
// 參數：
//   - client：Redis 客戶端（由調用方管理生命週期）
//   - ttl：快取過期時間（0 表示使用默認 30 秒）
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = 30 * time.Second
	}

	return &RedisCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: "snapshot:",
	}
}

// Get 讀取快取值，未命中時返回 (nil, nil)
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set 寫入快取值
func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, r.ttl).Err()
}

// Del 刪除快取值
func (r *RedisCache) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}
