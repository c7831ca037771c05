package infrastructure

import (
	"context"
	"fmt"
	"time"

	"mall/internal/flashsale/domain"
	"mall/internal/pkg/redis"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	tryDecrementScript = "flashsale_try_decrement"
	confirmScript      = "flashsale_confirm"
	rollbackScript     = "flashsale_rollback"
)

// 脚本返回的业务状态码
const (
	codeSoldOut   = 0
	codeOK        = 1
	codeUserLimit = 2
	codeWindow    = 3
)

// RedisCounterStore 是 domain.CounterStore 的 Redis 实现。
// 每个场次四个 key（reserved / sold / 用户额度 hash / 订单幂等 hash），
// 统一用 {saleID} hash tag 保证 cluster 下落在同一 slot，
// 从而可以在一个 Lua 脚本里原子操作。
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) (*RedisCounterStore, error) {
	for name, content := range map[string]string{
		tryDecrementScript: luaTryDecrement,
		confirmScript:      luaConfirm,
		rollbackScript:     luaRollback,
	} {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load flashsale script %s: %w", name, err)
		}
	}
	return &RedisCounterStore{client: client}, nil
}

func reservedKey(saleID string) string { return fmt.Sprintf("flashsale:{%s}:reserved", saleID) }
func soldKey(saleID string) string     { return fmt.Sprintf("flashsale:{%s}:sold", saleID) }
func usersKey(saleID string) string    { return fmt.Sprintf("flashsale:{%s}:users", saleID) }
func ordersKey(saleID string) string   { return fmt.Sprintf("flashsale:{%s}:orders", saleID) }

func (s *RedisCounterStore) Seed(ctx context.Context, sale *domain.FlashSale) error {
	pipe := s.client.GetClient().Pipeline()
	pipe.SetNX(ctx, soldKey(sale.ID), sale.Sold, 0)
	pipe.SetNX(ctx, reservedKey(sale.ID), sale.Reserved, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "seed counter for sale %s", sale.ID)
	}
	return nil
}

func (s *RedisCounterStore) TryDecrement(ctx context.Context, sale *domain.FlashSale, orderID, userID string, qty int64, now time.Time) (int64, error) {
	keys := []string{reservedKey(sale.ID), soldKey(sale.ID), usersKey(sale.ID), ordersKey(sale.ID)}
	args := []interface{}{
		sale.Total, sale.PerUserCap, qty, userID, orderID,
		now.Unix(), sale.StartAt.Unix(), sale.EndAt.Unix(),
	}
	result, err := s.client.RunScript(ctx, tryDecrementScript, keys, args...)
	if err != nil {
		return 0, errors.Wrap(err, "run try_decrement script")
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, errors.Errorf("unexpected reply from try_decrement script: %v", result)
	}
	code, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)

	switch code {
	case codeOK:
		return remaining, nil
	case codeSoldOut:
		return remaining, domain.ErrSoldOut
	case codeUserLimit:
		return 0, domain.ErrUserLimitExceeded
	case codeWindow:
		return 0, domain.ErrWindowClosed
	default:
		return 0, errors.Errorf("unknown result code from try_decrement script: %d", code)
	}
}

func (s *RedisCounterStore) ConfirmDecrement(ctx context.Context, saleID, orderID string) error {
	keys := []string{reservedKey(saleID), soldKey(saleID), ordersKey(saleID)}
	_, err := s.client.RunScript(ctx, confirmScript, keys, orderID)
	return errors.Wrap(err, "run confirm script")
}

func (s *RedisCounterStore) RollbackDecrement(ctx context.Context, saleID, orderID, userID string) error {
	keys := []string{reservedKey(saleID), usersKey(saleID), ordersKey(saleID)}
	_, err := s.client.RunScript(ctx, rollbackScript, keys, orderID, userID)
	return errors.Wrap(err, "run rollback script")
}

func (s *RedisCounterStore) Snapshot(ctx context.Context, saleID string) (int64, int64, error) {
	rdb := s.client.GetClient()
	sold, err := rdb.Get(ctx, soldKey(saleID)).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, 0, errors.Wrap(err, "read sold counter")
	}
	reserved, err := rdb.Get(ctx, reservedKey(saleID)).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, 0, errors.Wrap(err, "read reserved counter")
	}
	return sold, reserved, nil
}

// luaTryDecrement 在一次脚本执行里完成全部检查和扣减：
// 幂等命中、时间窗口、总量（sold+reserved+qty<=total）、单用户限购。
// KEYS: reserved, sold, users, orders
// ARGV: total, cap, qty, userID, orderID, now, start, end
var luaTryDecrement = `
if redis.call('hexists', KEYS[4], ARGV[5]) == 1 then
    local sold = tonumber(redis.call('get', KEYS[2]) or '0')
    local reserved = tonumber(redis.call('get', KEYS[1]) or '0')
    return {1, tonumber(ARGV[1]) - sold - reserved}
end

local now = tonumber(ARGV[6])
if now < tonumber(ARGV[7]) or now >= tonumber(ARGV[8]) then
    return {3, -1}
end

local sold = tonumber(redis.call('get', KEYS[2]) or '0')
local reserved = tonumber(redis.call('get', KEYS[1]) or '0')
local total = tonumber(ARGV[1])
local qty = tonumber(ARGV[3])
if sold + reserved + qty > total then
    return {0, total - sold - reserved}
end

local bought = tonumber(redis.call('hget', KEYS[3], ARGV[4]) or '0')
if bought + qty > tonumber(ARGV[2]) then
    return {2, -1}
end

redis.call('incrby', KEYS[1], qty)
redis.call('hincrby', KEYS[3], ARGV[4], qty)
redis.call('hset', KEYS[4], ARGV[5], qty)
return {1, total - sold - reserved - qty}
`

// luaConfirm 把订单的预占转为已售。orders hash 里没有这个订单
// 说明已经确认或回滚过，直接返回。
// KEYS: reserved, sold, orders; ARGV: orderID
var luaConfirm = `
local qty = redis.call('hget', KEYS[3], ARGV[1])
if not qty then
    return 0
end
qty = tonumber(qty)
redis.call('decrby', KEYS[1], qty)
redis.call('incrby', KEYS[2], qty)
redis.call('hdel', KEYS[3], ARGV[1])
return 1
`

// luaRollback 释放订单预占并退还用户已购额度。
// KEYS: reserved, users, orders; ARGV: orderID, userID
var luaRollback = `
local qty = redis.call('hget', KEYS[3], ARGV[1])
if not qty then
    return 0
end
qty = tonumber(qty)
redis.call('decrby', KEYS[1], qty)
local left = redis.call('hincrby', KEYS[2], ARGV[2], -qty)
if left <= 0 then
    redis.call('hdel', KEYS[2], ARGV[2])
end
redis.call('hdel', KEYS[3], ARGV[1])
return 1
`
