package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/port"
)

const (
	stockKeyPrefix  = "stock:"
	claimsKeyPrefix = "claims:"
	saleKeyPrefix   = "sale:"
)

// tryClaimScript is the indivisible claim procedure. Duplicate check, stock
// check, decrement and claim record run as one server-side step, so two
// callers can never both pass the stock check for the last unit.
var tryClaimScript = redis.NewScript(`
local stockKey = KEYS[1]
local claimsKey = KEYS[2]
local userID = ARGV[1]
local claimedAt = ARGV[2]

if redis.call('HEXISTS', claimsKey, userID) == 1 then
	return -1
end

local stock = tonumber(redis.call('GET', stockKey))
if not stock then
	return -3
end
if stock <= 0 then
	return -2
end

redis.call('DECR', stockKey)
redis.call('HSET', claimsKey, userID, claimedAt)
return stock - 1
`)

// initSaleScript writes the window fields and the counter together so no
// reader observes a half-initialized sale.
var initSaleScript = redis.NewScript(`
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
	'item_id', ARGV[2],
	'product_name', ARGV[3],
	'total_stock', ARGV[1],
	'start_time', ARGV[4],
	'end_time', ARGV[5],
	'price', ARGV[6])
return 1
`)

type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) InitSale(ctx context.Context, sale domain.SaleWindow) error {
	keys := []string{
		stockKeyPrefix + sale.ItemID,
		saleKeyPrefix + sale.ItemID,
		claimsKeyPrefix + sale.ItemID,
	}
	return initSaleScript.Run(ctx, r.client, keys,
		sale.TotalStock,
		sale.ItemID,
		sale.ProductName,
		sale.StartTime.UTC().Format(time.RFC3339Nano),
		sale.EndTime.UTC().Format(time.RFC3339Nano),
		sale.Price.String(),
	).Err()
}

func (r *RedisLedger) Sale(ctx context.Context, itemID string) (*domain.SaleWindow, error) {
	fields, err := r.client.HGetAll(ctx, saleKeyPrefix+itemID).Result()
	if err != nil {
		return nil, fmt.Errorf("read sale config: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	totalStock, err := strconv.Atoi(fields["total_stock"])
	if err != nil {
		return nil, fmt.Errorf("parse total_stock: %w", err)
	}
	start, err := time.Parse(time.RFC3339Nano, fields["start_time"])
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	end, err := time.Parse(time.RFC3339Nano, fields["end_time"])
	if err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}

	return &domain.SaleWindow{
		ItemID:      fields["item_id"],
		ProductName: fields["product_name"],
		TotalStock:  totalStock,
		StartTime:   start,
		EndTime:     end,
		Price:       price,
	}, nil
}

func (r *RedisLedger) TryClaim(ctx context.Context, itemID, userID string, now time.Time) (port.ClaimOutcome, int, error) {
	keys := []string{stockKeyPrefix + itemID, claimsKeyPrefix + itemID}

	result, err := tryClaimScript.Run(ctx, r.client, keys, userID, now.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return port.ClaimNoSale, 0, fmt.Errorf("run claim script: %w", err)
	}

	switch result {
	case -1:
		return port.ClaimAlreadyClaimed, 0, nil
	case -2:
		return port.ClaimSoldOut, 0, nil
	case -3:
		return port.ClaimNoSale, 0, nil
	default:
		return port.ClaimOK, result, nil
	}
}

func (r *RedisLedger) Remaining(ctx context.Context, itemID string) (int, error) {
	remaining, err := r.client.Get(ctx, stockKeyPrefix+itemID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrSaleNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read stock counter: %w", err)
	}
	return remaining, nil
}

func (r *RedisLedger) ClaimTime(ctx context.Context, itemID, userID string) (*time.Time, error) {
	raw, err := r.client.HGet(ctx, claimsKeyPrefix+itemID, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read claim: %w", err)
	}

	claimedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse claim time: %w", err)
	}
	return &claimedAt, nil
}

func (r *RedisLedger) Reset(ctx context.Context, itemID string) error {
	return r.client.Del(ctx,
		stockKeyPrefix+itemID,
		saleKeyPrefix+itemID,
		claimsKeyPrefix+itemID,
	).Err()
}
