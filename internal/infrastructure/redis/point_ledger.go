package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"auction-marketplace/internal/domain"
)

const pointsKeyPrefix = "points:"

// holdScript replaces the caller's hold on an auction, moving only the difference
// between the new and the previous hold out of the available balance.
const holdScript = `
local previous = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
local amount = tonumber(ARGV[2])
local delta = amount - previous
local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
if delta > available then
    return 0
end
redis.call('HINCRBY', KEYS[1], 'available', -delta)
redis.call('HINCRBY', KEYS[1], 'held', delta)
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`

const releaseHoldScript = `
local held = redis.call('HGET', KEYS[2], ARGV[1])
if not held then
    return 0
end
local amount = tonumber(held)
redis.call('HINCRBY', KEYS[1], 'available', amount)
redis.call('HINCRBY', KEYS[1], 'held', -amount)
redis.call('HDEL', KEYS[2], ARGV[1])
return 1
`

// settleHoldScript settles one user's hold at the end of an auction: the winner's hold
// becomes used points, any other hold goes back to available. A settled hold is removed,
// so running it again is a no-op. Returns {settled, amount, won}.
const settleHoldScript = `
local held = redis.call('HGET', KEYS[2], ARGV[1])
if not held then
    return {0, 0, 0}
end
local amount = tonumber(held)
redis.call('HINCRBY', KEYS[1], 'held', -amount)
redis.call('HDEL', KEYS[2], ARGV[1])
if ARGV[1] == ARGV[2] then
    redis.call('HINCRBY', KEYS[1], 'used', amount)
    return {1, amount, 1}
end
redis.call('HINCRBY', KEYS[1], 'available', amount)
return {1, amount, 0}
`

// PointLedger stores balances in points:{user} hashes and active holds in
// holds:{auction} hashes keyed by user. Every script declares the keys it touches,
// but a balance and a hold key live in different hash slots, so the ledger needs a
// single Redis node rather than a cluster.
type PointLedger struct {
	client *redis.Client
}

func NewPointLedger(client *redis.Client) *PointLedger {
	return &PointLedger{client: client}
}

func pointsKey(userID string) string   { return pointsKeyPrefix + userID }
func holdsKey(auctionID string) string { return fmt.Sprintf("holds:%s", auctionID) }

func (l *PointLedger) Deposit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d points: amount must be positive", amount)
	}
	if err := l.client.HIncrBy(ctx, pointsKey(userID), "available", amount).Err(); err != nil {
		return fmt.Errorf("deposit points for %s: %w", userID, err)
	}
	return nil
}

func (l *PointLedger) Hold(ctx context.Context, userID, auctionID string, amount int64) (*domain.PointHold, error) {
	ok, err := l.client.Eval(ctx, holdScript,
		[]string{pointsKey(userID), holdsKey(auctionID)}, userID, amount).Int()
	if err != nil {
		return nil, fmt.Errorf("hold points for %s on %s: %w", userID, auctionID, err)
	}
	if ok != 1 {
		return nil, domain.ErrInsufficientPoints
	}
	return &domain.PointHold{UserID: userID, AuctionID: auctionID, Amount: amount, State: domain.HoldHeld}, nil
}

func (l *PointLedger) Release(ctx context.Context, userID, auctionID string) error {
	err := l.client.Eval(ctx, releaseHoldScript,
		[]string{pointsKey(userID), holdsKey(auctionID)}, userID).Err()
	if err != nil {
		return fmt.Errorf("release hold of %s on %s: %w", userID, auctionID, err)
	}
	return nil
}

// Finalize settles the auction's holds one user at a time. A retry after a partial
// failure only touches the holds that are still there.
func (l *PointLedger) Finalize(ctx context.Context, auctionID, winnerID string) (*domain.FinalizeResult, error) {
	users, err := l.client.HKeys(ctx, holdsKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("finalize holds on %s: %w", auctionID, err)
	}

	result := &domain.FinalizeResult{}
	for _, userID := range users {
		res, err := l.client.Eval(ctx, settleHoldScript,
			[]string{pointsKey(userID), holdsKey(auctionID)}, userID, winnerID).Slice()
		if err != nil {
			return nil, fmt.Errorf("settle hold of %s on %s: %w", userID, auctionID, err)
		}
		if len(res) != 3 {
			return nil, fmt.Errorf("settle hold of %s on %s: unexpected reply %v", userID, auctionID, res)
		}

		settled, _ := res[0].(int64)
		amount, _ := res[1].(int64)
		won, _ := res[2].(int64)
		switch {
		case settled == 0:
		case won == 1:
			result.UsedAmount = amount
		default:
			result.Released++
		}
	}
	return result, nil
}

func (l *PointLedger) Balance(ctx context.Context, userID string) (*domain.PointBalance, error) {
	values, err := l.client.HMGet(ctx, pointsKey(userID), "available", "held", "used").Result()
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", userID, err)
	}

	b := &domain.PointBalance{UserID: userID}
	for i, dst := range []*int64{&b.Available, &b.Held, &b.Used} {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance of %s: %w", userID, err)
		}
		*dst = v
	}
	return b, nil
}
