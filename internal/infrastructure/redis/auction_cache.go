package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"auction-marketplace/internal/domain"
)

const (
	defaultLeaseTTL   = 2 * time.Second
	defaultLeaseRetry = 5 * time.Millisecond
)

// putScript stores the entry and its bidder set only if no entry exists.
// ARGV: ttl ms, field pair count, field/value pairs..., bidder ids...
const putScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
local ttl = tonumber(ARGV[1])
local pairs_count = tonumber(ARGV[2])
local last = 2 + pairs_count * 2
for i = 3, last, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('DEL', KEYS[2])
for i = last + 1, #ARGV do
    redis.call('SADD', KEYS[2], ARGV[i])
end
if ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
    redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`

// commitScript applies an accepted bid. It is fenced on the lease token so a holder whose
// lease expired cannot write. Returns {1, bid_count, unique_bidders, previous, first} or {code}.
// ARGV: lease token, user id, amount, ongoing status.
const commitScript = `
if redis.call('GET', KEYS[3]) ~= ARGV[1] then
    return {-1}
end
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-2}
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[4] then
    return {-4}
end
local current = tonumber(redis.call('HGET', KEYS[1], 'current_price') or '0')
local amount = tonumber(ARGV[3])
if amount <= current then
    return {-3}
end
local previous = redis.call('HGET', KEYS[1], 'last_bidder_id') or ''
local first = redis.call('SADD', KEYS[2], ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
end
local unique = tonumber(redis.call('HGET', KEYS[1], 'unique_bidders') or '0')
if first == 1 then
    unique = redis.call('HINCRBY', KEYS[1], 'unique_bidders', 1)
end
local count = redis.call('HINCRBY', KEYS[1], 'bid_count', 1)
redis.call('HSET', KEYS[1], 'current_price', ARGV[3], 'last_bidder_id', ARGV[2])
return {1, count, unique, previous, first}
`

const releaseLeaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const renewLeaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// txStatusScript is setStatusScript fenced on the lease token.
const txStatusScript = `
if redis.call('GET', KEYS[2]) ~= ARGV[1] then
    return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -2
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
return 1
`

const setStatusScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
return 1
`

const expireScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`

// AuctionCache keeps one hash per auction plus a set of bidder ids. Transactions on an
// auction are serialized by a short lease key that is renewed while the transaction runs;
// the commit script is fenced on the lease.
type AuctionCache struct {
	client     *redis.Client
	leaseTTL   time.Duration
	leaseRetry time.Duration
}

func NewAuctionCache(client *redis.Client, leaseTTL, leaseRetry time.Duration) *AuctionCache {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	if leaseRetry <= 0 {
		leaseRetry = defaultLeaseRetry
	}
	return &AuctionCache{client: client, leaseTTL: leaseTTL, leaseRetry: leaseRetry}
}

func entryKey(auctionID string) string   { return fmt.Sprintf("auction:%s", auctionID) }
func biddersKey(auctionID string) string { return fmt.Sprintf("auction:%s:bidders", auctionID) }
func leaseKey(auctionID string) string   { return fmt.Sprintf("auction:%s:lease", auctionID) }

func (c *AuctionCache) Get(ctx context.Context, auctionID string) (*domain.AuctionCacheEntry, error) {
	fields, err := c.client.HGetAll(ctx, entryKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrCacheMiss
	}
	return parseEntry(auctionID, fields)
}

func (c *AuctionCache) Put(ctx context.Context, entry *domain.AuctionCacheEntry, bidderIDs []string, ttl time.Duration) (bool, error) {
	if entry == nil || entry.AuctionID == "" {
		return false, fmt.Errorf("put cache entry: %w", domain.ErrInvalidAuction)
	}

	fields := []interface{}{
		"seller_id", entry.SellerID,
		"start_price", entry.StartPrice,
		"current_price", entry.CurrentPrice,
		"last_bidder_id", entry.LastBidderID,
		"unique_bidders", entry.UniqueBidders,
		"bid_count", entry.BidCount,
		"status", int(entry.Status),
		"end_time", entry.EndTime.UnixMilli(),
	}
	args := make([]interface{}, 0, 2+len(fields)+len(bidderIDs))
	args = append(args, ttl.Milliseconds(), len(fields)/2)
	args = append(args, fields...)
	for _, id := range bidderIDs {
		args = append(args, id)
	}

	stored, err := c.client.Eval(ctx, putScript,
		[]string{entryKey(entry.AuctionID), biddersKey(entry.AuctionID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("put auction %s: %w", entry.AuctionID, err)
	}
	return stored == 1, nil
}

func (c *AuctionCache) SetStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	err := c.client.Eval(ctx, setStatusScript, []string{entryKey(auctionID)}, int(status)).Err()
	if err != nil {
		return fmt.Errorf("set status of auction %s: %w", auctionID, err)
	}
	return nil
}

func (c *AuctionCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := c.client.Del(ctx, entryKey(auctionID), biddersKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("invalidate auction %s: %w", auctionID, err)
	}
	return nil
}

func (c *AuctionCache) Expire(ctx context.Context, auctionID string, ttl time.Duration) error {
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	err := c.client.Eval(ctx, expireScript,
		[]string{entryKey(auctionID), biddersKey(auctionID)}, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("expire auction %s: %w", auctionID, err)
	}
	return nil
}

func (c *AuctionCache) Transact(ctx context.Context, auctionID string, fn func(tx domain.CacheTx) error) error {
	token, err := c.acquireLease(ctx, auctionID)
	if err != nil {
		return err
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewed := make(chan struct{})
	go c.keepLease(renewCtx, auctionID, token, renewed)

	defer func() {
		stopRenew()
		<-renewed
		// released on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), c.leaseTTL)
		defer cancel()
		_ = c.client.Eval(releaseCtx, releaseLeaseScript, []string{leaseKey(auctionID)}, token).Err()
	}()

	entry, err := c.Get(ctx, auctionID)
	if err != nil {
		return err
	}

	return fn(&redisTx{ctx: ctx, cache: c, token: token, entry: *entry})
}

func (c *AuctionCache) acquireLease(ctx context.Context, auctionID string) (string, error) {
	token := uuid.NewString()
	for {
		ok, err := c.client.SetNX(ctx, leaseKey(auctionID), token, c.leaseTTL).Result()
		if err != nil {
			return "", fmt.Errorf("lease auction %s: %w", auctionID, err)
		}
		if ok {
			return token, nil
		}

		timer := time.NewTimer(c.leaseRetry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("wait for auction %s: %w", auctionID, ctx.Err())
		}
	}
}

// keepLease extends the lease every third of its TTL until ctx is cancelled or the
// lease is found to belong to someone else.
func (c *AuctionCache) keepLease(ctx context.Context, auctionID, token string, done chan<- struct{}) {
	defer close(done)

	interval := c.leaseTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, interval)
			kept, err := c.client.Eval(callCtx, renewLeaseScript, []string{leaseKey(auctionID)},
				token, c.leaseTTL.Milliseconds()).Int()
			cancel()
			if err == nil && kept == 0 {
				return
			}
		}
	}
}

type redisTx struct {
	ctx       context.Context
	cache     *AuctionCache
	token     string
	entry     domain.AuctionCacheEntry
	committed bool
}

func (tx *redisTx) Entry() domain.AuctionCacheEntry {
	return tx.entry
}

func (tx *redisTx) HasBid(userID string) bool {
	ok, err := tx.cache.client.SIsMember(tx.ctx, biddersKey(tx.entry.AuctionID), userID).Result()
	return err == nil && ok
}

func (tx *redisTx) Commit(userID string, amount int64) (*domain.CommitResult, error) {
	if tx.committed {
		return nil, domain.ErrTxCommitted
	}

	id := tx.entry.AuctionID
	res, err := tx.cache.client.Eval(tx.ctx, commitScript,
		[]string{entryKey(id), biddersKey(id), leaseKey(id)},
		tx.token, userID, amount, int(domain.AuctionOngoing)).Slice()
	if err != nil {
		return nil, fmt.Errorf("commit bid on auction %s: %w", id, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("commit bid on auction %s: empty reply", id)
	}

	switch code, _ := res[0].(int64); code {
	case 1:
	case -1:
		return nil, domain.ErrLeaseLost
	case -2:
		return nil, domain.ErrCacheMiss
	case -3:
		return nil, domain.ErrPriceNotHigher
	case -4:
		return nil, domain.ErrAuctionClosed
	default:
		return nil, fmt.Errorf("commit bid on auction %s: unexpected reply %v", id, res)
	}
	if len(res) < 5 {
		return nil, fmt.Errorf("commit bid on auction %s: short reply %v", id, res)
	}

	count, _ := res[1].(int64)
	unique, _ := res[2].(int64)
	previous, _ := res[3].(string)
	first, _ := res[4].(int64)

	tx.committed = true
	tx.entry.CurrentPrice = amount
	tx.entry.LastBidderID = userID
	tx.entry.BidCount = count
	tx.entry.UniqueBidders = unique

	return &domain.CommitResult{
		Entry:            tx.entry,
		PreviousBidderID: previous,
		FirstBidByUser:   first == 1,
	}, nil
}

func (tx *redisTx) SetStatus(status domain.AuctionStatus) error {
	id := tx.entry.AuctionID
	code, err := tx.cache.client.Eval(tx.ctx, txStatusScript,
		[]string{entryKey(id), leaseKey(id)}, tx.token, int(status)).Int()
	if err != nil {
		return fmt.Errorf("set status of auction %s: %w", id, err)
	}
	switch code {
	case -1:
		return domain.ErrLeaseLost
	case -2:
		return domain.ErrCacheMiss
	}
	tx.entry.Status = status
	return nil
}

func parseEntry(auctionID string, fields map[string]string) (*domain.AuctionCacheEntry, error) {
	entry := &domain.AuctionCacheEntry{
		AuctionID:    auctionID,
		SellerID:     fields["seller_id"],
		LastBidderID: fields["last_bidder_id"],
	}

	ints := map[string]*int64{
		"start_price":    &entry.StartPrice,
		"current_price":  &entry.CurrentPrice,
		"unique_bidders": &entry.UniqueBidders,
		"bid_count":      &entry.BidCount,
	}
	for name, dst := range ints {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s of auction %s: %w", name, auctionID, err)
		}
		*dst = v
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("parse status of auction %s: %w", auctionID, err)
	}
	entry.Status = domain.AuctionStatus(status)

	endMillis, err := strconv.ParseInt(fields["end_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse end_time of auction %s: %w", auctionID, err)
	}
	entry.EndTime = time.UnixMilli(endMillis)

	return entry, nil
}
