package memory

import (
	"context"
	"fmt"
	"sync"

	"auction-marketplace/internal/domain"
)

// PointLedger keeps balances and holds in process memory.
type PointLedger struct {
	mu       sync.Mutex
	balances map[string]*domain.PointBalance
	holds    map[string]map[string]int64 // auctionID -> userID -> held amount
}

func NewPointLedger() *PointLedger {
	return &PointLedger{
		balances: make(map[string]*domain.PointBalance),
		holds:    make(map[string]map[string]int64),
	}
}

func (l *PointLedger) balance(userID string) *domain.PointBalance {
	b, ok := l.balances[userID]
	if !ok {
		b = &domain.PointBalance{UserID: userID}
		l.balances[userID] = b
	}
	return b
}

// Deposit credits available points to a user.
func (l *PointLedger) Deposit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d points: amount must be positive", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(userID).Available += amount
	return nil
}

func (l *PointLedger) Hold(ctx context.Context, userID, auctionID string, amount int64) (*domain.PointHold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	auctionHolds := l.holds[auctionID]
	previous := auctionHolds[userID]
	b := l.balance(userID)

	delta := amount - previous
	if delta > b.Available {
		return nil, domain.ErrInsufficientPoints
	}

	if auctionHolds == nil {
		auctionHolds = make(map[string]int64)
		l.holds[auctionID] = auctionHolds
	}
	b.Available -= delta
	b.Held += delta
	auctionHolds[userID] = amount

	return &domain.PointHold{UserID: userID, AuctionID: auctionID, Amount: amount, State: domain.HoldHeld}, nil
}

func (l *PointLedger) Release(ctx context.Context, userID, auctionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.holds[auctionID][userID]
	if !ok {
		return nil
	}

	b := l.balance(userID)
	b.Available += amount
	b.Held -= amount
	delete(l.holds[auctionID], userID)
	if len(l.holds[auctionID]) == 0 {
		delete(l.holds, auctionID)
	}
	return nil
}

func (l *PointLedger) Finalize(ctx context.Context, auctionID, winnerID string) (*domain.FinalizeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := &domain.FinalizeResult{}
	for userID, amount := range l.holds[auctionID] {
		b := l.balance(userID)
		b.Held -= amount
		if userID == winnerID {
			b.Used += amount
			result.UsedAmount = amount
			continue
		}
		b.Available += amount
		result.Released++
	}
	delete(l.holds, auctionID)
	return result, nil
}

func (l *PointLedger) Balance(ctx context.Context, userID string) (*domain.PointBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := *l.balance(userID)
	return &b, nil
}

// ActiveHold returns the held amount of userID on auctionID, if any.
func (l *PointLedger) ActiveHold(userID, auctionID string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.holds[auctionID][userID]
	return amount, ok
}
