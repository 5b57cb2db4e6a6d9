package orders

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryStore keeps orders in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	logger zerolog.Logger
	now    func() time.Time
	rand   func(n int) int
}

// NewMemoryStore creates an empty store
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		logger: logger,
		now:    time.Now,
		rand:   rand.IntN,
	}
}

// orderNumber is CHB- followed by the last six digits of the millisecond
// clock and three random digits
func orderNumber(now time.Time, random int) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return fmt.Sprintf("CHB-%s%03d", ms, random)
}

// Tax returns the included tax for total, rounded half away from zero
func Tax(total int) int {
	return int(math.Round(float64(total) * TaxRate))
}

func (s *MemoryStore) Create(ctx context.Context, in CreateOrder) (*Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:          uuid.NewString(),
		OrderNumber: orderNumber(now, s.rand(1000)),
		OrderSource: in.OrderSource,
		Items:       append([]Item(nil), in.Items...),
		TotalAmount: in.Total,
		TaxAmount:   Tax(in.Total),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if name := strings.TrimSpace(in.CustomerName); name != "" {
		o.CustomerName = &name
	}

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.logger.Info().Str("id", o.ID).Str("order_number", o.OrderNumber).Int("total", o.TotalAmount).Msg("Order created")
	cp := clone(o)
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	o.Status = status
	o.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]Order, error) {
	all := s.filter(func(*Order) bool { return true })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) Search(ctx context.Context, term string) ([]Order, error) {
	needle := strings.ToLower(term)
	return s.filter(func(o *Order) bool {
		if strings.Contains(strings.ToLower(o.OrderNumber), needle) {
			return true
		}
		return o.CustomerName != nil && strings.Contains(strings.ToLower(*o.CustomerName), needle)
	}), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := clone(o)
	return &cp, nil
}

// Stats aggregates the orders created on the calendar day of day, in its location
func (s *MemoryStore) Stats(ctx context.Context, day time.Time) (DailyStats, error) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	stats := DailyStats{Date: start.Format(time.DateOnly)}
	for _, o := range s.filter(func(o *Order) bool {
		return !o.CreatedAt.Before(start) && o.CreatedAt.Before(end)
	}) {
		stats.add(o)
	}
	return stats, nil
}

// clone copies o without sharing its items or customer name with the store
func clone(o *Order) Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	if o.CustomerName != nil {
		name := *o.CustomerName
		cp.CustomerName = &name
	}
	return cp
}

// filter returns copies of matching orders, newest first
func (s *MemoryStore) filter(match func(*Order) bool) []Order {
	s.mu.RLock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if match(o) {
			out = append(out, clone(o))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
