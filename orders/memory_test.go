package orders

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(start time.Time) *MemoryStore {
	s := NewMemoryStore(zerolog.Nop())
	now := start
	s.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	s.rand = func(int) int { return 7 }
	return s
}

func sampleOrder(source Source, customer string, total int) CreateOrder {
	return CreateOrder{
		Items:        []Item{{ID: "1", Name: "Chicken Biryani", Price: total, Quantity: 1}},
		Total:        total,
		OrderSource:  source,
		CustomerName: customer,
	}
}

func TestOrderNumber(t *testing.T) {
	at := time.UnixMilli(1760000123456)
	assert.Equal(t, "CHB-123456007", orderNumber(at, 7))
	assert.Equal(t, "CHB-123456999", orderNumber(at, 999))
}

func TestTax(t *testing.T) {
	assert.Equal(t, 10, Tax(190))
	assert.Equal(t, 8, Tax(150))
	assert.Equal(t, 1, Tax(10))
	assert.Equal(t, 0, Tax(9))
}

func TestCreate(t *testing.T) {
	s := newTestStore(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	o, err := s.Create(ctx, sampleOrder(SourceZomato, "  Asha ", 250))
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^CHB-\d{9}$`), o.OrderNumber)
	assert.Len(t, o.ID, 36)
	assert.Equal(t, 13, o.TaxAmount)
	assert.Equal(t, StatusPending, o.Status)
	require.NotNil(t, o.CustomerName)
	assert.Equal(t, "Asha", *o.CustomerName)

	anon, err := s.Create(ctx, sampleOrder(SourceDineIn, "", 100))
	require.NoError(t, err)
	assert.Nil(t, anon.CustomerName)
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	_, err := s.Create(ctx, sampleOrder("uber", "", 100))
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = s.Create(ctx, CreateOrder{OrderSource: SourceCall})
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := s.Create(ctx, sampleOrder(SourceCall, "", 100+i))
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
	assert.Equal(t, ids[2], two[0].ID)
}

func TestSearch(t *testing.T) {
	s := newTestStore(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	asha, err := s.Create(ctx, sampleOrder(SourceSwiggy, "Asha Verma", 100))
	require.NoError(t, err)
	_, err = s.Create(ctx, sampleOrder(SourceCall, "Ravi", 100))
	require.NoError(t, err)
	_, err = s.Create(ctx, sampleOrder(SourceDineIn, "", 100))
	require.NoError(t, err)

	got, err := s.Search(ctx, "verma")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, asha.ID, got[0].ID)

	got, err = s.Search(ctx, asha.OrderNumber[4:8])
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	got, err = s.Search(ctx, "chb-")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestUpdateStatusAndGet(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	o, err := s.Create(ctx, sampleOrder(SourceZomato, "", 100))
	require.NoError(t, err)

	ok, err := s.UpdateStatus(ctx, o.ID, StatusReady)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	ok, err = s.UpdateStatus(ctx, "missing", StatusReady)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateStatus(ctx, o.ID, "eaten")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	created, err := s.Create(ctx, sampleOrder(SourceCall, "Asha", 100))
	require.NoError(t, err)
	created.Items[0].Quantity = 99
	*created.CustomerName = "Mallory"

	got, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)
	assert.Equal(t, "Asha", *got.CustomerName)
	got.Items[0].Name = "Changed"

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Chicken Biryani", list[0].Items[0].Name)
	list[0].Items[0].Price = 1

	again, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, again.Items[0].Price)
}

func TestStats(t *testing.T) {
	s := newTestStore(time.Date(2026, 10, 19, 23, 57, 0, 0, time.UTC))
	ctx := context.Background()

	// 23:58 and 23:59 today, 00:00 tomorrow
	for _, src := range []Source{SourceZomato, SourceDineIn, SourceZomato} {
		_, err := s.Create(ctx, sampleOrder(src, "", 100))
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, DailyStats{
		Date:         "2026-10-19",
		TotalOrders:  2,
		TotalRevenue: 200,
		ZomatoOrders: 1,
		DineInOrders: 1,
	}, stats)
}

func TestToPrintJob(t *testing.T) {
	name := "Asha"
	created := time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC)
	o := Order{
		OrderNumber:  "CHB-123456789",
		CustomerName: &name,
		OrderSource:  SourceSwiggy,
		Items:        []Item{{ID: "a", Name: "Tea", Price: 20, Quantity: 2}},
		TotalAmount:  40,
		TaxAmount:    2,
		CreatedAt:    created,
	}

	job := ToPrintJob(o)
	assert.Equal(t, "CHB-123456789", job.OrderNumber)
	assert.Equal(t, "Asha", job.CustomerName)
	assert.Equal(t, "swiggy", job.OrderSource)
	assert.Equal(t, 40, job.TotalAmount)
	assert.Equal(t, created, job.Timestamp)
	require.Len(t, job.Items, 1)
	assert.Equal(t, 40, job.Items[0].LineTotal())

	o.CustomerName = nil
	assert.Empty(t, ToPrintJob(o).CustomerName)
}
