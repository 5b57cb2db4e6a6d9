// Package orders keeps the orders whose receipts get printed.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nixxel-company-limited/thermal-receipt-server/receipt"
)

// TaxRate is the share of the total reported as included tax
const TaxRate = 0.05

var (
	ErrNotFound      = errors.New("order not found")
	ErrInvalidSource = errors.New("invalid order source")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrNoItems       = errors.New("order has no items")
)

type Source string

const (
	SourceDineIn Source = "dine-in"
	SourceZomato Source = "zomato"
	SourceSwiggy Source = "swiggy"
	SourceCall   Source = "call"
)

// Sources lists every accepted order source
var Sources = []Source{SourceDineIn, SourceZomato, SourceSwiggy, SourceCall}

func (s Source) Valid() bool {
	for _, v := range Sources {
		if s == v {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID           string    `json:"id"`
	OrderNumber  string    `json:"order_number"`
	CustomerName *string   `json:"customer_name"`
	OrderSource  Source    `json:"order_source"`
	Items        []Item    `json:"items"`
	TotalAmount  int       `json:"total_amount"`
	TaxAmount    int       `json:"tax_amount"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateOrder is the input of Store.Create
type CreateOrder struct {
	Items        []Item `json:"items"`
	Total        int    `json:"total"`
	OrderSource  Source `json:"orderSource"`
	CustomerName string `json:"customerName,omitempty"`
}

func (c CreateOrder) Validate() error {
	if len(c.Items) == 0 {
		return ErrNoItems
	}
	if !c.OrderSource.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, c.OrderSource)
	}
	return nil
}

// DailyStats aggregates the orders created on one calendar day
type DailyStats struct {
	Date         string `json:"date"`
	TotalOrders  int    `json:"total_orders"`
	TotalRevenue int    `json:"total_revenue"`
	ZomatoOrders int    `json:"zomato_orders"`
	SwiggyOrders int    `json:"swiggy_orders"`
	CallOrders   int    `json:"call_orders"`
	DineInOrders int    `json:"dine_in_orders"`
}

func (s *DailyStats) add(o Order) {
	s.TotalOrders++
	s.TotalRevenue += o.TotalAmount
	switch o.OrderSource {
	case SourceZomato:
		s.ZomatoOrders++
	case SourceSwiggy:
		s.SwiggyOrders++
	case SourceCall:
		s.CallOrders++
	case SourceDineIn:
		s.DineInOrders++
	}
}

// Store persists orders
type Store interface {
	Create(ctx context.Context, in CreateOrder) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (bool, error)
	// List returns orders newest first; limit <= 0 means all
	List(ctx context.Context, limit int) ([]Order, error)
	// Search matches term case-insensitively against order number and customer name
	Search(ctx context.Context, term string) ([]Order, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	Stats(ctx context.Context, day time.Time) (DailyStats, error)
}

// ToPrintJob converts an order into the job the receipt composer prints
func ToPrintJob(o Order) receipt.PrintJob {
	items := make([]receipt.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, receipt.Item{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.Price})
	}

	job := receipt.PrintJob{
		OrderNumber: o.OrderNumber,
		Items:       items,
		TotalAmount: o.TotalAmount,
		OrderSource: string(o.OrderSource),
		Timestamp:   o.CreatedAt,
	}
	if o.CustomerName != nil {
		job.CustomerName = strings.TrimSpace(*o.CustomerName)
	}
	return job
}
