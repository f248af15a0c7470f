package domain

import "time"

// PrintStatus is the local-only print lifecycle of an order. It never leaves
// this process; the remote side only sees the is_printed flag.
type PrintStatus string

const (
	PrintStatusNew      PrintStatus = "NEW"
	PrintStatusPrinting PrintStatus = "PRINTING"
	PrintStatusPrinted  PrintStatus = "PRINTED"
	PrintStatusFailed   PrintStatus = "PRINT_FAILED"
)

type Order struct {
	ID               int64
	CompanyName      string
	CreatedAt        time.Time
	DineIn           bool
	TotalPrice       int64
	Items            []OrderItem
	IsPrinted        bool
	PrintStatus      PrintStatus
	PrintAttempts    int
	LastPrintAttempt *time.Time
}

type OrderItem struct {
	Name      string
	Quantity  int
	UnitPrice int64
	Options   []OptionLine
}

type OptionLine struct {
	Name  string
	Price int64
}

// LinePrice is the per-unit price including all option surcharges.
func (i OrderItem) LinePrice() int64 {
	price := i.UnitPrice
	for _, opt := range i.Options {
		price += opt.Price
	}
	return price
}

// LineTotal is quantity times the option-inclusive unit price.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.LinePrice()
}

// Total computes the grand total from the item lines. The stored TotalPrice
// column is not trusted for receipt rendering.
func (o Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}
