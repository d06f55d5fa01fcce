package billing

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// InvoiceFilter narrows an invoice listing. Nil fields match everything.
type InvoiceFilter struct {
	Status      *InvoiceStatus
	RecipientID *uuid.UUID
	// PeriodStartFrom keeps invoices whose period starts on or after it
	PeriodStartFrom *time.Time
	// PeriodEndTo keeps invoices whose period ends on or before it
	PeriodEndTo *time.Time
	Page        int
	PerPage     int
}

// Normalize applies the default page size and clamps page numbers to 1
func (f InvoiceFilter) Normalize() InvoiceFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PerPage < 1:
		f.PerPage = DefaultPerPage
	case f.PerPage > MaxPerPage:
		f.PerPage = MaxPerPage
	}
	return f
}

func (f InvoiceFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

func (f InvoiceFilter) Matches(inv *Invoice) bool {
	if f.Status != nil && inv.Status != *f.Status {
		return false
	}
	if f.RecipientID != nil && inv.Recipient.ID != *f.RecipientID {
		return false
	}
	if f.PeriodStartFrom != nil && inv.PeriodStart.Before(*f.PeriodStartFrom) {
		return false
	}
	if f.PeriodEndTo != nil && inv.PeriodEnd.After(*f.PeriodEndTo) {
		return false
	}
	return true
}

// SortNewestFirst orders invoices by creation time, newest first, then by number
func SortNewestFirst(invoices []*Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return invoices[i].Number > invoices[j].Number
	})
}

// InvoicePage is one page of a filtered listing
type InvoicePage struct {
	Invoices    []*Invoice `json:"data"`
	CurrentPage int        `json:"current_page"`
	LastPage    int        `json:"last_page"`
	PerPage     int        `json:"per_page"`
	Total       int        `json:"total"`
	From        *int       `json:"from"`
	To          *int       `json:"to"`
}

// NewInvoicePage wraps one page of results. f must be normalized; From and To
// are 1-based positions and stay nil on an empty page.
func NewInvoicePage(invoices []*Invoice, f InvoiceFilter, total int) *InvoicePage {
	if invoices == nil {
		invoices = []*Invoice{}
	}
	last := (total + f.PerPage - 1) / f.PerPage
	if last < 1 {
		last = 1
	}
	page := &InvoicePage{
		Invoices:    invoices,
		CurrentPage: f.Page,
		LastPage:    last,
		PerPage:     f.PerPage,
		Total:       total,
	}
	if len(invoices) > 0 {
		from := f.Offset() + 1
		to := f.Offset() + len(invoices)
		page.From, page.To = &from, &to
	}
	return page
}
