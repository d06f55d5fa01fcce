package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
)

func cloneInvoice(inv *billing.Invoice) *billing.Invoice {
	c := *inv
	c.Items = append([]billing.InvoiceItem(nil), inv.Items...)
	if inv.Metadata != nil {
		c.Metadata = make(billing.Metadata, len(inv.Metadata))
		for k, v := range inv.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *Store) Create(ctx context.Context, inv *billing.Invoice) error {
	if err := s.fault("create_invoice"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.invoices[inv.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("invoice %s already exists", inv.ID))
	}
	for _, existing := range s.state.invoices {
		if existing.Number == inv.Number {
			return apperrors.NewConflictError(fmt.Sprintf("invoice number %s already used", inv.Number))
		}
	}
	s.state.invoices[inv.ID] = cloneInvoice(inv)
	s.state.order = append(s.state.order, inv.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.state.invoices[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("invoice")
	}
	return cloneInvoice(inv), nil
}

// GetForUpdate is Get; a single writer needs no row lock
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return s.Get(ctx, id)
}

func (s *Store) Update(ctx context.Context, inv *billing.Invoice) error {
	if err := s.fault("update_invoice"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.invoices[inv.ID]; !ok {
		return apperrors.NewNotFoundError("invoice")
	}
	s.state.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *Store) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Invoice
	for _, id := range s.state.order {
		inv := s.state.invoices[id]
		if inv.BatchID != nil && *inv.BatchID == batchID {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, f billing.InvoiceFilter) (*billing.InvoicePage, error) {
	if err := s.fault("list_invoices"); err != nil {
		return nil, err
	}
	f = f.Normalize()
	s.mu.RLock()
	var matched []*billing.Invoice
	for _, id := range s.state.order {
		if inv := s.state.invoices[id]; f.Matches(inv) {
			matched = append(matched, cloneInvoice(inv))
		}
	}
	s.mu.RUnlock()

	billing.SortNewestFirst(matched)
	lo := min(f.Offset(), len(matched))
	hi := min(lo+f.PerPage, len(matched))
	return billing.NewInvoicePage(matched[lo:hi], f, len(matched)), nil
}

// Invoices returns every stored invoice sorted by number
func (s *Store) Invoices() []*billing.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*billing.Invoice, 0, len(s.state.invoices))
	for _, inv := range s.state.invoices {
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *Store) NextValue(ctx context.Context, invoiceType billing.InvoiceType, period string) (int64, error) {
	if err := s.fault("next_value"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sequenceKey{invoiceType, period}
	s.state.sequences[key]++
	return s.state.sequences[key], nil
}
