package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

type membership struct {
	financerID uuid.UUID
	userID     uuid.UUID
	from       time.Time
	until      *time.Time
}

type moduleChange struct {
	payer    billing.PayerRef
	moduleID uuid.UUID
	active   bool
	at       time.Time
}

func cloneDivision(d *billing.Division) *billing.Division {
	c := *d
	if d.ModulePrices != nil {
		c.ModulePrices = make(map[uuid.UUID]int64, len(d.ModulePrices))
		for k, v := range d.ModulePrices {
			c.ModulePrices[k] = v
		}
	}
	return &c
}

func cloneFinancer(f *billing.Financer) *billing.Financer {
	c := *f
	c.Modules = append([]billing.FinancerModule(nil), f.Modules...)
	return &c
}

func (s *Store) SaveDivision(ctx context.Context, d *billing.Division) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.divisions[d.ID] = cloneDivision(d)
	return nil
}

func (s *Store) SaveFinancer(ctx context.Context, f *billing.Financer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.financers[f.ID] = cloneFinancer(f)
	return nil
}

func (s *Store) GetDivision(ctx context.Context, id uuid.UUID) (*billing.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.divisions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("division")
	}
	return cloneDivision(d), nil
}

func (s *Store) GetFinancer(ctx context.Context, id uuid.UUID) (*billing.Financer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.financers[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("financer")
	}
	return cloneFinancer(f), nil
}

func (s *Store) ListActiveDivisions(ctx context.Context) ([]*billing.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Division
	for _, d := range s.state.divisions {
		if d.IsActive() {
			out = append(out, cloneDivision(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListActiveFinancers(ctx context.Context, divisionID *uuid.UUID) ([]*billing.Financer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Financer
	for _, f := range s.state.financers {
		if !f.IsActive() {
			continue
		}
		if divisionID != nil && (f.DivisionID == nil || *f.DivisionID != *divisionID) {
			continue
		}
		out = append(out, cloneFinancer(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// AddFinancerUser records a membership window; until nil means still active
func (s *Store) AddFinancerUser(ctx context.Context, financerID, userID uuid.UUID, from time.Time, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.members = append(s.state.members, membership{financerID: financerID, userID: userID, from: from, until: until})
	return nil
}

// ActiveCount counts distinct users overlapping [start, end]; a division sums its financers' counts
func (s *Store) ActiveCount(ctx context.Context, payer billing.PayerRef, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := values.TruncateDay(start)
	until := values.TruncateDay(end).AddDate(0, 0, 1)

	belongs := func(financerID uuid.UUID) bool {
		if payer.Type == billing.PayerTypeFinancer {
			return financerID == payer.ID
		}
		f, ok := s.state.financers[financerID]
		return ok && f.DivisionID != nil && *f.DivisionID == payer.ID
	}

	type member struct{ financerID, userID uuid.UUID }
	seen := map[member]struct{}{}
	for _, m := range s.state.members {
		if !belongs(m.financerID) {
			continue
		}
		if !m.from.Before(until) {
			continue
		}
		if m.until != nil && m.until.Before(from) {
			continue
		}
		seen[member{m.financerID, m.userID}] = struct{}{}
	}
	return len(seen), nil
}

// RecordChange appends to the module activation history
func (s *Store) RecordChange(ctx context.Context, payer billing.PayerRef, moduleID uuid.UUID, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.history = append(s.state.history, moduleChange{payer: payer, moduleID: moduleID, active: active, at: at})
	return nil
}

// IsActive consults the latest history entry at or before at, then the subscription window
func (s *Store) IsActive(ctx context.Context, payer billing.PayerRef, moduleID uuid.UUID, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *moduleChange
	for i := range s.state.history {
		h := &s.state.history[i]
		if h.payer != payer || h.moduleID != moduleID || h.at.After(at) {
			continue
		}
		if latest == nil || !h.at.Before(latest.at) {
			latest = h
		}
	}
	if latest != nil {
		return latest.active, nil
	}

	switch payer.Type {
	case billing.PayerTypeFinancer:
		f, ok := s.state.financers[payer.ID]
		if !ok {
			return false, nil
		}
		for _, m := range f.Modules {
			if m.ModuleID != moduleID {
				continue
			}
			if m.ActivatedAt != nil && m.ActivatedAt.After(at) {
				return false, nil
			}
			if m.DeactivatedAt != nil && !m.DeactivatedAt.After(at) {
				return false, nil
			}
			return true, nil
		}
	case billing.PayerTypeDivision:
		d, ok := s.state.divisions[payer.ID]
		if ok {
			_, priced := d.ModulePrices[moduleID]
			return priced, nil
		}
	}
	return false, nil
}
