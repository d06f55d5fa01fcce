package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/values"
)

// PayerType distinguishes the two levels of the billing hierarchy
type PayerType string

const (
	PayerTypeDivision PayerType = "division"
	PayerTypeFinancer PayerType = "financer"
)

func (t PayerType) IsValid() bool {
	return t == PayerTypeDivision || t == PayerTypeFinancer
}

// PayerRef identifies an invoice issuer or recipient
type PayerRef struct {
	Type PayerType `json:"type"`
	ID   uuid.UUID `json:"id"`
}

func DivisionRef(id uuid.UUID) PayerRef {
	return PayerRef{Type: PayerTypeDivision, ID: id}
}

func FinancerRef(id uuid.UUID) PayerRef {
	return PayerRef{Type: PayerTypeFinancer, ID: id}
}

func (r PayerRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// PayerStatus gates whether a payer takes part in batch generation
type PayerStatus string

const (
	PayerStatusActive   PayerStatus = "active"
	PayerStatusInactive PayerStatus = "inactive"
)

// Division is the top-level payer. Hexeko invoices it for the core package.
type Division struct {
	ID                uuid.UUID           `json:"id"`
	Name              string              `json:"name"`
	Country           string              `json:"country"`
	Currency          string              `json:"currency"`
	VATRate           *values.VATRate     `json:"vat_rate,omitempty"`
	CorePackagePrice  int64               `json:"core_package_price"`
	ContractStartDate *time.Time          `json:"contract_start_date,omitempty"`
	ModulePrices      map[uuid.UUID]int64 `json:"module_prices,omitempty"`
	Status            PayerStatus         `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func (d *Division) Ref() PayerRef {
	return DivisionRef(d.ID)
}

func (d *Division) IsActive() bool {
	return d.Status == PayerStatusActive
}

// ModulePrice returns the per-beneficiary price the division negotiated, 0 when none
func (d *Division) ModulePrice(moduleID uuid.UUID) int64 {
	if d == nil || d.ModulePrices == nil {
		return 0
	}
	return d.ModulePrices[moduleID]
}

// Financer is billed by its Division and funds beneficiaries.
type Financer struct {
	ID                uuid.UUID        `json:"id"`
	DivisionID        *uuid.UUID       `json:"division_id,omitempty"`
	Name              string           `json:"name"`
	CorePackagePrice  *int64           `json:"core_package_price,omitempty"`
	ContractStartDate *time.Time       `json:"contract_start_date,omitempty"`
	Status            PayerStatus      `json:"status"`
	Modules           []FinancerModule `json:"modules,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// FinancerModule is an optional module a financer subscribes to.
// ActivatedAt/DeactivatedAt bound the module's own prorata window.
type FinancerModule struct {
	ModuleID            uuid.UUID  `json:"module_id"`
	Name                string     `json:"name"`
	PricePerBeneficiary *int64     `json:"price_per_beneficiary,omitempty"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt       *time.Time `json:"deactivated_at,omitempty"`
}

func (f *Financer) Ref() PayerRef {
	return FinancerRef(f.ID)
}

func (f *Financer) IsActive() bool {
	return f.Status == PayerStatusActive
}

func (f *Financer) HasDivision() bool {
	return f.DivisionID != nil && *f.DivisionID != uuid.Nil
}

// CorePrice falls back to the parent division's price, then to 0
func (f *Financer) CorePrice(parent *Division) int64 {
	if f.CorePackagePrice != nil {
		return *f.CorePackagePrice
	}
	if parent != nil {
		return parent.CorePackagePrice
	}
	return 0
}

// ModulePrice resolves financer price, then division price, then 0
func (m FinancerModule) ModulePrice(parent *Division) int64 {
	if m.PricePerBeneficiary != nil {
		return *m.PricePerBeneficiary
	}
	return parent.ModulePrice(m.ModuleID)
}
