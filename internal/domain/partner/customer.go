package partner

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerStatus represents the status of a customer
type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusInactive  CustomerStatus = "inactive"
	CustomerStatusSuspended CustomerStatus = "suspended"
)

// Customer is the customer directory record.
// TotalSales, TotalPayments and PendingBalance are a cache over sales and payments:
// RecomputeBalance derives them, anything else only adjusts them provisionally.
type Customer struct {
	shared.TenantAggregateRoot
	Code           string          `gorm:"type:varchar(50);not null;index"`
	Name           string          `gorm:"type:varchar(200);not null"`
	Phone          string          `gorm:"type:varchar(50);index"`
	Email          string          `gorm:"type:varchar(200)"`
	Status         CustomerStatus  `gorm:"type:varchar(20);not null;default:'active'"`
	CreditLimit    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalSales     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalPayments  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	PendingBalance decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"` // negative means the customer is in credit
	LastActivityAt *time.Time
	LastPaymentAt  *time.Time
	ReconciledAt   *time.Time
}

// TableName returns the table name for GORM
func (Customer) TableName() string {
	return "customers"
}

// NewCustomer creates a new active customer
func NewCustomer(tenantID uuid.UUID, code, name string) (*Customer, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, shared.NewValidationError("code", "customer code cannot be empty")
	}
	if len(code) > 50 {
		return nil, shared.NewValidationError("code", "customer code cannot exceed 50 characters")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewValidationError("name", "customer name cannot be empty")
	}
	return &Customer{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Code:                code,
		Name:                name,
		Status:              CustomerStatusActive,
		CreditLimit:         decimal.Zero,
		TotalSales:          decimal.Zero,
		TotalPayments:       decimal.Zero,
		PendingBalance:      decimal.Zero,
	}, nil
}

// SetCreditLimit sets the credit limit; zero means no limit is enforced
func (c *Customer) SetCreditLimit(limit decimal.Decimal) error {
	if limit.IsNegative() {
		return shared.NewValidationError("credit_limit", "credit limit cannot be negative")
	}
	c.CreditLimit = limit
	c.UpdatedAt = time.Now()
	return nil
}

// HasCreditLimit returns true if the customer has a credit limit set
func (c *Customer) HasCreditLimit() bool {
	return c.CreditLimit.GreaterThan(decimal.Zero)
}

// AdjustPendingBalance applies a provisional change to the cached balance.
// The change must be confirmed by ApplyBalance before the transaction commits.
func (c *Customer) AdjustPendingBalance(delta decimal.Decimal) {
	c.PendingBalance = c.PendingBalance.Add(delta)
}

// ApplyBalance overwrites the cached totals with a recomputed view.
// It returns true when the cache disagreed with the view.
func (c *Customer) ApplyBalance(view BalanceView, at time.Time) bool {
	drifted := !c.TotalSales.Equal(view.TotalSales) ||
		!c.TotalPayments.Equal(view.TotalPayments) ||
		!c.PendingBalance.Equal(view.PendingBalance)

	c.TotalSales = view.TotalSales
	c.TotalPayments = view.TotalPayments
	c.PendingBalance = view.PendingBalance
	c.LastActivityAt = view.LastActivityAt
	c.LastPaymentAt = view.LastPaymentAt
	c.ReconciledAt = &at
	c.UpdatedAt = at
	return drifted
}

// Balance returns the cached totals as a view
func (c *Customer) Balance() BalanceView {
	return BalanceView{
		TotalSales:     c.TotalSales,
		TotalPayments:  c.TotalPayments,
		PendingBalance: c.PendingBalance,
		LastActivityAt: c.LastActivityAt,
		LastPaymentAt:  c.LastPaymentAt,
	}
}

// CreditEvaluation is the soft credit-limit verdict for a sale
type CreditEvaluation struct {
	Exceeded    bool
	Outstanding decimal.Decimal
	Limit       decimal.Decimal
	Warning     string
}

// EvaluateCredit checks the outstanding balance a sale would leave behind against the limit.
// Exceeding the limit never blocks the sale.
func (c *Customer) EvaluateCredit(outstandingAfter decimal.Decimal) CreditEvaluation {
	eval := CreditEvaluation{Outstanding: outstandingAfter, Limit: c.CreditLimit}
	if !c.HasCreditLimit() || outstandingAfter.LessThanOrEqual(c.CreditLimit) {
		return eval
	}
	eval.Exceeded = true
	eval.Warning = fmt.Sprintf("customer %s outstanding balance %s exceeds credit limit %s by %s",
		c.Name,
		outstandingAfter.StringFixed(2),
		c.CreditLimit.StringFixed(2),
		outstandingAfter.Sub(c.CreditLimit).StringFixed(2))
	return eval
}
