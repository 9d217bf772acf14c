package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyapp/tally/internal/schema"
)

// Transaction is a stored transaction. Amounts are kept in cents.
type Transaction struct {
	ID             string    `gorm:"primaryKey;size:40"`
	UserID         string    `gorm:"size:64;not null;index;uniqueIndex:idx_user_idempotency"`
	IdempotencyKey *string   `gorm:"size:128;uniqueIndex:idx_user_idempotency"`
	Type           string    `gorm:"size:16;not null"`
	AmountCents    int64     `gorm:"not null"`
	Description    string    `gorm:"size:500;not null"`
	Category       string    `gorm:"size:128;not null;index"`
	CategoryIcon   string    `gorm:"size:64"`
	OccurredAt     time.Time `gorm:"index"`
	Notes          string    `gorm:"type:text"`
	Tags           []string  `gorm:"type:text;serializer:json"`
	CreatedAt      time.Time
}

// MonthlySummary is the per-user aggregate the overview screen reads. It is
// updated in the same database transaction as every insert.
type MonthlySummary struct {
	UserID       string `gorm:"primaryKey;size:64"`
	Month        string `gorm:"primaryKey;size:7"`
	IncomeCents  int64  `gorm:"not null;default:0"`
	ExpenseCents int64  `gorm:"not null;default:0"`
	Count        int    `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// MonthLayout formats MonthlySummary.Month.
const MonthLayout = "2006-01"

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func newTransaction(id, userID, key string, p schema.Payload) *Transaction {
	t := &Transaction{
		ID:           id,
		UserID:       userID,
		Type:         string(p.Kind),
		AmountCents:  toCents(p.Amount),
		Description:  p.Description,
		Category:     p.Category,
		CategoryIcon: p.CategoryIcon,
		OccurredAt:   p.OccurredAt,
		Notes:        p.Notes,
		Tags:         p.TagIDs,
	}
	if key != "" {
		t.IdempotencyKey = &key
	}
	return t
}

// Payload converts the row back to its wire form.
func (t *Transaction) Payload() schema.Payload {
	return schema.Payload{
		Kind:         schema.Kind(t.Type),
		Amount:       fromCents(t.AmountCents),
		Description:  t.Description,
		Category:     t.Category,
		CategoryIcon: t.CategoryIcon,
		OccurredAt:   t.OccurredAt.UTC(),
		Notes:        t.Notes,
		TagIDs:       t.Tags,
	}
}

// Balance is income minus expense.
func (s *MonthlySummary) Balance() decimal.Decimal {
	return fromCents(s.IncomeCents - s.ExpenseCents)
}
