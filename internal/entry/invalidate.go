package entry

// Read-cache keys affected by a new transaction.
const (
	KeyOverview     = "overview"
	KeyTransactions = "transactions"
	KeyCalendar     = "calendar"
)

// InvalidatedKeys lists the keys invalidated after every successful create.
var InvalidatedKeys = []string{KeyOverview, KeyTransactions, KeyCalendar}

// Invalidator marks cached read views stale so they refetch.
type Invalidator interface {
	Invalidate(keys ...string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(keys ...string)

// Invalidate calls f(keys...).
func (f InvalidatorFunc) Invalidate(keys ...string) { f(keys...) }

// MultiInvalidator forwards to every non-nil member.
type MultiInvalidator []Invalidator

// Invalidate implements Invalidator.
func (m MultiInvalidator) Invalidate(keys ...string) {
	for _, inv := range m {
		if inv != nil {
			inv.Invalidate(keys...)
		}
	}
}
