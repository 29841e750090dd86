package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ikimina/circles/internal/models"
)

// MemberBalance totals one member's completed transactions.
type MemberBalance struct {
	UserID string
	In     decimal.Decimal
	Out    decimal.Decimal
}

// Net is what the member has put in minus what they have taken out.
func (b MemberBalance) Net() decimal.Decimal {
	return b.In.Sub(b.Out)
}

// Balances aggregates completed entries per member, highest net first.
// Members with equal nets are ordered by user ID.
func Balances(entries []Entry) []MemberBalance {
	byUser := make(map[string]*MemberBalance)
	for _, e := range entries {
		if e.Status != models.TxCompleted || e.UserID == "" {
			continue
		}
		b, ok := byUser[e.UserID]
		if !ok {
			b = &MemberBalance{UserID: e.UserID}
			byUser[e.UserID] = b
		}
		if e.Type.Outflow() {
			b.Out = b.Out.Add(e.Amount)
		} else {
			b.In = b.In.Add(e.Amount)
		}
	}

	out := make([]MemberBalance, 0, len(byUser))
	for _, b := range byUser {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Net().Cmp(out[j].Net()); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
