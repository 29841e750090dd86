// Package ledger lists the transactions of the groups a user belongs to and
// exports them as CSV.
package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// All matches every type or status in a Filter.
const All = "all"

// UnknownGroup is shown for transactions whose group cannot be read.
const UnknownGroup = "Unknown"

// Entry is a transaction with the name of its group.
type Entry struct {
	models.Transaction
	GroupName string
}

// Filter narrows a list of entries. Empty fields and All match everything.
type Filter struct {
	Type   string
	Status string
	// Search matches a case-insensitive substring of the description or group name.
	Search string
}

// Apply returns the entries that pass f, in their original order.
func (f Filter) Apply(entries []Entry) []Entry {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Type != "" && f.Type != All && string(e.Type) != f.Type {
			continue
		}
		if f.Status != "" && f.Status != All && string(e.Status) != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Description), search) &&
			!strings.Contains(strings.ToLower(e.GroupName), search) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Summary totals completed transactions.
type Summary struct {
	In  decimal.Decimal
	Out decimal.Decimal
}

// Net is money in minus money out.
func (s Summary) Net() decimal.Decimal {
	return s.In.Sub(s.Out)
}

// Summarize totals the completed entries. Pending and failed ones are ignored.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		if e.Status != models.TxCompleted {
			continue
		}
		if e.Type.Outflow() {
			s.Out = s.Out.Add(e.Amount)
		} else {
			s.In = s.In.Add(e.Amount)
		}
	}
	return s
}

// Ledger reads transactions as the signed-in user.
type Ledger struct {
	client   remote.Client
	identity auth.Identity
	logger   *slog.Logger
}

// New creates a Ledger.
func New(client remote.Client, identity auth.Identity, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{client: client, identity: identity, logger: logger}
}

// List returns the transactions of every group the caller belongs to or
// created, newest first.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	user, err := auth.RequireUser(ctx, l.identity)
	if err != nil {
		return nil, err
	}

	groupIDs, err := l.groupsOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return []Entry{}, nil
	}

	recs, err := l.client.Query(ctx, remote.Query{
		Collection: models.CollectionTransactions,
		Filters:    []remote.Filter{remote.In("group_id", groupIDs)},
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	txs, err := remote.DecodeAll[models.Transaction](recs)
	if err != nil {
		return nil, err
	}

	names, err := l.groupNames(ctx, groupIDs)
	if err != nil {
		// The list is still useful without names
		l.logger.Warn("Failed to read group names", "user_id", user.ID, "error", err)
	}

	entries := make([]Entry, len(txs))
	for i, tx := range txs {
		name, ok := names[tx.GroupID]
		if !ok {
			name = UnknownGroup
		}
		entries[i] = Entry{Transaction: tx, GroupName: name}
	}

	l.logger.Debug("Transactions loaded", "user_id", user.ID, "groups", len(groupIDs), "transactions", len(entries))
	return entries, nil
}

// groupsOf returns the IDs of groups the user is a member of or created.
func (l *Ledger) groupsOf(ctx context.Context, userID string) ([]string, error) {
	members, err := l.client.Query(ctx, remote.Query{
		Collection: models.CollectionMembers,
		Filters:    []remote.Filter{remote.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}
	created, err := l.client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.Eq("created_by", userID)},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range members {
		add(m.String("group_id"))
	}
	for _, g := range created {
		add(g.String("id"))
	}
	return ids, nil
}

func (l *Ledger) groupNames(ctx context.Context, ids []string) (map[string]string, error) {
	recs, err := l.client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.In("id", ids)},
	})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(recs))
	for _, r := range recs {
		names[r.String("id")] = r.String("name")
	}
	return names, nil
}
