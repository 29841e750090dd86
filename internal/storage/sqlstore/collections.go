package sqlstore

import (
	"fmt"

	"github.com/ikimina/circles/internal/storage"
)

type columnType int

const (
	colText columnType = iota
	colInt
	colMoney
	colBool
)

type column struct {
	name string
	typ  columnType
	// def is the SQL DEFAULT clause, empty for none.
	def string
}

// collection describes one table exposed through the collection API.
type collection struct {
	name    string
	columns []column
	// created is the timestamp column filled on insert.
	created string
	// topic is the column whose value names the change-feed topic.
	topic string
	// unique lists column sets that must be unique across rows.
	unique [][]string
	index  []string
}

func (c *collection) column(name string) (column, bool) {
	for _, col := range c.columns {
		if col.name == name {
			return col, true
		}
	}
	return column{}, false
}

func text(name string) column           { return column{name: name, typ: colText} }
func integer(name string) column        { return column{name: name, typ: colInt} }
func money(name string) column          { return column{name: name, typ: colMoney, def: "0"} }
func flag(name string, def bool) column {
	if def {
		return column{name: name, typ: colBool, def: "TRUE"}
	}
	return column{name: name, typ: colBool, def: "FALSE"}
}

var idColumn = text("id")

// collections is the fixed schema of the store. Collection and field names
// are validated against it before any SQL is built.
var collections = map[string]*collection{}

func register(c *collection) {
	collections[c.name] = c
}

func init() {
	register(&collection{
		name: "groups",
		columns: []column{
			idColumn, text("name"), text("description"), text("location"), text("category"),
			integer("size"), {name: "member_count", typ: colInt, def: "0"}, money("current_balance"),
			text("created_by"), text("next_saving_date"), text("thumbnail"),
			integer("created_at"), integer("updated_at"),
		},
		created: "created_at",
		topic:   "id",
		index:   []string{"created_by"},
	})
	register(&collection{
		name: "group_members",
		columns: []column{
			idColumn, text("group_id"), text("user_id"), money("current_balance"), integer("joined_at"),
		},
		created: "joined_at",
		topic:   "group_id",
		unique:  [][]string{{"group_id", "user_id"}},
		index:   []string{"group_id", "user_id"},
	})
	register(&collection{
		name: "group_join_requests",
		columns: []column{
			idColumn, text("group_id"), text("user_id"),
			{name: "status", typ: colText, def: "'pending'"}, integer("created_at"),
		},
		created: "created_at",
		topic:   "group_id",
		index:   []string{"group_id"},
	})
	register(&collection{
		name: "group_messages",
		columns: []column{
			idColumn, text("group_id"), text("user_id"), text("message"), integer("created_at"),
		},
		created: "created_at",
		topic:   "group_id",
		index:   []string{"group_id"},
	})
	register(&collection{
		name: "discussion_messages",
		columns: []column{
			idColumn, text("group_id"), text("user_id"), text("message"), integer("created_at"),
		},
		created: "created_at",
		topic:   "group_id",
		index:   []string{"group_id"},
	})
	register(&collection{
		name: "profiles",
		columns: []column{
			idColumn, text("user_id"), text("name"), text("phone"), text("photo"),
			money("total_savings"), integer("created_at"), integer("updated_at"),
		},
		created: "created_at",
		topic:   "user_id",
		unique:  [][]string{{"user_id"}},
	})
	register(&collection{
		name: "transactions",
		columns: []column{
			idColumn, text("group_id"), text("user_id"), text("type"), money("amount"),
			text("description"), {name: "status", typ: colText, def: "'pending'"}, integer("created_at"),
		},
		created: "created_at",
		topic:   "group_id",
		index:   []string{"group_id"},
	})
	register(&collection{
		name: "notifications",
		columns: []column{
			idColumn, text("user_id"), text("type"), text("title"), text("message"),
			text("related_id"), flag("read", false), integer("created_at"),
		},
		created: "created_at",
		topic:   "user_id",
		index:   []string{"user_id"},
	})
	register(&collection{
		name: "events",
		columns: []column{
			idColumn, text("group_id"), text("title"), text("description"), text("event_date"),
			text("event_type"), integer("created_at"),
		},
		created: "created_at",
		topic:   "group_id",
	})
	register(&collection{
		name: "faqs",
		columns: []column{
			idColumn, text("question"), text("answer"), flag("active", true),
			integer("display_order"), integer("created_at"),
		},
		created: "created_at",
	})
	register(&collection{
		name: "tips",
		columns: []column{
			idColumn, text("content"), flag("active", true), integer("display_order"), integer("created_at"),
		},
		created: "created_at",
	})
	register(&collection{
		name: "testimonials",
		columns: []column{
			idColumn, text("name"), text("location"), text("quote"), text("photo"),
			flag("active", true), integer("display_order"), integer("created_at"),
		},
		created: "created_at",
	})
	register(&collection{
		name: "blog_posts",
		columns: []column{
			idColumn, text("title"), text("preview"), text("content"), text("image"),
			flag("published", false), integer("created_at"),
		},
		created: "created_at",
	})
}

func lookup(name string) (*collection, error) {
	c, ok := collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, name)
	}
	return c, nil
}

func (c *collection) field(name string) (column, error) {
	col, ok := c.column(name)
	if !ok {
		return column{}, fmt.Errorf("%w: %s.%s", storage.ErrUnknownField, c.name, name)
	}
	return col, nil
}
