package models

// Message is a group chat post. It can be deleted by its author and is
// never edited in place.
type Message struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// DiscussionMessage is a post in a group's discussion panel.
//
// Reactions exist only on the client that added them; they have no column
// remotely and are lost on reload.
type DiscussionMessage struct {
	Message

	// Reactions maps an emoji to the user IDs that reacted with it.
	Reactions map[string][]string `json:"-"`
}
