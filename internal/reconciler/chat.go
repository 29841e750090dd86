package reconciler

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// Chat is the group chat view.
type Chat struct {
	*View[models.Message]
	client remote.Client
}

// NewChat creates an idle chat view.
func NewChat(deps Deps) *Chat {
	deps = deps.withDefaults()
	return &Chat{
		View:   NewView(deps, messageSource[models.Message](models.CollectionMessages, messageOf)),
		client: deps.Client,
	}
}

// Send posts body as authorID. The message shows up locally when its insert
// event arrives, not before.
func (c *Chat) Send(ctx context.Context, body, authorID string) error {
	return sendMessage(ctx, c.client, c.View.logger, models.CollectionMessages, c.GroupID(), body, authorID)
}

// DeleteMessage deletes a message if requesterID wrote it. Deleting someone
// else's message, or one that is already gone, does nothing.
func (c *Chat) DeleteMessage(ctx context.Context, id, requesterID string) error {
	return deleteMessage(ctx, c.client, c.View.logger, models.CollectionMessages, id, requesterID)
}

// Discussion is the group discussion panel. Besides chat it lets a member
// react to posts and pick a post to reply to; both exist only in this
// client and are never written remotely.
type Discussion struct {
	*View[models.DiscussionMessage]
	client remote.Client

	mu        sync.Mutex
	reactions map[string]map[string][]string
	replyTo   string
}

// NewDiscussion creates an idle discussion view.
func NewDiscussion(deps Deps) *Discussion {
	deps = deps.withDefaults()
	return &Discussion{
		View:      NewView(deps, messageSource[models.DiscussionMessage](models.CollectionDiscussion, discussionOf)),
		client:    deps.Client,
		reactions: make(map[string]map[string][]string),
	}
}

// Activate loads the discussion for groupID. Local reactions and the reply
// target belong to the previous group and are cleared.
func (d *Discussion) Activate(ctx context.Context, groupID string) error {
	d.resetLocal()
	return d.View.Activate(ctx, groupID)
}

// Deactivate closes the view and clears local state.
func (d *Discussion) Deactivate() {
	d.resetLocal()
	d.View.Deactivate()
}

// Items returns the sequence with local reactions attached.
func (d *Discussion) Items() []Item[models.DiscussionMessage] {
	items := d.View.Items()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range items {
		if r, ok := d.reactions[items[i].Value.ID]; ok {
			items[i].Value.Reactions = cloneReactions(r)
		}
	}
	return items
}

// Send posts body as authorID and clears the reply target.
func (d *Discussion) Send(ctx context.Context, body, authorID string) error {
	err := sendMessage(ctx, d.client, d.View.logger, models.CollectionDiscussion, d.GroupID(), body, authorID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.replyTo = ""
	d.mu.Unlock()
	return nil
}

// DeleteMessage deletes a post if requesterID wrote it.
func (d *Discussion) DeleteMessage(ctx context.Context, id, requesterID string) error {
	if err := deleteMessage(ctx, d.client, d.View.logger, models.CollectionDiscussion, id, requesterID); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.reactions, id)
	if d.replyTo == id {
		d.replyTo = ""
	}
	d.mu.Unlock()
	return nil
}

// ToggleReaction adds userID's emoji reaction to a post, or takes it back if
// already there. It reports whether the reaction is now present.
func (d *Discussion) ToggleReaction(id, emoji, userID string) (bool, error) {
	if emoji == "" {
		return false, apperrors.Invalid("emoji", "must not be empty")
	}
	if userID == "" {
		return false, apperrors.Unauthorized("sign in to react")
	}
	if _, ok := d.Get(id); !ok {
		return false, apperrors.Invalid("message", "is not in this discussion")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	byEmoji, ok := d.reactions[id]
	if !ok {
		byEmoji = make(map[string][]string)
		d.reactions[id] = byEmoji
	}
	users := byEmoji[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(byEmoji, emoji)
		} else {
			byEmoji[emoji] = users
		}
		return false, nil
	}
	byEmoji[emoji] = append(users, userID)
	return true, nil
}

// SetReplyTarget marks the post the next message answers. An empty id clears it.
func (d *Discussion) SetReplyTarget(id string) error {
	if id != "" {
		if _, ok := d.Get(id); !ok {
			return apperrors.Invalid("message", "is not in this discussion")
		}
	}
	d.mu.Lock()
	d.replyTo = id
	d.mu.Unlock()
	return nil
}

// ReplyTarget returns the post being replied to, if any.
func (d *Discussion) ReplyTarget() (Item[models.DiscussionMessage], bool) {
	d.mu.Lock()
	id := d.replyTo
	d.mu.Unlock()
	if id == "" {
		return Item[models.DiscussionMessage]{}, false
	}
	return d.Get(id)
}

func (d *Discussion) resetLocal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = make(map[string]map[string][]string)
	d.replyTo = ""
}

func cloneReactions(r map[string][]string) map[string][]string {
	out := make(map[string][]string, len(r))
	for emoji, users := range r {
		out[emoji] = slices.Clone(users)
	}
	return out
}

func messageOf(m models.Message) models.Message              { return m }
func discussionOf(m models.DiscussionMessage) models.Message { return m.Message }

func messageSource[T any](collection string, msg func(T) models.Message) Source[T] {
	return Source[T]{
		Collection: collection,
		OrderBy:    "created_at",
		ID:         func(v T) string { return msg(v).ID },
		Actor:      func(v T) string { return msg(v).UserID },
	}
}

func sendMessage(ctx context.Context, client remote.Client, logger *slog.Logger, collection, groupID, body, authorID string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return apperrors.Invalid("message", "must not be empty")
	}
	if authorID == "" {
		return apperrors.Unauthorized("sign in to send messages")
	}
	if groupID == "" {
		return ErrInactive
	}

	rec, err := client.Insert(ctx, collection, remote.Record{
		"group_id": groupID,
		"user_id":  authorID,
		"message":  body,
	})
	if err != nil {
		return err
	}

	logger.Info("Message sent", "group_id", groupID, "message_id", rec.String("id"), "user_id", authorID)
	return nil
}

func deleteMessage(ctx context.Context, client remote.Client, logger *slog.Logger, collection, id, requesterID string) error {
	if requesterID == "" {
		return apperrors.Unauthorized("sign in to delete messages")
	}

	// The author filter is the ownership check: someone else's message
	// simply matches nothing.
	n, err := client.Delete(ctx, collection, []remote.Filter{
		remote.Eq("id", id),
		remote.Eq("user_id", requesterID),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Debug("Delete matched no message", "message_id", id, "user_id", requesterID)
		return nil
	}

	logger.Info("Message deleted", "message_id", id, "user_id", requesterID)
	return nil
}
