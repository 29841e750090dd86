// Package models defines the core domain models for savings circles.
//
// # Collections
//
// Every model maps onto one remote collection:
//   - Group: a savings circle (groups)
//   - Membership: a user's place and running balance in a group (group_members)
//   - JoinRequest: a pending application to join a group (group_join_requests)
//   - Message / DiscussionMessage: group chat and discussion posts (group_messages, discussion_messages)
//   - Profile: display data for a user (profiles)
//   - Transaction: a contribution, loan or payout (transactions)
//   - Notification: a message addressed to one user (notifications)
//
// Read-only content (events, faqs, tips, testimonials, blog_posts) lives in content.go.
//
// # Design Principles
//
//  1. **Records are authoritative remotely**: these structs are decoded copies, never the source of truth
//  2. **Avoid circular references**: relationships are ID strings, not pointers
//  3. **JSON tags are column names**: records decode into models through their tags
//  4. **Money is decimal**: balances and amounts use shopspring/decimal, never float64
//
// Timestamps are Unix milliseconds.
package models

// Collection names.
const (
	CollectionGroups        = "groups"
	CollectionMembers       = "group_members"
	CollectionJoinRequests  = "group_join_requests"
	CollectionMessages      = "group_messages"
	CollectionDiscussion    = "discussion_messages"
	CollectionProfiles      = "profiles"
	CollectionTransactions  = "transactions"
	CollectionNotifications = "notifications"
	CollectionEvents        = "events"
	CollectionFAQs          = "faqs"
	CollectionTips          = "tips"
	CollectionTestimonials  = "testimonials"
	CollectionBlogPosts     = "blog_posts"
)
