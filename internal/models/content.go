package models

// Event is a scheduled meeting or deadline, optionally tied to a group.
type Event struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// EventDate is an ISO date (YYYY-MM-DD).
	EventDate string `json:"event_date"`
	EventType string `json:"event_type"`
	CreatedAt int64  `json:"created_at"`
}

type FAQ struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	Answer       string `json:"answer"`
	Active       bool   `json:"active"`
	DisplayOrder int    `json:"display_order"`
}

type Tip struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	Active       bool   `json:"active"`
	DisplayOrder int    `json:"display_order"`
}

type Testimonial struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Location     string `json:"location"`
	Quote        string `json:"quote"`
	Photo        string `json:"photo,omitempty"`
	Active       bool   `json:"active"`
	DisplayOrder int    `json:"display_order"`
}

type BlogPost struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Preview   string `json:"preview"`
	Content   string `json:"content"`
	Image     string `json:"image,omitempty"`
	Published bool   `json:"published"`
	CreatedAt int64  `json:"created_at"`
}
