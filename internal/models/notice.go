package models

import "time"

// NoticeKind is the display style of a transient notice
type NoticeKind string

const (
	NoticeWarning NoticeKind = "warning"
	NoticeSuccess NoticeKind = "success"
)

// Notice is a transient operator message. The core only stores it; the view
// decides whether to render it with Visible.
type Notice struct {
	Kind      NoticeKind    `json:"kind"`
	Text      string        `json:"text"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Visible reports whether the notice is still inside its display window.
// The zero Notice is never visible.
func (n Notice) Visible(now time.Time) bool {
	if n.Text == "" {
		return false
	}
	return now.Sub(n.CreatedAt) < n.TTL
}
