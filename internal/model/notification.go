package model

// NotificationType tags what kind of activity produced a notification.
type NotificationType string

const (
	NotificationComment      NotificationType = "comment"
	NotificationFavorite     NotificationType = "favorite"
	NotificationContribution NotificationType = "contribution"
	NotificationGeneric      NotificationType = "generic"
)

// Normalize maps unknown or empty tags to NotificationGeneric.
func (t NotificationType) Normalize() NotificationType {
	switch t {
	case NotificationComment, NotificationFavorite, NotificationContribution:
		return t
	default:
		return NotificationGeneric
	}
}

// Notification represents an alert about activity on the user's
// artifacts or comments.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID ID `json:"id" db:"id"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"is_read" db:"is_read"`

	// CreatedAt is when this notification was generated.
	CreatedAt Timestamp `json:"created_at" db:"-"`

	// ItemID links this notification to a cultural item, if any.
	ItemID ID `json:"cultural_item_id,omitempty" db:"item_id"`

	// CommentID links this notification to a comment, if any.
	CommentID ID `json:"comment_id,omitempty" db:"comment_id"`

	// Thumbnail is a media URL attached by feed enrichment.
	Thumbnail string `json:"media_thumbnail,omitempty" db:"thumbnail"`

	// Type is the activity kind.
	Type NotificationType `json:"notification_type,omitempty" db:"type"`
}

// LinkTarget describes where a notification points, if anywhere.
type LinkTarget struct {
	Kind string // "item" or "comment"
	ID   ID
}

// Target returns the notification's link target. Artifacts take
// precedence over comments.
func (n Notification) Target() (LinkTarget, bool) {
	switch {
	case n.ItemID != "":
		return LinkTarget{Kind: "item", ID: n.ItemID}, true
	case n.CommentID != "":
		return LinkTarget{Kind: "comment", ID: n.CommentID}, true
	default:
		return LinkTarget{}, false
	}
}

// Media is a single media record attached to a cultural item.
type Media struct {
	ID           ID     `json:"id"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
}

// Thumbnail returns the thumbnail URL, falling back to the media URL.
func (m Media) Thumbnail() string {
	if m.ThumbnailURL != "" {
		return m.ThumbnailURL
	}
	return m.URL
}
