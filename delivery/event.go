package delivery

import (
	"encoding/json"
	"time"

	"estateflow/notification"
)

// Event is the wire shape pushed to live sessions and the event stream.
type Event struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Message      string    `json:"message"`
	Channel      string    `json:"channel"`
	Purpose      string    `json:"purpose"`
	AllowedRoles []string  `json:"allowedRoles"`
	RelatedID    string    `json:"relatedId,omitempty"`
	RelatedModel string    `json:"relatedModel,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newEvent(n notification.Notification) Event {
	return Event{
		ID:           n.ID,
		UserID:       n.UserID,
		Message:      n.Message,
		Channel:      string(n.Channel),
		Purpose:      string(n.Purpose),
		AllowedRoles: n.AllowedRoles.Strings(),
		RelatedID:    n.RelatedID,
		RelatedModel: n.RelatedModel,
		FirstName:    n.Recipient.FirstName,
		LastName:     n.Recipient.LastName,
		CreatedAt:    n.CreatedAt,
	}
}

func encode(n notification.Notification) ([]byte, error) {
	return json.Marshal(newEvent(n))
}
