package api

import (
	"net/http"

	"github.com/nerrad567/mortal-core/internal/audit"
)

// Change feed channels. Consoles subscribe over /ws and refetch on events.
const (
	ChannelMenuChanged = "menu.changed"
	ChannelUserChanged = "user.changed"
	ChannelRoleChanged = "role.changed"
)

// changeEvent is the payload broadcast after a successful mutation.
type changeEvent struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
	Data   any    `json:"data,omitempty"`
}

// recordChange audits a successful mutation and fans it out to WebSocket
// subscribers and, when configured, the event publisher.
func (s *Server) recordChange(r *http.Request, entity, action string, id int64, data any) {
	var userID int64
	if p := principalFrom(r.Context()); p != nil {
		userID = p.UserID
	}
	s.auditLog(action, entity, id, userID, nil)

	event := changeEvent{Action: action, ID: id, Data: data}
	s.hub.Publish(changeChannel(entity), event)

	if s.events != nil {
		if err := s.events.PublishEvent(entity, action, event); err != nil {
			s.logger.Warn("publishing change event failed",
				"entity", entity,
				"action", action,
				"error", err,
			)
		}
	}
}

func changeChannel(entity string) string {
	switch entity {
	case audit.EntityMenu:
		return ChannelMenuChanged
	case audit.EntityRole:
		return ChannelRoleChanged
	default:
		return ChannelUserChanged
	}
}
