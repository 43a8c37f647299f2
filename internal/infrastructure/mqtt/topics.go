package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "mortal"

// Topics builds the topic names used by the publisher.
//
//	topics := mqtt.Topics{Prefix: "mortal"}
//	topics.Event("menu", "update") // "mortal/events/menu/update"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultPrefix
	}
	return p
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: mortal/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// Event returns the topic for a change event.
//
// Example: mortal/events/user/delete
func (t Topics) Event(entity, action string) string {
	return fmt.Sprintf("%s/events/%s/%s", t.prefix(), entity, action)
}

// validSegment reports whether s can be used as a single topic level.
func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
