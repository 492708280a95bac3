package profile

import (
	"context"
	"fmt"
)

// EventKind identifies a profile change pushed by the rest of the system.
type EventKind int

const (
	EventUserUpdated EventKind = iota
	EventBusinessUpdated
	EventUserDeleted
	EventBusinessDeleted
)

// String returns the event name for logs.
func (k EventKind) String() string {
	switch k {
	case EventUserUpdated:
		return "user_updated"
	case EventBusinessUpdated:
		return "business_updated"
	case EventUserDeleted:
		return "user_deleted"
	case EventBusinessDeleted:
		return "business_deleted"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// OnProfileEvent is the push-based invalidation hook. Updates and deletes
// both drop the cached entry; the next read repopulates it from the source.
func (s *Service) OnProfileEvent(ctx context.Context, kind EventKind, id string) error {
	logger().Info().Stringer("event", kind).Str("id", id).Msg("profile event")
	switch kind {
	case EventUserUpdated, EventUserDeleted:
		return s.InvalidateUserProfile(ctx, id)
	case EventBusinessUpdated, EventBusinessDeleted:
		return s.InvalidateBusinessProfile(ctx, id)
	default:
		return fmt.Errorf("profile: unknown event kind %d", int(kind))
	}
}
