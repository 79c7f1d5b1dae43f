// Package event defines the provider notification model, the closed
// set of event/reason codes the engine interprets, and the channel
// epoch identity codec.
package event

import "encoding/json"

// Event type codes from the provider's notification stream.
const (
	TypeChannelCreated    = 101
	TypeChannelDestroyed  = 102
	TypeHostJoin          = 103 // broadcaster/audience mode
	TypeHostLeave         = 104
	TypeAudienceJoin      = 105
	TypeAudienceLeave     = 106
	TypeCommJoin          = 107 // communication mode
	TypeCommLeave         = 108
	TypeRoleToBroadcaster = 111
	TypeRoleToAudience    = 112
)

// Communication modes, fixed at session creation.
const (
	ModeBroadcast     = 0 // broadcaster/audience mode
	ModeCommunication = 1
)

// Payload is the inner payload of a provider notification. ts is unix
// seconds and is the authoritative event time; it is a pointer so a
// legitimate ts of zero is distinguishable from an absent field.
type Payload struct {
	ChannelName string `json:"channelName"`
	TS          *int64 `json:"ts"`
	UID         *int64 `json:"uid,omitempty"`
	ClientSeq   *int64 `json:"clientSeq,omitempty"`
	Platform    *int64 `json:"platform,omitempty"`
	ClientType  *int64 `json:"clientType,omitempty"`
	Reason      *int64 `json:"reason,omitempty"`
	Duration    *int64 `json:"duration,omitempty"`
	Account     string `json:"account,omitempty"`
}

// Notification is a complete provider notification. notifyMs is unix
// milliseconds and informational only.
type Notification struct {
	NoticeID  string  `json:"noticeId"`
	ProductID int64   `json:"productId"`
	EventType int     `json:"eventType"`
	NotifyMs  int64   `json:"notifyMs,omitempty"`
	SID       string  `json:"sid,omitempty"`
	Payload   Payload `json:"payload"`
}

// Parse decodes a raw notification body.
func Parse(body []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(body, &n)
	return n, err
}

// IsJoin reports whether t is one of the user join event types.
func IsJoin(t int) bool {
	return t == TypeHostJoin || t == TypeAudienceJoin || t == TypeCommJoin
}

// IsLeave reports whether t is one of the user leave event types.
func IsLeave(t int) bool {
	return t == TypeHostLeave || t == TypeAudienceLeave || t == TypeCommLeave
}

// IsRoleChange reports whether t is a role-change event type.
func IsRoleChange(t int) bool {
	return t == TypeRoleToBroadcaster || t == TypeRoleToAudience
}

// IsUserEvent reports whether t carries per-user presence semantics.
func IsUserEvent(t int) bool {
	return IsJoin(t) || IsLeave(t) || IsRoleChange(t)
}

// IsKnown reports whether t belongs to the closed set the engine
// interprets. Unknown codes are persisted raw and otherwise ignored.
func IsKnown(t int) bool {
	return t == TypeChannelCreated || t == TypeChannelDestroyed || IsUserEvent(t)
}

// JoinRole returns the initial role and communication mode implied by
// a join (or leave, for synthesized sessions) event type.
func JoinRole(t int) (isHost bool, mode int) {
	switch t {
	case TypeHostJoin, TypeHostLeave:
		return true, ModeBroadcast
	case TypeAudienceJoin, TypeAudienceLeave:
		return false, ModeBroadcast
	case TypeCommJoin, TypeCommLeave:
		return true, ModeCommunication
	}
	return false, ModeBroadcast
}

// Name returns a human-readable name for an event type code.
func Name(t int) string {
	switch t {
	case TypeChannelCreated:
		return "channel created"
	case TypeChannelDestroyed:
		return "channel destroyed"
	case TypeHostJoin:
		return "host join"
	case TypeHostLeave:
		return "host leave"
	case TypeAudienceJoin:
		return "audience join"
	case TypeAudienceLeave:
		return "audience leave"
	case TypeCommJoin:
		return "communication join"
	case TypeCommLeave:
		return "communication leave"
	case TypeRoleToBroadcaster:
		return "role change to broadcaster"
	case TypeRoleToAudience:
		return "role change to audience"
	}
	return "unknown"
}
