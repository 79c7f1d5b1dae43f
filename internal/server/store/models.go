package store

// RawEvent is one persisted provider notification.
type RawEvent struct {
	ID               int64
	AppID            string
	NoticeID         string
	ProductID        int64
	EventType        int
	ChannelName      string
	UID              int64
	ClientSeq        int64
	Platform         *int64
	Reason           *int64
	ClientType       *int64
	TS               int64
	Duration         *int64
	ChannelSessionID string
	SID              string
	NotifyMs         int64
	RawPayload       string
	ReceivedAt       int64
}

// Session is one user presence interval within a channel epoch.
// LeaveTime is nil while the session is open.
type Session struct {
	ID                int64
	AppID             string
	ChannelName       string
	ChannelSessionID  string
	UID               int64
	JoinTime          int64
	LeaveTime         *int64
	DurationSeconds   *int64
	LastClientSeq     int64
	IsHost            bool
	CommunicationMode int
	RoleSwitches      int64
	ProductID         *int64
	Platform          *int64
	Reason            *int64
	ClientType        *int64
	SID               string
	Account           string
	CreatedAt         int64
	UpdatedAt         int64
}

// RoleEvent is one immutable role-switch row.
type RoleEvent struct {
	ID               int64
	AppID            string
	ChannelName      string
	ChannelSessionID string
	UID              int64
	TS               int64
	IsHost           bool
}

// EpochSummary is one row of the paged epoch list: per-(channel, epoch)
// totals over completed sessions.
type EpochSummary struct {
	ChannelName      string
	ChannelSessionID string
	TotalSeconds     int64
	UniqueUsers      int64
	FirstActivity    *int64
	LastActivity     *int64
}

// ChannelDaily is one per-day channel roll-up row.
type ChannelDaily struct {
	AppID            string
	ChannelName      string
	ChannelSessionID string
	Date             string
	TotalUsers       int64
	UniqueUsers      int64
	TotalMinutes     float64
	FirstActivity    *int64
	LastActivity     *int64
}

// UserDaily is one per-day per-user roll-up row.
type UserDaily struct {
	AppID            string
	UID              int64
	ChannelName      string
	ChannelSessionID string
	Date             string
	TotalMinutes     float64
	SessionCount     int64
}

// AppChannel identifies one (app, channel) pair seen in the event log.
type AppChannel struct {
	AppID       string
	ChannelName string
}
