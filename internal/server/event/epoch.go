package event

import (
	"fmt"
	"strconv"
	"strings"
)

// ProvisionalSuffix marks epochs synthesized for orphan user events.
// All suffix handling lives in this file; the rest of the codebase
// works with the typed EpochID.
const ProvisionalSuffix = "_provisional"

// EpochID identifies one channel epoch: a maximal interval during
// which a named channel is live. Confirmed epochs carry the create
// event's timestamp; provisional epochs carry the timestamp of the
// orphan event that synthesized them.
type EpochID struct {
	App         string
	Channel     string
	TS          int64
	Provisional bool
}

// ConfirmedEpoch returns the id of the confirmed epoch opened at ts.
func ConfirmedEpoch(app, channel string, ts int64) EpochID {
	return EpochID{App: app, Channel: channel, TS: ts}
}

// ProvisionalEpoch returns a provisional epoch id seeded with the
// orphan event's timestamp.
func ProvisionalEpoch(app, channel string, ts int64) EpochID {
	return EpochID{App: app, Channel: channel, TS: ts, Provisional: true}
}

// String renders the wire/storage form <app>_<channel>_<ts> with a
// trailing marker for provisional epochs.
func (e EpochID) String() string {
	s := fmt.Sprintf("%s_%s_%d", e.App, e.Channel, e.TS)
	if e.Provisional {
		s += ProvisionalSuffix
	}
	return s
}

// ParseEpochID decodes the storage form back into a typed id. The app
// id and channel name are required because channel names may contain
// underscores.
func ParseEpochID(app, channel, s string) (EpochID, error) {
	id := EpochID{App: app, Channel: channel}
	rest, ok := strings.CutPrefix(s, app+"_"+channel+"_")
	if !ok {
		return EpochID{}, fmt.Errorf("epoch id %q does not match %s/%s", s, app, channel)
	}
	if trimmed, found := strings.CutSuffix(rest, ProvisionalSuffix); found {
		id.Provisional = true
		rest = trimmed
	}
	ts, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return EpochID{}, fmt.Errorf("epoch id %q: bad timestamp: %w", s, err)
	}
	id.TS = ts
	return id, nil
}
