// Package engine is the reconciliation core: it turns the provider's
// at-least-once, out-of-order notification stream into deduplicated
// raw rows, channel epochs, presence sessions, role events and per-day
// roll-ups. All state derived from one notification commits in one
// transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rtcwatch/rtcwatch/internal/metrics"
	"github.com/rtcwatch/rtcwatch/internal/server/event"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// Outcome classifies a successful Ingest call.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	if o == OutcomeDuplicate {
		return "duplicate"
	}
	return "accepted"
}

// ValidationError marks a notification the caller must not retry.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a *ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Config tunes the engine's in-memory state.
type Config struct {
	// MemoSize bounds the recent-notice dedup set.
	MemoSize int
	// MaxWriteRetries bounds retries of a busy-locked transaction.
	MaxWriteRetries uint
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MemoSize: 10, MaxWriteRetries: 5}
}

// Engine is safe for concurrent use. Ingest serializes per channel and
// runs fully parallel across channels.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger
	cfg    Config

	memo  *dedupMemo
	locks *channelLocks

	activeMu sync.Mutex
	active   map[string]event.EpochID
}

// New creates an Engine on top of an opened, migrated database.
func New(db *sql.DB, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = DefaultConfig().MemoSize
	}
	if cfg.MaxWriteRetries == 0 {
		cfg.MaxWriteRetries = DefaultConfig().MaxWriteRetries
	}
	return &Engine{
		db:     db,
		logger: logger,
		cfg:    cfg,
		memo:   newDedupMemo(cfg.MemoSize),
		locks:  newChannelLocks(),
		active: make(map[string]event.EpochID),
	}
}

// MemoLen exposes the dedup memo size for the debug endpoint.
func (e *Engine) MemoLen() int { return e.memo.Len() }

// RecentNotices returns the memoized notice ids, oldest first.
func (e *Engine) RecentNotices() []string { return e.memo.Snapshot() }

// ActiveEpochs returns a snapshot of the active-epoch map for the
// debug endpoint.
func (e *Engine) ActiveEpochs() map[string]string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	out := make(map[string]string, len(e.active))
	for k, v := range e.active {
		out[k] = v.String()
	}
	return out
}

// Ingest processes one notification body for an app. It returns
// OutcomeDuplicate for a known notice id, OutcomeAccepted after all
// derived writes committed, or an error with nothing committed.
func (e *Engine) Ingest(ctx context.Context, appID string, body []byte) (Outcome, error) {
	start := time.Now()
	n, err := e.validate(appID, body)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("invalid", "rejected").Inc()
		return 0, err
	}
	typeLabel := strconv.Itoa(n.EventType)

	if e.memo.Contains(n.NoticeID) {
		metrics.NotificationsTotal.WithLabelValues(typeLabel, "duplicate").Inc()
		return OutcomeDuplicate, nil
	}

	unlock := e.locks.Lock(channelKey(appID, n.Payload.ChannelName))
	defer unlock()

	seen, err := store.New(e.db).HasRawEvent(ctx, n.NoticeID)
	if err != nil {
		return 0, fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		metrics.NotificationsTotal.WithLabelValues(typeLabel, "duplicate").Inc()
		return OutcomeDuplicate, nil
	}

	e.memo.Add(n.NoticeID)
	metrics.DedupMemoSize.Set(float64(e.memo.Len()))

	if err := e.commitWithRetry(ctx, appID, n, string(body)); err != nil {
		e.memo.Remove(n.NoticeID)
		metrics.DedupMemoSize.Set(float64(e.memo.Len()))
		metrics.NotificationsTotal.WithLabelValues(typeLabel, "error").Inc()
		return 0, err
	}

	metrics.NotificationsTotal.WithLabelValues(typeLabel, "accepted").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	return OutcomeAccepted, nil
}

// commitWithRetry runs the per-notification transaction, retrying a
// busy-locked SQLite with exponential backoff.
func (e *Engine) commitWithRetry(ctx context.Context, appID string, n event.Notification, rawBody string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := store.InTx(ctx, e.db, func(s *store.Store) error {
			return e.process(ctx, s, appID, n, rawBody)
		})
		if err != nil && isBusy(err) {
			metrics.IngestRetriesTotal.Inc()
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(e.cfg.MaxWriteRetries))
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// process applies one notification inside a transaction: epoch
// resolution, the raw-event durability write, session mutations, and
// the roll-up recompute for the touched day.
func (e *Engine) process(ctx context.Context, s *store.Store, appID string, n event.Notification, rawBody string) error {
	epoch, apply, err := e.resolveEpoch(ctx, s, appID, n)
	if err != nil {
		return fmt.Errorf("resolve epoch: %w", err)
	}

	p := n.Payload
	raw := store.InsertRawEventParams{
		AppID:            appID,
		NoticeID:         n.NoticeID,
		ProductID:        n.ProductID,
		EventType:        n.EventType,
		ChannelName:      p.ChannelName,
		TS:               *p.TS,
		Platform:         p.Platform,
		Reason:           p.Reason,
		ClientType:       p.ClientType,
		Duration:         p.Duration,
		ChannelSessionID: epoch,
		SID:              n.SID,
		NotifyMs:         n.NotifyMs,
		RawPayload:       rawBody,
	}
	if p.UID != nil {
		raw.UID = *p.UID
	}
	if p.ClientSeq != nil {
		raw.ClientSeq = *p.ClientSeq
	}
	if err := s.InsertRawEvent(ctx, raw); err != nil {
		return fmt.Errorf("persist raw event: %w", err)
	}

	if event.IsUserEvent(n.EventType) {
		if err := e.handleUserEvent(ctx, s, appID, epoch, n); err != nil {
			return err
		}
	}

	if epoch != "" {
		uid := p.UID
		if !event.IsUserEvent(n.EventType) {
			uid = nil
		}
		if err := e.recomputeAggregates(ctx, s, appID, p.ChannelName, epoch, *p.TS, uid); err != nil {
			return fmt.Errorf("recompute aggregates: %w", err)
		}
	}

	// The active-epoch map only moves once the transaction commits.
	apply()
	return nil
}

// validate enforces the closed notification contract. Unknown event
// types pass validation; they are persisted raw and otherwise ignored.
func (e *Engine) validate(appID string, body []byte) (event.Notification, error) {
	if appID == "" {
		return event.Notification{}, Validationf("missing app id")
	}
	n, err := event.Parse(body)
	if err != nil {
		return event.Notification{}, Validationf("malformed notification body: %v", err)
	}
	if n.NoticeID == "" {
		return event.Notification{}, Validationf("missing noticeId")
	}
	if n.Payload.ChannelName == "" {
		return event.Notification{}, Validationf("missing payload.channelName")
	}
	if n.Payload.TS == nil || *n.Payload.TS < 0 {
		return event.Notification{}, Validationf("missing or invalid payload.ts")
	}
	event.LogUnknownCodes(e.logger, n)
	return n, nil
}

func channelKey(appID, channel string) string {
	return appID + "\x00" + channel
}

func (e *Engine) getActive(appID, channel string) (event.EpochID, bool) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	id, ok := e.active[channelKey(appID, channel)]
	return id, ok
}

func (e *Engine) setActive(appID, channel string, id event.EpochID) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	e.active[channelKey(appID, channel)] = id
	metrics.ActiveEpochs.Set(float64(len(e.active)))
}

func (e *Engine) unsetActive(appID, channel string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, channelKey(appID, channel))
	metrics.ActiveEpochs.Set(float64(len(e.active)))
}
