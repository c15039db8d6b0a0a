package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultRecentCapacity = 1000
	defaultLogPageSize    = 20
	maxLogPageSize        = 200
)

type Entry struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type Query struct {
	Level          string
	Keyword        string
	AnnouncementID string
	Page           int
	PageSize       int
}

// RecentLogs keeps the last entries at or above a minimum level in memory so
// operators can inspect tick and delivery failures without log shipping.
type RecentLogs struct {
	mu      sync.RWMutex
	min     zapcore.Level
	entries []Entry
	next    int
	count   int
	seq     int64
}

func NewRecentLogs(capacity int, min zapcore.Level) *RecentLogs {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentLogs{min: min, entries: make([]Entry, capacity)}
}

// Attach returns base with a core that also records into r.
func (r *RecentLogs) Attach(base *zap.Logger) *zap.Logger {
	if base == nil || r == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, &recentCore{store: r})
	}))
}

// Query returns matching entries newest first and the total match count.
func (r *RecentLogs) Query(q Query) ([]Entry, int64) {
	if r == nil {
		return []Entry{}, 0
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultLogPageSize
	}
	if q.PageSize > maxLogPageSize {
		q.PageSize = maxLogPageSize
	}
	level := strings.ToLower(strings.TrimSpace(q.Level))
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))
	announcementID := strings.TrimSpace(q.AnnouncementID)

	r.mu.RLock()
	matched := make([]Entry, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		entry := r.entries[idx]
		if level != "" && entry.Level != level {
			continue
		}
		if announcementID != "" && fmt.Sprint(entry.Fields["announcement_id"]) != announcementID {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(entry.Message+" "+fmt.Sprint(entry.Fields)), keyword) {
			continue
		}
		matched = append(matched, entry)
	}
	r.mu.RUnlock()

	total := int64(len(matched))
	start := (q.Page - 1) * q.PageSize
	if start >= len(matched) {
		return []Entry{}, total
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total
}

func (r *RecentLogs) add(ent zapcore.Entry, fields []zapcore.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range SanitizeFields(fields) {
		field.AddTo(enc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	item := Entry{
		ID:        r.seq,
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Caller:    ent.Caller.TrimmedPath(),
	}
	if len(enc.Fields) > 0 {
		item.Fields = enc.Fields
	}
	r.entries[r.next] = item
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

type recentCore struct {
	store  *RecentLogs
	fields []zapcore.Field
}

func (c *recentCore) Enabled(level zapcore.Level) bool {
	return level >= c.store.min
}

func (c *recentCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &recentCore{store: c.store, fields: merged}
}

func (c *recentCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return checked.AddCore(ent, c)
	}
	return checked
}

func (c *recentCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = append(append(make([]zapcore.Field, 0, len(c.fields)+len(fields)), c.fields...), fields...)
	}
	c.store.add(ent, all)
	return nil
}

func (c *recentCore) Sync() error { return nil }
