package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
)

// Options configures retention and logging for conversation stores.
type Options struct {
	// MaxSessions bounds the number of stored sessions. Zero disables the bound.
	MaxSessions int
	// MaxStorageMB bounds the total serialized history size. Zero disables it.
	MaxStorageMB float64
	Logger       logging.Logger
}

// DefaultOptions returns the stock retention limits.
func DefaultOptions() Options {
	return Options{MaxSessions: 1000, MaxStorageMB: 100, Logger: logging.NoOpLogger{}}
}

// sessionInfo is the pruning view of one stored session.
type sessionInfo struct {
	ID      string
	Updated time.Time
	SizeKB  float64
}

// prunePlan lists the sessions to evict and why.
type prunePlan struct {
	BySize  []string
	ByCount []string
}

func (p prunePlan) all() []string {
	return append(append([]string{}, p.BySize...), p.ByCount...)
}

// plan applies the retention policy to a snapshot of the store: first, if
// the total size is over the ceiling, the single least-recently-updated
// session goes; then the oldest sessions go until the count fits. The
// session named by current is never selected.
func (o Options) plan(sessions []sessionInfo, current string) prunePlan {
	candidates := make([]sessionInfo, 0, len(sessions))
	var totalKB float64
	for _, s := range sessions {
		totalKB += s.SizeKB
		if s.ID != current {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Updated.Equal(candidates[j].Updated) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Updated.Before(candidates[j].Updated)
	})

	var p prunePlan
	count := len(sessions)
	if o.MaxStorageMB > 0 && totalKB/1024 > o.MaxStorageMB && len(candidates) > 0 {
		p.BySize = []string{candidates[0].ID}
		candidates = candidates[1:]
		count--
	}
	if o.MaxSessions > 0 {
		for count > o.MaxSessions && len(candidates) > 0 {
			p.ByCount = append(p.ByCount, candidates[0].ID)
			candidates = candidates[1:]
			count--
		}
	}
	return p
}

type pruneLogger interface {
	LogPrune(reason string, evicted []string)
}

func logPlan(l logging.Logger, p prunePlan) {
	if pl, ok := l.(pruneLogger); ok {
		pl.LogPrune("size", p.BySize)
		pl.LogPrune("count", p.ByCount)
		return
	}
	if len(p.BySize) > 0 {
		l.Info("memory.prune.size", "evicted", p.BySize)
	}
	if len(p.ByCount) > 0 {
		l.Info("memory.prune.count", "evicted", p.ByCount)
	}
}

// NoHistory is the transcript of an unknown or empty session.
const NoHistory = "No conversation history"

// RenderTranscript formats messages as "role: content" lines.
func RenderTranscript(msgs []core.Message) string {
	if len(msgs) == 0 {
		return NoHistory
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// keyedMutex serialises work per key while letting distinct keys proceed in
// parallel. Entries are dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
