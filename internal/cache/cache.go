// Package cache holds accepted generation results keyed by a deterministic
// fingerprint of (source question, generation parameters), and serializes
// generation per fingerprint so concurrent identical requests cost one
// model invocation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/exambank/backend/internal/models"
)

// Fingerprint is the hex digest identifying one (source, parameters) pair.
type Fingerprint string

// FingerprintRequest digests the request fields that determine the generated
// result: source content, difficulty, knowledge points, subject, and the
// variance parameters. Identical requests produce identical fingerprints
// regardless of knowledge-point ordering.
func FingerprintRequest(req models.GenerationRequest) Fingerprint {
	var sb strings.Builder

	src := req.Source
	fmt.Fprintf(&sb, "subject:%d\n", src.SubjectID)
	fmt.Fprintf(&sb, "type:%s\n", src.QuestionType)
	fmt.Fprintf(&sb, "title:%s\x00%s\n", src.Title, src.TitleTranslated)
	for _, opt := range src.Options {
		fmt.Fprintf(&sb, "opt:%s\x00%s\x00%s\n", opt.Prefix, opt.Content, opt.ContentTranslated)
	}
	fmt.Fprintf(&sb, "correct:%s\n", src.CorrectPrefix)
	fmt.Fprintf(&sb, "analysis:%s\x00%s\n", src.Analysis, src.AnalysisTranslated)
	fmt.Fprintf(&sb, "difficulty:%d\n", src.Difficulty)
	fmt.Fprintf(&sb, "kps:")
	for _, id := range src.SortedKnowledgePointIDs() {
		fmt.Fprintf(&sb, "%d,", id)
	}
	fmt.Fprintf(&sb, "\nvariance:%s\n", req.DifficultyVariance)
	fmt.Fprintf(&sb, "no_variance:%t\n", req.NoVariance)

	sum := sha256.Sum256([]byte(sb.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Entry is an accepted result. Entries are replaced, never mutated.
type Entry struct {
	Fingerprint        Fingerprint
	Question           models.Question
	CreatedAt          time.Time
	GenerationAttempts int
}

// flight tracks the in-progress generation for one fingerprint. done is
// closed exactly once, on Release.
type flight struct {
	done chan struct{}
}

// Cache is safe for concurrent use. Locking is per fingerprint; unrelated
// fingerprints never contend beyond the map access itself.
type Cache struct {
	mu       sync.Mutex
	entries  map[Fingerprint]*Entry
	inflight map[Fingerprint]*flight
}

func New() *Cache {
	return &Cache{
		entries:  make(map[Fingerprint]*Entry),
		inflight: make(map[Fingerprint]*flight),
	}
}

// Get returns the accepted entry for fp, if any.
func (c *Cache) Get(fp Fingerprint) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	return e, ok
}

// GetOrLock returns the cached entry for fp, or acquires the generation lock
// for it. When another caller already holds the lock, GetOrLock blocks until
// that holder releases: if the holder cached a result, it is returned; if the
// holder failed, this caller retries and may acquire the lock itself. The
// caller that gets (nil, true, nil) owns the lock and must call Release on
// every exit path.
func (c *Cache) GetOrLock(ctx context.Context, fp Fingerprint) (*Entry, bool, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[fp]; ok {
			c.mu.Unlock()
			return e, false, nil
		}
		f, ok := c.inflight[fp]
		if !ok {
			c.inflight[fp] = &flight{done: make(chan struct{})}
			c.mu.Unlock()
			return nil, true, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-f.done:
			// Holder finished; loop to observe its result or take the lock.
		}
	}
}

// Put records an accepted question for fp, replacing any prior entry.
func (c *Cache) Put(fp Fingerprint, q models.Question, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = &Entry{
		Fingerprint:        fp,
		Question:           q,
		CreatedAt:          time.Now(),
		GenerationAttempts: attempts,
	}
}

// Release drops the generation lock for fp and wakes every waiter. Safe to
// call when the lock is not held; required on every exit path of a holder so
// a failed or cancelled generation never starves identical requests.
func (c *Cache) Release(fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.inflight[fp]; ok {
		delete(c.inflight, fp)
		close(f.done)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
