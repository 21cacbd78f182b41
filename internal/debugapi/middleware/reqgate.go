package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Gate is a capacity-bounded, ownership-tracked semaphore limiting how
// many mutating debug-API requests (create/terminate/tick/age) may run
// against the kernel concurrently. The spec's core is "serialisable by
// construction" under one mutex per subsystem; the gate exists one layer
// up, so a slow client can't starve others by holding many requests open
// at once, and a double-acquire by the same request id is a programmer
// error rather than a silent queue-up.
//
// Adapted from a dynamically adjustable acquire/release slot pool: unlike
// that pool, this one never blocks — Acquire fails fast so the handler can
// respond 503 instead of hanging a goroutine.
type Gate struct {
	mu         sync.Mutex
	maxCap     int
	usage      int
	acquiredBy map[string]struct{}
}

// NewGate builds a gate with the given concurrent-request capacity.
func NewGate(capacity int) *Gate {
	return &Gate{
		maxCap:     capacity,
		acquiredBy: make(map[string]struct{}),
	}
}

// Acquire attempts to reserve a slot for id. Returns false if the gate is
// at capacity or id already holds a slot.
func (g *Gate) Acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, holds := g.acquiredBy[id]; holds {
		return false
	}
	if g.usage >= g.maxCap {
		return false
	}
	g.usage++
	g.acquiredBy[id] = struct{}{}
	return true
}

// Release frees the slot owned by id. No-op if id holds nothing.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, holds := g.acquiredBy[id]; !holds {
		return
	}
	delete(g.acquiredBy, id)
	g.usage--
}

// InUse returns the current number of reserved slots.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// Middleware gates every mutating request through g, keyed by request id.
func Middleware(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		id := GetRequestID(c)
		if !g.Acquire(id) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "kernel busy, retry"})
			return
		}
		defer g.Release(id)
		c.Next()
	}
}
