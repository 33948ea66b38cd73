// Package blob bridges cached audio bytes and the playable URLs a media
// element consumes. Handles are process-local: a minted URL is only
// meaningful to the registry that minted it, and holds its bytes alive
// until released.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Scheme prefixes every minted URL.
const Scheme = "mem://"

// Resource is the payload behind a minted URL.
type Resource struct {
	Bytes []byte
	MIME  string
}

// Resolver is the read side of a registry, used by media elements to turn
// a playable URL back into bytes.
type Resolver interface {
	Resolve(url string) (Resource, bool)
}

// Registry mints and revokes ephemeral playable URLs. Minting never
// deduplicates: two mints of the same bytes yield distinct handles that are
// tracked and released independently.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Resource
	counter atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Resource)}
}

// Mint creates a new playable URL for the given bytes. The caller owns the
// handle and must release it exactly once.
func (r *Registry) Mint(data []byte, mime string) string {
	url := Scheme + r.newHandleID()

	r.mu.Lock()
	r.handles[url] = Resource{Bytes: data, MIME: mime}
	r.mu.Unlock()

	log.Debug("Minted blob handle", "url", url, "bytes", len(data), "mime", mime)
	return url
}

// Resolve returns the resource behind a minted URL.
func (r *Registry) Resolve(url string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.handles[url]
	return res, ok
}

// Release revokes a handle. Releasing an unknown or already-released URL is
// a no-op, not an error.
func (r *Registry) Release(url string) {
	r.mu.Lock()
	_, existed := r.handles[url]
	delete(r.handles, url)
	r.mu.Unlock()

	if existed {
		log.Debug("Released blob handle", "url", url)
	}
}

// ReleaseAll revokes a batch of handles, used on content switch and on
// teardown.
func (r *Registry) ReleaseAll(urls []string) {
	for _, url := range urls {
		r.Release(url)
	}
}

// Outstanding returns the number of live handles. A player session is leak
// free when this returns to its pre-mount value on teardown.
func (r *Registry) Outstanding() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) newHandleID() string {
	seed := fmt.Sprintf("blob-%d-%d", time.Now().UnixNano(), r.counter.Add(1))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}
