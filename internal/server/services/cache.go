package services

import (
	"runtime"
	"sync"
	"weak"

	"github.com/P-T-/OpenCoins/internal/server/models"
)

// accountCache maps usernames to the live shared *models.Account handed out
// by Lookup. Entries are weak: once no caller holds an account it is
// collected and its entry pruned. The store stays the source of truth.
type accountCache struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[models.Account]
}

func newAccountCache() *accountCache {
	return &accountCache{entries: make(map[string]weak.Pointer[models.Account])}
}

type cacheKey struct {
	username string
	ptr      weak.Pointer[models.Account]
}

// Get returns the live instance for username, or nil.
func (c *accountCache) Get(username string) *models.Account {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.entries[username]; ok {
		return wp.Value()
	}
	return nil
}

// Intern returns the live instance of the same account as a if there is one,
// otherwise registers a and returns it. A live instance of an older account
// under the same username is replaced.
func (c *accountCache) Intern(a *models.Account) *models.Account {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.entries[a.Username]; ok {
		if live := wp.Value(); live != nil && live.ID == a.ID {
			return live
		}
	}

	wp := weak.Make(a)
	c.entries[a.Username] = wp
	runtime.AddCleanup(a, c.prune, cacheKey{username: a.Username, ptr: wp})
	return a
}

// Evict drops the entry for username. Holders keep their pointer.
func (c *accountCache) Evict(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, username)
}

func (c *accountCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// prune removes the entry only if it still refers to the collected object;
// a newer instance may have been interned in the meantime.
func (c *accountCache) prune(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.entries[k.username]; ok && wp == k.ptr {
		delete(c.entries, k.username)
	}
}
