// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnscache maps resolved domain names to the IP addresses
// observed for them, so the policy engine can arm a peer check against
// whatever a device's own DNS queries resolved to. Adding a domain name
// that is already present appends to its address list rather than
// replacing it — a device's name may legitimately resolve to more than
// one address across its lifetime (round robin, CDN failover), and the
// engine needs to recognize all of them.
package dnscache

import (
	"sync"

	"grimm.is/devicewall/internal/ipaddr"
)

// Entry is one domain name's resolved address list.
type Entry struct {
	DomainName string
	Addresses  []ipaddr.Addr
}

// Contains reports whether addr is present in the entry's address
// list.
func (e Entry) Contains(addr ipaddr.Addr) bool {
	for _, a := range e.Addresses {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}

// Cache is a domain-name-to-addresses map, safe for concurrent use by
// the single DNS-ingest writer and the many policy-engine readers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Add appends addresses to domainName's entry, creating it if absent.
// A domain name added twice accumulates both address lists rather than
// replacing the first with the second.
func (c *Cache) Add(domainName string, addresses []ipaddr.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[domainName]
	if !ok {
		c.entries[domainName] = &Entry{
			DomainName: domainName,
			Addresses:  append([]ipaddr.Addr(nil), addresses...),
		}
		return
	}
	existing.Addresses = append(existing.Addresses, addresses...)
}

// Get returns the entry for domainName, and whether it was present.
// The returned Entry is a copy; mutating it does not affect the cache.
func (c *Cache) Get(domainName string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[domainName]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		DomainName: entry.DomainName,
		Addresses:  append([]ipaddr.Addr(nil), entry.Addresses...),
	}, true
}

// Contains reports whether domainName resolves to addr in the cache.
func (c *Cache) Contains(domainName string, addr ipaddr.Addr) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[domainName]
	if !ok {
		return false
	}
	return entry.Contains(addr)
}

// Remove deletes domainName's entry, if present.
func (c *Cache) Remove(domainName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domainName)
}

// Pop returns domainName's entry and removes it from the cache in one
// locked operation.
func (c *Cache) Pop(domainName string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[domainName]
	if !ok {
		return Entry{}, false
	}
	delete(c.entries, domainName)
	return Entry{
		DomainName: entry.DomainName,
		Addresses:  append([]ipaddr.Addr(nil), entry.Addresses...),
	}, true
}
