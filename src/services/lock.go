package services

import "sync"

// sellerLocks hands out one mutex per seller id so ingestion batches for the
// same seller never interleave their upsert+recompute, while uploads for
// different sellers proceed in parallel. Locks are never evicted: the per
// seller footprint is one mutex, negligible next to the seller's facts.
type sellerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSellerLocks() *sellerLocks {
	return &sellerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sellerLocks) forSeller(sellerID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sellerID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sellerID] = lock
	}
	return lock
}
