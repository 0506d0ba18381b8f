package wal

import (
	"sync"

	"github.com/cuemby/colwal/pkg/types"
)

// bidSequence hands out fresh physical bids. TransactionBuilder and
// Replayer share one instance so that live LOG_CREATE calls and replayed
// LOG_CREATE actions never collide on a bid, regardless of which path
// allocates first during the Replayer-then-TransactionBuilder boot
// sequence (§6).
type bidSequence struct {
	mu   sync.Mutex
	next types.BID
}

// newBIDSequence starts handing out bids at start.
func newBIDSequence(start types.BID) *bidSequence {
	return &bidSequence{next: start}
}

// Next returns the next unused bid.
func (b *bidSequence) Next() types.BID {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid := b.next
	b.next++
	return bid
}

// Observe bumps the sequence past bid if bid was allocated by some other
// means (e.g. discovered already present in the store at boot), so a
// later Next() never re-issues it.
func (b *bidSequence) Observe(bid types.BID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bid >= b.next {
		b.next = bid + 1
	}
}
