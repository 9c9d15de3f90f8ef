package market

import (
	"errors"
	"sync"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store keeps the latest snapshot per ticker.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewStore() *Store {
	return &Store{snaps: make(map[string]Snapshot)}
}

func (st *Store) Set(s Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snaps[s.Ticker] = s
}

func (st *Store) Get(ticker string) (Snapshot, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.snaps[ticker]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, nil
}

func (st *Store) Tickers() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.snaps))
	for t := range st.snaps {
		out = append(out, t)
	}
	return out
}
