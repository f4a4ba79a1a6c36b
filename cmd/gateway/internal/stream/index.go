package stream

import "sync"

// SubscriptionIndex is the bidirectional mapping between symbols and the
// connections subscribed to them. It is the only structure in the
// subsystem mutated by many goroutines at once: every connection handler
// writes to it, while the poller and the bridge read from it.
//
// Invariant: the two maps are mutual inverses, and a symbol key exists in
// bySymbol only while its subscriber set is non-empty.
type SubscriptionIndex struct {
	mu       sync.RWMutex
	bySymbol map[string]map[string]struct{}
	byConn   map[string]map[string]struct{}
}

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		bySymbol: make(map[string]map[string]struct{}),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the (connection, symbol) pair. Subscribing twice is a no-op.
func (ix *SubscriptionIndex) Subscribe(connID, symbol string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.bySymbol[symbol] == nil {
		ix.bySymbol[symbol] = make(map[string]struct{})
	}
	ix.bySymbol[symbol][connID] = struct{}{}

	if ix.byConn[connID] == nil {
		ix.byConn[connID] = make(map[string]struct{})
	}
	ix.byConn[connID][symbol] = struct{}{}
}

// Unsubscribe removes the pair and prunes an emptied symbol entry.
// Removing a pair that does not exist is a no-op.
func (ix *SubscriptionIndex) Unsubscribe(connID, symbol string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.unsubscribeLocked(connID, symbol)
}

func (ix *SubscriptionIndex) unsubscribeLocked(connID, symbol string) {
	if subs, ok := ix.bySymbol[symbol]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(ix.bySymbol, symbol)
		}
	}
	if syms, ok := ix.byConn[connID]; ok {
		delete(syms, symbol)
		if len(syms) == 0 {
			delete(ix.byConn, connID)
		}
	}
}

// RemoveConnection drops every subscription the connection holds.
// Cost is proportional to that connection's symbol count only.
func (ix *SubscriptionIndex) RemoveConnection(connID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for symbol := range ix.byConn[connID] {
		if subs, ok := ix.bySymbol[symbol]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(ix.bySymbol, symbol)
			}
		}
	}
	delete(ix.byConn, connID)
}

// SubscribersOf returns a snapshot of the connection ids subscribed to
// symbol, so callers can fan out without holding the index lock.
func (ix *SubscriptionIndex) SubscribersOf(symbol string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	subs := ix.bySymbol[symbol]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// ActiveSymbols returns a snapshot of every symbol with at least one
// subscriber. The poller uses it to bound provider load to live interest.
func (ix *SubscriptionIndex) ActiveSymbols() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.bySymbol))
	for symbol := range ix.bySymbol {
		out = append(out, symbol)
	}
	return out
}

// SymbolsOf returns a snapshot of the symbols a connection is subscribed to.
func (ix *SubscriptionIndex) SymbolsOf(connID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	syms := ix.byConn[connID]
	if len(syms) == 0 {
		return nil
	}
	out := make([]string, 0, len(syms))
	for symbol := range syms {
		out = append(out, symbol)
	}
	return out
}
