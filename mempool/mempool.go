// Package mempool implements the fee-priority admission set that feeds
// block construction: a heap-ordered pending set keyed by transaction
// hash, bounded in size, with the highest-fee entries served first and
// the lowest-fee entry evicted when a better-paying transaction arrives
// at capacity.
package mempool

import (
	"container/heap"
	"sync"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/txvalidate"
)

// item wraps a pending transaction with the bookkeeping the priority queue
// orders by.
type item struct {
	tx          chain.SignedTransaction
	hash        chain.Hash
	insertOrder uint64
	index       int
}

// priorityQueue implements heap.Interface ordered by (fee DESC, insertion
// order ASC); the insertion counter makes ordering between equal-fee
// entries deterministic.
type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].tx.Fee != pq[j].tx.Fee {
		return pq[i].tx.Fee > pq[j].tx.Fee
	}
	return pq[i].insertOrder < pq[j].insertOrder
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// Pool is a fee-priority ordered set of at most maxTransactions pending
// transactions, keyed by transaction hash.
type Pool struct {
	mu              sync.Mutex
	maxTransactions int
	maxPerBlock     int
	minFee          int64
	validator       *txvalidate.Validator
	pq              priorityQueue
	byHash          map[chain.Hash]*item
	nextInsertOrder uint64
}

// Config recognizes the capacity, per-block cap, and fee floor the pool
// enforces. MaxTransactionsPerBlock caps what a single GetPending call may
// return regardless of the caller's ask; zero disables the cap.
type Config struct {
	MaxTransactions         int
	MaxTransactionsPerBlock int
	MinFee                  int64
}

// New constructs an empty pool that validates admissions through
// validator.
func New(cfg Config, validator *txvalidate.Validator) *Pool {
	return &Pool{
		maxTransactions: cfg.MaxTransactions,
		maxPerBlock:     cfg.MaxTransactionsPerBlock,
		minFee:          cfg.MinFee,
		validator:       validator,
		pq:              make(priorityQueue, 0, cfg.MaxTransactions),
		byHash:          make(map[chain.Hash]*item, cfg.MaxTransactions),
	}
}

// Add admits tx if it passes validation, is at or above the fee floor, is not
// already present, and either the pool has room or tx's fee beats the
// pool's current lowest fee (evicting that entry).
func (p *Pool) Add(tx chain.SignedTransaction, hash chain.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.validator != nil {
		if err := p.validator.ValidateOne(tx, nil); err != nil {
			return err
		}
	}
	if tx.Fee < p.minFee {
		return chainerr.New(chainerr.KindFeeTooLow, "fee below mempool minimum")
	}
	if _, exists := p.byHash[hash]; exists {
		return chainerr.New(chainerr.KindDuplicateTx, "transaction already in mempool")
	}

	if len(p.pq) >= p.maxTransactions {
		lowest := p.pq[0]
		for _, it := range p.pq {
			if it.tx.Fee < lowest.tx.Fee {
				lowest = it
			}
		}
		if tx.Fee <= lowest.tx.Fee {
			return chainerr.New(chainerr.KindFeeTooLow, "mempool full and fee does not exceed the lowest entry")
		}
		p.removeLocked(lowest.hash)
	}

	it := &item{tx: tx, hash: hash, insertOrder: p.nextInsertOrder}
	p.nextInsertOrder++
	heap.Push(&p.pq, it)
	p.byHash[hash] = it
	return nil
}

// GetPending returns up to maxCount transactions ordered by (fee DESC,
// insertion order ASC). The pool itself is not mutated.
func (p *Pool) GetPending(maxCount int) []chain.SignedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := make([]*item, len(p.pq))
	copy(ordered, p.pq)
	sortByPriority(ordered)

	n := maxCount
	if p.maxPerBlock > 0 && n > p.maxPerBlock {
		n = p.maxPerBlock
	}
	if n > len(ordered) {
		n = len(ordered)
	}
	out := make([]chain.SignedTransaction, n)
	for i := 0; i < n; i++ {
		out[i] = ordered[i].tx
	}
	return out
}

func sortByPriority(items []*item) {
	// Insertion sort: mempools stay small relative to block construction
	// frequency, and this keeps the comparator identical to the heap's.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j-1], items[j]
			less := a.tx.Fee > b.tx.Fee || (a.tx.Fee == b.tx.Fee && a.insertOrder < b.insertOrder)
			if less {
				break
			}
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}

// Remove deletes hashes from the pool and returns the count actually
// removed.
func (p *Pool) Remove(hashes []chain.Hash) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range hashes {
		if p.removeLocked(h) {
			n++
		}
	}
	return n
}

func (p *Pool) removeLocked(h chain.Hash) bool {
	it, ok := p.byHash[h]
	if !ok {
		return false
	}
	heap.Remove(&p.pq, it.index)
	delete(p.byHash, h)
	return true
}

// Contains reports whether hash is currently pooled.
func (p *Pool) Contains(h chain.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[h]
	return ok
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pq)
}

// Clear empties the pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pq = p.pq[:0]
	p.byHash = make(map[chain.Hash]*item, p.maxTransactions)
}
