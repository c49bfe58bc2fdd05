// Package ledgertest provides an in-memory ledger store for tests. Transactions
// are serialised and roll back by restoring a copy of the state taken at Begin.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type item struct {
	name      string
	unit      string
	threshold int
}

type state struct {
	levels    map[string]int
	movements []ledger.Movement
	nextID    int64
}

func (s state) clone() state {
	levels := make(map[string]int, len(s.levels))
	for k, v := range s.levels {
		levels[k] = v
	}
	movements := make([]ledger.Movement, len(s.movements))
	copy(movements, s.movements)
	return state{levels: levels, movements: movements, nextID: s.nextID}
}

// Store implements ledger.RepositoryPort in memory.
type Store struct {
	mu    sync.Mutex
	items map[string]item
	state state
	clock time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items: make(map[string]item),
		state: state{levels: make(map[string]int)},
		clock: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

// AddItem registers a catalog item the ledger may reference.
func (s *Store) AddItem(code string, threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[code] = item{name: code, unit: "pcs", threshold: threshold}
}

// Corrupt overwrites a projection row without a movement.
func (s *Store) Corrupt(code string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.levels[code] = qty
}

// Movements returns every stored movement oldest first.
func (s *Store) Movements() []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Movement, len(s.state.movements))
	copy(out, s.state.movements)
	return out
}

// Level returns the projected quantity without going through the service.
func (s *Store) Level(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.levels[code]
}

// Tx is an open transaction. It holds the store lock until Commit or Rollback.
type Tx struct {
	store  *Store
	backup state
	done   bool
}

// Begin opens a transaction.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	return &Tx{store: s, backup: s.state.clone()}
}

// Commit keeps the changes.
func (t *Tx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Unlock()
}

// Rollback discards every change since Begin.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.store.state = t.backup
	t.store.mu.Unlock()
}

// Finish commits when err is nil and rolls back otherwise, returning err.
func (t *Tx) Finish(err error) error {
	if err != nil {
		t.Rollback()
		return err
	}
	t.Commit()
	return nil
}

func (t *Tx) LockLevel(_ context.Context, itemCode string) (int, error) {
	if _, ok := t.store.items[itemCode]; !ok {
		return 0, ledger.ErrUnknownItem
	}
	return t.store.state.levels[itemCode], nil
}

func (t *Tx) SetLevel(_ context.Context, itemCode string, qty int) error {
	t.store.state.levels[itemCode] = qty
	return nil
}

func (t *Tx) InsertMovement(_ context.Context, m ledger.Movement) (ledger.Movement, error) {
	if _, ok := t.store.items[m.ItemCode]; !ok {
		return ledger.Movement{}, ledger.ErrUnknownItem
	}
	t.store.state.nextID++
	t.store.clock = t.store.clock.Add(time.Second)
	m.ID = t.store.state.nextID
	m.CreatedAt = t.store.clock
	t.store.state.movements = append(t.store.state.movements, m)
	return m, nil
}

func (t *Tx) MovementsForReplay(_ context.Context, itemCode string) ([]ledger.Movement, error) {
	out := []ledger.Movement{}
	for _, m := range t.store.state.movements {
		if m.ItemCode == itemCode {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *Tx) Levels(context.Context) (map[string]int, error) {
	out := make(map[string]int, len(t.store.items))
	for code := range t.store.items {
		out[code] = t.store.state.levels[code]
	}
	return out, nil
}

// WithTx runs fn in a serialised transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := s.Begin()
	return tx.Finish(fn(ctx, tx))
}

// WithSnapshot runs fn with writes blocked; it never changes state.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := s.Begin()
	defer tx.Rollback()
	return fn(ctx, tx)
}

func (s *Store) ItemExists(_ context.Context, itemCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[itemCode]
	return ok, nil
}

func (s *Store) GetLevel(_ context.Context, itemCode string) (ledger.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemCode]
	if !ok {
		return ledger.StockLevel{}, ledger.ErrUnknownItem
	}
	return s.level(itemCode, it), nil
}

func (s *Store) level(code string, it item) ledger.StockLevel {
	return ledger.StockLevel{
		ItemCode:          code,
		ItemName:          it.name,
		Unit:              it.unit,
		Quantity:          s.state.levels[code],
		LowStockThreshold: it.threshold,
		UpdatedAt:         s.clock,
	}
}

func (s *Store) ListLevels(context.Context) ([]ledger.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.StockLevel, 0, len(s.items))
	for code, it := range s.items {
		out = append(out, s.level(code, it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}

func (s *Store) ListLowStock(ctx context.Context) ([]ledger.StockLevel, error) {
	all, _ := s.ListLevels(ctx)
	out := []ledger.StockLevel{}
	for _, lvl := range all {
		if lvl.Quantity <= lvl.LowStockThreshold {
			out = append(out, lvl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, itemCode string, limit int) ([]ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Movement{}
	for i := len(s.state.movements) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.state.movements[i]
		if itemCode == "" || m.ItemCode == itemCode {
			out = append(out, m)
		}
	}
	return out, nil
}
