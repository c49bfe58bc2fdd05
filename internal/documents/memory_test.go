package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/catalog"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type counterKey struct {
	series sequence.Series
	year   int
}

// memoryRepo keeps documents and sequence counters in memory and joins the
// ledgertest store in its transactions.
type memoryRepo struct {
	mu       sync.Mutex
	stock    *ledgertest.Store
	docs     map[uuid.UUID]Document
	counters map[counterKey]int
	clock    time.Time

	// insertHook runs before a header insert and may fail it.
	insertHook func(doc Document) error
	// getHook runs before Get and may fail it.
	getHook func(id uuid.UUID) error
}

func newMemoryRepo(stock *ledgertest.Store) *memoryRepo {
	return &memoryRepo{
		stock:    stock,
		docs:     make(map[uuid.UUID]Document),
		counters: make(map[counterKey]int),
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type memoryTx struct {
	repo     *memoryRepo
	ledger   *ledgertest.Tx
	docs     map[uuid.UUID]Document
	counters map[counterKey]int
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{
		repo:     r,
		ledger:   r.stock.Begin(),
		docs:     make(map[uuid.UUID]Document),
		counters: make(map[counterKey]int, len(r.counters)),
	}
	for k, v := range r.counters {
		tx.counters[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		return err
	}
	for id, doc := range tx.docs {
		r.docs[id] = doc
	}
	r.counters = tx.counters
	tx.ledger.Commit()
	return nil
}

func (t *memoryTx) Ledger() ledger.TxRepository       { return t.ledger }
func (t *memoryTx) Sequences() sequence.TxRepository { return t }

func (t *memoryTx) Increment(_ context.Context, series sequence.Series, year, floor int) (int, error) {
	k := counterKey{series, year}
	n := t.counters[k]
	if floor > n {
		n = floor
	}
	n++
	t.counters[k] = n
	return n, nil
}

func (t *memoryTx) InsertDocument(_ context.Context, doc Document) error {
	if t.repo.insertHook != nil {
		if err := t.repo.insertHook(doc); err != nil {
			return err
		}
	}
	for _, existing := range t.repo.docs {
		if existing.Kind == doc.Kind && existing.Number == doc.Number {
			return &pgconn.PgError{Code: "23505", ConstraintName: NumberConstraint(doc.Kind)}
		}
	}
	t.repo.clock = t.repo.clock.Add(time.Minute)
	doc.CreatedAt = t.repo.clock
	doc.UpdatedAt = t.repo.clock
	doc.Lines = nil
	t.docs[doc.ID] = doc
	return nil
}

func (t *memoryTx) InsertLine(_ context.Context, _ Kind, docID uuid.UUID, line LineItem) error {
	doc, ok := t.docs[docID]
	if !ok {
		return fmt.Errorf("line for unknown document %s", docID)
	}
	doc.Lines = append(doc.Lines, line)
	t.docs[docID] = doc
	return nil
}

func (r *memoryRepo) Get(_ context.Context, kind Kind, id uuid.UUID) (Document, error) {
	if r.getHook != nil {
		if err := r.getHook(id); err != nil {
			return Document{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.Kind != kind {
		return Document{}, NotFound(kind)
	}
	return cloneDoc(doc), nil
}

func (r *memoryRepo) List(_ context.Context, kind Kind, limit int) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Document{}
	for _, doc := range r.docs {
		if doc.Kind == kind {
			out = append(out, cloneDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) LatestNumber(_ context.Context, kind Kind, year int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := fmt.Sprintf("%s-%04d-", kind.Series(), year)
	best, bestN := "", 0
	for _, doc := range r.docs {
		if doc.Kind != kind || !strings.HasPrefix(doc.Number, prefix) {
			continue
		}
		if _, _, n, err := sequence.Parse(doc.Number); err == nil && n > bestN {
			best, bestN = doc.Number, n
		}
	}
	return best, nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, kind Kind, id uuid.UUID, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.Kind != kind || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	r.docs[id] = doc
	return true, nil
}

// seed stores a document directly, bypassing the allocator.
func (r *memoryRepo) seed(kind Kind, number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.docs[id] = Document{ID: id, Kind: kind, Number: number, Status: StatusPending, CreatedAt: r.clock}
}

func (r *memoryRepo) count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, doc := range r.docs {
		if doc.Kind == kind {
			n++
		}
	}
	return n
}

func cloneDoc(doc Document) Document {
	lines := make([]LineItem, len(doc.Lines))
	copy(lines, doc.Lines)
	doc.Lines = lines
	return doc
}

// sequenceRepo exposes the counters of memoryRepo to sequence.Service.
type sequenceRepo struct {
	repo *memoryRepo
}

func (s sequenceRepo) WithTx(ctx context.Context, fn func(context.Context, sequence.TxRepository) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, tx.Sequences())
	})
}

func (s sequenceRepo) Current(_ context.Context, series sequence.Series, year int) (int, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	return s.repo.counters[counterKey{series, year}], nil
}

func (s sequenceRepo) Raise(_ context.Context, series sequence.Series, year, floor int) error {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	k := counterKey{series, year}
	if floor > s.repo.counters[k] {
		s.repo.counters[k] = floor
	}
	return nil
}

type memoryCatalog struct {
	items   map[string]catalog.Item
	parties map[uuid.UUID]catalog.Counterparty
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{items: map[string]catalog.Item{}, parties: map[uuid.UUID]catalog.Counterparty{}}
}

func (c *memoryCatalog) addItem(code, price, taxRate string) {
	c.items[code] = catalog.Item{
		Code:      code,
		Name:      "Item " + code,
		Category:  "general",
		Unit:      "pcs",
		UnitPrice: decimal.RequireFromString(price),
		TaxRate:   decimal.RequireFromString(taxRate),
	}
}

func (c *memoryCatalog) addParty(kind catalog.CounterpartyKind, name string) uuid.UUID {
	id := uuid.New()
	c.parties[id] = catalog.Counterparty{ID: id, Kind: kind, Name: name}
	return id
}

func (c *memoryCatalog) GetItems(_ context.Context, codes []string) (map[string]catalog.Item, error) {
	out := make(map[string]catalog.Item, len(codes))
	for _, code := range codes {
		item, ok := c.items[code]
		if !ok {
			return nil, httpx.NewError(httpx.ErrNotFound, "catalog: item "+code+" not found")
		}
		out[code] = item
	}
	return out, nil
}

func (c *memoryCatalog) GetCounterparty(_ context.Context, kind catalog.CounterpartyKind, id uuid.UUID) (catalog.Counterparty, error) {
	cp, ok := c.parties[id]
	if !ok || cp.Kind != kind {
		return catalog.Counterparty{}, catalog.ErrCounterpartyNotFound
	}
	return cp, nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[module+":"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = uuid.Nil
	return nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, module string, ref uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[module+":"+key] = ref
	return nil
}

func (m *memoryIdempotency) Lookup(_ context.Context, key, module string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[module+":"+key], nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	created map[string]int
	retried map[string]int
	status  map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{created: map[string]int{}, retried: map[string]int{}, status: map[string]int{}}
}

func (o *recordingObserver) DocumentCreated(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created[kind]++
}

func (o *recordingObserver) CreateRetried(_ string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried[reason]++
}

func (o *recordingObserver) StatusChanged(kind, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[kind+":"+status]++
}
