package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/catalog"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultRetries   = 3
	defaultListLimit = 50
	maxListLimit     = 500
	dateLayout       = "2006-01-02"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, kind Kind, id uuid.UUID) (Document, error)
	List(ctx context.Context, kind Kind, limit int) ([]Document, error)
	LatestNumber(ctx context.Context, kind Kind, year int) (string, error)
	UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, from, to Status) (bool, error)
}

// CatalogPort resolves counterparties and items.
type CatalogPort interface {
	GetItems(ctx context.Context, codes []string) (map[string]catalog.Item, error)
	GetCounterparty(ctx context.Context, kind catalog.CounterpartyKind, id uuid.UUID) (catalog.Counterparty, error)
}

// AuditPort records document events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, module string, ref uuid.UUID) error
	Lookup(ctx context.Context, key, module string) (uuid.UUID, error)
	Delete(ctx context.Context, key, module string) error
}

// CachePort invalidates cached read models after a write.
type CachePort interface {
	Bump(ctx context.Context) error
}

// Observer receives document metrics.
type Observer interface {
	DocumentCreated(kind string)
	CreateRetried(kind, reason string)
	StatusChanged(kind, status string)
}

// Config groups optional collaborators.
type Config struct {
	Retries     int
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       CachePort
	Observer    Observer
	Logger      *slog.Logger
}

// Service creates bills and purchases and keeps the ledger in step with them.
type Service struct {
	repo     RepositoryPort
	catalog  CatalogPort
	ledger   *ledger.Service
	seq      *sequence.Service
	retries  int
	audit    AuditPort
	idem     IdempotencyPort
	cache    CachePort
	observer Observer
	logger   *slog.Logger
	validate *httpx.Validator
}

// NewService wires the document engine.
func NewService(repo RepositoryPort, catalogPort CatalogPort, ledgerSvc *ledger.Service, seq *sequence.Service, cfg Config) *Service {
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  catalogPort,
		ledger:   ledgerSvc,
		seq:      seq,
		retries:  retries,
		audit:    cfg.Audit,
		idem:     cfg.Idempotency,
		cache:    cfg.Cache,
		observer: cfg.Observer,
		logger:   logger,
		validate: httpx.NewValidator(),
	}
}

// CreateBill issues a sales invoice and records one outbound movement per line.
func (s *Service) CreateBill(ctx context.Context, input CreateInput) (Document, error) {
	return s.create(ctx, KindBill, input)
}

// CreatePurchase records a vendor purchase and one inbound movement per line.
func (s *Service) CreatePurchase(ctx context.Context, input CreateInput) (Document, error) {
	return s.create(ctx, KindPurchase, input)
}

func (s *Service) create(ctx context.Context, kind Kind, input CreateInput) (Document, error) {
	doc, err := s.prepare(ctx, kind, input)
	if err != nil {
		return Document{}, unavailable(err)
	}

	module := "documents:" + string(kind)
	keyed := input.IdempotencyKey != "" && s.idem != nil
	if keyed {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, module); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.replay(ctx, kind, input.IdempotencyKey, module, err)
			}
			return Document{}, unavailable(err)
		}
	}

	for attempt := 0; ; attempt++ {
		err = s.persist(ctx, &doc)
		if err == nil {
			break
		}
		reason := retryReason(kind, err)
		if reason == "" || attempt >= s.retries {
			break
		}
		if s.observer != nil {
			s.observer.CreateRetried(string(kind), reason)
		}
		s.logger.Warn("document create retry",
			slog.String("kind", string(kind)),
			slog.String("number", doc.Number),
			slog.String("reason", reason),
			slog.Int("attempt", attempt+1),
		)
		if reason == "number_conflict" {
			if err := s.resync(ctx, kind); err != nil {
				s.logger.Error("sequence resync failed", slog.String("kind", string(kind)), slog.Any("error", err))
			}
		}
	}
	if err != nil {
		if keyed {
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), input.IdempotencyKey, module); delErr != nil {
				s.logger.Error("release idempotency key", slog.Any("error", delErr))
			}
		}
		if retryReason(kind, err) != "" {
			return Document{}, fmt.Errorf("%w: %d attempts: %v", ErrConflict, s.retries+1, err)
		}
		return Document{}, unavailable(err)
	}

	// The document is committed; the request context may already be gone.
	done := context.WithoutCancel(ctx)
	if keyed {
		if err := s.idem.Complete(done, input.IdempotencyKey, module, doc.ID); err != nil {
			s.logger.Error("record idempotency result", slog.String("number", doc.Number), slog.Any("error", err))
		}
	}
	s.afterCommit(done, doc.CreatedBy, doc, "documents."+string(kind)+".create", map[string]any{
		"number": doc.Number,
		"total":  doc.Total.StringFixed(2),
		"lines":  len(doc.Lines),
	})
	if s.observer != nil {
		s.observer.DocumentCreated(string(kind))
	}
	stored, err := s.repo.Get(ctx, kind, doc.ID)
	if err != nil {
		s.logger.Warn("reload created document",
			slog.String("kind", string(kind)),
			slog.String("number", doc.Number),
			slog.Any("error", err),
		)
		return doc, nil
	}
	return stored, nil
}

// replay answers a repeated idempotency key with the document the first request
// created. A key whose request is still running keeps the conflict.
func (s *Service) replay(ctx context.Context, kind Kind, key, module string, conflict error) (Document, error) {
	ref, err := s.idem.Lookup(ctx, key, module)
	if err != nil {
		return Document{}, unavailable(err)
	}
	if ref == uuid.Nil {
		return Document{}, conflict
	}
	doc, err := s.repo.Get(ctx, kind, ref)
	if err != nil {
		return Document{}, unavailable(err)
	}
	doc.Replayed = true
	return doc, nil
}

// unavailable marks storage outages so callers see a retryable failure.
func unavailable(err error) error {
	if db.IsUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// prepare validates input and resolves counterparty, items, rates and totals.
// Nothing is written.
func (s *Service) prepare(ctx context.Context, kind Kind, input CreateInput) (Document, error) {
	input.Notes = strings.TrimSpace(input.Notes)
	if err := s.validate.Struct(input); err != nil {
		return Document{}, err
	}
	if input.CounterpartyID == uuid.Nil {
		return Document{}, httpx.NewError(httpx.ErrValidation, "documents: counterparty_id is required")
	}
	if len(input.Lines) == 0 {
		return Document{}, ErrNoLines
	}
	codes := make([]string, 0, len(input.Lines))
	seen := make(map[string]bool, len(input.Lines))
	for i := range input.Lines {
		line := &input.Lines[i]
		line.ItemCode = strings.TrimSpace(line.ItemCode)
		switch {
		case line.ItemCode == "":
			return Document{}, lineError(i, "item_code is required")
		case line.Quantity < 1:
			return Document{}, lineError(i, "quantity must be >= 1")
		case line.Rate != nil && line.Rate.IsNegative():
			return Document{}, lineError(i, "rate must be >= 0")
		}
		if !seen[line.ItemCode] {
			seen[line.ItemCode] = true
			codes = append(codes, line.ItemCode)
		}
	}

	now := s.seq.Now()
	docDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if input.DocumentDate != "" {
		docDate, _ = time.Parse(dateLayout, input.DocumentDate)
	}
	var due *time.Time
	if input.DueDate != "" {
		d, _ := time.Parse(dateLayout, input.DueDate)
		if d.Before(docDate) {
			return Document{}, httpx.NewError(httpx.ErrValidation, "documents: due_date must not be before document_date")
		}
		due = &d
	}

	party, err := s.catalog.GetCounterparty(ctx, kind.Counterparty(), input.CounterpartyID)
	if err != nil {
		return Document{}, fmt.Errorf("verify %s: %w", kind.Counterparty(), err)
	}
	items, err := s.catalog.GetItems(ctx, codes)
	if err != nil {
		return Document{}, fmt.Errorf("verify items: %w", err)
	}

	doc := Document{
		Kind:           kind,
		CounterpartyID: party.ID,
		Counterparty:   party,
		Status:         StatusPending,
		DocumentDate:   docDate,
		DueDate:        due,
		Notes:          input.Notes,
		CreatedBy:      input.CreatedBy,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
	}
	for i, in := range input.Lines {
		item := items[in.ItemCode]
		rate := item.UnitPrice
		if in.Rate != nil {
			rate = *in.Rate
		}
		rate = rate.Round(2)
		amount := rate.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2)
		tax := lineTax(amount, item.TaxRate)
		doc.Lines = append(doc.Lines, LineItem{
			LineNo:    i + 1,
			ItemCode:  item.Code,
			Item:      ItemRef{Code: item.Code, Name: item.Name, Unit: item.Unit, Category: item.Category},
			Quantity:  in.Quantity,
			Rate:      rate,
			Amount:    amount,
			TaxAmount: tax,
		})
		doc.Subtotal = doc.Subtotal.Add(amount)
		doc.TaxAmount = doc.TaxAmount.Add(tax)
	}
	doc.Total = doc.Subtotal.Add(doc.TaxAmount)
	return doc, nil
}

func lineError(i int, msg string) error {
	return fmt.Errorf("%w: line %d: %s", httpx.ErrValidation, i+1, msg)
}

// persist writes the header, lines and ledger movements in one transaction. The
// number is allocated inside it so a rollback gives the number back.
func (s *Service) persist(ctx context.Context, doc *Document) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.seq.Next(ctx, tx.Sequences(), doc.Kind.Series(), s.seq.Now())
		if err != nil {
			return err
		}
		doc.ID = uuid.New()
		doc.Number = number
		if err := tx.InsertDocument(ctx, *doc); err != nil {
			return fmt.Errorf("insert %s: %w", doc.Kind, err)
		}
		for i := range doc.Lines {
			doc.Lines[i].ID = uuid.New()
			if err := tx.InsertLine(ctx, doc.Kind, doc.ID, doc.Lines[i]); err != nil {
				return fmt.Errorf("insert line %d: %w", doc.Lines[i].LineNo, err)
			}
		}

		// Lock projection rows in item order so concurrent documents sharing items
		// cannot deadlock.
		order := make([]int, len(doc.Lines))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return doc.Lines[order[a]].ItemCode < doc.Lines[order[b]].ItemCode })

		ledgerTx := tx.Ledger()
		refID := doc.ID
		for _, i := range order {
			line := doc.Lines[i]
			_, err := s.ledger.RecordTx(ctx, ledgerTx, ledger.RecordInput{
				ItemCode:  line.ItemCode,
				Kind:      doc.Kind.Movement(),
				Quantity:  line.Quantity,
				Reason:    doc.Kind.Reason(doc.Number),
				RefType:   string(doc.Kind),
				RefID:     &refID,
				CreatedBy: doc.CreatedBy,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
		}
		return nil
	})
}

// retryReason classifies errors that a fresh attempt can resolve.
func retryReason(kind Kind, err error) string {
	switch {
	case db.IsUniqueViolation(err) && db.ConstraintName(err) == NumberConstraint(kind):
		return "number_conflict"
	case db.IsTransient(err):
		return "serialization"
	}
	return ""
}

func (s *Service) resync(ctx context.Context, kind Kind) error {
	year := s.seq.Now().Year()
	latest, err := s.repo.LatestNumber(ctx, kind, year)
	if err != nil || latest == "" {
		return err
	}
	_, y, n, err := sequence.Parse(latest)
	if err != nil {
		return err
	}
	return s.seq.Resync(ctx, kind.Series(), y, n)
}

func (s *Service) afterCommit(ctx context.Context, actor string, doc Document, action string, meta map[string]any) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   string(doc.Kind),
			EntityID: doc.ID.String(),
			Meta:     meta,
		})
		if err != nil {
			s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("report cache bump failed", slog.Any("error", err))
		}
	}
}

// UpdateBillStatus settles or cancels a pending bill. Stock is not affected.
func (s *Service) UpdateBillStatus(ctx context.Context, id uuid.UUID, status Status, actor string) (Document, error) {
	return s.updateStatus(ctx, KindBill, id, status, actor)
}

// UpdatePurchaseStatus completes or cancels a pending purchase. Stock is not affected.
func (s *Service) UpdatePurchaseStatus(ctx context.Context, id uuid.UUID, status Status, actor string) (Document, error) {
	return s.updateStatus(ctx, KindPurchase, id, status, actor)
}

func (s *Service) updateStatus(ctx context.Context, kind Kind, id uuid.UUID, to Status, actor string) (Document, error) {
	current, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Document{}, err
	}
	if !kind.CanTransition(current.Status, to) {
		return Document{}, fmt.Errorf("%w: %s %s to %s", ErrInvalidStatus, kind, current.Status, to)
	}
	ok, err := s.repo.UpdateStatus(ctx, kind, id, current.Status, to)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatus, kind)
	}
	s.afterCommit(ctx, actor, current, "documents."+string(kind)+".status", map[string]any{
		"number": current.Number,
		"from":   string(current.Status),
		"to":     string(to),
	})
	if s.observer != nil {
		s.observer.StatusChanged(string(kind), string(to))
	}
	return s.repo.Get(ctx, kind, id)
}

// Get loads one document of kind.
func (s *Service) Get(ctx context.Context, kind Kind, id uuid.UUID) (Document, error) {
	return s.repo.Get(ctx, kind, id)
}

// GetBill loads a bill with counterparty and lines.
func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (Document, error) {
	return s.repo.Get(ctx, KindBill, id)
}

// GetPurchase loads a purchase with counterparty and lines.
func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (Document, error) {
	return s.repo.Get(ctx, KindPurchase, id)
}

// List returns documents of kind newest first.
func (s *Service) List(ctx context.Context, kind Kind, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, kind, limit)
}

// ListBills returns bills newest first.
func (s *Service) ListBills(ctx context.Context, limit int) ([]Document, error) {
	return s.List(ctx, KindBill, limit)
}

// ListPurchases returns purchases newest first.
func (s *Service) ListPurchases(ctx context.Context, limit int) ([]Document, error) {
	return s.List(ctx, KindPurchase, limit)
}

// PreviewNumber returns the number the next document of kind would get. It does
// not reserve it.
func (s *Service) PreviewNumber(ctx context.Context, kind Kind) (string, error) {
	return s.seq.Preview(ctx, kind.Series())
}
