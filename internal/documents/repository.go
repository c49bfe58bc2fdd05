package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/sequence"
)

// TxRepository is the transactional view used while creating a document. Ledger
// and sequence writes made through it join the same transaction.
type TxRepository interface {
	InsertDocument(ctx context.Context, doc Document) error
	InsertLine(ctx context.Context, kind Kind, docID uuid.UUID, line LineItem) error
	Ledger() ledger.TxRepository
	Sequences() sequence.TxRepository
}

type tables struct {
	docs  string
	lines string
	party string
	fk    string
}

func tablesFor(kind Kind) tables {
	if kind == KindPurchase {
		return tables{docs: "purchases", lines: "purchase_lines", party: "vendor_id", fk: "purchase_id"}
	}
	return tables{docs: "bills", lines: "bill_lines", party: "customer_id", fk: "bill_id"}
}

// NumberConstraint is the unique constraint guarding document numbers of kind.
func NumberConstraint(kind Kind) string {
	return tablesFor(kind).docs + "_number_key"
}

// Repository persists bills and purchases.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a ReadCommitted transaction. Stock rows and sequence counters
// are locked explicitly by the ledger and sequence writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("documents repository not initialised")
	}
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func (r *txRepository) Sequences() sequence.TxRepository {
	return sequence.NewTxRepository(r.tx)
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) error {
	t := tablesFor(doc.Kind)
	_, err := r.tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, number, %s, subtotal, tax_amount, total, status, document_date, due_date, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, t.docs, t.party),
		doc.ID, doc.Number, doc.CounterpartyID, doc.Subtotal, doc.TaxAmount, doc.Total, string(doc.Status),
		doc.DocumentDate, doc.DueDate, doc.Notes, doc.CreatedBy)
	return err
}

func (r *txRepository) InsertLine(ctx context.Context, kind Kind, docID uuid.UUID, line LineItem) error {
	t := tablesFor(kind)
	_, err := r.tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, %s, line_no, item_code, quantity, rate, amount, tax_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, t.lines, t.fk),
		line.ID, docID, line.LineNo, line.ItemCode, line.Quantity, line.Rate, line.Amount, line.TaxAmount)
	return err
}

func headerQuery(t tables) string {
	return fmt.Sprintf(`SELECT d.id, d.number, d.%s, d.subtotal, d.tax_amount, d.total, d.status, d.document_date, d.due_date,
       d.notes, d.created_by, d.created_at, d.updated_at,
       c.id, c.kind, c.name, c.email, c.phone, c.address, c.created_at
FROM %s d JOIN counterparties c ON c.id = d.%s`, t.party, t.docs, t.party)
}

func scanHeader(row pgx.Row, kind Kind) (Document, error) {
	doc := Document{Kind: kind}
	var status string
	err := row.Scan(&doc.ID, &doc.Number, &doc.CounterpartyID, &doc.Subtotal, &doc.TaxAmount, &doc.Total, &status,
		&doc.DocumentDate, &doc.DueDate, &doc.Notes, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
		&doc.Counterparty.ID, &doc.Counterparty.Kind, &doc.Counterparty.Name, &doc.Counterparty.Email,
		&doc.Counterparty.Phone, &doc.Counterparty.Address, &doc.Counterparty.CreatedAt)
	doc.Status = Status(status)
	return doc, err
}

// Get loads one document with counterparty and lines.
func (r *Repository) Get(ctx context.Context, kind Kind, id uuid.UUID) (Document, error) {
	t := tablesFor(kind)
	doc, err := scanHeader(r.pool.QueryRow(ctx, headerQuery(t)+` WHERE d.id = $1`, id), kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, NotFound(kind)
	}
	if err != nil {
		return Document{}, err
	}
	lines, err := r.lines(ctx, kind, []uuid.UUID{id})
	if err != nil {
		return Document{}, err
	}
	doc.Lines = lines[id]
	return doc, nil
}

// List returns documents newest first, each with its lines.
func (r *Repository) List(ctx context.Context, kind Kind, limit int) ([]Document, error) {
	t := tablesFor(kind)
	rows, err := r.pool.Query(ctx, headerQuery(t)+` ORDER BY d.created_at DESC, d.number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	ids := []uuid.UUID{}
	for rows.Next() {
		doc, err := scanHeader(rows, kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return docs, nil
	}
	lines, err := r.lines(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Lines = lines[docs[i].ID]
	}
	return docs, nil
}

func (r *Repository) lines(ctx context.Context, kind Kind, ids []uuid.UUID) (map[uuid.UUID][]LineItem, error) {
	t := tablesFor(kind)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT l.%s, l.id, l.line_no, l.item_code, l.quantity, l.rate, l.amount, l.tax_amount,
       i.name, i.unit, i.category
FROM %s l JOIN items i ON i.code = l.item_code
WHERE l.%s = ANY($1)
ORDER BY l.line_no`, t.fk, t.lines, t.fk), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]LineItem, len(ids))
	for rows.Next() {
		var docID uuid.UUID
		var line LineItem
		if err := rows.Scan(&docID, &line.ID, &line.LineNo, &line.ItemCode, &line.Quantity, &line.Rate, &line.Amount, &line.TaxAmount,
			&line.Item.Name, &line.Item.Unit, &line.Item.Category); err != nil {
			return nil, err
		}
		line.Item.Code = line.ItemCode
		out[docID] = append(out[docID], line)
	}
	return out, rows.Err()
}

// LatestNumber returns the highest stored number of kind in year, "" when none.
func (r *Repository) LatestNumber(ctx context.Context, kind Kind, year int) (string, error) {
	t := tablesFor(kind)
	prefix := fmt.Sprintf("%s-%04d-", kind.Series(), year)
	var number string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT number FROM %s WHERE number LIKE $1 || '%%'
ORDER BY length(number) DESC, number DESC LIMIT 1`, t.docs), prefix).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return number, err
}

// UpdateStatus moves a document from one status to another. It reports false
// when the document is no longer in status from.
func (r *Repository) UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, from, to Status) (bool, error) {
	t := tablesFor(kind)
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, t.docs), id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
