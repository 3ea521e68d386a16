package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/jmoiron/sqlx"
	// driver for postgresql
	_ "github.com/lib/pq"
)

const (
	contentTableName = "content"
	paymentTableName = "payments"

	defaultPendingLimit = 100
)

// ConnectPostgres opens a pooled connection and verifies it.
func ConnectPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// CreateTables creates the content and payments tables if they don't exist.
func CreateTables(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, CreateContentTableQuery()); err != nil {
		return fmt.Errorf("error creating %s table in postgres: %w", contentTableName, err)
	}
	if _, err := db.ExecContext(ctx, CreatePaymentTableQuery()); err != nil {
		return fmt.Errorf("error creating %s table in postgres: %w", paymentTableName, err)
	}
	return nil
}

// CreateContentTableQuery returns the query to create the content table
func CreateContentTableQuery() string {
	return CreateContentTableQueryString(contentTableName)
}

// CreateContentTableQueryString returns the query to create this table
func CreateContentTableQueryString(tableName string) string {
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s(
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            content_type TEXT NOT NULL DEFAULT 'video',
            embed_url TEXT NOT NULL DEFAULT '',
            article_body TEXT NOT NULL DEFAULT '',
            thumbnail_url TEXT NOT NULL DEFAULT '',
            price_in_stx DOUBLE PRECISION NOT NULL,
            creator_address TEXT NOT NULL,
            creator_name TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            created_at BIGINT NOT NULL,
            views BIGINT NOT NULL DEFAULT 0
        );
    `, tableName)
}

// CreatePaymentTableQuery returns the query to create the payments table
func CreatePaymentTableQuery() string {
	return CreatePaymentTableQueryString(paymentTableName)
}

// CreatePaymentTableQueryString returns the query to create this table
func CreatePaymentTableQueryString(tableName string) string {
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s(
            content_id TEXT NOT NULL,
            tx_id TEXT NOT NULL,
            buyer_address TEXT NOT NULL DEFAULT '',
            amount TEXT NOT NULL,
            recipient TEXT NOT NULL,
            status TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (content_id, tx_id)
        );
    `, tableName)
}

const contentColumns = "id, title, description, content_type, embed_url, article_body, thumbnail_url, " +
	"price_in_stx, creator_address, creator_name, category, created_at, views"

// PostgresRepository is a ContentRepository backed by postgres.
type PostgresRepository struct {
	db        *sqlx.DB
	tableName string
	now       func() time.Time
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, tableName: contentTableName, now: time.Now}
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*x402.Content, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id=$1;", contentColumns, p.tableName)
	c := &x402.Content{}
	err := p.db.GetContext(ctx, c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wasn't able to get content from postgres table: %w", err)
	}
	return c, nil
}

// List returns every record, newest first.
func (p *PostgresRepository) List(ctx context.Context) ([]x402.Content, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC;", contentColumns, p.tableName)
	items := []x402.Content{}
	if err := p.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("wasn't able to list content from postgres table: %w", err)
	}
	return items, nil
}

func (p *PostgresRepository) Create(ctx context.Context, input x402.ContentInput) (*x402.Content, error) {
	c := input.Build(p.now())
	if _, err := p.db.NamedExecContext(ctx, p.insertQuery(""), &c); err != nil {
		return nil, fmt.Errorf("wasn't able to save content to postgres table: %w", err)
	}
	return &c, nil
}

func (p *PostgresRepository) IncrementViews(ctx context.Context, id string) error {
	query := fmt.Sprintf("UPDATE %s SET views = views + 1 WHERE id=$1;", p.tableName)
	_, err := p.db.ExecContext(ctx, query, id)
	return err
}

// Seed upserts items in one transaction.
func (p *PostgresRepository) Seed(ctx context.Context, items []x402.Content) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	query := p.insertQuery(`ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description,
        content_type=EXCLUDED.content_type, embed_url=EXCLUDED.embed_url, article_body=EXCLUDED.article_body,
        thumbnail_url=EXCLUDED.thumbnail_url, price_in_stx=EXCLUDED.price_in_stx,
        creator_address=EXCLUDED.creator_address, creator_name=EXCLUDED.creator_name,
        category=EXCLUDED.category, created_at=EXCLUDED.created_at, views=EXCLUDED.views`)
	for i := range items {
		if _, err := tx.NamedExecContext(ctx, query, &items[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("seed %s: %w", items[i].ID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresRepository) insertQuery(onConflict string) string {
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:id, :title, :description, :content_type, :embed_url,
        :article_body, :thumbnail_url, :price_in_stx, :creator_address, :creator_name, :category, :created_at, :views) %s;`,
		p.tableName, contentColumns, onConflict)
}

// PostgresLedger is a PaymentLedger backed by postgres.
type PostgresLedger struct {
	db        *sqlx.DB
	tableName string
}

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db, tableName: paymentTableName}
}

// Record upserts by (content_id, tx_id); created_at keeps its first value.
func (p *PostgresLedger) Record(ctx context.Context, record *x402.PaymentRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (content_id, tx_id, buyer_address, amount, recipient, status, reason, created_at)
        VALUES (:content_id, :tx_id, :buyer_address, :amount, :recipient, :status, :reason, :created_at)
        ON CONFLICT (content_id, tx_id) DO UPDATE SET status=EXCLUDED.status, reason=EXCLUDED.reason,
        buyer_address=EXCLUDED.buyer_address;`, p.tableName)
	if _, err := p.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("wasn't able to save payment to postgres table: %w", err)
	}
	return nil
}

// ListPending returns up to limit pending records, oldest first.
func (p *PostgresLedger) ListPending(ctx context.Context, limit int) ([]x402.PaymentRecord, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	query := fmt.Sprintf(`SELECT content_id, tx_id, buyer_address, amount, recipient, status, reason, created_at
        FROM %s WHERE status=$1 ORDER BY created_at ASC LIMIT $2;`, p.tableName)
	records := []x402.PaymentRecord{}
	if err := p.db.SelectContext(ctx, &records, query, string(x402.StatusPending), limit); err != nil {
		return nil, fmt.Errorf("wasn't able to list pending payments: %w", err)
	}
	return records, nil
}

func (p *PostgresLedger) UpdateStatus(ctx context.Context, contentID, txID string, status x402.VerificationStatus, reason string) error {
	query := fmt.Sprintf("UPDATE %s SET status=$1, reason=$2 WHERE content_id=$3 AND tx_id=$4;", p.tableName)
	_, err := p.db.ExecContext(ctx, query, string(status), reason, contentID, txID)
	return err
}
