package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c *Credentials) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations() error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "ledger_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

// InsertIfAbsent writes the purchase and its outbox event in one transaction.
// A conflicting (user_id, product_id) row leaves both tables untouched.
func (r *PostgresRepository) InsertIfAbsent(ctx context.Context, p *domain.Purchase) (bool, error) {
	snapshot, err := json.Marshal(p.Product)
	if err != nil {
		return false, fmt.Errorf("marshal product snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin tx: %v", domain.ErrUpstream, err)
	}
	defer tx.Rollback()

	query := `INSERT INTO purchases (id, user_id, product_id, session_id, price_at_purchase, quantity, source, product_snapshot, purchased_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (user_id, product_id) DO NOTHING
	          RETURNING purchased_at`

	err = tx.QueryRowContext(ctx, query,
		p.ID,
		p.UserID,
		p.ProductID,
		p.SessionID,
		p.PriceAtPurchase,
		p.Quantity,
		string(p.Source),
		snapshot,
		p.PurchasedAt,
	).Scan(&p.PurchasedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("%w: insert purchase: %v", domain.ErrUpstream, err)
	}

	payload, err := json.Marshal(domain.PurchaseGranted{
		PurchaseID:  p.ID,
		UserID:      p.UserID,
		ProductID:   p.ProductID,
		SessionID:   p.SessionID,
		PurchasedAt: p.PurchasedAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal purchase event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		p.UserID, domain.EventPurchaseGranted, payload)
	if err != nil {
		return false, fmt.Errorf("%w: insert outbox event: %v", domain.ErrUpstream, err)
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("%w: commit purchase: %v", domain.ErrUpstream, err)
	}
	return true, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, userID, productID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id = $1 AND product_id = $2)`,
		userID, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: query purchase: %v", domain.ErrUpstream, err)
	}
	return exists, nil
}

const purchaseColumns = `id, user_id, product_id, session_id, price_at_purchase, quantity, source, product_snapshot, purchased_at`

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 ORDER BY purchased_at DESC, id`
	return r.list(ctx, query, userID)
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE session_id = $1 ORDER BY purchased_at, id`
	return r.list(ctx, query, sessionID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg string) ([]*domain.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: query purchases: %v", domain.ErrUpstream, err)
	}
	defer rows.Close()

	purchases := make([]*domain.Purchase, 0)
	for rows.Next() {
		var (
			p        domain.Purchase
			source   string
			snapshot []byte
		)
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.ProductID,
			&p.SessionID,
			&p.PriceAtPurchase,
			&p.Quantity,
			&source,
			&snapshot,
			&p.PurchasedAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		if err := json.Unmarshal(snapshot, &p.Product); err != nil {
			return nil, fmt.Errorf("%w: purchase %s snapshot: %v", domain.ErrDataIntegrity, p.ID, err)
		}
		p.Source = domain.PurchaseSource(source)
		purchases = append(purchases, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration: %v", domain.ErrUpstream, err)
	}
	return purchases, nil
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload FROM outbox_events
		 WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d processed: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
