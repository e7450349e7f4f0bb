package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository reads products from the SQLite catalog. The catalog is
// maintained by the admin tooling; this package never writes to it outside
// migrations.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

const productColumns = `id, name, price, description, image_ref, author, download_url, game`

// GetProduct returns domain.ErrProductNotFound for a missing id and
// domain.ErrInvalidProduct for a row without a usable name or price.
func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("%w: query product %q: %v", domain.ErrUpstream, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: query product %q: %v", domain.ErrUpstream, id, err)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return scanProduct(rows)
}

func (r *Repository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query products: %v", domain.ErrUpstream, err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if errors.Is(err, domain.ErrInvalidProduct) {
			logger.FromContext(ctx).Warn().Err(err).Msg("skipping invalid catalog record")
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration: %v", domain.ErrUpstream, err)
	}

	return products, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p     domain.Product
		name  sql.NullString
		price sql.NullInt64
	)
	err := row.Scan(&p.ID, &name, &price, &p.Description, &p.ImageRef, &p.Author, &p.DownloadURL, &p.Game)
	if err != nil {
		return nil, fmt.Errorf("%w: scan product %q: %v", domain.ErrInvalidProduct, p.ID, err)
	}

	if !price.Valid {
		return nil, fmt.Errorf("%w: product %q has no price", domain.ErrInvalidProduct, p.ID)
	}
	p.Name = name.String
	p.Price = price.Int64

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
