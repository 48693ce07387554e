package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const orderColumns = `id, order_number, items, total_amount, payment_method, payment_status,
	fulfillment_status, customer_name, customer_phone, COALESCE(customer_email, ''),
	customer_address, has_whatsapp, COALESCE(notes, ''), COALESCE(idempotency_key, ''),
	created_at, updated_at`

type Repository struct {
	db  *sql.DB
	log logger.Logger
}

func (c *Credentials) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		sslMode)
}

func NewRepository(cred *Credentials, log logger.Logger) (*Repository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	maxOpen, maxIdle := cred.MaxOpenConns, cred.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	log.Info("connected to postgres", logger.String("host", cred.Host), logger.String("db", cred.DBName))
	return &Repository{db: db, log: log}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if cred.MigrationsDirPath != "" {
		m, err = migrate.NewWithDatabaseInstance(
			fmt.Sprintf("file://%s", cred.MigrationsDirPath),
			"postgres",
			driver,
		)
	} else {
		src, srcErr := iofs.New(migrationsFS, "migrations")
		if srcErr != nil {
			return fmt.Errorf("could not open embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	}
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// CreateOrder inserts the order and its order.created outbox event in one
// transaction. ID is generated when empty.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) (OrderRef, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return OrderRef{}, fmt.Errorf("failed to marshal order items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return OrderRef{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (id, idempotency_key, items, total_amount, payment_method, payment_status,
	          fulfillment_status, customer_name, customer_phone, customer_email, customer_address,
	          has_whatsapp, notes)
	          VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, NULLIF($13, ''))
	          RETURNING order_number, created_at, updated_at`

	ref := OrderRef{ID: order.ID}
	var updatedAt time.Time
	insertErr := tx.QueryRowContext(ctx, query,
		order.ID,
		order.IdempotencyKey,
		itemsJSON,
		order.TotalAmount,
		order.PaymentMethod,
		order.PaymentStatus,
		order.FulfillmentStatus,
		order.Customer.Name,
		order.Customer.Phone,
		order.Customer.Email,
		order.Customer.Address,
		order.Customer.HasAlternateContact,
		order.Notes,
	).Scan(&ref.OrderNumber, &ref.CreatedAt, &updatedAt)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "orders_idempotency_key_key" {
			return OrderRef{}, ErrDuplicateOrder
		}
		return OrderRef{}, fmt.Errorf("insert order: %w", insertErr)
	}

	order.OrderNumber = ref.OrderNumber
	order.CreatedAt = ref.CreatedAt
	order.UpdatedAt = updatedAt

	payload, err := json.Marshal(order)
	if err != nil {
		return OrderRef{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		order.ID, EventOrderCreated, payload); err != nil {
		return OrderRef{}, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return OrderRef{}, fmt.Errorf("commit order: %w", err)
	}
	return ref, nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *Repository) GetOrderByNumber(ctx context.Context, number int64) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by number: %w", err)
	}
	return order, nil
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	return order, nil
}

// GetOrdersByIDs returns the orders that exist, in creation order. Unknown or
// malformed ids are skipped.
func (r *Repository) GetOrdersByIDs(ctx context.Context, ids []string) ([]*domain.Order, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ANY($1::uuid[]) ORDER BY created_at ASC`,
		pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("query orders by ids: %w", err)
	}
	return collectOrders(rows)
}

// ListOrders returns the newest orders first.
func (r *Repository) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersCreatedAfter returns orders with created_at strictly after the
// given time, oldest first.
func (r *Repository) ListOrdersCreatedAfter(ctx context.Context, after time.Time) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE created_at > $1 ORDER BY created_at ASC`, after)
	if err != nil {
		return nil, fmt.Errorf("query orders created after: %w", err)
	}
	return collectOrders(rows)
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, patch domain.StatusPatch) (*domain.Order, error) {
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}

	var fulfillment, payment sql.NullString
	if patch.Fulfillment != nil {
		fulfillment = sql.NullString{String: string(*patch.Fulfillment), Valid: true}
	}
	if patch.Payment != nil {
		payment = sql.NullString{String: string(*patch.Payment), Valid: true}
	}

	query := `UPDATE orders SET
	              fulfillment_status = COALESCE($2, fulfillment_status),
	              payment_status = COALESCE($3, payment_status),
	              updated_at = clock_timestamp()
	          WHERE id = $1
	          RETURNING ` + orderColumns

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id, fulfillment, payment))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return order, nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at FROM outbox
		 WHERE processed_at IS NULL ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateId, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox event %d not found", id)
	}
	return nil
}

// Now reads the database clock.
func (r *Repository) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := r.db.QueryRowContext(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read database clock: %w", err)
	}
	return now, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&itemsJSON,
		&order.TotalAmount,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.FulfillmentStatus,
		&order.Customer.Name,
		&order.Customer.Phone,
		&order.Customer.Email,
		&order.Customer.Address,
		&order.Customer.HasAlternateContact,
		&order.Notes,
		&order.IdempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}
