package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const productColumns = `id, name, code, category, type, brand, supplier, expiry_date, stock, min_stock, buy_price, sell_price, created_at, updated_at, deleted_at`

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type productRow struct {
	ID         string          `db:"id"`
	Name       string          `db:"name"`
	Code       string          `db:"code"`
	Category   string          `db:"category"`
	Type       string          `db:"type"`
	Brand      string          `db:"brand"`
	Supplier   string          `db:"supplier"`
	ExpiryDate sql.NullTime    `db:"expiry_date"`
	Stock      int             `db:"stock"`
	MinStock   int             `db:"min_stock"`
	BuyPrice   decimal.Decimal `db:"buy_price"`
	SellPrice  decimal.Decimal `db:"sell_price"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
	DeletedAt  sql.NullTime    `db:"deleted_at"`
}

func newProductRow(p domain.Product) productRow {
	row := productRow{
		ID:        p.ID,
		Name:      p.Name,
		Code:      p.Code,
		Category:  p.Category,
		Type:      p.Type,
		Brand:     p.Brand,
		Supplier:  p.Supplier,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		BuyPrice:  p.BuyPrice,
		SellPrice: p.SellPrice,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.ExpiryDate != nil {
		row.ExpiryDate = sql.NullTime{Time: p.ExpiryDate.Time(), Valid: true}
	}
	if p.DeletedAt != nil {
		row.DeletedAt = sql.NullTime{Time: *p.DeletedAt, Valid: true}
	}
	return row
}

func (r productRow) toDomain() domain.Product {
	p := domain.Product{
		ID:        r.ID,
		Name:      r.Name,
		Code:      r.Code,
		Category:  r.Category,
		Type:      r.Type,
		Brand:     r.Brand,
		Supplier:  r.Supplier,
		Stock:     r.Stock,
		MinStock:  r.MinStock,
		BuyPrice:  r.BuyPrice,
		SellPrice: r.SellPrice,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.ExpiryDate.Valid {
		d := domain.DateOf(r.ExpiryDate.Time)
		p.ExpiryDate = &d
	}
	if r.DeletedAt.Valid {
		at := r.DeletedAt.Time.UTC()
		p.DeletedAt = &at
	}
	return p
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// pgTx relies on row locks taken by GetProductForUpdate.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (t *pgTx) SetStock(ctx context.Context, id string, stock int, at time.Time) (*domain.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, `
		UPDATE products
		SET stock = GREATEST($2, 0),
			updated_at = GREATEST($3::timestamptz, updated_at + interval '1 microsecond')
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+productColumns, id, stock, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

type saleRow struct {
	ID           string          `db:"id"`
	CreatedAt    time.Time       `db:"created_at"`
	CustomerName string          `db:"customer_name"`
	Customer     []byte          `db:"customer"`
	Total        decimal.Decimal `db:"total"`
	Status       string          `db:"status"`
	Payment      []byte          `db:"payment"`
	RecordedBy   string          `db:"recorded_by"`
}

type saleItemRow struct {
	SaleID      string          `db:"sale_id"`
	Position    int             `db:"position"`
	ProductID   string          `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Subtotal    decimal.Decimal `db:"subtotal"`
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	customer, err := json.Marshal(sale.Customer)
	if err != nil {
		return err
	}
	payment, err := json.Marshal(sale.Payment)
	if err != nil {
		return err
	}

	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO sales (id, created_at, customer_name, customer, total, status, payment, recorded_by)
		VALUES (:id, :created_at, :customer_name, CAST(:customer AS jsonb), :total, :status, CAST(:payment AS jsonb), :recorded_by)
	`, saleRow{
		ID:           sale.ID,
		CreatedAt:    sale.CreatedAt,
		CustomerName: sale.Customer.Name,
		Customer:     customer,
		Total:        sale.Total,
		Status:       string(sale.Status),
		Payment:      payment,
		RecordedBy:   sale.RecordedBy,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, item := range sale.Items {
		_, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, product_name, quantity, unit_price, subtotal)
			VALUES (:sale_id, :position, :product_id, :product_name, :quantity, :unit_price, :subtotal)
		`, saleItemRow{
			SaleID:      sale.ID,
			Position:    i,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
		if err != nil {
			return fmt.Errorf("insert sale item %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE deleted_at IS NULL
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, "id", id)
}

func (s *Store) FindProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	return s.getProduct(ctx, "code", code)
}

func (s *Store) getProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+column+` = $1 AND deleted_at IS NULL
	`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Code == "" {
		return nil, store.ErrValidation
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :code, :category, :type, :brand, :supplier, :expiry_date, :stock, :min_stock, :buy_price, :sell_price, :created_at, :updated_at, :deleted_at)
	`, newProductRow(product))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, uniqueErr(err)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	query, args, err := sqlx.Named(`
		UPDATE products
		SET name = :name,
			code = :code,
			category = :category,
			type = :type,
			brand = :brand,
			supplier = :supplier,
			expiry_date = :expiry_date,
			stock = :stock,
			min_stock = :min_stock,
			buy_price = :buy_price,
			sell_price = :sell_price,
			updated_at = GREATEST(CAST(:updated_at AS timestamptz), updated_at + interval '1 microsecond')
		WHERE id = :id AND deleted_at IS NULL
		RETURNING `+productColumns, newProductRow(product))
	if err != nil {
		return nil, err
	}

	var row productRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, uniqueErr(err)
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET updated_at = GREATEST($2::timestamptz, updated_at + interval '1 microsecond'),
			deleted_at = GREATEST($2::timestamptz, updated_at + interval '1 microsecond')
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, created_at, customer_name, customer, total, status, payment, recorded_by
		FROM sales
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sales, err := s.attachItems(ctx, []saleRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	var rows []saleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, customer_name, customer, total, status, payment, recorded_by
		FROM sales
		WHERE $1 = '' OR customer_name ILIKE '%' || $1 || '%' OR id ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, filter.Search, filter.Limit)
	if err != nil {
		return nil, err
	}
	return s.attachItems(ctx, rows)
}

func (s *Store) attachItems(ctx context.Context, rows []saleRow) ([]domain.Sale, error) {
	if len(rows) == 0 {
		return []domain.Sale{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var items []saleItemRow
	err := s.db.SelectContext(ctx, &items, `
		SELECT sale_id, position, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return nil, err
	}

	itemsBySale := make(map[string][]domain.SaleItem, len(rows))
	for _, item := range items {
		itemsBySale[item.SaleID] = append(itemsBySale[item.SaleID], domain.SaleItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}

	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale := domain.Sale{
			ID:         row.ID,
			CreatedAt:  row.CreatedAt.UTC(),
			Total:      row.Total,
			Status:     domain.SaleStatus(row.Status),
			RecordedBy: row.RecordedBy,
			Items:      itemsBySale[row.ID],
		}
		if err := json.Unmarshal(row.Customer, &sale.Customer); err != nil {
			return nil, fmt.Errorf("decode customer of sale %s: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.Payment, &sale.Payment); err != nil {
			return nil, fmt.Errorf("decode payment of sale %s: %w", row.ID, err)
		}
		if sale.Items == nil {
			sale.Items = []domain.SaleItem{}
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

type flagRow struct {
	ID          string    `db:"id"`
	SaleID      string    `db:"sale_id"`
	ProductID   string    `db:"product_id"`
	ProductName string    `db:"product_name"`
	Quantity    int       `db:"quantity"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) CreateReconciliationFlag(ctx context.Context, flag domain.ReconciliationFlag) error {
	if flag.ID == "" {
		flag.ID = xid.New("rcn")
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reconciliation_flags (id, sale_id, product_id, product_name, quantity, reason, created_at)
		VALUES (:id, :sale_id, :product_id, :product_name, :quantity, :reason, :created_at)
	`, flagRow(flag))
	return err
}

func (s *Store) ListReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	var rows []flagRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, sale_id, product_id, product_name, quantity, reason, created_at
		FROM reconciliation_flags
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0)
	`, limit)
	if err != nil {
		return nil, err
	}
	flags := make([]domain.ReconciliationFlag, 0, len(rows))
	for _, row := range rows {
		flags = append(flags, domain.ReconciliationFlag(row))
	}
	return flags, nil
}

type auditRow struct {
	ID         string    `db:"id"`
	ActorName  string    `db:"actor_name"`
	ActorRole  string    `db:"actor_role"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Detail     string    `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_name, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_name, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, auditRow(entry))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_name, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0)
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.AuditLog(row))
	}
	return logs, nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (:username, :password, :role, :active, :created_at)
	`, userRow(user))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount(row))
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func uniqueErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "products_live_code_idx" {
		return store.ErrDuplicateCode
	}
	return store.ErrValidation
}
