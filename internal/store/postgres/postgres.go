package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kenkotec/backend/internal/domain"
	"kenkotec/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
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

// saleItemRecord is the JSONB shape of a cart line inside the sales table.
// Columns and JSON keys are snake_case on the wire; the domain structs keep
// the API's camelCase, so this record is the only place the two meet.
type saleItemRecord struct {
	ProductID      string `json:"product_id,omitempty"`
	Product        string `json:"product"`
	Size           string `json:"size"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func itemsToRecords(items []domain.SaleItem) []saleItemRecord {
	records := make([]saleItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, saleItemRecord{
			ProductID:      item.ProductID,
			Product:        item.Product,
			Size:           item.Size,
			Qty:            item.Qty,
			UnitPriceCents: item.PriceCents,
		})
	}
	return records
}

func recordsToItems(records []saleItemRecord) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(records))
	for _, record := range records {
		items = append(items, domain.SaleItem{
			ProductID:  record.ProductID,
			Product:    record.Product,
			Size:       record.Size,
			Qty:        record.Qty,
			PriceCents: record.UnitPriceCents,
		})
	}
	return items
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(category,''), COALESCE(size,''), quantity, price_cents,
		       COALESCE(cost_cents,0), COALESCE(ncm,''), COALESCE(image,''), last_updated
		FROM products
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Size, &p.Quantity, &p.PriceCents, &p.CostCents, &p.NCM, &p.Image, &p.LastUpdated); err != nil {
			return nil, err
		}
		p.LastUpdated = p.LastUpdated.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(category,''), COALESCE(size,''), quantity, price_cents,
		       COALESCE(cost_cents,0), COALESCE(ncm,''), COALESCE(image,''), last_updated
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Size, &p.Quantity, &p.PriceCents, &p.CostCents, &p.NCM, &p.Image, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.LastUpdated = p.LastUpdated.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.LastUpdated.IsZero() {
		product.LastUpdated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, size, quantity, price_cents, cost_cents, ncm, image, last_updated, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, product.ID, product.Name, nullIfEmpty(product.Category), nullIfEmpty(product.Size), product.Quantity, product.PriceCents, product.CostCents, nullIfEmpty(product.NCM), nullIfEmpty(product.Image), product.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.LastUpdated.IsZero() {
		product.LastUpdated = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, size = $4, quantity = $5, price_cents = $6,
		    cost_cents = $7, ncm = $8, image = $9, last_updated = $10
		WHERE id = $1
	`, product.ID, product.Name, nullIfEmpty(product.Category), nullIfEmpty(product.Size), product.Quantity, product.PriceCents, product.CostCents, nullIfEmpty(product.NCM), nullIfEmpty(product.Image), product.LastUpdated)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_name, COALESCE(client_phone,''), COALESCE(client_address,''),
		       items, total_cents, COALESCE(payment_method,''), COALESCE(seller,''),
		       sale_date, status, COALESCE(delivery_status,'')
		FROM sales
		ORDER BY sale_date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 128)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_name, COALESCE(client_phone,''), COALESCE(client_address,''),
		       items, total_cents, COALESCE(payment_method,''), COALESCE(seller,''),
		       sale_date, status, COALESCE(delivery_status,'')
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var itemsJSON []byte
	if err := row.Scan(&sale.ID, &sale.ClientName, &sale.ClientPhone, &sale.ClientAddress, &itemsJSON, &sale.TotalCents, &sale.PaymentMethod, &sale.Seller, &sale.Date, &sale.Status, &sale.DeliveryStatus); err != nil {
		return nil, err
	}

	var records []saleItemRecord
	if err := json.Unmarshal(itemsJSON, &records); err != nil {
		return nil, err
	}
	sale.Items = recordsToItems(records)
	sale.Date = sale.Date.UTC()
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.ClientName == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(itemsToRecords(sale.Items))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (id, client_name, client_phone, client_address, items, total_cents,
		                   payment_method, seller, sale_date, status, delivery_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.ClientName, nullIfEmpty(sale.ClientPhone), nullIfEmpty(sale.ClientAddress), itemsJSON, sale.TotalCents, nullIfEmpty(sale.PaymentMethod), nullIfEmpty(sale.Seller), sale.Date, sale.Status, nullIfEmpty(sale.DeliveryStatus))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	itemsJSON, err := json.Marshal(itemsToRecords(sale.Items))
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET client_name = $2, client_phone = $3, client_address = $4, items = $5,
		    total_cents = $6, payment_method = $7, seller = $8, sale_date = $9,
		    status = $10, delivery_status = $11
		WHERE id = $1
	`, sale.ID, sale.ClientName, nullIfEmpty(sale.ClientPhone), nullIfEmpty(sale.ClientAddress), itemsJSON, sale.TotalCents, nullIfEmpty(sale.PaymentMethod), nullIfEmpty(sale.Seller), sale.Date, sale.Status, nullIfEmpty(sale.DeliveryStatus))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := sale
	return &updated, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(address,''), total_spent_cents, last_purchase
		FROM customers
		ORDER BY lower(name) ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		var lastPurchase sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalSpentCents, &lastPurchase); err != nil {
			return nil, err
		}
		if lastPurchase.Valid {
			t := lastPurchase.Time.UTC()
			c.LastPurchase = &t
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) GetCustomerByName(ctx context.Context, name string) (*domain.Customer, error) {
	var c domain.Customer
	var lastPurchase sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(address,''), total_spent_cents, last_purchase
		FROM customers
		WHERE lower(name) = lower($1)
	`, name).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalSpentCents, &lastPurchase)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if lastPurchase.Valid {
		t := lastPurchase.Time.UTC()
		c.LastPurchase = &t
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, total_spent_cents, last_purchase, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address), customer.TotalSpentCents, nullTime(customer.LastPurchase))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, total_spent_cents = $5, last_purchase = $6
		WHERE id = $1
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address), customer.TotalSpentCents, nullTime(customer.LastPurchase))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := customer
	return &updated, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2
		WHERE username = $1
	`, username, password)
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

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
