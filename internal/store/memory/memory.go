package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"kenkotec/backend/internal/domain"
	"kenkotec/backend/internal/store"
)

// Store is an in-memory Repository for dev, demo and tests. Products keep
// their catalog insertion order because the sale workflow resolves free-text
// cart lines against the catalog in that order.
type Store struct {
	mu              sync.RWMutex
	products        []domain.Product
	productIndex    map[string]int
	salesByID       map[string]domain.Sale
	customersByID   map[string]domain.Customer
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"vendedor", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make([]domain.Product, 0, 32),
		productIndex:    make(map[string]int),
		salesByID:       make(map[string]domain.Sale),
		customersByID:   make(map[string]domain.Customer),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{Name: "Colchão Magnético Premium", Category: "Colchões", Size: "Casal 1.38x1.88", Quantity: 12, PriceCents: 249000, NCM: "9404.21.00"},
		{Name: "Cabeceira Estofada Luxo", Category: "Cabeceiras", Size: "Queen 1.58", Quantity: 5, PriceCents: 89000, NCM: "9403.50.00"},
		{Name: "Travesseiro Visco NASA", Category: "Travesseiros", Size: "Padrão", Quantity: 42, PriceCents: 15000, NCM: "9404.90.10"},
		{Name: "Box Baú Blindado", Category: "Bases Box", Size: "Solteiro 0.88", Quantity: 8, PriceCents: 120000, NCM: "9404.10.00"},
	}

	s := New()
	for _, p := range products {
		p.ID = uuid.NewString()
		p.LastUpdated = now
		s.productIndex[p.ID] = len(s.products)
		s.products = append(s.products, p)
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, len(s.products))
	copy(products, s.products)
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.productIndex[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.products[idx]
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productIndex[product.ID]; exists {
		return nil, store.ErrAlreadyExists
	}

	s.productIndex[product.ID] = len(s.products)
	s.products = append(s.products, product)
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	idx, exists := s.productIndex[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	s.products[idx] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})

	return sales, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(sale)
	return &copySale, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.ClientName == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrAlreadyExists
	}

	s.salesByID[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.salesByID[sale.ID] = cloneSale(sale)
	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, cloneCustomer(c))
	}

	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return customers, nil
}

func (s *Store) GetCustomerByName(_ context.Context, name string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customersByID {
		if strings.EqualFold(c.Name, name) {
			copyCustomer := cloneCustomer(c)
			return &copyCustomer, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range s.customersByID {
		if strings.EqualFold(c.Name, customer.Name) {
			return nil, store.ErrAlreadyExists
		}
	}

	s.customersByID[customer.ID] = cloneCustomer(customer)
	created := cloneCustomer(customer)
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[customer.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.customersByID[customer.ID] = cloneCustomer(customer)
	updated := cloneCustomer(customer)
	return &updated, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	copySale := sale
	copySale.Items = make([]domain.SaleItem, len(sale.Items))
	copy(copySale.Items, sale.Items)
	return copySale
}

func cloneCustomer(customer domain.Customer) domain.Customer {
	copyCustomer := customer
	if customer.LastPurchase != nil {
		t := *customer.LastPurchase
		copyCustomer.LastPurchase = &t
	}
	return copyCustomer
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
