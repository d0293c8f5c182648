package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           []domain.Sale
	salesByID       map[string]int
	flags           []domain.ReconciliationFlag
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		sales:           make([]domain.Sale, 0, 64),
		salesByID:       make(map[string]int),
		flags:           make([]domain.ReconciliationFlag, 0, 8),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding a demo catalog and the default admin and
// operator accounts. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_OPERATOR_PASSWORD, falling back to dev defaults.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, p := range seedProducts(now) {
		s.products[p.ID] = p
	}
	s.usersByUsername = seedUsers(logger, now)
	return s
}

func seedProducts(now time.Time) []domain.Product {
	today := domain.DateOf(now)
	inDays := func(days int) *domain.Date {
		d := domain.DateOf(today.Time().AddDate(0, 0, days))
		return &d
	}
	products := []domain.Product{
		{Name: "Leche Entera 1L", Code: "7790080000011", Category: "Lácteos", Type: "Leche", Brand: "La Serenísima", Supplier: "Mastellone", ExpiryDate: inDays(12), Stock: 48, MinStock: 10, BuyPrice: decimal.RequireFromString("950.00"), SellPrice: decimal.RequireFromString("1350.00")},
		{Name: "Yogur Frutilla 190g", Code: "7790080000028", Category: "Lácteos", Type: "Yogur", Brand: "La Serenísima", Supplier: "Mastellone", ExpiryDate: inDays(-3), Stock: 15, MinStock: 5, BuyPrice: decimal.RequireFromString("520.00"), SellPrice: decimal.RequireFromString("790.00")},
		{Name: "Yerba Mate 1kg", Code: "7790387000125", Category: "Almacén", Type: "Infusión", Brand: "Taragüi", Supplier: "Establecimiento Las Marías", ExpiryDate: inDays(300), Stock: 30, MinStock: 8, BuyPrice: decimal.RequireFromString("2650.00"), SellPrice: decimal.RequireFromString("3899.00")},
		{Name: "Fideos Spaghetti 500g", Code: "7790070411808", Category: "Almacén", Type: "Pastas", Brand: "Matarazzo", Supplier: "Molinos Río de la Plata", ExpiryDate: inDays(420), Stock: 6, MinStock: 10, BuyPrice: decimal.RequireFromString("780.00"), SellPrice: decimal.RequireFromString("1150.00")},
		{Name: "Aceite de Girasol 1.5L", Code: "7790272001005", Category: "Almacén", Type: "Aceites", Brand: "Natura", Supplier: "AGD", ExpiryDate: inDays(500), Stock: 0, MinStock: 6, BuyPrice: decimal.RequireFromString("2100.00"), SellPrice: decimal.RequireFromString("2890.00")},
		{Name: "Gaseosa Cola 2.25L", Code: "7790895000997", Category: "Bebidas", Type: "Gaseosas", Brand: "Coca-Cola", Supplier: "FEMSA", ExpiryDate: inDays(120), Stock: 60, MinStock: 12, BuyPrice: decimal.RequireFromString("1900.00"), SellPrice: decimal.RequireFromString("2750.00")},
		{Name: "Agua Mineral 2L", Code: "7798062540017", Category: "Bebidas", Type: "Aguas", Brand: "Villavicencio", Supplier: "Danone", ExpiryDate: inDays(240), Stock: 36, MinStock: 12, BuyPrice: decimal.RequireFromString("650.00"), SellPrice: decimal.RequireFromString("990.00")},
		{Name: "Detergente 750ml", Code: "7791290011766", Category: "Limpieza", Type: "Lavavajillas", Brand: "Magistral", Supplier: "Procter & Gamble", Stock: 22, MinStock: 6, BuyPrice: decimal.RequireFromString("1320.00"), SellPrice: decimal.RequireFromString("1980.00")},
		{Name: "Lavandina 1L", Code: "7790520009937", Category: "Limpieza", Type: "Desinfectantes", Brand: "Ayudín", Supplier: "Clorox", Stock: 4, MinStock: 5, BuyPrice: decimal.RequireFromString("540.00"), SellPrice: decimal.RequireFromString("820.00")},
		{Name: "Pan Lactal 560g", Code: "7792200000128", Category: "Panadería", Type: "Pan", Brand: "Bimbo", Supplier: "Grupo Bimbo", ExpiryDate: inDays(5), Stock: 18, MinStock: 6, BuyPrice: decimal.RequireFromString("1400.00"), SellPrice: decimal.RequireFromString("2100.00")},
	}
	for i := range products {
		products[i].ID = xid.New("prd")
		products[i].CreatedAt = now
		products[i].UpdatedAt = now
	}
	return products
}

func seedUsers(logger *zap.Logger, now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
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

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, products: make(map[string]domain.Product)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	for _, sale := range tx.sales {
		s.salesByID[sale.ID] = len(s.sales)
		s.sales = append(s.sales, sale)
	}
	return nil
}

// memTx stages writes until WithTx returns without error. The store mutex is
// held for its whole lifetime.
type memTx struct {
	store    *Store
	products map[string]domain.Product
	sales    []domain.Sale
}

func (t *memTx) current(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.store.products[id]
	return p, ok
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.current(id)
	if !ok || p.Deleted() {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (t *memTx) SetStock(_ context.Context, id string, stock int, at time.Time) (*domain.Product, error) {
	p, ok := t.current(id)
	if !ok || p.Deleted() {
		return nil, store.ErrNotFound
	}
	if stock < 0 {
		stock = 0
	}
	p = cloneProduct(p)
	p.Stock = stock
	p.UpdatedAt = domain.NextUpdateStamp(p.UpdatedAt, at)
	t.products[id] = p
	out := cloneProduct(p)
	return &out, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.store.salesByID[sale.ID]; exists {
		return store.ErrValidation
	}
	t.sales = append(t.sales, cloneSale(sale))
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Deleted() {
			continue
		}
		result = append(result, cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || p.Deleted() {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) FindProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.liveByCode(code); ok {
		out := cloneProduct(p)
		return &out, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) liveByCode(code string) (domain.Product, bool) {
	for _, p := range s.products {
		if !p.Deleted() && p.Code == code {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Code == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}
	if _, taken := s.liveByCode(product.Code); taken {
		return nil, store.ErrDuplicateCode
	}
	s.products[product.ID] = cloneProduct(product)
	out := cloneProduct(product)
	return &out, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.Deleted() {
		return nil, store.ErrNotFound
	}
	if other, taken := s.liveByCode(product.Code); taken && other.ID != product.ID {
		return nil, store.ErrDuplicateCode
	}
	product.CreatedAt = existing.CreatedAt
	product.DeletedAt = nil
	product.UpdatedAt = domain.NextUpdateStamp(existing.UpdatedAt, product.UpdatedAt)
	s.products[product.ID] = cloneProduct(product)
	out := cloneProduct(product)
	return &out, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.Deleted() {
		return store.ErrNotFound
	}
	p.UpdatedAt = domain.NextUpdateStamp(p.UpdatedAt, at)
	deletedAt := p.UpdatedAt
	p.DeletedAt = &deletedAt
	s.products[id] = p
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(s.sales[idx])
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Sale, 0, len(s.sales))
	for i := len(s.sales) - 1; i >= 0; i-- {
		sale := s.sales[i]
		if term != "" &&
			!strings.Contains(strings.ToLower(sale.Customer.Name), term) &&
			!strings.Contains(strings.ToLower(sale.ID), term) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateReconciliationFlag(_ context.Context, flag domain.ReconciliationFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if flag.ID == "" {
		flag.ID = xid.New("rcn")
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	s.flags = append(s.flags, flag)
	return nil
}

func (s *Store) ListReconciliationFlags(_ context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReconciliationFlag, 0, len(s.flags))
	for i := len(s.flags) - 1; i >= 0; i-- {
		result = append(result, s.flags[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneProduct(src domain.Product) domain.Product {
	out := src
	if src.ExpiryDate != nil {
		d := *src.ExpiryDate
		out.ExpiryDate = &d
	}
	if src.DeletedAt != nil {
		at := *src.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

func cloneSale(src domain.Sale) domain.Sale {
	out := src
	out.Items = append([]domain.SaleItem(nil), src.Items...)
	if src.Payment.AmountTendered != nil {
		v := *src.Payment.AmountTendered
		out.Payment.AmountTendered = &v
	}
	if src.Payment.Change != nil {
		v := *src.Payment.Change
		out.Payment.Change = &v
	}
	return out
}
