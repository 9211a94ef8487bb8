package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"kenkotec/backend/internal/cache"
	"kenkotec/backend/internal/domain"
	"kenkotec/backend/internal/store"
	"kenkotec/backend/internal/xid"
)

var (
	// ErrValidation marks rejected input. No side effects have happened
	// when a call fails with it.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence marks a failed sale insert. The sale was not recorded
	// and no stock or customer writes were attempted.
	ErrPersistence = errors.New("persistence failed")
)

const saleNumberAttempts = 5

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	summaries         cache.SummaryCache
	lowStockThreshold int
	summaryTTL        time.Duration
}

func New(repo store.Repository, summaries cache.SummaryCache, lowStockThreshold int, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 5
	}
	if summaryTTL <= 0 {
		summaryTTL = time.Minute
	}

	return &Service{
		repo:              repo,
		summaries:         summaries,
		lowStockThreshold: lowStockThreshold,
		summaryTTL:        summaryTTL,
	}
}

// Checkout records a completed sale and reconciles inventory and the
// customer ledger around it. Only the sale insert itself is fatal: once the
// sale row exists, ledger and stock writes are best-effort and failures are
// logged instead of propagated, so the seller never loses a paid sale to a
// bookkeeping hiccup.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.CartItems = normalizeItems(req.CartItems)

	if len(req.CartItems) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: empty cart", ErrValidation)
	}
	if req.ClientName == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}

	var totalCents int64
	for _, item := range req.CartItems {
		totalCents += item.PriceCents * int64(item.Qty)
	}

	seller := strings.TrimSpace(req.Seller)
	if seller == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			seller = actor.Username
		}
	}

	sale := domain.Sale{
		ClientName:    req.ClientName,
		ClientPhone:   strings.TrimSpace(req.ClientPhone),
		ClientAddress: strings.TrimSpace(req.ClientAddress),
		Items:         req.CartItems,
		TotalCents:    totalCents,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Seller:        seller,
		Date:          time.Now().UTC(),
		Status:        domain.SaleStatusPaid,
	}

	created, err := s.insertSale(ctx, sale)
	if err != nil {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: save sale: %w", ErrPersistence, err)
	}

	s.recordCustomerPurchase(ctx, *created)
	s.deductStock(ctx, created.Items)
	s.invalidateSummaries(ctx)

	return domain.CheckoutResponse{Sale: *created}, nil
}

// insertSale allocates a display sale number and retries on the unlikely
// collision with an existing one.
func (s *Service) insertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	for attempt := 0; attempt < saleNumberAttempts; attempt++ {
		sale.ID = xid.SaleNumber()
		created, err := s.repo.CreateSale(ctx, sale)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("no free sale number after %d attempts", saleNumberAttempts)
}

// recordCustomerPurchase upserts the customer ledger entry keyed by the
// client name, compared case-insensitively. Contact fields are only
// overwritten by non-empty values so a sale without a phone never erases a
// known phone.
func (s *Service) recordCustomerPurchase(ctx context.Context, sale domain.Sale) {
	purchasedAt := sale.Date

	existing, err := s.repo.GetCustomerByName(ctx, sale.ClientName)
	switch {
	case err == nil:
		updated := *existing
		updated.TotalSpentCents += sale.TotalCents
		updated.LastPurchase = &purchasedAt
		if sale.ClientPhone != "" {
			updated.Phone = sale.ClientPhone
		}
		if sale.ClientAddress != "" {
			updated.Address = sale.ClientAddress
		}
		if _, err := s.repo.UpdateCustomer(ctx, updated); err != nil {
			log.Printf("[service] WARN: failed to update customer ledger name=%s sale=%s: %v", sale.ClientName, sale.ID, err)
		}
	case errors.Is(err, store.ErrNotFound):
		customer := domain.Customer{
			ID:              uuid.NewString(),
			Name:            sale.ClientName,
			Phone:           sale.ClientPhone,
			Address:         sale.ClientAddress,
			TotalSpentCents: sale.TotalCents,
			LastPurchase:    &purchasedAt,
		}
		if _, err := s.repo.CreateCustomer(ctx, customer); err != nil {
			log.Printf("[service] WARN: failed to create customer ledger name=%s sale=%s: %v", sale.ClientName, sale.ID, err)
		}
	default:
		log.Printf("[service] WARN: failed to look up customer name=%s sale=%s: %v", sale.ClientName, sale.ID, err)
	}
}

// deductStock resolves each cart line against the catalog and lowers the
// matched product's quantity, flooring at zero. Lines that resolve to no
// product are skipped silently; per-line write failures are logged and do
// not stop the remaining lines.
func (s *Service) deductStock(ctx context.Context, items []domain.SaleItem) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		log.Printf("[service] WARN: failed to load catalog for stock deduction: %v", err)
		return
	}

	now := time.Now().UTC()
	for _, item := range items {
		product := matchProduct(item, products)
		if product == nil {
			continue
		}

		product.Quantity = max(0, product.Quantity-item.Qty)
		product.LastUpdated = now
		if _, err := s.repo.UpdateProduct(ctx, *product); err != nil {
			log.Printf("[service] WARN: failed to deduct stock product=%s: %v", product.ID, err)
		}
	}
}

// matchProduct finds the catalog product a free-text cart line refers to.
// An explicit ProductID wins outright. Otherwise the first product, in
// catalog order, whose name or category contains the line's product label
// and whose size contains the first word of the line's size label is taken.
// The returned pointer aliases the products slice so repeated lines for the
// same product deduct cumulatively.
func matchProduct(item domain.SaleItem, products []domain.Product) *domain.Product {
	if item.ProductID != "" {
		for i := range products {
			if products[i].ID == item.ProductID {
				return &products[i]
			}
		}
		return nil
	}

	label := strings.ToLower(strings.TrimSpace(item.Product))
	sizeToken := firstToken(item.Size)

	for i := range products {
		name := strings.ToLower(products[i].Name)
		category := strings.ToLower(products[i].Category)
		if !strings.Contains(name, label) && !strings.Contains(category, label) {
			continue
		}
		if !strings.Contains(strings.ToLower(products[i].Size), sizeToken) {
			continue
		}
		return &products[i]
	}
	return nil
}

func firstToken(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func normalizeItems(items []domain.SaleItem) []domain.SaleItem {
	normalized := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Product = strings.TrimSpace(item.Product)
		item.Size = strings.TrimSpace(item.Size)
		if item.Qty < 1 || item.PriceCents < 0 {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Size = strings.TrimSpace(req.Size)

	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.PriceCents < 1 {
		return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.Quantity < 0 || req.CostCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: quantity and cost must not be negative", ErrValidation)
	}

	product := domain.Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Category:    req.Category,
		Size:        req.Size,
		Quantity:    req.Quantity,
		PriceCents:  req.PriceCents,
		CostCents:   req.CostCents,
		NCM:         strings.TrimSpace(req.NCM),
		Image:       strings.TrimSpace(req.Image),
		LastUpdated: time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateSummaries(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Size != nil {
		updated.Size = strings.TrimSpace(*req.Size)
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.Product{}, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
		}
		updated.Quantity = *req.Quantity
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrValidation)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: cost must not be negative", ErrValidation)
		}
		updated.CostCents = *req.CostCents
	}
	if req.NCM != nil {
		updated.NCM = strings.TrimSpace(*req.NCM)
	}
	if req.Image != nil {
		updated.Image = strings.TrimSpace(*req.Image)
	}
	updated.LastUpdated = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateSummaries(ctx)
	return *saved, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", ErrValidation)
	}
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// UpdateSaleStatus moves a sale along pending -> paid -> finalized, with
// cancellation allowed from pending or paid. Finalized and canceled are
// terminal.
func (s *Service) UpdateSaleStatus(ctx context.Context, id string, status string) (domain.Sale, error) {
	status = strings.TrimSpace(status)
	if !isSaleStatus(status) {
		return domain.Sale{}, fmt.Errorf("%w: unknown sale status %q", ErrValidation, status)
	}

	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	if !canTransition(sale.Status, status) {
		return domain.Sale{}, fmt.Errorf("%w: cannot move sale from %s to %s", ErrValidation, sale.Status, status)
	}

	sale.Status = status
	saved, err := s.repo.UpdateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateSummaries(ctx)
	return *saved, nil
}

// UpdateDeliveryStatus tags a sale's delivery progress. Unlike the payment
// status it carries no transition rules and can be set at any time.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, id string, deliveryStatus string) (domain.Sale, error) {
	deliveryStatus = strings.TrimSpace(deliveryStatus)
	switch deliveryStatus {
	case domain.DeliveryStatusPending, domain.DeliveryStatusShipping, domain.DeliveryStatusDelivered:
	default:
		return domain.Sale{}, fmt.Errorf("%w: unknown delivery status %q", ErrValidation, deliveryStatus)
	}

	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	sale.DeliveryStatus = deliveryStatus
	saved, err := s.repo.UpdateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	return *saved, nil
}

func isSaleStatus(status string) bool {
	switch status {
	case domain.SaleStatusPending, domain.SaleStatusPaid, domain.SaleStatusFinalized, domain.SaleStatusCanceled:
		return true
	}
	return false
}

func canTransition(from, to string) bool {
	switch from {
	case domain.SaleStatusPending:
		return to == domain.SaleStatusPaid || to == domain.SaleStatusCanceled
	case domain.SaleStatusPaid:
		return to == domain.SaleStatusFinalized || to == domain.SaleStatusCanceled
	default:
		return false
	}
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", ErrValidation)
	}

	customer := domain.Customer{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

// SalesReport aggregates paid and finalized sales over the trailing window.
// Canceled and still-pending sales never count toward revenue.
func (s *Service) SalesReport(ctx context.Context, days int) (domain.SalesReport, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}

	cacheKey := fmt.Sprintf("summary:report:%d", days)
	var report domain.SalesReport
	if s.cachedSummary(ctx, cacheKey, &report) {
		return report, nil
	}

	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}

	now := time.Now().UTC()
	to := now.Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -(days - 1))

	byDay := make(map[string]*domain.DailySales, days)
	daily := make([]domain.DailySales, 0, days)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := domain.DailySales{Date: d.Format("2006-01-02")}
		daily = append(daily, day)
		byDay[day.Date] = &daily[len(daily)-1]
	}

	report = domain.SalesReport{
		Days: days,
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
	}
	for _, sale := range sales {
		if !countsTowardRevenue(sale.Status) {
			continue
		}
		day, ok := byDay[sale.Date.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		day.SaleCount++
		day.RevenueCents += sale.TotalCents
		report.SaleCount++
		report.RevenueCents += sale.TotalCents
	}
	if report.SaleCount > 0 {
		report.AverageTicketCents = report.RevenueCents / report.SaleCount
	}
	report.Daily = daily

	s.storeSummary(ctx, cacheKey, report)
	return report, nil
}

// Dashboard summarizes today's takings plus the products running low.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	const cacheKey = "summary:dashboard"

	var summary domain.DashboardSummary
	if s.cachedSummary(ctx, cacheKey, &summary) {
		return summary, nil
	}

	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	today := time.Now().UTC().Format("2006-01-02")
	summary = domain.DashboardSummary{Date: today}
	for _, sale := range sales {
		if !countsTowardRevenue(sale.Status) {
			continue
		}
		if sale.Date.UTC().Format("2006-01-02") != today {
			continue
		}
		summary.TodaySaleCount++
		summary.TodayRevenueCents += sale.TotalCents
	}

	summary.LowStock = make([]domain.LowStockItem, 0, 4)
	for _, p := range products {
		if p.Quantity > s.lowStockThreshold {
			continue
		}
		summary.LowStock = append(summary.LowStock, domain.LowStockItem{
			ID:       p.ID,
			Name:     p.Name,
			Size:     p.Size,
			Quantity: p.Quantity,
		})
	}

	s.storeSummary(ctx, cacheKey, summary)
	return summary, nil
}

func countsTowardRevenue(status string) bool {
	return status == domain.SaleStatusPaid || status == domain.SaleStatusFinalized
}

// Receipt renders the plain-text receipt handed to the customer.
func (s *Service) Receipt(ctx context.Context, saleID string) (domain.ReceiptResponse, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	var b strings.Builder
	b.WriteString("KENKOTEC COLCHÕES\n")
	fmt.Fprintf(&b, "Pedido %s\n", sale.ID)
	fmt.Fprintf(&b, "Data: %s\n", sale.Date.Format("02/01/2006 15:04"))
	fmt.Fprintf(&b, "Cliente: %s\n", sale.ClientName)
	if sale.ClientPhone != "" {
		fmt.Fprintf(&b, "Telefone: %s\n", sale.ClientPhone)
	}
	if sale.ClientAddress != "" {
		fmt.Fprintf(&b, "Endereço: %s\n", sale.ClientAddress)
	}
	b.WriteString("--------------------------------\n")
	for _, item := range sale.Items {
		label := item.Product
		if item.Size != "" {
			label = fmt.Sprintf("%s (%s)", item.Product, item.Size)
		}
		fmt.Fprintf(&b, "%dx %s  %s\n", item.Qty, label, formatBRL(item.PriceCents*int64(item.Qty)))
	}
	b.WriteString("--------------------------------\n")
	fmt.Fprintf(&b, "Total: %s\n", formatBRL(sale.TotalCents))
	if sale.PaymentMethod != "" {
		fmt.Fprintf(&b, "Pagamento: %s\n", sale.PaymentMethod)
	}
	if sale.Seller != "" {
		fmt.Fprintf(&b, "Vendedor: %s\n", sale.Seller)
	}
	b.WriteString("Obrigado pela preferência!\n")

	return domain.ReceiptResponse{SaleID: sale.ID, Text: b.String()}, nil
}

// ShareMessage builds the WhatsApp hand-off for a sale: the message text
// plus, when the client left a phone number, a wa.me link that opens the
// conversation with the message prefilled.
func (s *Service) ShareMessage(ctx context.Context, saleID string) (domain.ShareMessageResponse, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return domain.ShareMessageResponse{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Pedido Kenkotec %s*\n\n", sale.ID)
	fmt.Fprintf(&b, "Cliente: %s\n", sale.ClientName)
	for _, item := range sale.Items {
		fmt.Fprintf(&b, "%dx %s - %s\n", item.Qty, item.Product, formatBRL(item.PriceCents*int64(item.Qty)))
	}
	fmt.Fprintf(&b, "\n*Total: %s*\n", formatBRL(sale.TotalCents))
	if sale.PaymentMethod != "" {
		fmt.Fprintf(&b, "Pagamento: %s\n", sale.PaymentMethod)
	}

	resp := domain.ShareMessageResponse{SaleID: sale.ID, Message: b.String()}
	if digits := digitsOnly(sale.ClientPhone); digits != "" {
		resp.WhatsAppURL = "https://wa.me/55" + digits + "?text=" + url.QueryEscape(resp.Message)
	}
	return resp, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// formatBRL renders cents as Brazilian currency, e.g. 498000 -> "R$ 4.980,00".
func formatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}

	return fmt.Sprintf("%sR$ %s,%02d", sign, b.String(), frac)
}

func (s *Service) cachedSummary(ctx context.Context, key string, dest any) bool {
	payload, hit, err := s.summaries.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: summary cache get key=%s: %v", key, err)
		return false
	}
	if !hit {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		log.Printf("[service] WARN: summary cache decode key=%s: %v", key, err)
		return false
	}
	return true
}

func (s *Service) storeSummary(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("[service] WARN: summary cache encode key=%s: %v", key, err)
		return
	}
	if err := s.summaries.Set(ctx, key, payload, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache set key=%s: %v", key, err)
	}
}

func (s *Service) invalidateSummaries(ctx context.Context) {
	keys := []string{"summary:dashboard", "summary:report:7", "summary:report:30"}
	if err := s.summaries.Invalidate(ctx, keys...); err != nil {
		log.Printf("[service] WARN: summary cache invalidate: %v", err)
	}
}
