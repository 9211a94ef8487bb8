package domain

import "time"

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Size        string    `json:"size"`
	Quantity    int       `json:"quantity"`
	PriceCents  int64     `json:"priceCents"`
	CostCents   int64     `json:"costCents,omitempty"`
	NCM         string    `json:"ncm,omitempty"`
	Image       string    `json:"image,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	Size       string `json:"size"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"priceCents"`
	CostCents  int64  `json:"costCents,omitempty"`
	NCM        string `json:"ncm,omitempty"`
	Image      string `json:"image,omitempty"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	Size       *string `json:"size,omitempty"`
	Quantity   *int    `json:"quantity,omitempty"`
	PriceCents *int64  `json:"priceCents,omitempty"`
	CostCents  *int64  `json:"costCents,omitempty"`
	NCM        *string `json:"ncm,omitempty"`
	Image      *string `json:"image,omitempty"`
}

// SaleItem is a cart line as the seller typed it. Product and Size are free
// text labels; ProductID is optional and, when present, pins the line to a
// catalog entry regardless of the labels.
type SaleItem struct {
	ProductID  string `json:"productId,omitempty"`
	Product    string `json:"product"`
	Size       string `json:"size"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"priceCents"`
}

type Sale struct {
	ID             string     `json:"id"`
	ClientName     string     `json:"clientName"`
	ClientPhone    string     `json:"clientPhone,omitempty"`
	ClientAddress  string     `json:"clientAddress,omitempty"`
	Items          []SaleItem `json:"items"`
	TotalCents     int64      `json:"totalCents"`
	PaymentMethod  string     `json:"paymentMethod"`
	Seller         string     `json:"seller,omitempty"`
	Date           time.Time  `json:"date"`
	Status         string     `json:"status"`
	DeliveryStatus string     `json:"deliveryStatus,omitempty"`
}

type Customer struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	TotalSpentCents int64      `json:"totalSpentCents"`
	LastPurchase    *time.Time `json:"lastPurchase,omitempty"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type CheckoutRequest struct {
	ClientName    string     `json:"clientName"`
	ClientPhone   string     `json:"clientPhone,omitempty"`
	ClientAddress string     `json:"clientAddress,omitempty"`
	PaymentMethod string     `json:"paymentMethod"`
	Seller        string     `json:"seller,omitempty"`
	CartItems     []SaleItem `json:"cartItems"`
}

type CheckoutResponse struct {
	Sale Sale `json:"sale"`
}

type SaleStatusUpdateRequest struct {
	Status string `json:"status"`
}

type DeliveryStatusUpdateRequest struct {
	DeliveryStatus string `json:"deliveryStatus"`
}

type DailySales struct {
	Date         string `json:"date"`
	SaleCount    int64  `json:"saleCount"`
	RevenueCents int64  `json:"revenueCents"`
}

type SalesReport struct {
	Days               int          `json:"days"`
	From               string       `json:"from"`
	To                 string       `json:"to"`
	SaleCount          int64        `json:"saleCount"`
	RevenueCents       int64        `json:"revenueCents"`
	AverageTicketCents int64        `json:"averageTicketCents"`
	Daily              []DailySales `json:"daily"`
}

type LowStockItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

type DashboardSummary struct {
	Date              string         `json:"date"`
	TodayRevenueCents int64          `json:"todayRevenueCents"`
	TodaySaleCount    int64          `json:"todaySaleCount"`
	LowStock          []LowStockItem `json:"lowStock"`
}

type ReceiptResponse struct {
	SaleID string `json:"saleId"`
	Text   string `json:"text"`
}

type ShareMessageResponse struct {
	SaleID      string `json:"saleId"`
	Message     string `json:"message"`
	WhatsAppURL string `json:"whatsAppUrl,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusFinalized = "finalized"
	SaleStatusCanceled  = "canceled"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusShipping  = "shipping"
	DeliveryStatusDelivered = "delivered"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)
