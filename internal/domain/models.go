package domain

import "time"

type Product struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	SKU                 string `json:"sku"`
	RetailPriceCents    int64  `json:"retail_price_cents"`
	WholesalePriceCents int64  `json:"wholesale_price_cents"`
	Stock               int    `json:"stock"`
}

// PriceFor returns the unit price of the product under the given pricing mode.
// Products without a wholesale price are sold at retail in wholesale mode.
func (p Product) PriceFor(mode PricingMode) int64 {
	if mode == PricingWholesale && p.WholesalePriceCents > 0 {
		return p.WholesalePriceCents
	}
	return p.RetailPriceCents
}

type ServiceOrder struct {
	ID            string    `json:"id"`
	Situation     string    `json:"situation"`
	ValTotalCents int64     `json:"val_total_cents"`
	ClientRef     string    `json:"client_ref,omitempty"`
	Device        string    `json:"device,omitempty"`
	Description   string    `json:"description,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	SituationDone       = "Realizado"
	SituationConcluded  = "Concluído"
	SituationDelivered  = "Entregue"
	SituationAuthorized = "Autorizada"
	SituationBilled     = "Faturado"
)

// IsPayable reports whether a service order in this situation can be charged.
func IsPayable(situation string) bool {
	switch situation {
	case SituationDone, SituationConcluded, SituationDelivered, SituationAuthorized:
		return true
	default:
		return false
	}
}

type PricingMode string

const (
	PricingRetail    PricingMode = "retail"
	PricingWholesale PricingMode = "wholesale"
)

func (m PricingMode) Valid() bool {
	return m == PricingRetail || m == PricingWholesale
}

type LineKind string

const (
	LineKindProduct      LineKind = "product"
	LineKindServiceOrder LineKind = "service_order"
)

type CartLine struct {
	ID             string   `json:"id"`
	Kind           LineKind `json:"kind"`
	ProductID      string   `json:"product_id,omitempty"`
	ServiceOrderID string   `json:"service_order_id,omitempty"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Qty            int      `json:"qty"`
	WarrantyTag    string   `json:"warranty_tag,omitempty"`
}

func (l CartLine) TotalCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}

type DiscountMode string

const (
	DiscountFixed   DiscountMode = "fixed"
	DiscountPercent DiscountMode = "percent"
)

// DiscountSpec is applied once to the cart subtotal. Fixed values are cents,
// percent values are a percentage of the subtotal.
type DiscountSpec struct {
	Mode  DiscountMode `json:"mode"`
	Value float64      `json:"value"`
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type SaleLine struct {
	CartLine
	LineTotalCents int64 `json:"line_total_cents"`
}

type Sale struct {
	ID            string       `json:"id"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	ClientRef     string       `json:"client_ref,omitempty"`
	SellerRef     string       `json:"seller_ref"`
	PricingMode   PricingMode  `json:"pricing_mode"`
	Lines         []SaleLine   `json:"lines"`
	Discount      DiscountSpec `json:"discount"`
	DiscountCents int64        `json:"discount_cents"`
	SubtotalCents int64        `json:"subtotal_cents"`
	TotalCents    int64        `json:"total_cents"`
	PaymentMethod string       `json:"payment_method"`
	Installments  int          `json:"installments"`
	OriginQuoteID string       `json:"origin_quote_id,omitempty"`
	Status        SaleStatus   `json:"status"`
	RefundedBy    string       `json:"refunded_by,omitempty"`
	RefundedAt    *time.Time   `json:"refunded_at,omitempty"`
	RefundReason  string       `json:"refund_reason,omitempty"`
}

// LastTouched is the reference time for quote retention.
func (s Sale) LastTouched() time.Time {
	if s.UpdatedAt.After(s.CreatedAt) {
		return s.UpdatedAt
	}
	return s.CreatedAt
}

// ReferencesServiceOrder reports whether any line of the sale bills the order.
func (s Sale) ReferencesServiceOrder(orderID string) bool {
	for _, line := range s.Lines {
		if line.Kind == LineKindServiceOrder && line.ServiceOrderID == orderID {
			return true
		}
	}
	return false
}

type LedgerEntry struct {
	ID            string     `json:"id"`
	SaleID        string     `json:"sale_id"`
	Description   string     `json:"description"`
	AmountCents   int64      `json:"amount_cents"`
	PaymentMethod string     `json:"payment_method"`
	Installments  int        `json:"installments"`
	Paid          bool       `json:"paid"`
	Voided        bool       `json:"voided"`
	CreatedAt     time.Time  `json:"created_at"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// UserCreateRequest registers a new login. Role defaults to seller.
type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method"`
	Installments  int    `json:"installments"`
	ClientRef     string `json:"client_ref,omitempty"`
	AsQuote       bool   `json:"as_quote"`
	ReuseQuoteID  bool   `json:"reuse_quote_id"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type SaleEventType string

const (
	SaleEventQuoted     SaleEventType = "sale.quoted"
	SaleEventCompleted  SaleEventType = "sale.completed"
	SaleEventRefunded   SaleEventType = "sale.refunded"
	SaleEventSuperseded SaleEventType = "quote.superseded"
	SaleEventExpired    SaleEventType = "quote.expired"
)

type SaleEvent struct {
	Type          SaleEventType `json:"type"`
	SaleID        string        `json:"sale_id"`
	Status        SaleStatus    `json:"status"`
	TotalCents    int64         `json:"total_cents"`
	OriginQuoteID string        `json:"origin_quote_id,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

const (
	PaymentCash     = "cash"
	PaymentDebit    = "debit"
	PaymentCredit   = "credit"
	PaymentPix      = "pix"
	PaymentTransfer = "transfer"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentDebit, PaymentCredit, PaymentPix, PaymentTransfer:
		return true
	default:
		return false
	}
}
