package domain

import "time"

// Item types accepted on a transaction line. Service-like types never touch
// the stock ledger.
const (
	ItemTypeProduct       = "product"
	ItemTypeFixedBlend    = "fixed_blend"
	ItemTypeCustomBlend   = "custom_blend"
	ItemTypeBundle        = "bundle"
	ItemTypeService       = "service"
	ItemTypeConsultation  = "consultation"
	ItemTypeMiscellaneous = "miscellaneous"
)

const (
	SaleTypeQuantity = "quantity"
	SaleTypeVolume   = "volume"
)

const (
	MovementSale       = "sale"
	MovementReturn     = "return"
	MovementBundleSale = "bundle_sale"
	MovementAdjustment = "adjustment"
)

const (
	ContainerStatusFull     = "full"
	ContainerStatusPartial  = "partial"
	ContainerStatusEmpty    = "empty"
	ContainerStatusOversold = "oversold"
)

// CancelPrefix derives the counter-reference a reversal writes its movements
// under.
const CancelPrefix = "CANCEL-"

const (
	BundleMemberProduct = "product"
	BundleMemberBlend   = "fixed_blend"
)

type Product struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	PriceCents        int64           `json:"price_cents"`
	CurrentStock      float64         `json:"current_stock"`
	ContainerCapacity float64         `json:"container_capacity,omitempty"`
	Containers        ContainerLedger `json:"containers"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ContainerTracked reports whether volume sales of this product draw from
// individual physical containers.
func (p Product) ContainerTracked() bool {
	return p.ContainerCapacity > 0
}

type ProductCreateRequest struct {
	SKU               string  `json:"sku"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	UnitOfMeasurement string  `json:"unit_of_measurement"`
	PriceCents        int64   `json:"price_cents"`
	InitialStock      float64 `json:"initial_stock"`
	ContainerCapacity float64 `json:"container_capacity,omitempty"`
	FullContainers    int     `json:"full_containers,omitempty"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// ContainerLedger is the per-product sub-ledger for volume-sold goods: a pool
// of sealed containers plus every container that has ever been opened.
// Emptied and oversold containers stay in Partial so their history remains
// queryable.
type ContainerLedger struct {
	Full    int         `json:"full"`
	Partial []Container `json:"partial"`
}

type Container struct {
	ID          string          `json:"id"`
	Capacity    float64         `json:"capacity"`
	Remaining   float64         `json:"remaining"`
	Status      string          `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	SaleHistory []ContainerSale `json:"sale_history"`
}

// ContainerSale is one append-only history entry. Reversals append an entry
// with negative QuantitySold, so the original fill always equals remaining
// plus the sum of recorded deductions.
type ContainerSale struct {
	TransactionRef string    `json:"transaction_ref"`
	QuantitySold   float64   `json:"quantity_sold"`
	SoldAt         time.Time `json:"sold_at"`
	SoldBy         string    `json:"sold_by"`
}

type BlendIngredient struct {
	ProductID           string  `json:"product_id"`
	QuantityPerUnit     float64 `json:"quantity_per_unit"`
	UnitOfMeasurementID string  `json:"unit_of_measurement_id"`
}

type BlendTemplate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Ingredients []BlendIngredient `json:"ingredients"`
	UsageCount  int64             `json:"usage_count"`
	LastUsed    *time.Time        `json:"last_used,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type BlendTemplateCreateRequest struct {
	Name        string            `json:"name"`
	Ingredients []BlendIngredient `json:"ingredients"`
}

type BundleItem struct {
	ProductID       string  `json:"product_id,omitempty"`
	BlendTemplateID string  `json:"blend_template_id,omitempty"`
	ProductType     string  `json:"product_type"`
	QuantityPerUnit float64 `json:"quantity_per_unit"`
}

type Bundle struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	BundleProducts []BundleItem `json:"bundle_products"`
	CreatedAt      time.Time    `json:"created_at"`
}

type BundleCreateRequest struct {
	Name           string       `json:"name"`
	BundleProducts []BundleItem `json:"bundle_products"`
}

type TransactionItem struct {
	ItemType        string  `json:"item_type"`
	Quantity        float64 `json:"quantity"`
	SaleType        string  `json:"sale_type"`
	ProductID       string  `json:"product_id,omitempty"`
	BlendTemplateID string  `json:"blend_template_id,omitempty"`
	BundleID        string  `json:"bundle_id,omitempty"`
}

type Transaction struct {
	TransactionNumber string            `json:"transaction_number"`
	Items             []TransactionItem `json:"items"`
	CreatedAt         time.Time         `json:"created_at"`
}

// InventoryMovement is one immutable ledger entry. Quantity is the signed
// stock delta in the product's base unit: negative for a deduction, positive
// for a restore. Movements are never edited or deleted.
type InventoryMovement struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	MovementType string    `json:"movement_type"`
	Quantity     float64   `json:"quantity"`
	SaleType     string    `json:"sale_type"`
	ContainerID  string    `json:"container_id,omitempty"`
	Reference    string    `json:"reference"`
	Reason       string    `json:"reason,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// StockApplication is one elementary delta produced by item resolution,
// ready to be applied atomically as part of a MovementBatch.
type StockApplication struct {
	ProductID    string
	Delta        float64
	MovementType string
	SaleType     string
	// RestoreContainerID targets the container recorded on the original
	// movement when replaying a reversal.
	RestoreContainerID string
	// ReceiveContainers adds sealed containers to the product's pool in the
	// same atomic step as the stock delta.
	ReceiveContainers int
	Reason            string
	Notes             string
}

type BlendUsage struct {
	BlendTemplateID string
	Quantity        float64
}

// MovementBatch is the unit of atomic application: every entry commits, or
// none do. Reversal batches additionally assert that no movements exist yet
// under Reference.
type MovementBatch struct {
	Reference  string
	Reversal   bool
	Actor      string
	AppliedAt  time.Time
	Entries    []StockApplication
	BlendUsage []BlendUsage
}

type ProcessResult struct {
	Success   bool                `json:"success"`
	Movements []InventoryMovement `json:"movements"`
	Errors    []string            `json:"errors"`
}

type ReverseResult struct {
	Success       bool   `json:"success"`
	ReversedCount int    `json:"reversed_count"`
	Reference     string `json:"reference"`
}

type StockAdjustmentRequest struct {
	ProductID string  `json:"product_id"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"reason"`
}

type ContainerReceiveRequest struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
	Notes     string `json:"notes"`
}

type ProductStockOverview struct {
	ProductID      string  `json:"product_id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	CurrentStock   float64 `json:"current_stock"`
	Unit           string  `json:"unit"`
	FullContainers int     `json:"full_containers"`
	OpenContainers int     `json:"open_containers"`
	OpenRemaining  float64 `json:"open_remaining"`
	Oversold       bool    `json:"oversold"`
}

type StockOverview struct {
	BranchID    string                 `json:"branch_id"`
	GeneratedAt string                 `json:"generated_at"`
	Products    []ProductStockOverview `json:"products"`
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

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type TransactionReverseRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Reason     string `json:"reason,omitempty"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
