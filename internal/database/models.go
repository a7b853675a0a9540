package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type UserRole string

const (
	UserRoleADMIN   UserRole = "ADMIN"
	UserRoleCASHIER UserRole = "CASHIER"
	UserRoleKITCHEN UserRole = "KITCHEN"
)

type OrderType string

const (
	OrderTypeDINEIN   OrderType = "DINE_IN"
	OrderTypeTAKEAWAY OrderType = "TAKEAWAY"
	OrderTypeDELIVERY OrderType = "DELIVERY"
)

type OrderStatus string

const (
	OrderStatusNEW       OrderStatus = "NEW"
	OrderStatusPREPARING OrderStatus = "PREPARING"
	OrderStatusREADY     OrderStatus = "READY"
	OrderStatusCOMPLETED OrderStatus = "COMPLETED"
	OrderStatusCANCELLED OrderStatus = "CANCELLED"
)

type TableStatus string

const (
	TableStatusAVAILABLE TableStatus = "AVAILABLE"
	TableStatusOCCUPIED  TableStatus = "OCCUPIED"
)

type PaymentMethod string

const (
	PaymentMethodCASH     PaymentMethod = "CASH"
	PaymentMethodQRIS     PaymentMethod = "QRIS"
	PaymentMethodTRANSFER PaymentMethod = "TRANSFER"
)

type PaymentStatus string

const (
	PaymentStatusPENDING   PaymentStatus = "PENDING"
	PaymentStatusCOMPLETED PaymentStatus = "COMPLETED"
	PaymentStatusFAILED    PaymentStatus = "FAILED"
)

type IntentStatus string

const (
	IntentStatusPENDING   IntentStatus = "PENDING"
	IntentStatusSETTLED   IntentStatus = "SETTLED"
	IntentStatusEXPIRED   IntentStatus = "EXPIRED"
	IntentStatusCANCELLED IntentStatus = "CANCELLED"
	IntentStatusFAILED    IntentStatus = "FAILED"
)

type EvidenceSource string

const (
	EvidenceSourceWEBHOOK EvidenceSource = "WEBHOOK"
	EvidenceSourcePOLL    EvidenceSource = "POLL"
)

type User struct {
	ID             uuid.UUID
	Username       string
	HashedPassword string
	Pin            pgtype.Text
	FullName       string
	Role           UserRole
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Category struct {
	ID        uuid.UUID
	Name      string
	SortOrder int32
	IsActive  bool
	CreatedAt time.Time
}

type Product struct {
	ID          uuid.UUID
	CategoryID  uuid.UUID
	Name        string
	Description pgtype.Text
	Price       pgtype.Numeric
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DiningTable struct {
	ID          uuid.UUID
	TableNumber string
	Capacity    int32
	Status      TableStatus
	CreatedAt   time.Time
}

type Order struct {
	ID             uuid.UUID
	OrderNumber    string
	OrderType      OrderType
	Status         OrderStatus
	TableID        pgtype.UUID
	Notes          pgtype.Text
	Subtotal       pgtype.Numeric
	DiscountType   pgtype.Text
	DiscountValue  pgtype.Numeric
	DiscountAmount pgtype.Numeric
	TotalAmount    pgtype.Numeric
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    pgtype.Timestamptz
}

type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	DiscountType   pgtype.Text
	DiscountValue  pgtype.Numeric
	DiscountAmount pgtype.Numeric
	Subtotal       pgtype.Numeric
	Notes          pgtype.Text
}

type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	PaymentMethod   PaymentMethod
	Amount          pgtype.Numeric
	Status          PaymentStatus
	ReferenceNumber pgtype.Text
	AmountReceived  pgtype.Numeric
	ChangeAmount    pgtype.Numeric
	ProcessedBy     pgtype.UUID
	ProcessedAt     time.Time
}

type PaymentIntent struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	Provider           string
	ProviderRef        pgtype.Text
	Amount             pgtype.Numeric
	Status             IntentStatus
	CollectionArtifact pgtype.Text
	CreatedAt          time.Time
	ExpiresAt          time.Time
	SettledAt          pgtype.Timestamptz
	FinalizedAt        pgtype.Timestamptz
}

type StatusEvidence struct {
	ID             int64
	IntentID       uuid.UUID
	ObservedStatus string
	Source         EvidenceSource
	RawPayload     []byte
	ObservedAt     time.Time
}
