package model

func init() {
	RegisterModel(&Customer{}, &Product{}, &Order{}, &OrderItem{})
}

// Customer is upserted by external id when an accepted order first references it.
type Customer struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID string `json:"externalId" gorm:"type:varchar(64);uniqueIndex;not null"`
	BaseModel
}

// Product is upserted by external id when an accepted order first references it.
type Product struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID string `json:"externalId" gorm:"type:varchar(64);uniqueIndex;not null"`
	BaseModel
}

// Order is the committed order aggregate. The uniqueness constraint on
// CorrelationID is what makes the saga's process step idempotent regardless
// of transient-store state: at most one committed order exists per
// correlation id.
type Order struct {
	ID            int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	CorrelationID string      `json:"correlationId" gorm:"type:varchar(64);uniqueIndex;not null"`
	CustomerID    int64       `json:"customerId" gorm:"index;not null"`
	Items         []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
	BaseModel
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID        int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID   int64 `json:"orderId" gorm:"index;not null"`
	ProductID int64 `json:"productId" gorm:"not null"`
	Quantity  int   `json:"quantity" gorm:"not null"`
	BaseModel
}
