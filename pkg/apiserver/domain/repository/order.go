package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ordermesh/pkg/apiserver/domain/model"
)

// OrderByCorrelationID returns the committed order for a correlation id, or
// nil when none exists. This is the process step's idempotency probe.
func OrderByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*model.Order, error) {
	var order model.Order
	err := db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpsertCustomerByExternalID returns the customer with the given external id,
// creating it when absent.
func UpsertCustomerByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*model.Customer, error) {
	var customer model.Customer
	err := db.WithContext(ctx).
		Where(&model.Customer{ExternalID: externalID}).
		FirstOrCreate(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpsertProductByExternalID returns the product with the given external id,
// creating it when absent.
func UpsertProductByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*model.Product, error) {
	var product model.Product
	err := db.WithContext(ctx).
		Where(&model.Product{ExternalID: externalID}).
		FirstOrCreate(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateOrder persists an order aggregate with its line items.
func CreateOrder(ctx context.Context, db *gorm.DB, order *model.Order) error {
	return db.WithContext(ctx).Create(order).Error
}
