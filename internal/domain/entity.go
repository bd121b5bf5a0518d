package domain

import "time"

// EntityType identifies one conformed business entity stream.
type EntityType string

const (
	EntityCustomers EntityType = "customers"
	EntityProducts  EntityType = "products"
	EntityOrders    EntityType = "orders"
)

// Customer is a conformed customer row (silver). Natural key: CustomerID.
// No surrogate key yet; that is assigned by the dimension merge.
type Customer struct {
	CustomerID int64
	Name       string
	Email      string
	City       string
	Segment    string
}

// Product is a conformed product row (silver). Natural key: ProductID.
type Product struct {
	ProductID int64
	Name      string
	Category  string
	Price     float64
}

// Order is a conformed transactional row (silver). Natural key: OrderID.
type Order struct {
	OrderID    int64
	CustomerID int64
	ProductID  int64
	Quantity   int64
	Amount     float64
	EventTS    time.Time
}
