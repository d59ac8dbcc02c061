package models

import (
	"time"
)

// OrderItem is a single product line of an order.
type OrderItem struct {
	Name     string  `bson:"name" json:"name"`
	Quantity int     `bson:"quantity" json:"quantity"`
	Price    float64 `bson:"price" json:"price"`
}

// Order is an order snapshot embedded in the user document.
type Order struct {
	Items       []OrderItem `bson:"items" json:"items"`
	TotalAmount float64     `bson:"total_amount" json:"totalAmount"`
	Address     Address     `bson:"address" json:"address"`
	Status      string      `bson:"status" json:"status"` // e.g., "Pending", "Shipped"
	CreatedAt   time.Time   `bson:"created_at" json:"createdAt"`
}
