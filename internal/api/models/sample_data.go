package models

import "time"

// Sample data models for the demo store the pipeline queries. Table names
// keep the querycraft_ prefix so the synonym table has something real to map
// colloquial nouns onto.

type Customer struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"size:200;not null"`
	Email            string    `json:"email" gorm:"size:254;not null"`
	RegistrationDate time.Time `json:"registrationDate" gorm:"type:date;not null"`
}

func (Customer) TableName() string { return "querycraft_customer" }

type Product struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	Name     string  `json:"name" gorm:"size:200;not null"`
	Category string  `json:"category" gorm:"size:100;not null"`
	Price    float64 `json:"price" gorm:"type:numeric(10,2);not null"`
}

func (Product) TableName() string { return "querycraft_product" }

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	CustomerID uint        `json:"customerId" gorm:"not null;index"`
	Customer   Customer    `json:"-" gorm:"foreignKey:CustomerID"`
	ProductID  uint        `json:"productId" gorm:"not null;index"`
	Product    Product     `json:"-" gorm:"foreignKey:ProductID"`
	OrderDate  time.Time   `json:"orderDate" gorm:"type:date;not null"`
	Quantity   int         `json:"quantity" gorm:"not null"`
	Status     OrderStatus `json:"status" gorm:"size:20;not null;default:pending"`
}

func (Order) TableName() string { return "querycraft_order" }
