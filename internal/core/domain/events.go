package domain

const OrderPlacedEventType = "order.placed"

type OrderPlacedEvent struct {
	OrderNumber string `json:"orderNumber"`
}
