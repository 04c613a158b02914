package main

type OrderItemRequest struct {
	PizzaID  string `json:"pizza_id" validate:"notblank"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type AddPizzaRequest struct {
	Name        string  `json:"name" validate:"notblank"`
	Description string  `json:"description" validate:"notblank"`
	Price       float64 `json:"price" validate:"gt=0"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" validate:"required,oneof=pending preparing ready_for_delivery delivered cancelled"`
}

// Response is the envelope wrapping every API answer.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
