package messages

import "time"

// OrderUpdated публикуется после каждого изменения истории заказа
// (ручной скан или дозревшие авто-события). API-инстансы по нему
// сбрасывают кэш публичного представления заказа.
type OrderUpdated struct {
	OrderID        uint64    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Source: "scan" | "sweep".
	Source string `json:"source,omitempty"`

	NewEvents int `json:"new_events,omitempty"`
}
