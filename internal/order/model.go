package order

import "time"

// Order is a purchase placed from a browser session.
type Order struct {
	ID        string
	SessionID string
	Item      string
	Quantity  int
	Note      string
	CreatedAt time.Time
}
