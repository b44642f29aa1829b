package domain

import "time"

type StockRecord struct {
	ProductID string
	Available int
	Version   int64 // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}
