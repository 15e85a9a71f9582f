package models

import "time"

// Identity is an enrolled person. Name doubles as the gallery label.
type Identity struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"`
	Phone     string    `json:"phone" db:"phone"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Record is one attendance cycle. UserID is nil for unknown visitors.
type Record struct {
	ID           int64      `json:"id" db:"id"`
	UserID       *int64     `json:"user_id,omitempty" db:"user_id"`
	UserName     string     `json:"user_name,omitempty" db:"-"`
	CheckInTime  time.Time  `json:"check_in_time" db:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty" db:"check_out_time"`
	Image        []byte     `json:"-" db:"image"`
}

// Open reports whether the record still waits for a check-out.
func (r Record) Open() bool {
	return r.CheckOutTime == nil
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	UserID *int64
	Open   *bool
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
