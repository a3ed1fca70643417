package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject is the account a credential belongs to. Owned by the user
// service; read-only here.
type Subject struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
