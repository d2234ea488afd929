package users

import (
	"strings"
	"time"
)

// Account links a provider login to the canonical user id that owns archive rows.
type Account struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "user_accounts"
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
