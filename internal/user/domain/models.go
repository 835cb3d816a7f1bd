package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the dimension record transactions are attributed to.
type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      string       `json:"userId" gorm:"column:user_id;type:varchar(191);not null;uniqueIndex:ux_users_user_id"`
	UserName    string       `json:"userName" gorm:"column:user_name;type:varchar(255);not null"`
	Region      string       `json:"region" gorm:"column:region;type:varchar(191);not null;index:ix_users_region"`
	Department  string       `json:"department" gorm:"column:department;type:varchar(191);not null;index:ix_users_department"`
	CompanyName string       `json:"companyName" gorm:"column:company_name;type:varchar(255);not null"`
	IsActiveSub bool         `json:"isActiveSub" gorm:"column:is_active_sub;not null"`
	SignupDate  string       `json:"signupDate" gorm:"column:signup_date;type:varchar(64);not null"`
	CreatedAt   time.Time    `json:"createdAt" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updatedAt" gorm:"not null"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
