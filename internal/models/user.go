package models

// User - минимальная проекция пользователя. Этот сервис только читает ее.
type User struct {
	BaseModel
	Email string   `gorm:"uniqueIndex;not null" json:"email"`
	Name  string   `json:"name"`
	Role  UserRole `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
}
