// checkin/models/user.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// User представляет оператора системы (сотрудника, работающего со списками гостей).
type User struct {
	gorm.Model
	Login       string     `json:"login" gorm:"unique;not null"`
	Password    string     `json:"-" gorm:"not null"`
	LastName    string     `json:"lastName"`
	FirstName   string     `json:"firstName"`
	Phone       string     `json:"phone" gorm:"index"` // Телефон в формате +7XXXXXXXXXX
	Email       string     `json:"email"`
	IsSuperuser bool       `json:"isSuperuser" gorm:"default:false"`
	IsActive    bool       `json:"isActive" gorm:"default:true"`
	LastLogin   *time.Time `json:"lastLogin"`

	// Внешний идентификатор в Telegram. Заполняется ботом после привязки контакта.
	TelegramID string `json:"telegramId" gorm:"index"`

	Roles []Role `json:"roles" gorm:"many2many:user_roles;"`
}

// FullName возвращает "Фамилия Имя" или логин, если ФИО не заполнено.
func (u *User) FullName() string {
	if u.LastName != "" && u.FirstName != "" {
		return u.LastName + " " + u.FirstName
	}
	return u.Login
}

// HasRole проверяет, состоит ли пользователь в группе с указанным именем.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Role определяет модель роли (группы) в базе данных.
type Role struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"unique;not null"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions" gorm:"many2many:role_permissions;"`
}

// Permission представляет модель права доступа в базе данных.
type Permission struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"unique;not null"`
	Description string `json:"description"`
	Category    string `json:"category" gorm:"not null"` // Категория для группировки (например, "Гости", "Мероприятия")
}

// Имена базовых групп. Состав прав задаётся в config.SeedRoles.
const (
	RoleAdmin    = "Администратор"
	RoleManager  = "Менеджер"
	RoleProducer = "Продюсер"
	RoleChecker  = "Проверяющий"
)
