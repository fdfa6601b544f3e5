// checkin/models/contact.go
package models

import (
	"gorm.io/gorm"
)

// CompanyContact - справочник компаний.
type CompanyContact struct {
	gorm.Model
	Name    string `json:"name" gorm:"unique;not null"`
	Comment string `json:"comment"`
}

// CategoryContact - справочник категорий гостей (VIP, пресса и т.д.).
type CategoryContact struct {
	gorm.Model
	Name    string `json:"name" gorm:"unique;not null"`
	Color   string `json:"color" gorm:"type:varchar(7)"` // Цвет для подсветки в таблице гостей, например "#ff0000"
	Comment string `json:"comment"`
}

// TypeGuestContact - справочник типов гостей.
type TypeGuestContact struct {
	gorm.Model
	Name    string `json:"name" gorm:"unique;not null"`
	Comment string `json:"comment"`
}

// Contact представляет человека (гостя) в базе данных.
// Один реальный человек не должен дублироваться: тройка (Фамилия, Имя, Отчество)
// уникальна, никнейм уникален, если указан.
type Contact struct {
	gorm.Model
	LastName   string `json:"lastName" gorm:"not null;uniqueIndex:idx_contact_fio"`
	FirstName  string `json:"firstName" gorm:"not null;uniqueIndex:idx_contact_fio"`
	MiddleName string `json:"middleName" gorm:"uniqueIndex:idx_contact_fio"`

	// Никнейм хранится как NULL, если не указан, иначе уникальный индекс
	// не пропустил бы двух гостей без никнейма.
	Nickname *string `json:"nickname" gorm:"uniqueIndex"`

	CompanyID   *uint `json:"companyId"`
	CategoryID  *uint `json:"categoryId"`
	TypeGuestID *uint `json:"typeGuestId"`

	// Продюсер - пользователь из группы "Продюсер", который привёл гостя.
	ProducerID *uint `json:"producerId"`

	Comment  string `json:"comment" gorm:"type:text"`
	PhotoURL string `json:"photoUrl"`

	Company   *CompanyContact   `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
	Category  *CategoryContact  `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
	TypeGuest *TypeGuestContact `json:"typeGuest,omitempty" gorm:"foreignKey:TypeGuestID"`
	Producer  *User             `json:"producer,omitempty" gorm:"foreignKey:ProducerID"`
}

// FIO возвращает "Фамилия Имя Отчество" без лишних пробелов.
func (c *Contact) FIO() string {
	fio := c.LastName
	if c.FirstName != "" {
		fio += " " + c.FirstName
	}
	if c.MiddleName != "" {
		fio += " " + c.MiddleName
	}
	if fio == "" && c.Nickname != nil {
		return *c.Nickname
	}
	return fio
}

// NicknameValue возвращает никнейм или пустую строку.
func (c *Contact) NicknameValue() string {
	if c.Nickname == nil {
		return ""
	}
	return *c.Nickname
}
