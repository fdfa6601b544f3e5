// checkin/models/event.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// ModuleInstance представляет мероприятие (событие), на которое регистрируются гости.
type ModuleInstance struct {
	gorm.Model
	Name      string     `json:"name" gorm:"unique;not null"`
	Address   string     `json:"address" gorm:"type:text"`
	DateStart *time.Time `json:"dateStart"`
	DateEnd   *time.Time `json:"dateEnd"`

	// Отображать ли мероприятие в открытой форме регистрации.
	Visible bool `json:"visible" gorm:"default:false"`

	// Ролевые списки. Менеджеры редактируют мероприятие, продюсеры приводят гостей,
	// проверяющие подтверждают посещение на входе.
	Managers  []User `json:"managers,omitempty" gorm:"many2many:module_instance_managers;"`
	Producers []User `json:"producers,omitempty" gorm:"many2many:module_instance_producers;"`
	Checkers  []User `json:"checkers,omitempty" gorm:"many2many:module_instance_checkers;"`
}

// ScopeVisibleTo ограничивает выборку мероприятий ролевой моделью:
// суперпользователь видит все, остальные - только те, где они указаны
// в одном из ролевых списков.
func ScopeVisibleTo(user *User) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if user == nil {
			return db.Where("1 = 0")
		}
		if user.IsSuperuser || user.HasRole(RoleAdmin) {
			return db
		}
		return db.Where(
			`module_instances.id IN (SELECT module_instance_id FROM module_instance_managers WHERE user_id = ?)
			OR module_instances.id IN (SELECT module_instance_id FROM module_instance_producers WHERE user_id = ?)
			OR module_instances.id IN (SELECT module_instance_id FROM module_instance_checkers WHERE user_id = ?)`,
			user.ID, user.ID, user.ID,
		)
	}
}
