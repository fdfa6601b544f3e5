// checkin/models/action.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// ActionStatus - статус гостя на мероприятии.
type ActionStatus string

const (
	StatusAnnounced  ActionStatus = "announced"  // Анонсирован
	StatusInvited    ActionStatus = "invited"    // Приглашён
	StatusRegistered ActionStatus = "registered" // Зарегистрирован
	StatusCancelled  ActionStatus = "cancelled"  // Отменён
	StatusVisited    ActionStatus = "visited"    // Посетил
)

// StatusDisplay - отображаемые названия статусов для операторов и выгрузок.
var StatusDisplay = map[ActionStatus]string{
	StatusAnnounced:  "Анонсирован",
	StatusInvited:    "Приглашён",
	StatusRegistered: "Зарегистрирован",
	StatusCancelled:  "Отмена",
	StatusVisited:    "Посетил",
}

// NormalizeStatus приводит статус к канонической пятёрке.
// Старые выгрузки используют трёхсостоянийный словарь new/checkin/cancel,
// его надо принимать при импорте: new - регистрация, checkin - посещение,
// cancel - отмена.
func NormalizeStatus(raw string) (ActionStatus, bool) {
	switch ActionStatus(raw) {
	case StatusAnnounced, StatusInvited, StatusRegistered, StatusCancelled, StatusVisited:
		return ActionStatus(raw), true
	}
	switch raw {
	case "new":
		return StatusRegistered, true
	case "checkin":
		return StatusVisited, true
	case "cancel":
		return StatusCancelled, true
	}
	return "", false
}

// Action - запись о связи гостя с мероприятием. Ровно одна строка на пару
// (контакт, мероприятие): статус меняется на месте, а не созданием новых строк.
// Вся история изменений живёт в ActionLog.
type Action struct {
	gorm.Model
	ContactID        uint         `json:"contactId" gorm:"not null;uniqueIndex:idx_action_contact_event"`
	ModuleInstanceID uint         `json:"eventId" gorm:"not null;uniqueIndex:idx_action_contact_event"`
	Status           ActionStatus `json:"actionType" gorm:"type:varchar(32);not null;default:'announced';index"`
	Comment          string       `json:"comment" gorm:"type:text"`

	CreatedByID *uint `json:"createdById"`
	UpdatedByID *uint `json:"updatedById"`

	Contact        *Contact        `json:"contact,omitempty" gorm:"foreignKey:ContactID;constraint:OnDelete:CASCADE"`
	ModuleInstance *ModuleInstance `json:"moduleInstance,omitempty" gorm:"foreignKey:ModuleInstanceID;constraint:OnDelete:CASCADE"`
	CreatedBy      *User           `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID"`
	UpdatedBy      *User           `json:"updatedBy,omitempty" gorm:"foreignKey:UpdatedByID"`
}

// ActionLog - журнал изменений статусов. Только добавление: записи никогда
// не редактируются и не удаляются, в том числе при удалении самой регистрации.
type ActionLog struct {
	ID        uint         `json:"id" gorm:"primaryKey"`
	ActionID  uint         `json:"actionId" gorm:"not null;index"`
	OldStatus ActionStatus `json:"oldStatus" gorm:"type:varchar(32);not null"`
	NewStatus ActionStatus `json:"newStatus" gorm:"type:varchar(32);not null"`
	ActorID   *uint        `json:"actorId"`
	CreatedAt time.Time    `json:"createdAt" gorm:"not null;index"`

	Actor *User `json:"actor,omitempty" gorm:"foreignKey:ActorID"`
}
