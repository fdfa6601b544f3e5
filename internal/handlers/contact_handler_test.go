package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/models"
)

// Удаление гостя освобождает его ФИО и никнейм: такого же гостя можно
// завести заново, а журнал переходов по старым регистрациям сохраняется.
func TestDeleteContact_FreesIdentityForReuse(t *testing.T) {
	r := setupTestAPI(t)

	body := gin.H{"lastName": "Смирнов", "firstName": "Олег", "nickname": "smirnov"}
	w := doJSON(t, r, http.MethodPost, "/api/contacts", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var contact models.Contact
	if err := json.Unmarshal(w.Body.Bytes(), &contact); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Дубликат по ФИО отклоняется, пока гость существует.
	w = doJSON(t, r, http.MethodPost, "/api/contacts", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Регистрация с переходом, чтобы в журнале была строка.
	event := models.ModuleInstance{Name: "Вернисаж"}
	if err := config.DB.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contact.ID, "eventId": event.ID,
	})
	var action models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &action); err != nil {
		t.Fatalf("decode: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", action.ID), gin.H{
		"actionType": "invited",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("invited: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contact.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// ФИО и никнейм свободны: повторное создание проходит.
	w = doJSON(t, r, http.MethodPost, "/api/contacts", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("re-create after delete: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var recreated models.Contact
	if err := json.Unmarshal(w.Body.Bytes(), &recreated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if recreated.ID == contact.ID {
		t.Fatalf("expected a fresh contact row, got the same ID %d", contact.ID)
	}

	// Журнал переходов удалённого гостя остаётся.
	var logCount int64
	config.DB.Model(&models.ActionLog{}).Where("action_id = ?", action.ID).Count(&logCount)
	if logCount != 1 {
		t.Fatalf("audit trail must survive contact deletion, got %d rows", logCount)
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contact.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

// Удаление мероприятия освобождает его название для повторного создания.
func TestDeleteEvent_FreesNameForReuse(t *testing.T) {
	r := setupTestAPI(t)

	body := gin.H{"name": "Новогодний приём"}
	w := doJSON(t, r, http.MethodPost, "/api/events", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var event models.ModuleInstance
	if err := json.Unmarshal(w.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, "/api/events", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/events/%d", event.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/events", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("re-create after delete: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}
