// checkin/internal/handlers/action_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/internal/ledger"
	"github.com/suslyaev/checkin/models"
)

func getLedger() *ledger.Ledger {
	return ledger.NewLedger(config.DB)
}

// respondLedgerError переводит ошибки леджера в HTTP-коды:
// 400 - незаконный переход, 404 - висячие ссылки, 500 - всё остальное.
func respondLedgerError(c *gin.Context, err error) {
	var ite *models.IllegalTransitionError
	switch {
	case errors.As(err, &ite):
		c.JSON(http.StatusBadRequest, gin.H{"error": ite.Reason})
	case errors.Is(err, ledger.ErrContactNotFound),
		errors.Is(err, ledger.ErrEventNotFound),
		errors.Is(err, ledger.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка сохранения: " + err.Error()})
	}
}

// --- Структуры для входящих данных по РЕГИСТРАЦИЯМ ---

type CreateActionRequest struct {
	ContactID  uint   `json:"contactId" binding:"required"`
	EventID    uint   `json:"eventId" binding:"required"`
	ActionType string `json:"actionType"`
}

type TransitionRequest struct {
	ActionType string `json:"actionType" binding:"required"`
}

type BulkTransitionRequest struct {
	ActionIDs  []uint `json:"actionIds" binding:"required"`
	ActionType string `json:"actionType" binding:"required"`
}

// ListActionsHandler возвращает регистрации с фильтрами по мероприятию,
// статусу и контакту. Видны только регистрации мероприятий, к которым
// оператор имеет доступ.
func ListActionsHandler(c *gin.Context) {
	query := config.DB.Model(&models.Action{}).
		Preload("Contact").Preload("Contact.Company").Preload("Contact.Category")

	if eventIDStr := c.Query("event"); eventIDStr != "" {
		eventID, err := strconv.ParseUint(eventIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
			return
		}
		if !userInEventScope(c, uint(eventID)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
			return
		}
		query = query.Where("module_instance_id = ?", eventID)
	} else if !isSuperuser(c) {
		userID := currentUserID(c)
		if userID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Не удалось определить пользователя"})
			return
		}
		var user models.User
		if err := config.DB.Preload("Roles").First(&user, *userID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось загрузить пользователя"})
			return
		}
		query = query.Where("module_instance_id IN (?)",
			config.DB.Model(&models.ModuleInstance{}).
				Scopes(models.ScopeVisibleTo(&user)).
				Select("module_instances.id"))
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status, ok := models.NormalizeStatus(statusStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + statusStr + "»"})
			return
		}
		query = query.Where("status = ?", status)
	}
	if contactIDStr := c.Query("contact"); contactIDStr != "" {
		query = query.Where("contact_id = ?", contactIDStr)
	}

	var totalRows int64
	if err := query.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось посчитать регистрации"})
		return
	}

	var actions []models.Action
	if err := query.Scopes(Paginate(c)).Order("updated_at DESC").Find(&actions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список регистраций"})
		return
	}
	c.JSON(http.StatusOK, CreatePaginatedResponse(c, actions, totalRows))
}

// CreateActionHandler регистрирует гостя на мероприятие. Без указания
// статуса создаётся запись "announced"; с указанием - выполняется переход
// из текущего состояния (или создание, если переход из ничего разрешён).
func CreateActionHandler(c *gin.Context) {
	var req CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите контакт и мероприятие"})
		return
	}
	if !userInEventScope(c, req.EventID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	actor := currentUserID(c)
	l := getLedger()

	var action *models.Action
	var err error
	if req.ActionType == "" {
		action, err = l.GetOrCreate(c.Request.Context(), req.ContactID, req.EventID, actor)
	} else {
		status, ok := models.NormalizeStatus(req.ActionType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + req.ActionType + "»"})
			return
		}
		action, err = l.SetStatus(c.Request.Context(), req.ContactID, req.EventID, status, actor)
	}
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	GlobalLiveHub.BroadcastAction(action)
	c.JSON(http.StatusCreated, action)
}

// TransitionActionHandler переводит регистрацию в новый статус.
func TransitionActionHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID регистрации"})
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите новый статус"})
		return
	}
	status, ok := models.NormalizeStatus(req.ActionType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + req.ActionType + "»"})
		return
	}

	var existing models.Action
	if err := config.DB.First(&existing, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Регистрация не найдена"})
		return
	}
	if !userInEventScope(c, existing.ModuleInstanceID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	action, err := getLedger().SetStatusByID(c.Request.Context(), uint(id), status, currentUserID(c))
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	GlobalLiveHub.BroadcastAction(action)
	c.JSON(http.StatusOK, action)
}

// BulkTransitionHandler применяет переход к набору регистраций. Ошибка одной
// строки не мешает остальным; итог возвращается по каждой строке. Доступ
// проверяется по мероприятию каждой записи, как и в одиночном переходе.
func BulkTransitionHandler(c *gin.Context) {
	var req BulkTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите записи и новый статус"})
		return
	}
	status, ok := models.NormalizeStatus(req.ActionType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + req.ActionType + "»"})
		return
	}

	results := make([]ledger.BulkResult, 0, len(req.ActionIDs))
	allowed := make([]uint, 0, len(req.ActionIDs))
	for _, id := range req.ActionIDs {
		var action models.Action
		if err := config.DB.First(&action, id).Error; err != nil {
			results = append(results, ledger.BulkResult{ActionID: id, Error: "Регистрация не найдена"})
			continue
		}
		if !userInEventScope(c, action.ModuleInstanceID) {
			results = append(results, ledger.BulkResult{ActionID: id, Error: "Нет доступа к этому мероприятию"})
			continue
		}
		allowed = append(allowed, id)
	}
	results = append(results, getLedger().BulkSetStatus(c.Request.Context(), allowed, status, currentUserID(c))...)

	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		}
	}
	for _, r := range results {
		if r.OK {
			var action models.Action
			if err := config.DB.First(&action, r.ActionID).Error; err == nil {
				GlobalLiveHub.BroadcastAction(&action)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

// DeleteActionHandler удаляет регистрацию целиком ("отменить как не бывшую").
// Журнал переходов при этом сохраняется.
func DeleteActionHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID регистрации"})
		return
	}

	var existing models.Action
	if err := config.DB.First(&existing, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Регистрация не найдена"})
		return
	}
	if !userInEventScope(c, existing.ModuleInstanceID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	if err := getLedger().Delete(c.Request.Context(), existing.ContactID, existing.ModuleInstanceID); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Запись удалена"})
}

// ActionHistoryHandler возвращает журнал переходов записи, новые сверху.
func ActionHistoryHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID регистрации"})
		return
	}

	var existing models.Action
	if err := config.DB.First(&existing, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Регистрация не найдена"})
		return
	}
	if !userInEventScope(c, existing.ModuleInstanceID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	logs, err := getLedger().History(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить историю"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// CopyActionsHandler копирует список гостей одного мероприятия на другое.
// Контакты, уже имеющие запись на целевом мероприятии, пропускаются,
// поэтому повторный запуск ничего не создаёт.
func CopyActionsHandler(c *gin.Context) {
	sourceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия-источника"})
		return
	}
	targetID, err := strconv.ParseUint(c.Param("target"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID целевого мероприятия"})
		return
	}
	if sourceID == targetID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Источник и цель совпадают"})
		return
	}
	if !userInEventScope(c, uint(sourceID)) || !userInEventScope(c, uint(targetID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к одному из мероприятий"})
		return
	}

	created, err := getLedger().CopyAll(c.Request.Context(), uint(sourceID), uint(targetID), currentUserID(c))
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}
