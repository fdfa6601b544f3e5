// checkin/internal/handlers/event_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/models"
)

type EventRequest struct {
	Name        string     `json:"name" binding:"required"`
	Address     string     `json:"address"`
	DateStart   *time.Time `json:"dateStart"`
	DateEnd     *time.Time `json:"dateEnd"`
	Visible     bool       `json:"visible"`
	ManagerIDs  []uint     `json:"managerIds"`
	ProducerIDs []uint     `json:"producerIds"`
	CheckerIDs  []uint     `json:"checkerIds"`
}

// ListEventsHandler возвращает мероприятия, видимые оператору: суперпользователь
// видит все, остальные - только те, где они в одном из ролевых списков.
func ListEventsHandler(c *gin.Context) {
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

	query := config.DB.Model(&models.ModuleInstance{}).Scopes(models.ScopeVisibleTo(&user))

	if searchQuery := c.Query("search"); searchQuery != "" {
		searchPattern := "%" + strings.ToLower(searchQuery) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(address) LIKE ?", searchPattern, searchPattern)
	}
	if c.Query("upcoming") == "true" {
		now := time.Now()
		query = query.Where("date_start >= ? OR date_end >= ?", now, now)
	}

	var totalRows int64
	if err := query.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось посчитать мероприятия"})
		return
	}

	var events []models.ModuleInstance
	if err := query.Scopes(Paginate(c)).Order("date_start DESC").Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список мероприятий"})
		return
	}
	c.JSON(http.StatusOK, CreatePaginatedResponse(c, events, totalRows))
}

func GetEventHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}

	var event models.ModuleInstance
	if err := config.DB.
		Preload("Managers").Preload("Producers").Preload("Checkers").
		First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Мероприятие не найдено"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !userInEventScope(c, event.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func CreateEventHandler(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Название мероприятия обязательно"})
		return
	}

	event := models.ModuleInstance{
		Name:      strings.TrimSpace(req.Name),
		Address:   req.Address,
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		Visible:   req.Visible,
	}
	if err := config.DB.Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Мероприятие с таким названием уже есть"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать мероприятие: " + err.Error()})
		return
	}

	if err := replaceRoleSets(&event, &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось назначить ролевые списки: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, event)
}

func UpdateEventHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}

	var event models.ModuleInstance
	if err := config.DB.First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Мероприятие не найдено"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Редактировать могут суперпользователь и менеджеры мероприятия.
	if !isSuperuser(c) && !userInManagerList(c, event.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Редактировать мероприятие могут только его менеджеры"})
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Название мероприятия обязательно"})
		return
	}

	event.Name = strings.TrimSpace(req.Name)
	event.Address = req.Address
	event.DateStart = req.DateStart
	event.DateEnd = req.DateEnd
	event.Visible = req.Visible

	if err := config.DB.Save(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Мероприятие с таким названием уже есть"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить мероприятие: " + err.Error()})
		return
	}

	if err := replaceRoleSets(&event, &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось обновить ролевые списки: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

// DeleteEventHandler удаляет мероприятие физически: название уникально,
// и мягко удалённая строка не дала бы создать мероприятие с тем же именем.
// Регистрации удаляются каскадом на уровне БД.
func DeleteEventHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}
	res := config.DB.Unscoped().Delete(&models.ModuleInstance{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Мероприятие не найдено"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Мероприятие удалено"})
}

func replaceRoleSets(event *models.ModuleInstance, req *EventRequest) error {
	if req.ManagerIDs != nil {
		var users []models.User
		if err := config.DB.Where("id IN ?", req.ManagerIDs).Find(&users).Error; err != nil {
			return err
		}
		if err := config.DB.Model(event).Association("Managers").Replace(users); err != nil {
			return err
		}
	}
	if req.ProducerIDs != nil {
		var users []models.User
		if err := config.DB.Where("id IN ?", req.ProducerIDs).Find(&users).Error; err != nil {
			return err
		}
		if err := config.DB.Model(event).Association("Producers").Replace(users); err != nil {
			return err
		}
	}
	if req.CheckerIDs != nil {
		var users []models.User
		if err := config.DB.Where("id IN ?", req.CheckerIDs).Find(&users).Error; err != nil {
			return err
		}
		if err := config.DB.Model(event).Association("Checkers").Replace(users); err != nil {
			return err
		}
	}
	return nil
}

func userInManagerList(c *gin.Context, eventID uint) bool {
	userID := currentUserID(c)
	if userID == nil {
		return false
	}
	var count int64
	config.DB.Table("module_instance_managers").
		Where("module_instance_id = ? AND user_id = ?", eventID, *userID).
		Count(&count)
	return count > 0
}
