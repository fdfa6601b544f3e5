// checkin/internal/handlers/guests_table_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/models"
)

// GuestRow - строка таблицы гостей мероприятия: контакт плюс его статус.
type GuestRow struct {
	ActionID      uint   `json:"actionId"`
	ContactID     uint   `json:"contactId"`
	LastName      string `json:"lastName"`
	FirstName     string `json:"firstName"`
	MiddleName    string `json:"middleName"`
	Nickname      string `json:"nickname"`
	Company       string `json:"company"`
	Category      string `json:"category"`
	CategoryColor string `json:"categoryColor"`
	TypeGuest     string `json:"typeGuest"`
	Producer      string `json:"producer"`
	PhotoURL      string `json:"photoUrl"`
	Comment       string `json:"comment"`
	Status        string `json:"actionType"`
	StatusDisplay string `json:"actionTypeDisplay"`
}

// GuestSaveRequest - одна строка из таблицы гостей на сохранение. Если
// contactId не указан, контакт ищется по никнейму/ФИО, а при отсутствии
// создаётся. Справочные поля приходят названиями и заводятся на лету.
type GuestSaveRequest struct {
	ContactID  *uint  `json:"contactId"`
	LastName   string `json:"lastName"`
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	Nickname   string `json:"nickname"`
	Company    string `json:"company"`
	Category   string `json:"category"`
	TypeGuest  string `json:"typeGuest"`
	Comment    string `json:"comment"`
	ActionType string `json:"actionType"`
}

// GuestsDataHandler возвращает таблицу гостей мероприятия одним запросом:
// ФИО, справочники, статус. Это рабочий экран менеджера на площадке.
func GuestsDataHandler(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}
	if !userInEventScope(c, uint(eventID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	baseQuery := config.DB.Table("actions").
		Select(`
            actions.id AS action_id,
            actions.contact_id,
            actions.status,
            actions.comment,
            contacts.last_name,
            contacts.first_name,
            contacts.middle_name,
            COALESCE(contacts.nickname, '') AS nickname,
            contacts.photo_url,
            COALESCE(company_contacts.name, '') AS company,
            COALESCE(category_contacts.name, '') AS category,
            COALESCE(category_contacts.color, '') AS category_color,
            COALESCE(type_guest_contacts.name, '') AS type_guest,
            COALESCE(producers.last_name || ' ' || producers.first_name, '') AS producer
        `).
		Joins("JOIN contacts ON contacts.id = actions.contact_id AND contacts.deleted_at IS NULL").
		Joins("LEFT JOIN company_contacts ON contacts.company_id = company_contacts.id").
		Joins("LEFT JOIN category_contacts ON contacts.category_id = category_contacts.id").
		Joins("LEFT JOIN type_guest_contacts ON contacts.type_guest_id = type_guest_contacts.id").
		Joins("LEFT JOIN users AS producers ON contacts.producer_id = producers.id").
		Where("actions.module_instance_id = ? AND actions.deleted_at IS NULL", eventID)

	if statusStr := c.Query("status"); statusStr != "" {
		status, ok := models.NormalizeStatus(statusStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + statusStr + "»"})
			return
		}
		baseQuery = baseQuery.Where("actions.status = ?", status)
	}
	if searchQuery := c.Query("search"); searchQuery != "" {
		searchPattern := "%" + strings.ToLower(searchQuery) + "%"
		baseQuery = baseQuery.Where(
			"LOWER(contacts.last_name) LIKE ? OR LOWER(contacts.first_name) LIKE ? OR LOWER(contacts.nickname) LIKE ?",
			searchPattern, searchPattern, searchPattern,
		)
	}

	var totalRows int64
	if err := baseQuery.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось посчитать гостей мероприятия"})
		return
	}

	var rows []GuestRow
	if err := baseQuery.Scopes(Paginate(c)).
		Order("contacts.last_name, contacts.first_name").
		Scan(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить таблицу гостей"})
		return
	}
	for i := range rows {
		rows[i].StatusDisplay = models.StatusDisplay[models.ActionStatus(rows[i].Status)]
	}
	if rows == nil {
		rows = make([]GuestRow, 0)
	}
	c.JSON(http.StatusOK, CreatePaginatedResponse(c, rows, totalRows))
}

// GuestSaveHandler сохраняет строку таблицы гостей: подтягивает или создаёт
// контакт и справочники, затем проводит регистрацию через леджер.
// POST /api/events/:id/guests.
func GuestSaveHandler(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}

	var req GuestSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверное тело запроса"})
		return
	}
	if !userInEventScope(c, uint(eventID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}
	var event models.ModuleInstance
	if err := config.DB.First(&event, eventID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Мероприятие не найдено"})
		return
	}

	var contact *models.Contact
	err = config.DB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		contact, txErr = resolveGuestContact(tx, &req)
		return txErr
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Такой гость уже есть в базе"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := currentUserID(c)
	l := getLedger()

	var action *models.Action
	if req.ActionType == "" {
		action, err = l.GetOrCreate(c.Request.Context(), contact.ID, event.ID, actor)
	} else {
		status, ok := models.NormalizeStatus(req.ActionType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неизвестный статус «" + req.ActionType + "»"})
			return
		}
		action, err = l.SetStatus(c.Request.Context(), contact.ID, event.ID, status, actor)
	}
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	if req.Comment != "" && action.Comment != req.Comment {
		if err := config.DB.Model(&models.Action{}).Where("id = ?", action.ID).
			Update("comment", req.Comment).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить комментарий: " + err.Error()})
			return
		}
		action.Comment = req.Comment
	}

	GlobalLiveHub.BroadcastAction(action)
	c.JSON(http.StatusOK, gin.H{
		"contactId": contact.ID,
		"actionId":  action.ID,
		"status":    action.Status,
	})
}

// resolveGuestContact находит контакт по ID, никнейму или ФИО; если не
// нашёлся - создаёт. Справочные поля (компания, категория, тип) заводятся
// по названию на лету.
func resolveGuestContact(tx *gorm.DB, req *GuestSaveRequest) (*models.Contact, error) {
	nickname := strings.TrimSpace(req.Nickname)
	lastName := strings.TrimSpace(req.LastName)
	firstName := strings.TrimSpace(req.FirstName)
	middleName := strings.TrimSpace(req.MiddleName)

	if req.ContactID != nil {
		var contact models.Contact
		if err := tx.First(&contact, *req.ContactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.New("Гость не найден")
			}
			return nil, err
		}
		return &contact, nil
	}

	if contact, err := findContact(tx, nickname, lastName, firstName, middleName); err == nil {
		return contact, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if lastName == "" || firstName == "" {
		return nil, errors.New("Для нового гостя нужны фамилия и имя")
	}

	contact := models.Contact{
		LastName:   lastName,
		FirstName:  firstName,
		MiddleName: middleName,
	}
	if nickname != "" {
		contact.Nickname = &nickname
	}

	if name := strings.TrimSpace(req.Company); name != "" {
		company, err := getOrCreateCompany(tx, name)
		if err != nil {
			return nil, err
		}
		contact.CompanyID = &company.ID
	}
	if name := strings.TrimSpace(req.Category); name != "" {
		category, err := getOrCreateCategory(tx, name)
		if err != nil {
			return nil, err
		}
		contact.CategoryID = &category.ID
	}
	if name := strings.TrimSpace(req.TypeGuest); name != "" {
		typeGuest, err := getOrCreateTypeGuest(tx, name)
		if err != nil {
			return nil, err
		}
		contact.TypeGuestID = &typeGuest.ID
	}

	if err := tx.Create(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func getOrCreateCompany(tx *gorm.DB, name string) (*models.CompanyContact, error) {
	var company models.CompanyContact
	err := tx.Where("name = ?", name).
		FirstOrCreate(&company, models.CompanyContact{Name: name}).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func getOrCreateCategory(tx *gorm.DB, name string) (*models.CategoryContact, error) {
	var category models.CategoryContact
	err := tx.Where("name = ?", name).
		FirstOrCreate(&category, models.CategoryContact{Name: name}).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func getOrCreateTypeGuest(tx *gorm.DB, name string) (*models.TypeGuestContact, error) {
	var typeGuest models.TypeGuestContact
	err := tx.Where("name = ?", name).
		FirstOrCreate(&typeGuest, models.TypeGuestContact{Name: name}).Error
	if err != nil {
		return nil, err
	}
	return &typeGuest, nil
}

// GuestDeleteHandler убирает гостя из таблицы мероприятия: регистрация
// удаляется, журнал переходов остаётся. POST /api/events/:id/guests/delete.
func GuestDeleteHandler(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}

	var req struct {
		ContactID uint `json:"contactId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите гостя"})
		return
	}
	if !userInEventScope(c, uint(eventID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	if err := getLedger().Delete(c.Request.Context(), req.ContactID, uint(eventID)); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Гость убран из списка"})
}

// SearchContactsHandler - быстрый поиск гостей для добавления на мероприятие:
// возвращает до 20 совпадений по ФИО или никнейму с пометкой, есть ли уже
// регистрация на указанное мероприятие.
func SearchContactsHandler(c *gin.Context) {
	term := strings.TrimSpace(c.Query("term"))
	if term == "" {
		c.JSON(http.StatusOK, gin.H{"results": []gin.H{}})
		return
	}
	searchPattern := "%" + strings.ToLower(term) + "%"

	var contacts []models.Contact
	if err := config.DB.
		Where("LOWER(last_name) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(nickname) LIKE ?",
			searchPattern, searchPattern, searchPattern).
		Order("last_name, first_name").Limit(20).
		Find(&contacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка поиска"})
		return
	}

	registered := map[uint]models.ActionStatus{}
	if eventIDStr := c.Query("event"); eventIDStr != "" && len(contacts) > 0 {
		ids := make([]uint, 0, len(contacts))
		for _, contact := range contacts {
			ids = append(ids, contact.ID)
		}
		var actions []models.Action
		config.DB.Where("module_instance_id = ? AND contact_id IN ?", eventIDStr, ids).
			Find(&actions)
		for _, a := range actions {
			registered[a.ContactID] = a.Status
		}
	}

	results := make([]gin.H, 0, len(contacts))
	for _, contact := range contacts {
		row := gin.H{
			"id":       contact.ID,
			"fio":      contact.FIO(),
			"nickname": contact.NicknameValue(),
		}
		if status, ok := registered[contact.ID]; ok {
			row["actionType"] = status
		}
		results = append(results, row)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
