// checkin/internal/handlers/contact_handler.go
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

// --- Структуры для входящих данных и ответов по ГОСТЯМ ---

type ContactRequest struct {
	LastName    string `json:"lastName" binding:"required"`
	FirstName   string `json:"firstName" binding:"required"`
	MiddleName  string `json:"middleName"`
	Nickname    string `json:"nickname"`
	CompanyID   *uint  `json:"companyId"`
	CategoryID  *uint  `json:"categoryId"`
	TypeGuestID *uint  `json:"typeGuestId"`
	ProducerID  *uint  `json:"producerId"`
	Comment     string `json:"comment"`
	PhotoURL    string `json:"photoUrl"`
}

type ContactListResponse struct {
	ID         uint   `json:"ID"`
	LastName   string `json:"lastName"`
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	Nickname   string `json:"nickname"`
	Company    string `json:"company"`
	Category   string `json:"category"`
	TypeGuest  string `json:"typeGuest"`
	PhotoURL   string `json:"photoUrl"`
}

func (r *ContactRequest) apply(contact *models.Contact) {
	contact.LastName = strings.TrimSpace(r.LastName)
	contact.FirstName = strings.TrimSpace(r.FirstName)
	contact.MiddleName = strings.TrimSpace(r.MiddleName)
	if nick := strings.TrimSpace(r.Nickname); nick != "" {
		contact.Nickname = &nick
	} else {
		contact.Nickname = nil
	}
	contact.CompanyID = r.CompanyID
	contact.CategoryID = r.CategoryID
	contact.TypeGuestID = r.TypeGuestID
	contact.ProducerID = r.ProducerID
	contact.Comment = r.Comment
	contact.PhotoURL = r.PhotoURL
}

// ListContactsHandler возвращает постраничный список гостей с поиском по
// ФИО и никнейму.
func ListContactsHandler(c *gin.Context) {
	var contacts []ContactListResponse
	var totalRows int64

	baseQuery := config.DB.Table("contacts").
		Select(`
            contacts.id,
            contacts.last_name,
            contacts.first_name,
            contacts.middle_name,
            COALESCE(contacts.nickname, '') as nickname,
            contacts.photo_url,
            COALESCE(company_contacts.name, '') as company,
            COALESCE(category_contacts.name, '') as category,
            COALESCE(type_guest_contacts.name, '') as type_guest
        `).
		Joins("LEFT JOIN company_contacts ON contacts.company_id = company_contacts.id").
		Joins("LEFT JOIN category_contacts ON contacts.category_id = category_contacts.id").
		Joins("LEFT JOIN type_guest_contacts ON contacts.type_guest_id = type_guest_contacts.id").
		Where("contacts.deleted_at IS NULL")

	if searchQuery := c.Query("search"); searchQuery != "" {
		searchPattern := "%" + strings.ToLower(searchQuery) + "%"
		baseQuery = baseQuery.Where(
			"LOWER(contacts.last_name) LIKE ? OR LOWER(contacts.first_name) LIKE ? OR LOWER(contacts.nickname) LIKE ?",
			searchPattern, searchPattern, searchPattern,
		)
	}

	if err := baseQuery.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось посчитать гостей"})
		return
	}

	if err := baseQuery.Scopes(Paginate(c)).
		Order("contacts.last_name, contacts.first_name").
		Scan(&contacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список гостей"})
		return
	}

	if contacts == nil {
		contacts = make([]ContactListResponse, 0)
	}
	c.JSON(http.StatusOK, CreatePaginatedResponse(c, contacts, totalRows))
}

func GetContactHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID гостя"})
		return
	}

	var contact models.Contact
	if err := config.DB.
		Preload("Company").Preload("Category").Preload("TypeGuest").Preload("Producer").
		First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Гость не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения данных гостя: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}

// CreateContactHandler создаёт гостя. Дубликат по тройке ФИО или никнейму
// отклоняется с кодом 409.
func CreateContactHandler(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Фамилия и Имя обязательны"})
		return
	}

	var contact models.Contact
	req.apply(&contact)

	if err := config.DB.Create(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Такой гость уже есть в базе"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать гостя: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func UpdateContactHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID гостя"})
		return
	}

	var contact models.Contact
	if err := config.DB.First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Гость не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Фамилия и Имя обязательны"})
		return
	}
	req.apply(&contact)

	if err := config.DB.Save(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Такой гость уже есть в базе"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить гостя: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}

// DeleteContactHandler удаляет гостя физически: мягко удалённая строка
// продолжала бы занимать ФИО и никнейм в уникальных индексах и не дала бы
// завести такого же гостя заново. Регистрации удаляются каскадом на уровне
// БД, журнал переходов остаётся.
func DeleteContactHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID гостя"})
		return
	}
	res := config.DB.Unscoped().Delete(&models.Contact{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Гость не найден"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Гость удалён"})
}

// FindContactHandler ищет гостя по никнейму или тройке ФИО - так же, как
// это делает импорт регистраций.
func FindContactHandler(c *gin.Context) {
	nickname := strings.TrimSpace(c.Query("nickname"))
	lastName := strings.TrimSpace(c.Query("lastName"))
	firstName := strings.TrimSpace(c.Query("firstName"))
	middleName := strings.TrimSpace(c.Query("middleName"))

	contact, err := findContact(config.DB, nickname, lastName, firstName, middleName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Гость не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}

// findContact: сначала по никнейму, затем по тройке ФИО (пустое отчество
// совпадает с любым).
func findContact(db *gorm.DB, nickname, lastName, firstName, middleName string) (*models.Contact, error) {
	var contact models.Contact
	if nickname != "" {
		if err := db.Where("nickname = ?", nickname).First(&contact).Error; err == nil {
			return &contact, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if lastName == "" || firstName == "" {
		return nil, gorm.ErrRecordNotFound
	}
	query := db.Where("last_name = ? AND first_name = ?", lastName, firstName)
	if middleName != "" {
		query = query.Where("middle_name = ? OR middle_name = ''", middleName)
	}
	if err := query.First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// AutocompleteHandler - автокомплит справочников для таблицы гостей.
// field: company, category, type_guest, producer.
func AutocompleteHandler(c *gin.Context) {
	field := c.Param("field")
	term := "%" + strings.ToLower(c.Query("term")) + "%"

	type item struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}
	var results []item

	switch field {
	case "company":
		config.DB.Model(&models.CompanyContact{}).
			Where("LOWER(name) LIKE ?", term).Order("name").Limit(20).
			Select("id, name").Scan(&results)
	case "category":
		config.DB.Model(&models.CategoryContact{}).
			Where("LOWER(name) LIKE ?", term).Order("name").Limit(20).
			Select("id, name").Scan(&results)
	case "type_guest":
		config.DB.Model(&models.TypeGuestContact{}).
			Where("LOWER(name) LIKE ?", term).Order("name").Limit(20).
			Select("id, name").Scan(&results)
	case "producer":
		// Ищем только пользователей из группы "Продюсер"
		config.DB.Table("users").
			Joins("JOIN user_roles ON user_roles.user_id = users.id").
			Joins("JOIN roles ON roles.id = user_roles.role_id").
			Where("roles.name = ?", models.RoleProducer).
			Where("LOWER(users.last_name) LIKE ? OR LOWER(users.first_name) LIKE ?", term, term).
			Order("users.last_name, users.first_name").Limit(20).
			Select("users.id, users.last_name || ' ' || users.first_name as name").
			Scan(&results)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid field"})
		return
	}

	if results == nil {
		results = make([]item, 0)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
