// checkin/internal/handlers/import_handler.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/models"
)

// RowResult - итог обработки одной строки импорта. Импорт не прерывается
// на ошибке: каждая строка получает свой вердикт.
type RowResult struct {
	Row     int    `json:"row"`
	Status  string `json:"status"` // created / updated / skipped / error
	Message string `json:"message,omitempty"`
}

var contactImportHeaders = []string{"Фамилия", "Имя", "Отчество", "Никнейм", "Компания", "Категория", "Тип гостя", "Комментарий"}
var registrationImportHeaders = []string{"Никнейм", "Фамилия", "Имя", "Отчество", "Статус"}

// openImportFile читает первый лист приложенного xlsx. При любой проблеме
// ответ уже отправлен, вызывающему остаётся просто выйти.
func openImportFile(c *gin.Context) ([][]string, bool) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Прикрепите файл xlsx в поле «file»"})
		return nil, false
	}
	defer file.Close()

	f, err := excelize.OpenReader(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Не удалось прочитать файл: " + err.Error()})
		return nil, false
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "В файле нет листов"})
		return nil, false
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Не удалось прочитать строки: " + err.Error()})
		return nil, false
	}
	if len(rows) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "В файле нет данных (только заголовок или пусто)"})
		return nil, false
	}
	return rows, true
}

func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ImportContactsHandler загружает гостей из xlsx. Колонки: Фамилия, Имя,
// Отчество, Никнейм, Компания, Категория, Тип гостя, Комментарий.
// Существующие гости (по никнейму или тройке ФИО) пропускаются.
func ImportContactsHandler(c *gin.Context) {
	rows, ok := openImportFile(c)
	if !ok {
		return
	}

	results := make([]RowResult, 0, len(rows)-1)
	created, skipped := 0, 0

	for i, row := range rows[1:] {
		rowNum := i + 2 // номер строки в файле, с учётом заголовка
		lastName := cellAt(row, 0)
		firstName := cellAt(row, 1)
		middleName := cellAt(row, 2)
		nickname := cellAt(row, 3)

		if lastName == "" && firstName == "" && nickname == "" {
			continue // пустая строка
		}
		if lastName == "" || firstName == "" {
			results = append(results, RowResult{Row: rowNum, Status: "error", Message: "Фамилия и Имя обязательны"})
			continue
		}

		if _, err := findContact(config.DB, nickname, lastName, firstName, middleName); err == nil {
			skipped++
			results = append(results, RowResult{Row: rowNum, Status: "skipped", Message: "Гость уже есть в базе"})
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			results = append(results, RowResult{Row: rowNum, Status: "error", Message: err.Error()})
			continue
		}

		err := config.DB.Transaction(func(tx *gorm.DB) error {
			contact := models.Contact{
				LastName:   lastName,
				FirstName:  firstName,
				MiddleName: middleName,
				Comment:    cellAt(row, 7),
			}
			if nickname != "" {
				contact.Nickname = &nickname
			}
			if name := cellAt(row, 4); name != "" {
				company, err := getOrCreateCompany(tx, name)
				if err != nil {
					return err
				}
				contact.CompanyID = &company.ID
			}
			if name := cellAt(row, 5); name != "" {
				category, err := getOrCreateCategory(tx, name)
				if err != nil {
					return err
				}
				contact.CategoryID = &category.ID
			}
			if name := cellAt(row, 6); name != "" {
				typeGuest, err := getOrCreateTypeGuest(tx, name)
				if err != nil {
					return err
				}
				contact.TypeGuestID = &typeGuest.ID
			}
			return tx.Create(&contact).Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				skipped++
				results = append(results, RowResult{Row: rowNum, Status: "skipped", Message: "Гость уже есть в базе"})
			} else {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: err.Error()})
			}
			continue
		}
		created++
		results = append(results, RowResult{Row: rowNum, Status: "created"})
	}

	c.JSON(http.StatusOK, gin.H{
		"created": created,
		"skipped": skipped,
		"errors":  len(results) - created - skipped,
		"results": results,
	})
}

// ImportRegistrationsHandler загружает регистрации на мероприятие из xlsx.
// Колонки: Никнейм, Фамилия, Имя, Отчество, Статус. Гость ищется по
// никнейму, затем по ФИО. Принимается и старый словарь статусов
// (new/checkin/cancel). Пустой статус означает "announced".
func ImportRegistrationsHandler(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
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

	rows, ok := openImportFile(c)
	if !ok {
		return
	}

	actor := currentUserID(c)
	l := getLedger()

	results := make([]RowResult, 0, len(rows)-1)
	applied := 0

	for i, row := range rows[1:] {
		rowNum := i + 2
		nickname := cellAt(row, 0)
		lastName := cellAt(row, 1)
		firstName := cellAt(row, 2)
		middleName := cellAt(row, 3)
		statusStr := cellAt(row, 4)

		if nickname == "" && lastName == "" && firstName == "" {
			continue
		}

		contact, err := findContact(config.DB, nickname, lastName, firstName, middleName)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: "Гость не найден в базе"})
			} else {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: err.Error()})
			}
			continue
		}

		if statusStr == "" {
			if _, err := l.GetOrCreate(c.Request.Context(), contact.ID, event.ID, actor); err != nil {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: err.Error()})
				continue
			}
			applied++
			results = append(results, RowResult{Row: rowNum, Status: "created"})
			continue
		}

		status, known := models.NormalizeStatus(statusStr)
		if !known {
			results = append(results, RowResult{Row: rowNum, Status: "error", Message: "Неизвестный статус «" + statusStr + "»"})
			continue
		}

		action, err := l.SetStatus(c.Request.Context(), contact.ID, event.ID, status, actor)
		if err != nil {
			var ite *models.IllegalTransitionError
			if errors.As(err, &ite) {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: ite.Reason})
			} else {
				results = append(results, RowResult{Row: rowNum, Status: "error", Message: err.Error()})
			}
			continue
		}
		GlobalLiveHub.BroadcastAction(action)
		applied++
		results = append(results, RowResult{Row: rowNum, Status: "updated"})
	}

	c.JSON(http.StatusOK, gin.H{
		"applied": applied,
		"errors":  len(results) - applied,
		"results": results,
	})
}

// ExportActionsHandler выгружает таблицу гостей мероприятия в xlsx.
func ExportActionsHandler(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
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

	var actions []models.Action
	if err := config.DB.
		Preload("Contact").Preload("Contact.Company").
		Preload("Contact.Category").Preload("Contact.TypeGuest").
		Where("module_instance_id = ?", eventID).
		Joins("JOIN contacts ON contacts.id = actions.contact_id").
		Order("contacts.last_name, contacts.first_name").
		Find(&actions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch data for export"})
		return
	}

	f := excelize.NewFile()
	sheetName := "Гости"
	index, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Фамилия", "Имя", "Отчество", "Никнейм", "Компания", "Категория", "Тип гостя", "Статус", "Комментарий"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, a := range actions {
		row := i + 2
		if a.Contact != nil {
			f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), a.Contact.LastName)
			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), a.Contact.FirstName)
			f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), a.Contact.MiddleName)
			f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), a.Contact.NicknameValue())
			if a.Contact.Company != nil {
				f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), a.Contact.Company.Name)
			}
			if a.Contact.Category != nil {
				f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), a.Contact.Category.Name)
			}
			if a.Contact.TypeGuest != nil {
				f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), a.Contact.TypeGuest.Name)
			}
		}
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), models.StatusDisplay[a.Status])
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), a.Comment)
	}

	fileName := fmt.Sprintf("guests_%d_%s.xlsx", event.ID, time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write Excel file"})
	}
}

// ContactsTemplateHandler отдаёт пустой шаблон для импорта гостей.
func ContactsTemplateHandler(c *gin.Context) {
	writeTemplate(c, "Гости", contactImportHeaders, "contacts_template.xlsx")
}

// RegistrationsTemplateHandler отдаёт пустой шаблон для импорта регистраций.
func RegistrationsTemplateHandler(c *gin.Context) {
	writeTemplate(c, "Регистрации", registrationImportHeaders, "registrations_template.xlsx")
}

func writeTemplate(c *gin.Context, sheetName string, headers []string, fileName string) {
	f := excelize.NewFile()
	index, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write Excel file"})
	}
}
