package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/models"
)

// setupTestAPI поднимает in-memory БД, подменяет config.DB и собирает роутер
// с тестовой аутентификацией: все запросы идут от суперпользователя с ID 1.
func setupTestAPI(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{}, &models.Role{}, &models.Permission{},
		&models.CompanyContact{}, &models.CategoryContact{}, &models.TypeGuestContact{},
		&models.Contact{}, &models.ModuleInstance{},
		&models.Action{}, &models.ActionLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	config.DB = db

	admin := models.User{Login: "admin", Password: "x", IsSuperuser: true, IsActive: true}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}

	return testRouterAs(admin.ID, true)
}

// testRouterAs собирает роутер поверх уже подменённой config.DB от имени
// заданного оператора. Для проверок доступа нужен и обычный пользователь,
// не только суперпользователь.
func testRouterAs(userID uint, superuser bool) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("is_superuser", superuser)
		c.Next()
	})

	contacts := r.Group("/api/contacts")
	{
		contacts.POST("", CreateContactHandler)
		contacts.DELETE("/:id", DeleteContactHandler)
	}
	events := r.Group("/api/events")
	{
		events.POST("", CreateEventHandler)
		events.DELETE("/:id", DeleteEventHandler)
		events.POST("/:id/guests", GuestSaveHandler)
		events.POST("/:id/guests/delete", GuestDeleteHandler)
		events.POST("/:id/copy-to/:target", CopyActionsHandler)
	}
	actions := r.Group("/api/actions")
	{
		actions.GET("", ListActionsHandler)
		actions.POST("", CreateActionHandler)
		actions.POST("/:id/transition", TransitionActionHandler)
		actions.POST("/bulk", BulkTransitionHandler)
		actions.GET("/:id/history", ActionHistoryHandler)
		actions.DELETE("/:id", DeleteActionHandler)
	}

	return r
}

func seedContactAndEvent(t *testing.T, lastName, eventName string) (uint, uint) {
	t.Helper()
	contact := models.Contact{LastName: lastName, FirstName: "Тест"}
	if err := config.DB.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	event := models.ModuleInstance{Name: eventName}
	if err := config.DB.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	return contact.ID, event.ID
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAction_DefaultsToAnnounced(t *testing.T) {
	r := setupTestAPI(t)
	contactID, eventID := seedContactAndEvent(t, "Петров", "Форум")

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID,
		"eventId":   eventID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var action models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &action); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if action.Status != models.StatusAnnounced {
		t.Fatalf("expected announced, got %s", action.Status)
	}
}

func TestTransitionAction_LegalAndIllegal(t *testing.T) {
	r := setupTestAPI(t)
	contactID, eventID := seedContactAndEvent(t, "Сидоров", "Премия")

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID,
		"eventId":   eventID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var action models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &action); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// announced -> invited: разрешено.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", action.ID), gin.H{
		"actionType": "invited",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("invited: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// announced -> visited напрямую запрещён, а мы уже invited: invited -> visited тоже.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", action.ID), gin.H{
		"actionType": "visited",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("visited from invited: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// Статус не должен был измениться.
	var fresh models.Action
	if err := config.DB.First(&fresh, action.ID).Error; err != nil {
		t.Fatalf("reload action: %v", err)
	}
	if fresh.Status != models.StatusInvited {
		t.Fatalf("rejected transition must not change status, got %s", fresh.Status)
	}
}

func TestTransitionAction_LegacyVocabulary(t *testing.T) {
	r := setupTestAPI(t)
	contactID, eventID := seedContactAndEvent(t, "Кузнецов", "Показ")

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID, "eventId": eventID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
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

	// "new" из старого словаря означает регистрацию.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", action.ID), gin.H{
		"actionType": "new",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("legacy new: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != models.StatusRegistered {
		t.Fatalf("legacy new must map to registered, got %s", updated.Status)
	}
}

func TestActionHistory_RecordsTransitions(t *testing.T) {
	r := setupTestAPI(t)
	contactID, eventID := seedContactAndEvent(t, "Орлов", "Съезд")

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID, "eventId": eventID,
	})
	var action models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &action); err != nil {
		t.Fatalf("decode: %v", err)
	}

	for _, next := range []string{"invited", "registered", "visited"} {
		w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", action.ID), gin.H{
			"actionType": next,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("transition %s: expected 200, got %d: %s", next, w.Code, w.Body.String())
		}
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/actions/%d/history", action.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data []models.ActionLog `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(resp.Data))
	}
	// Новые сверху.
	if resp.Data[0].NewStatus != models.StatusVisited {
		t.Fatalf("expected visited first, got %s", resp.Data[0].NewStatus)
	}
	if resp.Data[2].OldStatus != models.StatusAnnounced {
		t.Fatalf("expected announced as first old status, got %s", resp.Data[2].OldStatus)
	}
}

func TestBulkTransition_IndependentRows(t *testing.T) {
	r := setupTestAPI(t)
	contactA, eventID := seedContactAndEvent(t, "Белов", "Гала")
	contactB := models.Contact{LastName: "Чернов", FirstName: "Тест"}
	if err := config.DB.Create(&contactB).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}

	// Первый доводится до invited, второй остаётся announced.
	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactA, "eventId": eventID,
	})
	var first models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", first.ID), gin.H{
		"actionType": "invited",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("invited: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactB.ID, "eventId": eventID,
	})
	var second models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// registered разрешён только из invited: вторая строка должна упасть,
	// первая - пройти.
	w = doJSON(t, r, http.MethodPost, "/api/actions/bulk", gin.H{
		"actionIds":  []uint{first.ID, second.ID},
		"actionType": "registered",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode bulk: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", resp)
	}
}

func TestCopyActions_Idempotent(t *testing.T) {
	r := setupTestAPI(t)
	contactID, sourceID := seedContactAndEvent(t, "Волков", "Закрытие")
	target := models.ModuleInstance{Name: "Афтепати"}
	if err := config.DB.Create(&target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID, "eventId": sourceID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed action: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var seeded models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &seeded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, next := range []string{"invited", "registered"} {
		w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/actions/%d/transition", seeded.ID), gin.H{
			"actionType": next,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("transition %s: expected 200, got %d: %s", next, w.Code, w.Body.String())
		}
	}

	url := fmt.Sprintf("/api/events/%d/copy-to/%d", sourceID, target.ID)
	w = doJSON(t, r, http.MethodPost, url, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("copy: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Created int `json:"created"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode copy: %v", err)
	}
	if resp.Created != 1 {
		t.Fatalf("expected 1 created, got %d", resp.Created)
	}

	// Повторный запуск ничего не создаёт.
	w = doJSON(t, r, http.MethodPost, url, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode copy: %v", err)
	}
	if resp.Created != 0 {
		t.Fatalf("second copy must create nothing, got %d", resp.Created)
	}

	// Скопированная запись в статусе announced, без строк журнала.
	var copied models.Action
	if err := config.DB.Where("contact_id = ? AND module_instance_id = ?", contactID, target.ID).
		First(&copied).Error; err != nil {
		t.Fatalf("load copied action: %v", err)
	}
	if copied.Status != models.StatusAnnounced {
		t.Fatalf("copied action must be announced, got %s", copied.Status)
	}
}

func TestGuestSave_CreatesContactAndDictionaries(t *testing.T) {
	r := setupTestAPI(t)
	event := models.ModuleInstance{Name: "Фестиваль"}
	if err := config.DB.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/events/%d/guests", event.ID), gin.H{
		"lastName":  "Новиков",
		"firstName": "Павел",
		"company":   "ООО Ромашка",
		"category":  "VIP",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var contact models.Contact
	if err := config.DB.Where("last_name = ?", "Новиков").
		Preload("Company").Preload("Category").First(&contact).Error; err != nil {
		t.Fatalf("load contact: %v", err)
	}
	if contact.Company == nil || contact.Company.Name != "ООО Ромашка" {
		t.Fatalf("company dictionary entry not created: %+v", contact.Company)
	}
	if contact.Category == nil || contact.Category.Name != "VIP" {
		t.Fatalf("category dictionary entry not created: %+v", contact.Category)
	}

	// Повторное сохранение той же строки не плодит дублей.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/events/%d/guests", event.ID), gin.H{
		"lastName":  "Новиков",
		"firstName": "Павел",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("second save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var contactCount int64
	config.DB.Model(&models.Contact{}).Where("last_name = ?", "Новиков").Count(&contactCount)
	if contactCount != 1 {
		t.Fatalf("expected a single contact, got %d", contactCount)
	}
}

func TestDeleteAction_KeepsAuditTrail(t *testing.T) {
	r := setupTestAPI(t)
	contactID, eventID := seedContactAndEvent(t, "Морозов", "Открытие")

	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contactID, "eventId": eventID,
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

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/actions/%d", action.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var logCount int64
	config.DB.Model(&models.ActionLog{}).Where("action_id = ?", action.ID).Count(&logCount)
	if logCount != 1 {
		t.Fatalf("audit trail must survive deletion, got %d rows", logCount)
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/actions/%d", action.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

// Массовый переход проверяет доступ к мероприятию каждой записи: строки
// чужих мероприятий попадают в итог как ошибки, а не меняют статус.
func TestBulkTransition_ChecksEventScope(t *testing.T) {
	r := setupTestAPI(t)

	manager := models.User{Login: "manager", Password: "x", IsActive: true}
	if err := config.DB.Create(&manager).Error; err != nil {
		t.Fatalf("create manager: %v", err)
	}
	eventMine := models.ModuleInstance{Name: "Своё мероприятие"}
	eventOther := models.ModuleInstance{Name: "Чужое мероприятие"}
	if err := config.DB.Create(&eventMine).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := config.DB.Create(&eventOther).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := config.DB.Model(&eventMine).Association("Managers").Append(&manager); err != nil {
		t.Fatalf("append manager: %v", err)
	}
	contact := models.Contact{LastName: "Громов", FirstName: "Тест"}
	if err := config.DB.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}

	// Суперпользователь заводит по записи на оба мероприятия.
	var mine, other models.Action
	w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contact.ID, "eventId": eventMine.ID,
	})
	if err := json.Unmarshal(w.Body.Bytes(), &mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
		"contactId": contact.ID, "eventId": eventOther.ID,
	})
	if err := json.Unmarshal(w.Body.Bytes(), &other); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Менеджер пытается перевести обе записи разом.
	mr := testRouterAs(manager.ID, false)
	w = doJSON(t, mr, http.MethodPost, "/api/actions/bulk", gin.H{
		"actionIds":  []uint{mine.ID, other.ID},
		"actionType": "invited",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Results   []struct {
			ActionID uint   `json:"actionId"`
			OK       bool   `json:"ok"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode bulk: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", resp)
	}
	for _, row := range resp.Results {
		if row.ActionID == other.ID && (row.OK || row.Error == "") {
			t.Fatalf("out-of-scope row must fail with an error, got %+v", row)
		}
	}

	// Чужая запись осталась нетронутой, своя перешла.
	var fresh models.Action
	if err := config.DB.First(&fresh, other.ID).Error; err != nil {
		t.Fatalf("reload other: %v", err)
	}
	if fresh.Status != models.StatusAnnounced {
		t.Fatalf("out-of-scope action must keep its status, got %s", fresh.Status)
	}
	var freshMine models.Action
	if err := config.DB.First(&freshMine, mine.ID).Error; err != nil {
		t.Fatalf("reload mine: %v", err)
	}
	if freshMine.Status != models.StatusInvited {
		t.Fatalf("in-scope action must transition, got %s", freshMine.Status)
	}
}

// Список без фильтра по мероприятию показывает оператору только записи
// мероприятий, где он состоит в ролевом списке.
func TestListActions_LimitedToOperatorEvents(t *testing.T) {
	r := setupTestAPI(t)

	manager := models.User{Login: "manager", Password: "x", IsActive: true}
	if err := config.DB.Create(&manager).Error; err != nil {
		t.Fatalf("create manager: %v", err)
	}
	eventMine := models.ModuleInstance{Name: "Доступное"}
	eventOther := models.ModuleInstance{Name: "Недоступное"}
	if err := config.DB.Create(&eventMine).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := config.DB.Create(&eventOther).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := config.DB.Model(&eventMine).Association("Checkers").Append(&manager); err != nil {
		t.Fatalf("append checker: %v", err)
	}
	contact := models.Contact{LastName: "Лебедев", FirstName: "Тест"}
	if err := config.DB.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	for _, eventID := range []uint{eventMine.ID, eventOther.ID} {
		w := doJSON(t, r, http.MethodPost, "/api/actions", gin.H{
			"contactId": contact.ID, "eventId": eventID,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("seed action: expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	mr := testRouterAs(manager.ID, false)
	w := doJSON(t, mr, http.MethodGet, "/api/actions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data []models.Action `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected only actions of visible events, got %d rows", len(resp.Data))
	}
	if resp.Data[0].ModuleInstanceID != eventMine.ID {
		t.Fatalf("expected action of event %d, got %d", eventMine.ID, resp.Data[0].ModuleInstanceID)
	}

	// Суперпользователь по-прежнему видит всё.
	w = doJSON(t, r, http.MethodGet, "/api/actions", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("superuser must see all actions, got %d rows", len(resp.Data))
	}
}
