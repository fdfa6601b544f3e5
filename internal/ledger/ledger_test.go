package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suslyaev/checkin/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
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
	// Одно соединение: все транзакции сериализуются на хранилище,
	// как на строчных блокировках постгреса.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{}, &models.Role{}, &models.Permission{},
		&models.CompanyContact{}, &models.CategoryContact{}, &models.TypeGuestContact{},
		&models.Contact{}, &models.ModuleInstance{},
		&models.Action{}, &models.ActionLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedPair(t *testing.T, db *gorm.DB) (uint, uint) {
	t.Helper()
	contact := models.Contact{LastName: "Иванов", FirstName: "Иван"}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	event := models.ModuleInstance{Name: "Конференция"}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	return contact.ID, event.ID
}

func countLogs(t *testing.T, db *gorm.DB, actionID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.ActionLog{}).Where("action_id = ?", actionID).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestGetOrCreate_DefaultAnnounced(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	action, err := l.GetOrCreate(ctx, contactID, eventID, nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if action.Status != models.StatusAnnounced {
		t.Fatalf("expected announced, got %s", action.Status)
	}
	if n := countLogs(t, db, action.ID); n != 0 {
		t.Fatalf("creation must not write audit rows, got %d", n)
	}

	again, err := l.GetOrCreate(ctx, contactID, eventID, nil)
	if err != nil {
		t.Fatalf("GetOrCreate repeat: %v", err)
	}
	if again.ID != action.ID {
		t.Fatalf("expected the same row, got %d and %d", action.ID, again.ID)
	}
}

func TestGetOrCreate_DanglingRefs(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	if _, err := l.GetOrCreate(ctx, contactID+100, eventID, nil); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if _, err := l.GetOrCreate(ctx, contactID, eventID+100, nil); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

// Сценарий из жизни: анонс, приглашение, регистрация, попытка отката в анонс.
func TestSetStatus_EndToEnd(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	actorID := uint(42)
	actor := &actorID

	action, err := l.GetOrCreate(ctx, contactID, eventID, actor)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	action, err = l.SetStatus(ctx, contactID, eventID, models.StatusInvited, actor)
	if err != nil {
		t.Fatalf("invited: %v", err)
	}
	if action.Status != models.StatusInvited {
		t.Fatalf("expected invited, got %s", action.Status)
	}
	if n := countLogs(t, db, action.ID); n != 1 {
		t.Fatalf("expected 1 audit row, got %d", n)
	}

	action, err = l.SetStatus(ctx, contactID, eventID, models.StatusRegistered, actor)
	if err != nil {
		t.Fatalf("registered: %v", err)
	}
	if n := countLogs(t, db, action.ID); n != 2 {
		t.Fatalf("expected 2 audit rows, got %d", n)
	}

	_, err = l.SetStatus(ctx, contactID, eventID, models.StatusAnnounced, actor)
	var ite *models.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if n := countLogs(t, db, action.ID); n != 2 {
		t.Fatalf("rejected transition must not write audit rows, got %d", n)
	}

	logs, err := l.History(ctx, action.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(logs))
	}
	// Новые сверху
	if logs[0].NewStatus != models.StatusRegistered || logs[1].NewStatus != models.StatusInvited {
		t.Fatalf("unexpected history order: %s, %s", logs[0].NewStatus, logs[1].NewStatus)
	}
	if logs[0].ActorID == nil || *logs[0].ActorID != actorID {
		t.Fatalf("actor not recorded in audit row")
	}
}

// Записи нет: SetStatus создает ее, но только в начальном статусе.
func TestSetStatus_CreatesRowOnlyAsAnnounced(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	if _, err := l.SetStatus(ctx, contactID, eventID, models.StatusVisited, nil); err == nil {
		t.Fatalf("expected rejection of visited for a fresh pair")
	}

	action, err := l.SetStatus(ctx, contactID, eventID, models.StatusAnnounced, nil)
	if err != nil {
		t.Fatalf("announced: %v", err)
	}
	if action.Status != models.StatusAnnounced {
		t.Fatalf("expected announced, got %s", action.Status)
	}
	if n := countLogs(t, db, action.ID); n != 0 {
		t.Fatalf("creation must not write audit rows, got %d", n)
	}
}

func TestDelete_KeepsAuditTrail(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	action, err := l.GetOrCreate(ctx, contactID, eventID, nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := l.SetStatus(ctx, contactID, eventID, models.StatusInvited, nil); err != nil {
		t.Fatalf("invited: %v", err)
	}

	if err := l.Delete(ctx, contactID, eventID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := l.Delete(ctx, contactID, eventID); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound on repeat, got %v", err)
	}
	if n := countLogs(t, db, action.ID); n != 1 {
		t.Fatalf("audit trail must survive deletion, got %d rows", n)
	}
}

func TestDelete_PairCanBeRecreated(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	first, err := l.GetOrCreate(ctx, contactID, eventID, nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := l.Delete(ctx, contactID, eventID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Удалённая пара должна освобождать уникальный индекс: регистрация
	// начинается с чистого листа.
	again, err := l.GetOrCreate(ctx, contactID, eventID, nil)
	if err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
	if again.ID == first.ID {
		t.Fatalf("expected a fresh row, got the old one back")
	}
	if again.Status != models.StatusAnnounced {
		t.Fatalf("fresh row must start announced, got %s", again.Status)
	}

	// И через SetStatus тоже: после удаления создание "из ничего" снова
	// разрешено.
	if err := l.Delete(ctx, contactID, eventID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := l.SetStatus(ctx, contactID, eventID, models.StatusAnnounced, nil); err != nil {
		t.Fatalf("SetStatus after delete: %v", err)
	}

	// Скопировать гостя на другое мероприятие после удаления там записи
	// тоже можно.
	target := models.ModuleInstance{Name: "Повтор"}
	if err := db.Create(&target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}
	if _, err := l.CopyAll(ctx, eventID, target.ID, nil); err != nil {
		t.Fatalf("CopyAll: %v", err)
	}
	if err := l.Delete(ctx, contactID, target.ID); err != nil {
		t.Fatalf("Delete on target: %v", err)
	}
	created, err := l.CopyAll(ctx, eventID, target.ID, nil)
	if err != nil {
		t.Fatalf("CopyAll after delete: %v", err)
	}
	if created != 1 {
		t.Fatalf("copy after delete must re-create the row, got %d", created)
	}
}

func TestBulkSetStatus_IndependentRows(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()

	event := models.ModuleInstance{Name: "Закрытый показ"}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}

	var ids []uint
	for i, fio := range []struct{ last, first string }{
		{"Петров", "Петр"}, {"Сидорова", "Анна"}, {"Кузнецов", "Олег"},
	} {
		contact := models.Contact{LastName: fio.last, FirstName: fio.first}
		if err := db.Create(&contact).Error; err != nil {
			t.Fatalf("create contact %d: %v", i, err)
		}
		action, err := l.GetOrCreate(ctx, contact.ID, event.ID, nil)
		if err != nil {
			t.Fatalf("GetOrCreate %d: %v", i, err)
		}
		ids = append(ids, action.ID)
	}

	// Вторую запись уводим вперед, чтобы переход в invited для нее стал незаконным.
	if _, err := l.SetStatusByID(ctx, ids[1], models.StatusInvited, nil); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := l.SetStatusByID(ctx, ids[1], models.StatusRegistered, nil); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	results := l.BulkSetStatus(ctx, ids, models.StatusInvited, nil)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK || !results[2].OK {
		t.Fatalf("rows 0 and 2 must succeed: %+v", results)
	}
	if results[1].OK || results[1].Error == "" {
		t.Fatalf("row 1 must fail with a reason: %+v", results[1])
	}
}

func TestCopyAll_Idempotent(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()

	source := models.ModuleInstance{Name: "Весенний показ"}
	target := models.ModuleInstance{Name: "Осенний показ"}
	if err := db.Create(&source).Error; err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := db.Create(&target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	var contacts []models.Contact
	for _, fio := range []struct{ last, first string }{
		{"Иванов", "Иван"}, {"Петров", "Петр"}, {"Сидорова", "Анна"},
	} {
		c := models.Contact{LastName: fio.last, FirstName: fio.first}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("create contact: %v", err)
		}
		contacts = append(contacts, c)
		if _, err := l.GetOrCreate(ctx, c.ID, source.ID, nil); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}

	// Один контакт уже есть на целевом мероприятии - его копия не создается.
	if _, err := l.GetOrCreate(ctx, contacts[0].ID, target.ID, nil); err != nil {
		t.Fatalf("GetOrCreate target: %v", err)
	}

	actorID := uint(7)
	created, err := l.CopyAll(ctx, source.ID, target.ID, &actorID)
	if err != nil {
		t.Fatalf("CopyAll: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}

	var copied models.Action
	if err := db.Where("contact_id = ? AND module_instance_id = ?", contacts[1].ID, target.ID).
		First(&copied).Error; err != nil {
		t.Fatalf("copied row not found: %v", err)
	}
	if copied.Status != models.StatusAnnounced {
		t.Fatalf("copied row must be announced, got %s", copied.Status)
	}
	if copied.CreatedByID == nil || *copied.CreatedByID != actorID {
		t.Fatalf("copy author must be recorded")
	}

	// Повторный запуск ничего не создает.
	created, err = l.CopyAll(ctx, source.ID, target.ID, &actorID)
	if err != nil {
		t.Fatalf("CopyAll repeat: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 created on repeat, got %d", created)
	}
}

// Два конкурентных перехода из invited: registered и cancelled.
// Выиграть должен ровно один, второй обязан увидеть зафиксированный статус
// и получить отказ валидации.
func TestSetStatus_ConcurrentWriters(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)
	ctx := context.Background()
	contactID, eventID := seedPair(t, db)

	if _, err := l.GetOrCreate(ctx, contactID, eventID, nil); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := l.SetStatus(ctx, contactID, eventID, models.StatusInvited, nil); err != nil {
		t.Fatalf("invited: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, next := range []models.ActionStatus{models.StatusRegistered, models.StatusCancelled} {
		wg.Add(1)
		go func(i int, next models.ActionStatus) {
			defer wg.Done()
			_, errs[i] = l.SetStatus(ctx, contactID, eventID, next, nil)
		}(i, next)
	}
	wg.Wait()

	okCount := 0
	for _, err := range errs {
		if err == nil {
			okCount++
			continue
		}
		var ite *models.IllegalTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("loser must fail with IllegalTransitionError, got %v", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("exactly one writer must win, got %d", okCount)
	}

	var action models.Action
	if err := db.Where("contact_id = ? AND module_instance_id = ?", contactID, eventID).
		First(&action).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if action.Status != models.StatusRegistered && action.Status != models.StatusCancelled {
		t.Fatalf("corrupted final status: %s", action.Status)
	}
	// Ровно один переход invited -> X попал в журнал.
	if n := countLogs(t, db, action.ID); n != 2 {
		t.Fatalf("expected 2 audit rows (announced->invited, invited->X), got %d", n)
	}
}
