// checkin/internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/suslyaev/checkin/models"
)

// Ошибки уровня леджера. Обработчики переводят их в HTTP-коды.
var (
	ErrContactNotFound = errors.New("контакт не найден")
	ErrEventNotFound   = errors.New("мероприятие не найдено")
	ErrActionNotFound  = errors.New("регистрация не найдена")
)

// Сколько раз повторять транзакцию при временных ошибках хранилища
// (блокировки, сериализация) перед тем как отдать ошибку наверх.
const maxRetries = 3

// Ledger управляет записями регистраций. Каждая операция выполняется одной
// транзакцией: чтение текущего статуса, валидация перехода, запись нового
// статуса и строки журнала фиксируются атомарно.
type Ledger struct {
	DB *gorm.DB
}

// NewLedger создает новый экземпляр Ledger.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db}
}

// GetOrCreate возвращает запись для пары (контакт, мероприятие) или создает
// новую со статусом "announced". Создание не считается переходом и не пишет
// строку журнала.
func (l *Ledger) GetOrCreate(ctx context.Context, contactID, eventID uint, actor *uint) (*models.Action, error) {
	if err := l.checkRefs(ctx, contactID, eventID); err != nil {
		return nil, err
	}

	var action models.Action
	err := l.DB.WithContext(ctx).
		Where("contact_id = ? AND module_instance_id = ?", contactID, eventID).
		First(&action).Error
	if err == nil {
		return &action, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	action = models.Action{
		ContactID:        contactID,
		ModuleInstanceID: eventID,
		Status:           models.StatusAnnounced,
		CreatedByID:      actor,
		UpdatedByID:      actor,
	}
	if err := l.DB.WithContext(ctx).Create(&action).Error; err != nil {
		// Параллельный создатель мог успеть первым - уникальный индекс
		// на пару это гарантирует, перечитываем его запись.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.Action
			if ferr := l.DB.WithContext(ctx).
				Where("contact_id = ? AND module_instance_id = ?", contactID, eventID).
				First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &action, nil
}

// SetStatus переводит запись пары (контакт, мероприятие) в новый статус.
// Если записи еще нет, она создается, при условии что переход "из ничего"
// разрешен таблицей переходов. Успешный переход атомарно дописывает строку
// в журнал. Потерянные обновления исключены: статус меняется сравнением
// с тем значением, которое прошло валидацию, и проигравший конкурентный
// писатель перечитывает зафиксированное состояние.
func (l *Ledger) SetStatus(ctx context.Context, contactID, eventID uint, next models.ActionStatus, actor *uint) (*models.Action, error) {
	if err := l.checkRefs(ctx, contactID, eventID); err != nil {
		return nil, err
	}

	var result *models.Action
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, lastErr = l.trySetStatus(ctx, contactID, eventID, next, actor)
		if lastErr == nil {
			return result, nil
		}
		var ite *models.IllegalTransitionError
		if errors.As(lastErr, &ite) {
			return nil, lastErr
		}
		if !isTransientErr(lastErr) {
			return nil, lastErr
		}
		slog.Warn("Временная ошибка хранилища, повтор перехода",
			"attempt", attempt+1, "contact_id", contactID, "event_id", eventID, "error", lastErr)
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}
	return nil, lastErr
}

func (l *Ledger) trySetStatus(ctx context.Context, contactID, eventID uint, next models.ActionStatus, actor *uint) (*models.Action, error) {
	var updated models.Action
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var action models.Action
		err := tx.Where("contact_id = ? AND module_instance_id = ?", contactID, eventID).
			First(&action).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Записи нет: допустимо только создание в начальном статусе.
			if verr := models.ValidateTransition(nil, next); verr != nil {
				return verr
			}
			action = models.Action{
				ContactID:        contactID,
				ModuleInstanceID: eventID,
				Status:           next,
				CreatedByID:      actor,
				UpdatedByID:      actor,
			}
			if cerr := tx.Create(&action).Error; cerr != nil {
				return cerr
			}
			updated = action
			return nil
		}
		if err != nil {
			return err
		}

		current := action.Status
		if verr := models.ValidateTransition(&current, next); verr != nil {
			return verr
		}

		// Обновляем только если статус не изменился с момента чтения.
		// Проигравший из двух конкурентных писателей получит 0 строк
		// и провалидирует переход заново по свежему состоянию.
		res := tx.Model(&models.Action{}).
			Where("id = ? AND status = ?", action.ID, current).
			Updates(map[string]any{
				"status":        next,
				"updated_by_id": actor,
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var fresh models.Action
			if ferr := tx.First(&fresh, action.ID).Error; ferr != nil {
				return ferr
			}
			freshStatus := fresh.Status
			if verr := models.ValidateTransition(&freshStatus, next); verr != nil {
				return verr
			}
			// Переход все еще легален по свежему состоянию - отдаем
			// временную ошибку, внешний цикл повторит транзакцию.
			return fmt.Errorf("конкурентное изменение записи %d: %w", action.ID, errConcurrentUpdate)
		}

		logRow := models.ActionLog{
			ActionID:  action.ID,
			OldStatus: current,
			NewStatus: next,
			ActorID:   actor,
			CreatedAt: time.Now(),
		}
		if lerr := tx.Create(&logRow).Error; lerr != nil {
			return lerr
		}

		if ferr := tx.First(&updated, action.ID).Error; ferr != nil {
			return ferr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetStatusByID - тот же переход, но по идентификатору записи.
func (l *Ledger) SetStatusByID(ctx context.Context, actionID uint, next models.ActionStatus, actor *uint) (*models.Action, error) {
	var action models.Action
	if err := l.DB.WithContext(ctx).First(&action, actionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, err
	}
	return l.SetStatus(ctx, action.ContactID, action.ModuleInstanceID, next, actor)
}

// BulkResult - результат обработки одной записи в массовой операции.
type BulkResult struct {
	ActionID uint   `json:"actionId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// BulkSetStatus применяет переход к каждой записи независимо: ошибка одной
// строки не откатывает остальные. Итог по каждой строке возвращается
// вызывающему - молча пропускать ошибки здесь нельзя.
func (l *Ledger) BulkSetStatus(ctx context.Context, actionIDs []uint, next models.ActionStatus, actor *uint) []BulkResult {
	results := make([]BulkResult, 0, len(actionIDs))
	for _, id := range actionIDs {
		if _, err := l.SetStatusByID(ctx, id, next, actor); err != nil {
			results = append(results, BulkResult{ActionID: id, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{ActionID: id, OK: true})
	}
	return results
}

// Delete удаляет запись пары целиком (сценарий "отменить регистрацию
// как не бывшую"). Удаление физическое: мягко удалённая строка продолжала
// бы занимать пару в уникальном индексе, и гостя нельзя было бы
// зарегистрировать на это мероприятие заново. Журнал при этом не трогается.
func (l *Ledger) Delete(ctx context.Context, contactID, eventID uint) error {
	res := l.DB.WithContext(ctx).Unscoped().
		Where("contact_id = ? AND module_instance_id = ?", contactID, eventID).
		Delete(&models.Action{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

// CopyAll копирует список гостей с одного мероприятия на другое: для каждого
// контакта исходного мероприятия, у которого еще нет записи на целевом,
// создается запись в статусе "announced" с указанием автора копирования.
// Уже существующие записи не трогаются, поэтому повторный запуск ничего
// не создает. Журнальные строки не пишутся - это создание, а не переход,
// но авторство фиксируется в created_by каждой новой записи.
func (l *Ledger) CopyAll(ctx context.Context, sourceEventID, targetEventID uint, actor *uint) (int, error) {
	if err := l.checkEvent(ctx, sourceEventID); err != nil {
		return 0, err
	}
	if err := l.checkEvent(ctx, targetEventID); err != nil {
		return 0, err
	}

	var sourceActions []models.Action
	if err := l.DB.WithContext(ctx).
		Where("module_instance_id = ?", sourceEventID).
		Find(&sourceActions).Error; err != nil {
		return 0, err
	}

	created := 0
	for _, src := range sourceActions {
		var count int64
		if err := l.DB.WithContext(ctx).Model(&models.Action{}).
			Where("contact_id = ? AND module_instance_id = ?", src.ContactID, targetEventID).
			Count(&count).Error; err != nil {
			return created, err
		}
		if count > 0 {
			continue
		}
		row := models.Action{
			ContactID:        src.ContactID,
			ModuleInstanceID: targetEventID,
			Status:           models.StatusAnnounced,
			CreatedByID:      actor,
			UpdatedByID:      actor,
		}
		if err := l.DB.WithContext(ctx).Create(&row).Error; err != nil {
			// Гонка с параллельным копированием или ручным созданием.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

// History возвращает журнал переходов записи, новые сверху.
func (l *Ledger) History(ctx context.Context, actionID uint) ([]models.ActionLog, error) {
	var logs []models.ActionLog
	err := l.DB.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("created_at DESC, id DESC").
		Find(&logs).Error
	return logs, err
}

func (l *Ledger) checkRefs(ctx context.Context, contactID, eventID uint) error {
	var count int64
	if err := l.DB.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", contactID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrContactNotFound
	}
	return l.checkEvent(ctx, eventID)
}

func (l *Ledger) checkEvent(ctx context.Context, eventID uint) error {
	var count int64
	if err := l.DB.WithContext(ctx).Model(&models.ModuleInstance{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrEventNotFound
	}
	return nil
}

var errConcurrentUpdate = errors.New("concurrent update")

// isTransientErr распознает временные ошибки хранилища, которые безопасно
// повторить: блокировки sqlite, дедлоки и ошибки сериализации postgres,
// проигрыш конкурентному писателю.
func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errConcurrentUpdate) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "connection reset")
}
