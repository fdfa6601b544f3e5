// checkin/models/transition.go
package models

import "fmt"

// IllegalTransitionError возвращается, когда запрошенный переход статуса
// не разрешён таблицей переходов. Reason - готовый текст для оператора.
type IllegalTransitionError struct {
	From   ActionStatus // пустая строка, если записи ещё нет
	To     ActionStatus
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return e.Reason
}

// Таблица разрешённых переходов. Ключ - текущий статус ("" - записи ещё нет),
// значение - множество допустимых следующих статусов.
var allowedTransitions = map[ActionStatus]map[ActionStatus]bool{
	"":               {StatusAnnounced: true},
	StatusAnnounced:  {StatusInvited: true},
	StatusInvited:    {StatusRegistered: true, StatusCancelled: true},
	StatusRegistered: {StatusVisited: true},
	StatusVisited:    {StatusRegistered: true}, // отмена чекина
	StatusCancelled:  {StatusInvited: true},    // повторное приглашение
}

// ValidateTransition проверяет, разрешён ли переход из current в next.
// current == nil означает, что записи для пары (контакт, мероприятие) ещё нет.
// Функция чистая: никаких запросов к базе, фиксация перехода и запись журнала
// выполняются леджером в одной транзакции.
func ValidateTransition(current *ActionStatus, next ActionStatus) error {
	from := ActionStatus("")
	if current != nil {
		from = *current
	}
	if _, known := StatusDisplay[next]; !known {
		return &IllegalTransitionError{
			From:   from,
			To:     next,
			Reason: fmt.Sprintf("Неизвестный статус «%s»", next),
		}
	}
	if allowedTransitions[from][next] {
		return nil
	}
	if from == "" {
		return &IllegalTransitionError{
			From:   from,
			To:     next,
			Reason: fmt.Sprintf("Новая запись может быть создана только в статусе «%s»", StatusDisplay[StatusAnnounced]),
		}
	}
	if from == next {
		return &IllegalTransitionError{
			From:   from,
			To:     next,
			Reason: fmt.Sprintf("Гость уже в статусе «%s»", StatusDisplay[from]),
		}
	}
	return &IllegalTransitionError{
		From:   from,
		To:     next,
		Reason: fmt.Sprintf("Нельзя перейти из статуса «%s» в «%s»", StatusDisplay[from], StatusDisplay[next]),
	}
}
