// checkin/internal/handlers/helpers.go
package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/config"
)

// currentUserID возвращает ID аутентифицированного оператора из контекста.
// Middleware кладёт его как uint; nil означает, что запрос не прошёл
// аутентификацию (такого быть не должно за AuthMiddleware).
func currentUserID(c *gin.Context) *uint {
	v, exists := c.Get("user_id")
	if !exists {
		return nil
	}
	id, ok := v.(uint)
	if !ok {
		return nil
	}
	return &id
}

func isSuperuser(c *gin.Context) bool {
	v, exists := c.Get("is_superuser")
	if !exists {
		return false
	}
	super, ok := v.(bool)
	return ok && super
}

// userInEventScope проверяет, входит ли оператор в один из ролевых списков
// мероприятия. Суперпользователь проходит всегда.
func userInEventScope(c *gin.Context, eventID uint) bool {
	if isSuperuser(c) {
		return true
	}
	userID := currentUserID(c)
	if userID == nil {
		return false
	}
	var count int64
	err := config.DB.Raw(
		`SELECT COUNT(*) FROM (
			SELECT user_id FROM module_instance_managers WHERE module_instance_id = ? AND user_id = ?
			UNION ALL
			SELECT user_id FROM module_instance_producers WHERE module_instance_id = ? AND user_id = ?
			UNION ALL
			SELECT user_id FROM module_instance_checkers WHERE module_instance_id = ? AND user_id = ?
		) scoped`,
		eventID, *userID, eventID, *userID, eventID, *userID,
	).Scan(&count).Error
	if err != nil {
		slog.Error("Не удалось проверить доступ к мероприятию",
			"event_id", eventID, "user_id", *userID, "error", err)
		return false
	}
	return count > 0
}
