// checkin/internal/routes/auth_routes.go
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/internal/handlers"
)

// RegisterAuthRoutes регистрирует публичные маршруты для аутентификации.
// Эти маршруты не требуют middleware для проверки токена.
func RegisterAuthRoutes(r *gin.Engine) {
	// Вход по логину и паролю. /api/login - тот же обработчик для клиентов,
	// которые ходят только через префикс /api.
	r.POST("/login", handlers.LoginHandler)
	r.POST("/api/login", handlers.LoginHandler)

	// Выход пользователя из системы.
	r.GET("/logout", handlers.LogoutHandler)

	// Мост для входа через Telegram-бота: бот получает одноразовый токен,
	// пользователь обменивает его на JWT.
	r.POST("/auth/telegram/token", handlers.IssueTelegramTokenHandler)
	r.GET("/auth/telegram", handlers.TelegramLoginHandler)
}
