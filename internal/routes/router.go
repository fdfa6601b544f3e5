// checkin/internal/routes/router.go
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/internal/middleware"
)

// SetupRoutes инициализирует все маршруты приложения.
func SetupRoutes(r *gin.Engine) {
	// Публичные маршруты: вход, выход, Telegram-мост.
	RegisterAuthRoutes(r)

	// Всё остальное - только с валидным JWT.
	authRequired := r.Group("/")
	authRequired.Use(middleware.AuthMiddleware())
	{
		RegisterAPIRoutes(authRequired)
	}
}
