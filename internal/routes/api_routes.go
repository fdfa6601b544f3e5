// checkin/internal/routes/api_routes.go
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/internal/handlers"
	"github.com/suslyaev/checkin/internal/middleware"
)

// RegisterAPIRoutes регистрирует все маршруты API, требующие аутентификации.
func RegisterAPIRoutes(api *gin.RouterGroup) {
	apiGroup := api.Group("/api")
	{
		// Профиль текущего оператора
		apiGroup.GET("/me", handlers.MeHandler)

		// --- ГОСТИ ---
		contacts := apiGroup.Group("/contacts")
		contacts.Use(middleware.PermissionMiddleware("view_contact"))
		{
			contacts.GET("", handlers.ListContactsHandler)
			contacts.GET("/find", handlers.FindContactHandler)
			contacts.GET("/search", handlers.SearchContactsHandler)
			contacts.GET("/:id", handlers.GetContactHandler)
			contacts.POST("", middleware.PermissionMiddleware("add_contact"), handlers.CreateContactHandler)
			contacts.PUT("/:id", middleware.PermissionMiddleware("change_contact"), handlers.UpdateContactHandler)
			contacts.DELETE("/:id", middleware.PermissionMiddleware("delete_contact"), handlers.DeleteContactHandler)

			// Импорт гостей из xlsx
			contacts.POST("/import", middleware.PermissionMiddleware("import_action"), handlers.ImportContactsHandler)
			contacts.GET("/import/template", middleware.PermissionMiddleware("import_action"), handlers.ContactsTemplateHandler)
		}
		apiGroup.GET("/autocomplete/:field", middleware.PermissionMiddleware("view_contact"), handlers.AutocompleteHandler)

		// --- МЕРОПРИЯТИЯ ---
		events := apiGroup.Group("/events")
		events.Use(middleware.PermissionMiddleware("view_moduleinstance"))
		{
			events.GET("", handlers.ListEventsHandler)
			events.GET("/:id", handlers.GetEventHandler)
			events.POST("", middleware.PermissionMiddleware("add_moduleinstance"), handlers.CreateEventHandler)
			events.PUT("/:id", middleware.PermissionMiddleware("change_moduleinstance"), handlers.UpdateEventHandler)
			events.DELETE("/:id", middleware.PermissionMiddleware("delete_moduleinstance"), handlers.DeleteEventHandler)

			// Рабочая таблица гостей мероприятия
			events.GET("/:id/guests", middleware.PermissionMiddleware("view_action"), handlers.GuestsDataHandler)
			events.POST("/:id/guests", middleware.PermissionMiddleware("add_action"), handlers.GuestSaveHandler)
			events.POST("/:id/guests/delete", middleware.PermissionMiddleware("delete_action"), handlers.GuestDeleteHandler)

			// Импорт, экспорт и копирование списков
			events.POST("/:id/registrations/import", middleware.PermissionMiddleware("import_action"), handlers.ImportRegistrationsHandler)
			events.GET("/:id/registrations/import/template", middleware.PermissionMiddleware("import_action"), handlers.RegistrationsTemplateHandler)
			events.GET("/:id/actions/export", middleware.PermissionMiddleware("export_action"), handlers.ExportActionsHandler)
			events.POST("/:id/copy-to/:target", middleware.PermissionMiddleware("add_action"), handlers.CopyActionsHandler)

			// Живая лента изменений статусов (WebSocket)
			events.GET("/:id/live", middleware.PermissionMiddleware("view_action"), handlers.LiveWSEndpoint)
		}

		// --- РЕГИСТРАЦИИ ---
		actions := apiGroup.Group("/actions")
		actions.Use(middleware.PermissionMiddleware("view_action"))
		{
			actions.GET("", handlers.ListActionsHandler)
			actions.POST("", middleware.PermissionMiddleware("add_action"), handlers.CreateActionHandler)
			actions.POST("/:id/transition", middleware.PermissionMiddleware("change_action"), handlers.TransitionActionHandler)
			actions.POST("/bulk", middleware.PermissionMiddleware("change_action"), handlers.BulkTransitionHandler)
			actions.GET("/:id/history", handlers.ActionHistoryHandler)
			actions.DELETE("/:id", middleware.PermissionMiddleware("delete_action"), handlers.DeleteActionHandler)
		}

		// --- ПОЛЬЗОВАТЕЛИ ---
		users := apiGroup.Group("/users")
		users.Use(middleware.PermissionMiddleware("view_user"))
		{
			users.GET("", handlers.ListUsersHandler)
			users.GET("/:id", handlers.GetUserHandler)
			users.POST("", middleware.PermissionMiddleware("change_user"), handlers.CreateUserHandler)
			users.PUT("/:id", middleware.PermissionMiddleware("change_user"), handlers.UpdateUserHandler)
			users.DELETE("/:id", middleware.PermissionMiddleware("change_user"), handlers.DeleteUserHandler)
		}
		apiGroup.GET("/roles", middleware.PermissionMiddleware("view_user"), handlers.ListRolesHandler)
	}
}
