// checkin/config/groups.go
package config

import (
	"log/slog"

	"github.com/suslyaev/checkin/models"
)

// Права доступа приложения. Имена совпадают с историческими кодами,
// чтобы старые выгрузки настроек ролей оставались применимыми.
var permissionSpecs = []models.Permission{
	{Name: "view_contact", Description: "Просмотр гостей", Category: "Гости"},
	{Name: "add_contact", Description: "Создание гостей", Category: "Гости"},
	{Name: "change_contact", Description: "Редактирование гостей", Category: "Гости"},
	{Name: "delete_contact", Description: "Удаление гостей", Category: "Гости"},
	{Name: "view_moduleinstance", Description: "Просмотр мероприятий", Category: "Мероприятия"},
	{Name: "add_moduleinstance", Description: "Создание мероприятий", Category: "Мероприятия"},
	{Name: "change_moduleinstance", Description: "Редактирование мероприятий", Category: "Мероприятия"},
	{Name: "delete_moduleinstance", Description: "Удаление мероприятий", Category: "Мероприятия"},
	{Name: "view_action", Description: "Просмотр регистраций", Category: "Регистрации"},
	{Name: "add_action", Description: "Создание регистраций", Category: "Регистрации"},
	{Name: "change_action", Description: "Изменение статусов", Category: "Регистрации"},
	{Name: "delete_action", Description: "Удаление регистраций", Category: "Регистрации"},
	{Name: "import_action", Description: "Импорт из Excel", Category: "Регистрации"},
	{Name: "export_action", Description: "Экспорт в Excel", Category: "Регистрации"},
	{Name: "view_user", Description: "Просмотр пользователей", Category: "Пользователи"},
	{Name: "change_user", Description: "Редактирование пользователей", Category: "Пользователи"},
}

// Состав прав базовых групп (из исторической команды setup).
var groupSpecs = map[string][]string{
	models.RoleAdmin: {
		"view_contact", "add_contact", "change_contact", "delete_contact",
		"view_moduleinstance", "add_moduleinstance", "change_moduleinstance", "delete_moduleinstance",
		"view_action", "add_action", "change_action", "delete_action",
		"import_action", "export_action", "view_user", "change_user",
	},
	models.RoleManager: {
		"view_contact", "add_contact", "change_contact",
		"view_moduleinstance", "change_moduleinstance",
		"view_action", "add_action", "change_action",
		"import_action", "export_action",
	},
	models.RoleProducer: {
		"view_contact", "add_contact", "change_contact",
		"view_moduleinstance",
		"view_action", "add_action",
	},
	models.RoleChecker: {
		"view_contact",
		"view_moduleinstance",
		"view_action", "change_action",
	},
}

// SeedRoles создаёт или обновляет базовые группы и права. Запускается при
// старте: повторный запуск ничего не ломает.
func SeedRoles() {
	for _, spec := range permissionSpecs {
		var perm models.Permission
		if err := DB.Where("name = ?", spec.Name).First(&perm).Error; err != nil {
			if err := DB.Create(&spec).Error; err != nil {
				slog.Error("Не удалось создать право", "name", spec.Name, "error", err)
			}
		}
	}

	for groupName, permNames := range groupSpecs {
		var role models.Role
		if err := DB.Where("name = ?", groupName).First(&role).Error; err != nil {
			role = models.Role{Name: groupName}
			if err := DB.Create(&role).Error; err != nil {
				slog.Error("Не удалось создать группу", "name", groupName, "error", err)
				continue
			}
		}
		var perms []models.Permission
		if err := DB.Where("name IN ?", permNames).Find(&perms).Error; err != nil {
			slog.Error("Не удалось загрузить права группы", "name", groupName, "error", err)
			continue
		}
		if err := DB.Model(&role).Association("Permissions").Replace(perms); err != nil {
			slog.Error("Не удалось назначить права группе", "name", groupName, "error", err)
		}
	}

	slog.Info("Базовые группы и права актуализированы")
}
