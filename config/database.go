// checkin/config/database.go

package config

import (
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/models"
)

var DB *gorm.DB

func ConnectDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		slog.Error("Критическая ошибка: переменная окружения DB_URL не установлена.")
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Переводим ошибки драйвера в ошибки GORM (gorm.ErrDuplicatedKey и т.д.)
		TranslateError: true,
	})
	if err != nil {
		slog.Error("Ошибка подключения к БД", "error", err)
		os.Exit(1)
	}

	DB = db
	slog.Info("Успешное подключение к базе данных!")
}

// MigrateDB прогоняет автомиграцию всех моделей.
func MigrateDB() {
	if err := DB.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.CompanyContact{},
		&models.CategoryContact{},
		&models.TypeGuestContact{},
		&models.Contact{},
		&models.ModuleInstance{},
		&models.Action{},
		&models.ActionLog{},
	); err != nil {
		slog.Error("Ошибка миграции БД", "error", err)
		os.Exit(1)
	}
}
