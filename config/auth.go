// checkin/config/auth.go
package config

import (
	"log/slog"
	"os"
)

// JwtKey - ключ подписи токенов сессий операторов.
var JwtKey []byte

func LoadAuthConfig() {
	key := os.Getenv("JWT_KEY")
	if key == "" {
		slog.Error("Критическая ошибка: переменная окружения JWT_KEY не установлена.")
		os.Exit(1)
	}
	JwtKey = []byte(key)
}
