// checkin/cmd/server/main.go
package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/internal/handlers"
	"github.com/suslyaev/checkin/internal/routes"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadAuthConfig()
	config.ConnectDB()
	config.MigrateDB()
	config.SeedRoles()
	config.ConnectRedis()

	// Хаб живой ленты статусов работает всё время жизни процесса.
	go handlers.GlobalLiveHub.Run()

	r := gin.Default()
	routes.SetupRoutes(r)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	slog.Info("Сервер запускается", "addr", addr)
	if err := r.Run(addr); err != nil {
		slog.Error("Сервер остановлен с ошибкой", "error", err)
		os.Exit(1)
	}
}
