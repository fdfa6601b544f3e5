// checkin/internal/handlers/auth_handler.go
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/internal/middleware"
	"github.com/suslyaev/checkin/models"
)

const (
	tokenTTL         = 24 * time.Hour
	telegramTokenTTL = 5 * time.Minute
)

type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// issueJWT выписывает токен с user_id внутри - ровно то, что ожидает
// AuthMiddleware.
func issueJWT(userID uint) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(tokenTTL).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(config.JwtKey)
}

func setAuthCookie(c *gin.Context, tokenString string) {
	c.SetCookie("auth_token", tokenString, int(tokenTTL.Seconds()), "/", "", false, true)
}

// LoginHandler - вход по логину и паролю. Токен уходит и в куку, и в тело
// ответа (для мобильных клиентов, которым куки неудобны).
func LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите логин и пароль"})
		return
	}

	var user models.User
	if err := config.DB.Where("login = ?", strings.TrimSpace(req.Login)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный логин или пароль"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Учётная запись отключена"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный логин или пароль"})
		return
	}

	tokenString, err := issueJWT(user.ID)
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать токен"})
		return
	}

	setAuthCookie(c, tokenString)
	c.JSON(http.StatusOK, gin.H{
		"token": tokenString,
		"user": gin.H{
			"id":          user.ID,
			"login":       user.Login,
			"fullName":    user.FullName(),
			"isSuperuser": user.IsSuperuser,
		},
	})
}

// LogoutHandler гасит куку и кэш пользователя.
func LogoutHandler(c *gin.Context) {
	if userID := currentUserID(c); userID != nil {
		middleware.InvalidateUserCache(*userID)
	}
	c.SetCookie("auth_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Вы вышли из системы"})
}

// --- Мост для входа через Telegram-бота ---
//
// Бот знает только телефон и telegram_id гостя-оператора. Схема входа:
//  1. Бот дёргает POST /auth/telegram/token со своим секретом и телефоном;
//     в ответ получает одноразовый токен (uuid), живущий 5 минут в Redis.
//  2. Бот отправляет пользователю ссылку вида /auth/telegram?token=<uuid>.
//  3. Переход по ссылке гасит токен (одноразовость) и выдаёт обычный JWT.

type TelegramTokenRequest struct {
	Phone      string `json:"phone" binding:"required"`
	TelegramID string `json:"telegramId"`
}

// normalizePhone приводит номер к виду +7XXXXXXXXXX: «8» в начале меняется
// на «+7», всё кроме цифр выбрасывается.
func normalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if len(s) == 11 && s[0] == '8' {
		s = "7" + s[1:]
	}
	if s == "" {
		return ""
	}
	return "+" + s
}

func telegramTokenKey(token string) string {
	return "tglogin:" + token
}

// IssueTelegramTokenHandler выдаёт боту одноразовый токен входа для
// пользователя с указанным телефоном. Запрос должен нести секрет бота.
func IssueTelegramTokenHandler(c *gin.Context) {
	if config.RDB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Вход через Telegram не настроен"})
		return
	}
	botSecret := os.Getenv("TELEGRAM_BOT_SECRET")
	if botSecret == "" || c.GetHeader("X-Bot-Secret") != botSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный секрет бота"})
		return
	}

	var req TelegramTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите телефон"})
		return
	}

	phone := normalizePhone(req.Phone)
	var user models.User
	if err := config.DB.Where("phone = ?", phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Пользователь с таким телефоном не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Учётная запись отключена"})
		return
	}

	// Привязываем telegram_id при первом входе.
	if req.TelegramID != "" && user.TelegramID != req.TelegramID {
		config.DB.Model(&user).Update("telegram_id", req.TelegramID)
	}

	token := uuid.NewString()
	if err := config.RDB.Set(config.Ctx, telegramTokenKey(token), user.ID, telegramTokenTTL).Err(); err != nil {
		slog.Error("Failed to store telegram login token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать токен входа"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(telegramTokenTTL.Seconds()),
	})
}

// TelegramLoginHandler обменивает одноразовый токен на JWT. Токен удаляется
// из Redis при первом же обращении, повторный переход по ссылке даёт 401.
func TelegramLoginHandler(c *gin.Context) {
	if config.RDB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Вход через Telegram не настроен"})
		return
	}
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Токен не указан"})
		return
	}

	userIDStr, err := config.RDB.GetDel(config.Ctx, telegramTokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Токен недействителен или уже использован"})
			return
		}
		slog.Error("Failed to resolve telegram login token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка проверки токена"})
		return
	}

	var user models.User
	if err := config.DB.Where("id = ?", userIDStr).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Пользователь не найден"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Учётная запись отключена"})
		return
	}

	tokenString, err := issueJWT(user.ID)
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать токен"})
		return
	}

	setAuthCookie(c, tokenString)
	c.JSON(http.StatusOK, gin.H{
		"token": tokenString,
		"user": gin.H{
			"id":       user.ID,
			"login":    user.Login,
			"fullName": user.FullName(),
		},
	})
}

// MeHandler возвращает профиль текущего оператора.
func MeHandler(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Не удалось определить пользователя"})
		return
	}
	var user models.User
	if err := config.DB.Preload("Roles").First(&user, *userID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось загрузить пользователя"})
		return
	}
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          user.ID,
		"login":       user.Login,
		"fullName":    user.FullName(),
		"isSuperuser": user.IsSuperuser,
		"roles":       roles,
	})
}
