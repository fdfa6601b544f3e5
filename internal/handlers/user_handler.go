// checkin/internal/handlers/user_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/suslyaev/checkin/config"
	"github.com/suslyaev/checkin/internal/middleware"
	"github.com/suslyaev/checkin/models"
)

// UserResponse - данные оператора без хэша пароля.
type UserResponse struct {
	ID          uint      `json:"id"`
	Login       string    `json:"login"`
	LastName    string    `json:"lastName"`
	FirstName   string    `json:"firstName"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	IsSuperuser bool      `json:"isSuperuser"`
	IsActive    bool      `json:"isActive"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UserInput struct {
	Login     string `json:"login" binding:"required"`
	Password  string `json:"password"`
	LastName  string `json:"lastName"`
	FirstName string `json:"firstName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	IsActive  *bool  `json:"isActive"`
	RoleIDs   []uint `json:"roleIds"`
}

func toUserResponse(user *models.User) UserResponse {
	roleNames := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		roleNames = append(roleNames, role.Name)
	}
	return UserResponse{
		ID:          user.ID,
		Login:       user.Login,
		LastName:    user.LastName,
		FirstName:   user.FirstName,
		Phone:       user.Phone,
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
		IsActive:    user.IsActive,
		Roles:       roleNames,
		CreatedAt:   user.CreatedAt,
	}
}

// ListUsersHandler возвращает операторов с их ролями. С параметром all=true
// отдаёт весь список без пагинации (для выпадающих списков мероприятий).
func ListUsersHandler(c *gin.Context) {
	query := config.DB.Preload("Roles").Order("id asc")

	if roleName := c.Query("role"); roleName != "" {
		query = query.
			Joins("JOIN user_roles ON user_roles.user_id = users.id").
			Joins("JOIN roles ON roles.id = user_roles.role_id").
			Where("roles.name = ?", roleName)
	}

	var users []models.User
	if c.Query("all") == "true" {
		if err := query.Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список операторов"})
			return
		}
		responseData := make([]UserResponse, 0, len(users))
		for i := range users {
			responseData = append(responseData, toUserResponse(&users[i]))
		}
		c.JSON(http.StatusOK, gin.H{"data": responseData})
		return
	}

	var totalRows int64
	config.DB.Model(&models.User{}).Count(&totalRows)

	if err := query.Scopes(Paginate(c)).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список операторов"})
		return
	}
	responseData := make([]UserResponse, 0, len(users))
	for i := range users {
		responseData = append(responseData, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, CreatePaginatedResponse(c, responseData, totalRows))
}

func GetUserHandler(c *gin.Context) {
	var user models.User
	if err := config.DB.Preload("Roles").First(&user, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Оператор не найден"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(&user))
}

func CreateUserHandler(c *gin.Context) {
	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Логин обязателен"})
		return
	}
	if input.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Для нового оператора нужен пароль"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось захэшировать пароль"})
		return
	}

	user := models.User{
		Login:     strings.TrimSpace(input.Login),
		Password:  string(hashedPassword),
		LastName:  input.LastName,
		FirstName: input.FirstName,
		Phone:     normalizePhone(input.Phone),
		Email:     input.Email,
		IsActive:  true,
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if len(input.RoleIDs) > 0 {
			var roles []models.Role
			if err := tx.Where("id IN ?", input.RoleIDs).Find(&roles).Error; err != nil {
				return err
			}
			if err := tx.Model(&user).Association("Roles").Replace(roles); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Оператор с таким логином уже есть"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать оператора: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(&user))
}

func UpdateUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID оператора"})
		return
	}

	var user models.User
	if err := config.DB.First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Оператор не найден"})
		return
	}

	var input UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Логин обязателен"})
		return
	}

	user.Login = strings.TrimSpace(input.Login)
	user.LastName = input.LastName
	user.FirstName = input.FirstName
	user.Phone = normalizePhone(input.Phone)
	user.Email = input.Email
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if input.Password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось захэшировать пароль"})
			return
		}
		user.Password = string(hashedPassword)
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		if input.RoleIDs == nil {
			return nil
		}
		var roles []models.Role
		if len(input.RoleIDs) > 0 {
			if err := tx.Where("id IN ?", input.RoleIDs).Find(&roles).Error; err != nil {
				return err
			}
		}
		return tx.Model(&user).Association("Roles").Replace(roles)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Оператор с таким логином уже есть"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить оператора: " + err.Error()})
		return
	}

	// Роли и статус поменялись - кэш авторизации больше не актуален.
	middleware.InvalidateUserCache(user.ID)

	c.JSON(http.StatusOK, toUserResponse(&user))
}

func DeleteUserHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID оператора"})
		return
	}
	res := config.DB.Delete(&models.User{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось удалить оператора"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Оператор не найден"})
		return
	}
	middleware.InvalidateUserCache(uint(id))
	c.JSON(http.StatusOK, gin.H{"message": "Оператор удалён"})
}

// ListRolesHandler - список групп с правами, для формы редактирования оператора.
func ListRolesHandler(c *gin.Context) {
	var roles []models.Role
	if err := config.DB.Preload("Permissions").Order("id asc").Find(&roles).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить список групп"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": roles})
}
