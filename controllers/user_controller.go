package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/config"
	"github.com/inkpress/inkpress/middleware"
	"github.com/inkpress/inkpress/models"
	"github.com/inkpress/inkpress/utils"
)

// maxAvatarSize is the upload ceiling for profile pictures, in bytes.
const maxAvatarSize = 500000

// UserController handles registration, login and profile management.
type UserController struct {
	db  *gorm.DB
	cfg *config.AppConfig
}

// NewUserController creates a UserController.
func NewUserController(db *gorm.DB, cfg *config.AppConfig) *UserController {
	return &UserController{db: db, cfg: cfg}
}

// Register handles local account registration with bcrypt hashing.
// POST /api/users/register
func (u *UserController) Register(ctx *gin.Context) {
	type request struct {
		Name      string `json:"name"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}

	// Emails are case-folded at write time; the existence check below is a
	// pre-check, not an atomic constraint.
	email := strings.ToLower(req.Email)

	var existing models.User
	err := u.db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		utils.Fail(ctx, http.StatusConflict, "Email already exists.")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(ctx, http.StatusInternalServerError, "User registration failed.")
		return
	}

	if len(strings.TrimSpace(req.Password)) < 6 {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Password should be at least 6 characters.")
		return
	}
	if req.Password != req.Password2 {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Passwords do not match.")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "User registration failed.")
		return
	}

	user := models.User{
		Name:     req.Name,
		Email:    email,
		Password: hash,
	}
	if err := u.db.Create(&user).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "User registration failed.")
		return
	}

	ctx.JSON(http.StatusCreated, fmt.Sprintf("New user %s registered.", user.Email))
}

// Login verifies user credentials and issues a JWT.
// POST /api/users/login
func (u *UserController) Login(ctx *gin.Context) {
	type request struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}

	var user models.User
	if err := u.db.Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Invalid credentials.")
		return
	}

	if !utils.CheckPassword(user.Password, req.Password) {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Invalid credentials.")
		return
	}

	token, err := utils.GenerateToken(u.cfg.JWTSecret, user.ID, user.Name, utils.TokenLifetime)
	if err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Login failed. Please check your credentials.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": token,
		"id":    user.ID,
		"name":  user.Name,
	})
}

// GetUser returns a user's profile without the password field.
// GET /api/users/:id
func (u *UserController) GetUser(ctx *gin.Context) {
	var user models.User
	if err := u.db.First(&user, "id = ?", ctx.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "User not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to get user.")
		return
	}
	ctx.JSON(http.StatusOK, user)
}

// ChangeAvatar replaces the authenticated user's profile picture. The old
// file is removed best-effort, the new file written, then the record
// updated; the three steps are not atomic with each other.
// POST /api/users/change-avatar
func (u *UserController) ChangeAvatar(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "Unauthorized. No token provided.")
		return
	}

	fh, err := ctx.FormFile("avatar")
	if err != nil {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Please choose an image.")
		return
	}
	if fh.Filename == "" {
		utils.Fail(ctx, http.StatusBadRequest, "Invalid file upload. File name missing.")
		return
	}
	if fh.Size > maxAvatarSize {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Profile picture too big. Should be less than 500KB.")
		return
	}

	var user models.User
	if err := u.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "User not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to get user.")
		return
	}

	if err := utils.RemoveUpload(u.cfg.UploadDir, user.Avatar); err != nil {
		utils.Sugar.Warnf("failed to delete old avatar %s: %v", user.Avatar, err)
	}

	filename := utils.AvatarFilename(fh.Filename)
	if err := utils.SaveUpload(fh, u.cfg.UploadDir, filename, maxAvatarSize); err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to upload avatar.")
		return
	}

	user.Avatar = filename
	if err := u.db.Save(&user).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to update avatar.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Avatar updated successfully",
		"user":    user,
	})
}

// EditUser updates the authenticated user's name, email and password after
// re-verifying the current password.
// POST /api/users/edit
func (u *UserController) EditUser(ctx *gin.Context) {
	type request struct {
		Name               string `json:"name"`
		Email              string `json:"email"`
		CurrentPassword    string `json:"currentPassword"`
		NewPassword        string `json:"newPassword"`
		ConfirmNewPassword string `json:"confirmNewPassword"`
	}

	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "Unauthorized. No token provided.")
		return
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Email == "" || req.CurrentPassword == "" || req.NewPassword == "" {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}

	var user models.User
	if err := u.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "User not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to get user.")
		return
	}

	// The new email may only collide with the caller's own record.
	email := strings.ToLower(req.Email)
	var existing models.User
	err := u.db.Where("email = ?", email).First(&existing).Error
	if err == nil && existing.ID != userID {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Email already exists.")
		return
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to update user.")
		return
	}

	if !utils.CheckPassword(user.Password, req.CurrentPassword) {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Invalid current password.")
		return
	}
	if req.NewPassword != req.ConfirmNewPassword {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "New passwords do not match.")
		return
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to update user.")
		return
	}

	user.Name = req.Name
	user.Email = email
	user.Password = hash
	if err := u.db.Save(&user).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to update user.")
		return
	}

	ctx.JSON(http.StatusOK, user)
}

// GetAuthors lists all users, passwords excluded.
// GET /api/users/get-authors
func (u *UserController) GetAuthors(ctx *gin.Context) {
	var authors []models.User
	if err := u.db.Find(&authors).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to list authors.")
		return
	}
	ctx.JSON(http.StatusOK, authors)
}
