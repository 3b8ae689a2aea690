package controllers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/config"
	"github.com/inkpress/inkpress/middleware"
	"github.com/inkpress/inkpress/models"
	"github.com/inkpress/inkpress/utils"
)

const testSecret = "test-secret-key"

// setupTest wires an in-memory database and a gin engine carrying the same
// route table as production, minus CORS, rate limiting and access logging.
func setupTest(t *testing.T) (*gin.Engine, *gorm.DB, *config.AppConfig) {
	t.Helper()
	return setupTestWithCache(t, nil)
}

func setupTestWithCache(t *testing.T, cache *utils.Cache) (*gin.Engine, *gorm.DB, *config.AppConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps every query on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Post{}))

	cfg := &config.AppConfig{
		JWTSecret: testSecret,
		UploadDir: filepath.Join(t.TempDir(), "uploads"),
	}

	userController := NewUserController(db, cfg)
	postController := NewPostController(db, cfg, cache)
	auth := middleware.AuthRequired(cfg.JWTSecret)

	r := gin.New()
	r.Use(middleware.ErrorHandler())

	users := r.Group("/api/users")
	users.POST("/register", userController.Register)
	users.POST("/login", userController.Login)
	users.GET("/get-authors", userController.GetAuthors)
	users.POST("/change-avatar", auth, userController.ChangeAvatar)
	users.POST("/edit", auth, userController.EditUser)
	users.GET("/:id", userController.GetUser)

	posts := r.Group("/api/posts")
	posts.POST("", auth, postController.CreatePost)
	posts.GET("", postController.GetPosts)
	posts.GET("/categories/:category", postController.GetCatPosts)
	posts.GET("/users/:id", postController.GetUserPosts)
	posts.GET("/:id", postController.GetPost)
	posts.PATCH("/:id", auth, postController.EditPost)
	posts.DELETE("/:id", auth, postController.DeletePost)

	r.NoRoute(middleware.NotFound())

	return r, db, cfg
}

// createTestUser inserts a user with a hashed password and returns it with a
// valid bearer token.
func createTestUser(t *testing.T, db *gorm.DB, name, email, password string) (models.User, string) {
	t.Helper()
	hash, err := utils.HashPassword(password)
	require.NoError(t, err)

	user := models.User{Name: name, Email: email, Password: hash}
	require.NoError(t, db.Create(&user).Error)

	token, err := utils.GenerateToken(testSecret, user.ID, user.Name, utils.TokenLifetime)
	require.NoError(t, err)
	return user, token
}

// multipartBody builds a multipart form with the given fields and an
// optional single file part.
func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doRequest(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
