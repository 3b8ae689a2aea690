package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/config"
	"github.com/inkpress/inkpress/controllers"
	"github.com/inkpress/inkpress/middleware"
	"github.com/inkpress/inkpress/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg *config.AppConfig, db *gorm.DB, rc *redis.Client) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Access log goes to its own rolling file so request noise stays out of
	// the application log.
	if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	// Central responder: every handler failure becomes one JSON body.
	r.Use(middleware.ErrorHandler())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Static("/uploads", cfg.UploadDir)

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	cache := utils.NewCache(rc, time.Duration(cfg.CacheTTLMin)*time.Minute)
	userController := controllers.NewUserController(db, cfg)
	postController := controllers.NewPostController(db, cfg, cache)

	auth := middleware.AuthRequired(cfg.JWTSecret)

	users := r.Group("/api/users")
	users.POST("/register", middleware.RateLimit(cfg.RateLimitPerMinute), userController.Register)
	users.POST("/login", middleware.RateLimit(cfg.RateLimitPerMinute), userController.Login)
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

	return r
}
