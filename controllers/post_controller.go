package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/config"
	"github.com/inkpress/inkpress/middleware"
	"github.com/inkpress/inkpress/models"
	"github.com/inkpress/inkpress/utils"
)

// maxThumbnailSize is the upload ceiling for post thumbnails, in bytes.
const maxThumbnailSize = 2 * 1024 * 1024

const (
	postListCachePrefix   = "cache:posts:"
	postDetailCachePrefix = "cache:post:"
	jsonContentType       = "application/json; charset=utf-8"
)

// PostController manages CRUD operations for posts and their thumbnails.
type PostController struct {
	db    *gorm.DB
	cfg   *config.AppConfig
	cache *utils.Cache
}

// NewPostController creates a PostController. cache may be nil, which
// disables listing caching.
func NewPostController(db *gorm.DB, cfg *config.AppConfig, cache *utils.Cache) *PostController {
	return &PostController{db: db, cfg: cfg, cache: cache}
}

// CreatePost stores a new post with its thumbnail file.
// POST /api/posts
func (p *PostController) CreatePost(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "Unauthorized. No token provided.")
		return
	}

	title := utils.Sanitize(strings.TrimSpace(ctx.PostForm("title")))
	category := strings.TrimSpace(ctx.PostForm("category"))
	description := utils.Sanitize(ctx.PostForm("description"))
	if title == "" || category == "" || description == "" {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields and choose a thumbnail.")
		return
	}

	fh, err := ctx.FormFile("thumbnail")
	if err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "Thumbnail is required.")
		return
	}
	if fh.Size > maxThumbnailSize {
		utils.Fail(ctx, http.StatusBadRequest, "Thumbnail too big. File should be less than 2MB.")
		return
	}

	filename := utils.UniqueFilename(fh.Filename)
	if err := utils.SaveUpload(fh, p.cfg.UploadDir, filename, maxThumbnailSize); err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to save thumbnail.")
		return
	}

	post := models.Post{
		CreatorID:   userID,
		Title:       title,
		Category:    category,
		Description: description,
		Thumbnail:   filename,
	}
	if err := p.db.Create(&post).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Post couldn't be created.")
		return
	}

	// Best-effort counter bump; an atomic column expression so concurrent
	// posts cannot lose increments, but a failure here is logged, not
	// retried, and does not fail the created post.
	if err := p.db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("posts", gorm.Expr("posts + 1")).Error; err != nil {
		utils.Sugar.Warnf("failed to increment post counter for user %d: %v", userID, err)
	}

	p.cache.InvalidateByPrefix(postListCachePrefix)

	ctx.JSON(http.StatusCreated, post)
}

// GetPosts lists all posts, most recently updated first.
// GET /api/posts
func (p *PostController) GetPosts(ctx *gin.Context) {
	cacheKey := postListCachePrefix + "all"
	if b, ok := p.cache.GetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, jsonContentType, b)
		return
	}

	var posts []models.Post
	if err := p.db.Order("updated_at DESC").Find(&posts).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to list posts.")
		return
	}

	p.cache.SetJSON(cacheKey, posts)
	ctx.JSON(http.StatusOK, posts)
}

// GetPost returns a single post by id.
// GET /api/posts/:id
func (p *PostController) GetPost(ctx *gin.Context) {
	postID := ctx.Param("id")

	cacheKey := postDetailCachePrefix + postID
	if b, ok := p.cache.GetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, jsonContentType, b)
		return
	}

	var post models.Post
	if err := p.db.First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "Post not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to load post.")
		return
	}

	p.cache.SetJSON(cacheKey, post)
	ctx.JSON(http.StatusOK, post)
}

// GetCatPosts lists posts with an exact category match, newest first.
// GET /api/posts/categories/:category
func (p *PostController) GetCatPosts(ctx *gin.Context) {
	category := ctx.Param("category")

	cacheKey := postListCachePrefix + "cat:" + category
	if b, ok := p.cache.GetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, jsonContentType, b)
		return
	}

	var posts []models.Post
	if err := p.db.Where("category = ?", category).Order("created_at DESC").Find(&posts).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to list posts.")
		return
	}

	p.cache.SetJSON(cacheKey, posts)
	ctx.JSON(http.StatusOK, posts)
}

// GetUserPosts lists posts created by the user in the path, newest first.
// The id comes from the URL, not the token; anyone may list any author.
// GET /api/posts/users/:id
func (p *PostController) GetUserPosts(ctx *gin.Context) {
	userID := strings.TrimSpace(ctx.Param("id"))
	if userID == "" {
		utils.Fail(ctx, http.StatusBadRequest, "User ID is required.")
		return
	}

	cacheKey := postListCachePrefix + "user:" + userID
	if b, ok := p.cache.GetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, jsonContentType, b)
		return
	}

	var posts []models.Post
	if err := p.db.Where("creator_id = ?", userID).Order("created_at DESC").Find(&posts).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to fetch user posts.")
		return
	}

	p.cache.SetJSON(cacheKey, posts)
	ctx.JSON(http.StatusOK, posts)
}

// EditPost updates a post's fields and, when a new file is supplied, swaps
// its thumbnail. Only the post's creator may edit.
// PATCH /api/posts/:id
func (p *PostController) EditPost(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "Unauthorized. No token provided.")
		return
	}

	title := utils.Sanitize(strings.TrimSpace(ctx.PostForm("title")))
	category := strings.TrimSpace(ctx.PostForm("category"))
	// The length floor counts characters of the input as typed, before
	// sanitization strips any markup.
	rawDescription := ctx.PostForm("description")
	if title == "" || category == "" || utf8.RuneCountInString(rawDescription) < 12 {
		utils.Fail(ctx, http.StatusUnprocessableEntity, "Fill in all fields.")
		return
	}
	description := utils.Sanitize(rawDescription)

	postID := ctx.Param("id")
	var post models.Post
	if err := p.db.First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "Post not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to load post.")
		return
	}

	if post.CreatorID != userID {
		utils.Fail(ctx, http.StatusForbidden, "Unauthorized to edit this post.")
		return
	}

	if fh, err := ctx.FormFile("thumbnail"); err == nil {
		// Validate before touching anything on disk so an oversized upload
		// mutates nothing.
		if fh.Size > maxThumbnailSize {
			utils.Fail(ctx, http.StatusBadRequest, "Thumbnail too big. Should be less than 2MB.")
			return
		}

		if err := utils.RemoveUpload(p.cfg.UploadDir, post.Thumbnail); err != nil {
			utils.Sugar.Warnf("failed to delete old thumbnail %s: %v", post.Thumbnail, err)
		}

		filename := utils.UniqueFilename(fh.Filename)
		if err := utils.SaveUpload(fh, p.cfg.UploadDir, filename, maxThumbnailSize); err != nil {
			utils.Fail(ctx, http.StatusInternalServerError, "Couldn't update post.")
			return
		}
		post.Thumbnail = filename
	}

	post.Title = title
	post.Category = category
	post.Description = description
	if err := p.db.Save(&post).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Couldn't update post.")
		return
	}

	p.cache.InvalidateByPrefix(postListCachePrefix)
	p.cache.InvalidateByPrefix(postDetailCachePrefix + postID)

	ctx.JSON(http.StatusOK, post)
}

// DeletePost removes a post, its thumbnail file, and decrements the
// creator's post counter. Only the post's creator may delete. A thumbnail
// that is already gone from disk is not an error; any other file failure
// aborts before the record is touched.
// DELETE /api/posts/:id
func (p *PostController) DeletePost(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "Unauthorized. No token provided.")
		return
	}

	postID := ctx.Param("id")
	var post models.Post
	if err := p.db.First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, http.StatusNotFound, "Post not found.")
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, "Failed to load post.")
		return
	}

	if post.CreatorID != userID {
		utils.Fail(ctx, http.StatusForbidden, "Post couldn't be deleted.")
		return
	}

	if err := utils.RemoveUpload(p.cfg.UploadDir, post.Thumbnail); err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Post couldn't be deleted.")
		return
	}

	if err := p.db.Delete(&post).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "Post couldn't be deleted.")
		return
	}

	if err := p.db.Model(&models.User{}).Where("id = ?", post.CreatorID).
		UpdateColumn("posts", gorm.Expr("posts - 1")).Error; err != nil {
		utils.Sugar.Warnf("failed to decrement post counter for user %d: %v", post.CreatorID, err)
	}

	p.cache.InvalidateByPrefix(postListCachePrefix)
	p.cache.InvalidateByPrefix(postDetailCachePrefix + postID)

	ctx.JSON(http.StatusOK, fmt.Sprintf("Post %s deleted successfully.", postID))
}
