package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress/inkpress/models"
	"github.com/inkpress/inkpress/utils"
)

func postForm(t *testing.T, token, title, category, description string, file []byte, fileName string) *http.Request {
	t.Helper()
	fields := map[string]string{}
	if title != "" {
		fields["title"] = title
	}
	if category != "" {
		fields["category"] = category
	}
	if description != "" {
		fields["description"] = description
	}
	fileField := ""
	if file != nil {
		fileField = "thumbnail"
	}
	body, contentType := multipartBody(t, fields, fileField, fileName, file)
	req := httptest.NewRequest(http.MethodPost, "/api/posts", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCreatePost(t *testing.T) {
	r, db, cfg := setupTest(t)
	user, token := createTestUser(t, db, "Jane", "jane@example.com", "password123")

	t.Run("unauthenticated", func(t *testing.T) {
		w := doRequest(r, postForm(t, "", "Title", "Tech", "A long enough description.", []byte("img"), "pic.png"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := doRequest(r, postForm(t, token, "Title", "", "A long enough description.", []byte("img"), "pic.png"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("missing thumbnail", func(t *testing.T) {
		w := doRequest(r, postForm(t, token, "Title", "Tech", "A long enough description.", nil, ""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Thumbnail is required.")
	})

	t.Run("oversized thumbnail mutates nothing", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), 2*1024*1024+1)
		w := doRequest(r, postForm(t, token, "Title", "Tech", "A long enough description.", big, "huge.png"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var count int64
		require.NoError(t, db.Model(&models.Post{}).Count(&count).Error)
		assert.Zero(t, count)
		entries, err := os.ReadDir(cfg.UploadDir)
		if err == nil {
			assert.Empty(t, entries)
		}
	})

	t.Run("valid post", func(t *testing.T) {
		w := doRequest(r, postForm(t, token, "My Post", "Tech", "A long enough description.", []byte("img-bytes"), "pic.png"))
		require.Equal(t, http.StatusCreated, w.Code)

		var post models.Post
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
		assert.Equal(t, user.ID, post.CreatorID)
		assert.Equal(t, "My Post", post.Title)
		assert.NotEqual(t, "pic.png", post.Thumbnail, "thumbnail must be renamed")
		assert.Equal(t, ".png", filepath.Ext(post.Thumbnail))

		_, err := os.Stat(filepath.Join(cfg.UploadDir, post.Thumbnail))
		require.NoError(t, err)

		var fresh models.User
		require.NoError(t, db.First(&fresh, user.ID).Error)
		assert.Equal(t, 1, fresh.Posts)
	})

	t.Run("html is stripped from title and description", func(t *testing.T) {
		w := doRequest(r, postForm(t, token,
			"Hi <script>alert(1)</script>", "Tech",
			"Body <script>alert(1)</script> text here.", []byte("img"), "p.png"))
		require.Equal(t, http.StatusCreated, w.Code)

		var post models.Post
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
		assert.NotContains(t, post.Title, "<script>")
		assert.NotContains(t, post.Description, "<script>")
	})
}

func createTestPost(t *testing.T, r *gin.Engine, token, title, category, description string) models.Post {
	t.Helper()
	w := doRequest(r, postForm(t, token, title, category, description, []byte("img"), "pic.png"))
	require.Equal(t, http.StatusCreated, w.Code)

	var post models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	return post
}

func TestGetPostRoundTrip(t *testing.T) {
	r, db, _ := setupTest(t)
	_, token := createTestUser(t, db, "Jane", "jane@example.com", "password123")
	created := createTestPost(t, r, token, "Round Trip", "Travel", "Twelve chars or more.")

	w := doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", created.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Round Trip", got.Title)
	assert.Equal(t, "Travel", got.Category)
	assert.Equal(t, created.Thumbnail, got.Thumbnail)

	w = doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts/9999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPostsOrdering(t *testing.T) {
	r, db, _ := setupTest(t)
	_, token := createTestUser(t, db, "Jane", "jane@example.com", "password123")

	oldest := createTestPost(t, r, token, "Oldest", "Tech", "Twelve chars or more.")
	newest := createTestPost(t, r, token, "Newest", "Tech", "Twelve chars or more.")

	// pin updated_at so the ordering does not depend on insert timing
	base := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", oldest.ID).
		UpdateColumn("updated_at", base).Error)
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", newest.ID).
		UpdateColumn("updated_at", base.Add(time.Minute)).Error)

	w := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var posts []models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, "Newest", posts[0].Title)
	assert.Equal(t, "Oldest", posts[1].Title)
}

func TestGetCatPosts(t *testing.T) {
	r, db, _ := setupTest(t)
	_, token := createTestUser(t, db, "Jane", "jane@example.com", "password123")

	first := createTestPost(t, r, token, "Tech One", "Tech", "Twelve chars or more.")
	second := createTestPost(t, r, token, "Tech Two", "Tech", "Twelve chars or more.")
	createTestPost(t, r, token, "Travel One", "Travel", "Twelve chars or more.")

	base := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", first.ID).
		UpdateColumn("created_at", base).Error)
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", second.ID).
		UpdateColumn("created_at", base.Add(time.Minute)).Error)

	w := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts/categories/Tech", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var posts []models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, "Tech Two", posts[0].Title)
	assert.Equal(t, "Tech One", posts[1].Title)

	// the match is exact, not a substring
	w = doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts/categories/Tec", nil))
	require.Equal(t, http.StatusOK, w.Code)
	posts = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	assert.Empty(t, posts)
}

func TestGetUserPosts(t *testing.T) {
	r, db, _ := setupTest(t)
	jane, janeToken := createTestUser(t, db, "Jane", "jane@example.com", "password123")
	_, johnToken := createTestUser(t, db, "John", "john@example.com", "password123")

	createTestPost(t, r, janeToken, "Jane Post", "Tech", "Twelve chars or more.")
	createTestPost(t, r, johnToken, "John Post", "Tech", "Twelve chars or more.")

	w := doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/users/%d", jane.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var posts []models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "Jane Post", posts[0].Title)
	assert.Equal(t, jane.ID, posts[0].CreatorID)
}

func patchForm(t *testing.T, postID uint, token, title, category, description string, file []byte, fileName string) *http.Request {
	t.Helper()
	fields := map[string]string{"title": title, "category": category, "description": description}
	fileField := ""
	if file != nil {
		fileField = "thumbnail"
	}
	body, contentType := multipartBody(t, fields, fileField, fileName, file)
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/posts/%d", postID), body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestEditPost(t *testing.T) {
	r, db, cfg := setupTest(t)
	_, janeToken := createTestUser(t, db, "Jane", "jane@example.com", "password123")
	_, johnToken := createTestUser(t, db, "John", "john@example.com", "password123")
	post := createTestPost(t, r, janeToken, "Original", "Tech", "Twelve chars or more.")

	t.Run("unauthenticated", func(t *testing.T) {
		w := doRequest(r, patchForm(t, post.ID, "", "Edited", "Tech", "Twelve chars or more.", nil, ""))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-owner", func(t *testing.T) {
		w := doRequest(r, patchForm(t, post.ID, johnToken, "Edited", "Tech", "Twelve chars or more.", nil, ""))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Unauthorized to edit this post.")
	})

	t.Run("short description", func(t *testing.T) {
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Tech", "too short", nil, ""))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("description length counts characters, not bytes", func(t *testing.T) {
		// twelve characters of mostly Cyrillic text, well past twelve bytes
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Tech", "Привет, миру", nil, ""))
		assert.Equal(t, http.StatusOK, w.Code)

		// six characters at two bytes each is still too short
		w = doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Tech", "аааааа", nil, ""))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("markup does not count against the length floor", func(t *testing.T) {
		// sanitization shrinks this below twelve characters, but the input
		// as typed is long enough
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Tech", "<script>alert(1)</script>Short one!", nil, ""))
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.Post
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.NotContains(t, updated.Description, "script")
	})

	t.Run("missing post", func(t *testing.T) {
		w := doRequest(r, patchForm(t, 9999, janeToken, "Edited", "Tech", "Twelve chars or more.", nil, ""))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("field-only update keeps thumbnail", func(t *testing.T) {
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Science", "Another long description.", nil, ""))
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.Post
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, "Edited", updated.Title)
		assert.Equal(t, "Science", updated.Category)
		assert.Equal(t, post.Thumbnail, updated.Thumbnail)
	})

	t.Run("oversized replacement leaves old thumbnail on disk", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), 2*1024*1024+1)
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Science", "Another long description.", big, "huge.png"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		_, err := os.Stat(filepath.Join(cfg.UploadDir, post.Thumbnail))
		assert.NoError(t, err, "old thumbnail must survive a rejected upload")
	})

	t.Run("file swap removes old thumbnail", func(t *testing.T) {
		w := doRequest(r, patchForm(t, post.ID, janeToken, "Edited", "Science", "Another long description.", []byte("new-img"), "new.jpg"))
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.Post
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.NotEqual(t, post.Thumbnail, updated.Thumbnail)

		_, err := os.Stat(filepath.Join(cfg.UploadDir, updated.Thumbnail))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(cfg.UploadDir, post.Thumbnail))
		assert.True(t, os.IsNotExist(err), "old thumbnail should be deleted")
	})
}

func TestDeletePost(t *testing.T) {
	r, db, cfg := setupTest(t)
	jane, janeToken := createTestUser(t, db, "Jane", "jane@example.com", "password123")
	_, johnToken := createTestUser(t, db, "John", "john@example.com", "password123")
	post := createTestPost(t, r, janeToken, "Doomed", "Tech", "Twelve chars or more.")

	deleteReq := func(id uint, token string) *http.Request {
		req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/%d", id), nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req
	}

	t.Run("unauthenticated", func(t *testing.T) {
		w := doRequest(r, deleteReq(post.ID, ""))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-owner", func(t *testing.T) {
		w := doRequest(r, deleteReq(post.ID, johnToken))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing post", func(t *testing.T) {
		w := doRequest(r, deleteReq(9999, janeToken))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("owner delete removes record, file and counter", func(t *testing.T) {
		var before models.User
		require.NoError(t, db.First(&before, jane.ID).Error)
		require.Equal(t, 1, before.Posts)

		w := doRequest(r, deleteReq(post.ID, janeToken))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), fmt.Sprintf("Post %d deleted successfully.", post.ID))

		var count int64
		require.NoError(t, db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&count).Error)
		assert.Zero(t, count)

		_, err := os.Stat(filepath.Join(cfg.UploadDir, post.Thumbnail))
		assert.True(t, os.IsNotExist(err))

		var after models.User
		require.NoError(t, db.First(&after, jane.ID).Error)
		assert.Equal(t, before.Posts-1, after.Posts)
	})

	t.Run("thumbnail already gone is not an error", func(t *testing.T) {
		orphan := createTestPost(t, r, janeToken, "Orphan", "Tech", "Twelve chars or more.")
		require.NoError(t, os.Remove(filepath.Join(cfg.UploadDir, orphan.Thumbnail)))

		w := doRequest(r, deleteReq(orphan.ID, janeToken))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPostMutationsInvalidateCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	cache := utils.NewCache(rc, time.Minute)

	r, db, _ := setupTestWithCache(t, cache)
	_, token := createTestUser(t, db, "Jane", "jane@example.com", "password123")
	first := createTestPost(t, r, token, "Original", "Tech", "Twelve chars or more.")

	// prime the list cache
	w := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// a new post must show up in the next listing, not a stale cached copy
	second := createTestPost(t, r, token, "Second", "Tech", "Twelve chars or more.")
	w = doRequest(r, httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var posts []models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	assert.Len(t, posts, 2)

	// prime the detail cache, then edit; the next read carries the new title
	w = doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", first.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, patchForm(t, first.ID, token, "Edited", "Tech", "Twelve chars or more.", nil, ""))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", first.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Edited", got.Title)

	// delete must purge the detail entry; a stale hit would answer 200
	w = doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", second.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/%d", second.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = doRequest(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", second.ID), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
