package utils

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/inkpress/inkpress/models"
)

// StartOrphanSweeper launches a background goroutine that periodically
// removes files in the uploads directory no user avatar and no post
// thumbnail references. The file-then-record sequences in the handlers are
// not atomic, so a crash can strand a file on disk; the sweeper bounds how
// long such orphans live. Files younger than grace are left alone, since an
// upload may land on disk moments before its record commits.
func StartOrphanSweeper(db *gorm.DB, uploadDir string, interval, grace time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if grace <= 0 {
		grace = time.Hour
	}
	go func() {
		for {
			// Sleep first to avoid racing immediately at startup
			time.Sleep(interval)
			sweepOrphans(db, uploadDir, grace)
		}
	}()
}

func sweepOrphans(db *gorm.DB, uploadDir string, grace time.Duration) {
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			Sugar.Warnf("orphan sweeper read dir failed: %v", err)
		}
		return
	}
	if len(entries) == 0 {
		return
	}

	referenced := map[string]struct{}{}
	var avatars []string
	if err := db.Model(&models.User{}).Where("avatar <> ''").Pluck("avatar", &avatars).Error; err != nil {
		Sugar.Warnf("orphan sweeper avatar scan failed: %v", err)
		return
	}
	var thumbnails []string
	if err := db.Model(&models.Post{}).Pluck("thumbnail", &thumbnails).Error; err != nil {
		Sugar.Warnf("orphan sweeper thumbnail scan failed: %v", err)
		return
	}
	for _, name := range avatars {
		referenced[name] = struct{}{}
	}
	for _, name := range thumbnails {
		referenced[name] = struct{}{}
	}

	cutoff := time.Now().Add(-grace)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(uploadDir, entry.Name())); err != nil {
			Sugar.Warnf("orphan sweeper remove %s failed: %v", entry.Name(), err)
		} else {
			Sugar.Infof("orphan sweeper removed %s", entry.Name())
		}
	}
}
