package main

import (
	"time"

	"github.com/inkpress/inkpress/config"
	"github.com/inkpress/inkpress/models"
	"github.com/inkpress/inkpress/routes"
	"github.com/inkpress/inkpress/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(cfg, &models.User{}, &models.Post{})
	rc := utils.NewRedis(cfg)

	r := routes.SetupRouter(cfg, db, rc)

	// Background removal of upload files no record references (best-effort)
	utils.StartOrphanSweeper(db, cfg.UploadDir,
		time.Duration(cfg.SweepIntervalMin)*time.Minute,
		time.Duration(cfg.SweepGraceMin)*time.Minute)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
