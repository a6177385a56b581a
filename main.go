// @title Exam Portal 后端 API
// @version 1.0
// @description 在线考试平台后端：开考、答题保存、交卷评分与成绩发布。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"log"
	"os"

	"exam_portal_backend/internal/app"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/pkg/logger"

	"go.uber.org/zap"
)

func defaultConfigDir() string {
	if dir := os.Getenv("EXAM_PORTAL_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "configs"
}

func main() {
	configDir := flag.String("config", defaultConfigDir(), "配置文件目录，也可通过 EXAM_PORTAL_CONFIG_DIR 指定")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configDir, err)
	}
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if cfg.MigrateOnly {
		logger.Log.Info("Migration finished, exiting", zap.String("driver", cfg.Database.Driver))
		return
	}

	application.Run()
}
