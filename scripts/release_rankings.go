// 手动重新生成某场考试的排行榜并发布成绩
//
// 正常流程由管理员在后台点击"发布成绩"触发。此脚本用于补发，
// 例如修正题目答案并重新评分之后。
//
// 用法: go run scripts/release_rankings.go -exam <examId>

package main

import (
	"context"
	"flag"
	"log"

	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/pkg/database"
	"exam_portal_backend/pkg/logger"
)

func main() {
	examID := flag.String("exam", "", "考试ID")
	configDir := flag.String("config", "configs", "配置文件目录")
	flag.Parse()

	if *examID == "" {
		log.Fatal("缺少 -exam 参数")
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	questions := repository.NewQuestionRepository(db)
	rankings := service.NewRankingService(
		repository.NewExamRepository(db, questions),
		repository.NewAttemptRepository(db),
		repository.NewRankingRepository(db),
		repository.NewUserRepository(db),
		service.NewStorageService(cfg),
	)

	log.Printf("重新生成排行榜: %s", *examID)
	result, err := rankings.ReleaseResults(context.Background(), *examID)
	if err != nil {
		log.Fatalf("发布失败: %v", err)
	}
	log.Printf("完成！共 %d 人上榜，归档: %s", len(result.Rankings), result.ArchiveURL)
}
