package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/tasklog/internal/config"
	"github.com/tasklog/internal/db"
	"github.com/tasklog/internal/router"
)

func main() {
	// .env 不存在时静默跳过，环境变量优先
	_ = godotenv.Load()

	cfg := config.Load()

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 保证管理员账号存在
	if err := db.EnsureAdmin(cfg.AdminUserName, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}

	// 设置并运行 Gin 服务器
	r := router.Setup(cfg)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
