// 创建督导（或管理员）账号，注册接口只会创建学生账号
//
// 用法: go run scripts/create_supervisor.go -email t@example.com -name 张老师 -password secret123

package main

import (
	"context"
	"flag"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/repository"
	"lingo_assess_backend/internal/service"
	"lingo_assess_backend/pkg/database"
	"lingo_assess_backend/pkg/logger"
	"log"

	"github.com/joho/godotenv"
)

func main() {
	name := flag.String("name", "", "显示名称")
	email := flag.String("email", "", "登录邮箱")
	password := flag.String("password", "", "初始密码")
	language := flag.String("language", "english", "默认语言")
	admin := flag.Bool("admin", false, "创建管理员而不是督导")
	flag.Parse()

	if *name == "" || *email == "" || len(*password) < 8 {
		flag.Usage()
		log.Fatal("name、email 必填，password 至少 8 位")
	}

	_ = godotenv.Load()
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	role := model.Supervisor
	if *admin {
		role = model.Admin
	}

	auth := service.NewAuthService(repository.NewUserRepository(db), cfg)
	user, err := auth.CreateUser(context.Background(), *name, *email, *password, role, *language)
	if err != nil {
		log.Fatalf("创建账号失败: %v", err)
	}
	log.Printf("已创建 %s 账号: id=%d email=%s", user.Role, user.ID, user.Email)
}
