// Package main 是代理服务的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agri-assist-go/internal/config"
	"agri-assist-go/internal/handler"
	"agri-assist-go/internal/middleware"
	"agri-assist-go/internal/repository"
	"agri-assist-go/internal/service"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/database"
	"agri-assist-go/pkg/kafka"
	"agri-assist-go/pkg/log"
	"agri-assist-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 会话吊销记录：优先 Redis
	var sessionRepo repository.SessionRepository
	if database.InitRedis(cfg.Redis) {
		sessionRepo = repository.NewSessionRepository(database.RDB)
	} else {
		sessionRepo = repository.NewMemorySessionRepository()
	}

	// 4. 初始化 Service
	sessionManager := token.NewSessionManager(cfg.Session.Secret, cfg.Session.ExpireHours)
	sessionService := service.NewSessionService(sessionManager, sessionRepo)
	publisher := kafka.NewFeedbackPublisher(cfg.Kafka)
	backendClient := backend.NewClient(cfg.Backend)
	feedbackService := service.NewFeedbackService(backendClient, publisher)

	// 5. 创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 6. 注册路由
	timeouts := cfg.Backend.Timeouts
	handler.RegisterRoutes(r, handler.Handlers{
		Auth:         handler.NewAuthHandler(backendClient, sessionService, cfg.Session, timeouts),
		Chat:         handler.NewChatHandler(backendClient, timeouts, cfg.Upload),
		Conversation: handler.NewConversationHandler(backendClient, timeouts),
		Feedback:     handler.NewFeedbackHandler(feedbackService),
		Transcribe:   handler.NewTranscribeHandler(backendClient, timeouts, cfg.Upload),
	}, middleware.SessionMiddleware(cfg.Session.CookieName, sessionService))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("代理服务启动于 %s, 后端: %s", srv.Addr, cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 对话请求可能持续数分钟，这里只等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Errorf("Kafka 生产者关闭失败: %v", err)
	}
	if database.RDB != nil {
		if err := database.RDB.Close(); err != nil {
			log.Errorf("Redis 连接关闭失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}
