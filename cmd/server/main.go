package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/consumer"
	"walletsvc/internal/handler"
	"walletsvc/internal/infrastructure/cache"
	"walletsvc/internal/infrastructure/database"
	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/job"
	"walletsvc/internal/service"
	"walletsvc/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka 生产者
	producer := mq.InitProducer(&cfg.Kafka)
	defer producer.Close()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 核心服务
	walletService := service.NewWalletService(db, cfg)
	eventService := service.NewIdempotentEventService(db)

	// 启动后台任务
	outboxRelay := job.NewOutboxRelay(db, redisClient, producer, cfg)
	go outboxRelay.Start(ctx)

	holdSweep := job.NewHoldExpirySweep(walletService, redisClient, cfg)
	go holdSweep.Start(ctx)

	eventCleanup := job.NewProcessedEventCleanup(eventService, redisClient, cfg)
	go eventCleanup.Start(ctx)

	// 启动事件消费者
	startConsumers(ctx, walletService, eventService, producer, cfg)

	// 设置路由
	router := handler.SetupRouter(db, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务和消费者
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}

func startConsumers(ctx context.Context, walletService *service.WalletService, eventService *service.IdempotentEventService, producer *mq.Producer, cfg *config.Config) {
	paymentConsumer, err := consumer.NewPaymentConsumer(walletService, eventService, producer, cfg)
	if err != nil {
		log.Fatalf("创建支付消费者失败: %v", err)
	}
	go paymentConsumer.Start(ctx)

	userConsumer, err := consumer.NewUserConsumer(walletService, eventService, producer, cfg)
	if err != nil {
		log.Fatalf("创建用户消费者失败: %v", err)
	}
	go userConsumer.Start(ctx)

	generationConsumer, err := consumer.NewGenerationConsumer(walletService, eventService, producer, cfg)
	if err != nil {
		log.Fatalf("创建生成消费者失败: %v", err)
	}
	go generationConsumer.Start(ctx)
}
