package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/handler"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/job"
	"bankledger/internal/repository"
	"bankledger/internal/service"
	"bankledger/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		log.WithField("addr", client.Options().Addr).Info("redis connected")
	}

	// 账户存储
	var (
		store repository.AccountStore
		db    *gorm.DB
	)
	if cfg.Database.Driver == config.DriverMemory {
		store = repository.NewMemoryStore()
		log.Warn("using in-memory account store, data is lost on restart")
	} else {
		conn, err := database.Open(cfg.Database, log)
		if err != nil {
			return err
		}
		defer database.Close(conn)
		db = conn

		topic := ""
		if cfg.Kafka.Enabled {
			topic = cfg.Kafka.Topic.LedgerEvents
		}
		store = repository.NewGormStore(db, topic)
	}

	// 账户锁
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Driver == config.LockRedis {
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.TTL(), cfg.Lock.RetryInterval(), cfg.Lock.MaxRetries,
			func(key string, err error) {
				log.WithError(err).WithField("key", key).Error("release account lock failed")
			})
	}

	// 会话存储
	var sessions repository.SessionRepository
	if cfg.Session.Store == config.SessionRedis {
		sessions = repository.NewRedisSessionRepository(redisClient)
	} else {
		memSessions := repository.NewMemorySessionRepository()
		sweeper, err := job.NewSessionSweeper(memSessions, cfg.Session.SweepSpec, log)
		if err != nil {
			return fmt.Errorf("session sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		sessions = memSessions
	}

	auth, err := service.NewAuthService(store, sessions, cfg.Session.TTL(), cfg.Auth.BcryptCost, log)
	if err != nil {
		return err
	}
	ledger := service.NewLedgerService(store, locker, log, cfg.Business.LedgerPageSize)

	// 账务事件投递
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		sender := job.NewOutboxSender(repository.NewOutboxRepository(db), producer, log,
			time.Duration(cfg.Business.OutboxIntervalMs)*time.Millisecond,
			cfg.Business.OutboxBatchSize, cfg.Business.MaxRetryCount)
		go sender.Start(ctx)
		// defer 后进先出：先停发件箱任务并等它退出，再关闭生产者
		defer func() {
			cancel()
			<-sender.Done()
		}()
	}

	// 设置路由
	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(handler.RouterOptions{
		Auth:           auth,
		Ledger:         ledger,
		Log:            log,
		RequireSession: cfg.Session.Require,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	// 停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}

	log.Info("server stopped")
	return nil
}
