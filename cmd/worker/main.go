package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coderun/internal/common/cache"
	"coderun/internal/common/db"
	"coderun/internal/common/mq"
	"coderun/internal/common/storage"
	"coderun/internal/runner/executor"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/repository"
	"coderun/internal/runner/worker"
	"coderun/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	language := flag.String("language", "", "Comma separated languages to consume, or \"all\"")
	concurrency := flag.Int("concurrency", 0, "Workers per language, overrides config")
	instance := flag.String("instance", "", "Instance id in consumer names, overrides config")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := appCfg.Worker.overrideLanguages(*language); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if *concurrency > 0 {
		appCfg.Worker.Concurrency = *concurrency
	}
	if *instance != "" {
		appCfg.Worker.Instance = *instance
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "worker exited", zap.Error(err))
	}
}

func run(appCfg *AppConfig) error {
	bg := context.Background()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()
	taskQueue := queue.New(redisCache, appCfg.Queue)
	store := repository.NewResultStore(redisCache, appCfg.Worker.ResultTTL)

	registry, err := executor.NewDefaultRegistry(appCfg.Executor)
	if err != nil {
		return fmt.Errorf("init executors failed: %w", err)
	}

	var events repository.ResultEventPublisher
	if len(appCfg.Events.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Events.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		events = repository.NewMQResultEventPublisher(producer, appCfg.Events.Topic)
	}

	var archive repository.ResultArchiver
	if appCfg.Archive.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.Archive.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		if err := objStorage.EnsureBucket(bg, appCfg.Archive.MinIO.Bucket); err != nil {
			return fmt.Errorf("ensure archive bucket failed: %w", err)
		}
		objArchive, err := repository.NewObjectResultArchive(objStorage, appCfg.Archive.MinIO.Bucket)
		if err != nil {
			return fmt.Errorf("init archive failed: %w", err)
		}
		defer func() {
			_ = objArchive.Close()
		}()
		archive = objArchive
	}

	var history repository.HistoryRecorder
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database failed: %w", err)
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		historyRepo := repository.NewMySQLHistoryRepository(mysqlDB)
		if err := historyRepo.EnsureSchema(bg); err != nil {
			return fmt.Errorf("ensure history schema failed: %w", err)
		}
		history = historyRepo
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	instanceID := appCfg.Worker.Instance
	if instanceID == "" {
		instanceID = queue.NewInstanceID()
	}
	health := worker.NewHealth(appCfg.Monitor.ReadyWindow)
	langs := appCfg.Worker.languages()

	var workers []*worker.Worker
	for _, lang := range langs {
		exec, err := registry.MustGet(lang)
		if err != nil {
			return err
		}
		for i := 0; i < appCfg.Worker.Concurrency; i++ {
			w, err := worker.New(worker.Config{
				Consumer:          queue.ConsumerName(host, instanceID, i),
				Executor:          exec,
				Queue:             taskQueue,
				Store:             store,
				Events:            events,
				Archive:           archive,
				History:           history,
				Health:            health,
				ResultTTL:         appCfg.Worker.ResultTTL,
				StoreRetries:      appCfg.Worker.StoreRetries,
				BackoffBase:       appCfg.Worker.BackoffBase,
				BackoffMax:        appCfg.Worker.BackoffMax,
				SideEffectTimeout: appCfg.Worker.SideEffectTimeout,
				RenewInterval:     taskQueue.LeaseTTL() / 3,
				SweepInterval:     appCfg.Worker.SweepInterval,
			})
			if err != nil {
				return fmt.Errorf("init worker failed: %w", err)
			}
			workers = append(workers, w)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	monitorServer := &http.Server{
		Addr:    appCfg.Monitor.Addr,
		Handler: worker.NewMonitorRouter(health),
	}
	listener, err := net.Listen("tcp", appCfg.Monitor.Addr)
	if err != nil {
		return fmt.Errorf("init monitor listener failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(bg, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		return worker.SampleQueueDepth(gctx, taskQueue, langs, appCfg.Monitor.SampleInterval)
	})
	g.Go(func() error {
		if err := monitorServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("monitor server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return monitorServer.Shutdown(shutdownCtx)
	})

	logger.Info(bg, "worker process started",
		zap.Any("languages", langs),
		zap.String("instance", instanceID),
		zap.Int("workers", len(workers)),
		zap.String("monitor_addr", appCfg.Monitor.Addr),
		zap.Bool("events", events != nil),
		zap.Bool("archive", archive != nil),
		zap.Bool("history", history != nil),
	)
	err = g.Wait()
	logger.Info(bg, "worker process stopped")
	return err
}
