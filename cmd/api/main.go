package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"estateflow/config"
	"estateflow/db"
	"estateflow/delivery"
	"estateflow/logger"
	"estateflow/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	zl, err := logger.NewZap(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		stdlog.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	log := logger.FromZap(zl).WithFields(map[string]interface{}{
		"app": cfg.App.Name,
		"env": cfg.App.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.Postgres)
	if err != nil {
		log.WithError(err).Error("database pool", nil)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.Postgres.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			log.WithError(err).Error("migrations failed", nil)
			os.Exit(1)
		}
		log.Info("migrations applied", nil)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.WithError(err).Error("aws config", nil)
		os.Exit(1)
	}

	redisClient := delivery.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	sinks := []delivery.Sink{{Name: "redis", Deliverer: delivery.NewRedisPublisher(redisClient)}}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := delivery.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPub.Close()
		sinks = append(sinks, delivery.Sink{Name: "kafka", Deliverer: kafkaPub})
	}
	if cfg.AWS.SES.Enabled {
		sinks = append(sinks, delivery.Sink{
			Name:      "ses",
			Deliverer: delivery.NewSESMailer(ses.NewFromConfig(awsCfg), cfg.AWS.SES.FromEmail),
			Accept:    delivery.EmailOnly,
		})
	}

	uploads := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AWS.S3.Bucket)
	app := newApp(cfg, pool, uploads, delivery.NewFanout(sinks...), log)
	log.Info("services ready", map[string]interface{}{
		"sinks":  len(sinks),
		"bucket": cfg.AWS.S3.Bucket,
	})

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newOpsHandler(pool),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("ops server listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("ops server stopped", nil)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("ops server shutdown", nil)
	}
	// Let detached deliveries finish before the sinks close.
	app.Notifications.Wait()
	cancel()
}
