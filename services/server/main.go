package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/appseed/core/access"
	"github.com/relabs-tech/appseed/core/backend"
	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/relabs-tech/appseed/core/csql"
	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/notify"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string        `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string        `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string        `env:"POSTGRES_SCHEMA,default=appseed" description:"the database schema"`
	Port             int           `env:"PORT,default=3000" description:"the port the service listens on"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" description:"the log level"`
	JwtSecret        string        `env:"JWT_SECRET,required" description:"HMAC secret of the bearer tokens"`
	JwtIssuer        string        `env:"JWT_ISSUER,optional" description:"accepted token issuer, empty accepts all"`
	Backdoor         string        `env:"ADMIN_BACKDOOR,optional" description:"bearer token granting the admin role, for development only"`
	KssDriver        string        `env:"KSS_DRIVER,default=Local" description:"asset storage: Local, AWSS3 or Minio"`
	KssLocalPath     string        `env:"KSS_LOCAL_PATH,default=/tmp/appseed" description:"base path of the Local asset storage"`
	Heartbeat        time.Duration `env:"HEARTBEAT,default=30s" description:"interval of the outbox relay and the expiry sweeper"`

	S3    kss.S3Configuration
	Minio kss.MinioConfiguration
	Kafka notify.KafkaConfiguration
	SQS   notify.SQSConfiguration
}

func (s *Service) kssConfiguration() *kss.Configuration {
	config := &kss.Configuration{DriverType: kss.DriverType(s.KssDriver)}
	switch config.DriverType {
	case kss.DriverTypeLocal:
		config.LocalConfiguration = &kss.LocalConfiguration{BasePath: s.KssLocalPath}
	case kss.DriverTypeAWSS3:
		config.S3Configuration = &s.S3
	case kss.DriverTypeMinio:
		config.MinioConfiguration = &s.Minio
	}
	return config
}

func (s *Service) publisher(ctx context.Context) (notify.Publisher, error) {
	switch {
	case s.Kafka.Brokers != "":
		return notify.NewKafka(s.Kafka)
	case s.SQS.QueueURL != "":
		return notify.NewSQS(ctx, s.SQS)
	}
	return nil, nil
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.Schema)
	defer db.Close()

	publisher, err := service.publisher(ctx)
	if err != nil {
		panic(err)
	}
	if publisher == nil {
		rlog.Infoln("no KAFKA_BROKERS or SQS_QUEUE_URL, resource notifications are disabled")
	}

	router := mux.NewRouter()
	if service.Backdoor != "" {
		rlog.Warnln("admin backdoor is enabled")
		router.Use(access.NewBackdoorMiddelware(map[string]access.Authorization{
			service.Backdoor: {Roles: []string{access.RoleAdmin}},
		}))
	}
	router.Use(access.NewJwtMiddelware(&access.JwtMiddlewareBuilder{
		Secret: []byte(service.JwtSecret),
		Issuer: service.JwtIssuer,
	}))

	b := backend.New(&backend.Builder{
		DB:                   db,
		Router:               router,
		KssConfiguration:     service.kssConfiguration(),
		Publisher:            publisher,
		AuthorizationEnabled: true,
		UpdateSchema:         true,
	})
	defer b.Close()
	b.ProcessOutboxAsync(service.Heartbeat)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rlog.WithError(err).Errorln("shutdown failed")
		}
	}()

	rlog.Infoln("listen on port", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		rlog.WithError(err).Fatalln("server failed")
	}
}
