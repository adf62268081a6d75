// Package app wires configuration into the services, workers and HTTP server
// shared by the service binary and eventctl.
package app

import (
	"context"
	"fmt"
	"log"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/certificates"
	"github.com/sirdesai22/event-service/internal/config"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/db"
	"github.com/sirdesai22/event-service/internal/elastic"
	"github.com/sirdesai22/event-service/internal/enrollment"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/httpapi"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/lifecycle"
	"github.com/sirdesai22/event-service/internal/locks"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/projects"
	"github.com/sirdesai22/event-service/internal/scoring"
	"github.com/sirdesai22/event-service/internal/workers"
	"gorm.io/gorm"
)

type App struct {
	Config config.Config
	DB     *gorm.DB
	ES     *es.Client
	Redis  *locks.Client
	Blobs  blob.Store

	Dispatcher   *notify.Dispatcher
	Transport    notify.Transport
	Identity     *identity.Registry
	Events       *events.Registry
	Lifecycle    *lifecycle.Controller
	Enrollment   *enrollment.Engine
	Projects     *projects.Service
	Scoring      *scoring.Engine
	Certificates *certificates.Service

	Delivery *workers.DeliveryWorker
	Sync     *workers.SyncWorker
	Retrier  *workers.Retrier
}

// New connects the stores and builds every service. The caller owns Close.
func New(cfg config.Config) (*App, error) {
	gdb, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	if err := db.Seed(gdb, cfg); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: gdb}

	if a.ES, err = elastic.Connect(cfg.ElasticURL); err != nil {
		return nil, err
	}
	fs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	a.Blobs = fs

	var locker locks.Locker = locks.NewLocal()
	if cfg.RedisURL != "" {
		a.Redis = locks.NewClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err := a.Redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = &locks.Redis{Client: a.Redis, Prefix: "events:"}
		log.Println("✅ Connected to Redis")
	}

	templates, err := notify.LoadTemplates()
	if err != nil {
		return nil, err
	}
	a.Dispatcher = notify.NewDispatcher(gdb, templates)
	a.Dispatcher.SMS = cfg.SMSEnabled()
	a.Dispatcher.SMSPrefix = cfg.SMSDefaultPrefix
	a.Transport = transports(cfg)

	gen := credentials.Random{}
	a.Identity = identity.NewRegistry(gdb, gen, a.Dispatcher)
	a.Lifecycle = lifecycle.New(gdb, a.Blobs, a.Dispatcher, locker)
	a.Events = events.NewRegistry(gdb, a.Dispatcher)
	a.Events.SuperadminEmail = cfg.SuperadminEmail
	a.Events.Lifecycle = a.Lifecycle
	a.Enrollment = enrollment.NewEngine(gdb, a.Identity, a.Blobs, gen, a.Dispatcher)
	a.Enrollment.Lifecycle = a.Lifecycle
	a.Projects = projects.NewService(gdb, a.Enrollment, a.Dispatcher)
	a.Scoring = scoring.NewEngine(gdb)
	a.Scoring.Lifecycle = a.Lifecycle
	a.Certificates = certificates.NewService(gdb, a.Blobs, a.Dispatcher, a.Scoring)
	a.Certificates.Lifecycle = a.Lifecycle

	a.Delivery = workers.NewDeliveryWorker(gdb, a.Transport, a.Blobs)
	a.Delivery.Interval = cfg.DeliveryInterval
	a.Delivery.Batch = cfg.DeliveryBatch
	a.Delivery.MaxAttempts = cfg.DeliveryMaxAttempts
	if a.ES != nil {
		a.Sync = &workers.SyncWorker{DB: gdb, ES: a.ES}
	}
	a.Retrier = workers.NewRetrier(gdb, a.Sync)
	a.Retrier.Interval = cfg.DLQRetryInterval
	return a, nil
}

func transports(cfg config.Config) notify.Transport {
	router := notify.Router{notify.ChannelEmail: notify.LogTransport{}, notify.ChannelSMS: notify.LogTransport{}}
	if cfg.SMTPEnabled() {
		router[notify.ChannelEmail] = notify.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		log.Println("ℹ️ SMTP_HOST not set, mail is logged instead of sent")
	}
	if cfg.SMSEnabled() {
		router[notify.ChannelSMS] = notify.NewSMSTransport(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	}
	return router
}

// Server builds the HTTP adapter over the app's services.
func (a *App) Server() *httpapi.Server {
	return &httpapi.Server{
		DB:           a.DB,
		Identity:     a.Identity,
		Events:       a.Events,
		Lifecycle:    a.Lifecycle,
		Enrollment:   a.Enrollment,
		Projects:     a.Projects,
		Scoring:      a.Scoring,
		Certificates: a.Certificates,
		Dispatcher:   a.Dispatcher,
		Retrier:      a.Retrier,
		Blobs:        a.Blobs,
		ES:           a.ES,
		Sessions: httpapi.Sessions{
			Secret: []byte(a.Config.JWTSecret),
			TTL:    a.Config.SessionTTL,
			Clock:  models.UTCNow,
		},
		CORSOrigins: a.Config.CORSOrigins,
	}
}

// StartWorkers runs the background loops until ctx is done.
func (a *App) StartWorkers(ctx context.Context) {
	go a.Delivery.Run(ctx)
	if a.Sync != nil {
		go a.Sync.Run(ctx)
	}
	go a.Retrier.RetryDLQ(ctx)
	sweeper := &workers.Sweeper{Lifecycle: a.Lifecycle, Interval: a.Config.SweepInterval}
	go sweeper.Run(ctx)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
