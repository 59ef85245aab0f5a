package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/api"
	"github.com/telegraphhq/telegraph/internal/app"
	"github.com/telegraphhq/telegraph/internal/app/maintenance"
	"github.com/telegraphhq/telegraph/internal/database"
	"github.com/telegraphhq/telegraph/internal/dispatch"
	"github.com/telegraphhq/telegraph/internal/handlers"
	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/presence"
	"github.com/telegraphhq/telegraph/internal/queue"
	"github.com/telegraphhq/telegraph/internal/realtime"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/mail"
)

// runtimeStack bundles the long-lived pieces of the delivery pipeline.
type runtimeStack struct {
	DB      *gorm.DB
	Queue   *queue.Queue
	DLQ     *queue.Queue
	Router  *dispatch.Router
	Engine  *gin.Engine
	Cleaner *maintenance.Cleaner
}

// bootstrapRuntime initialises the database, queues, services, channel
// adapters, and the HTTP router.
func bootstrapRuntime(cfg *app.Config) (*runtimeStack, error) {
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	retryQueue, err := queue.New(db, queue.Options{
		Name:              cfg.Queue.Name,
		DeadLetter:        cfg.Queue.DeadLetter,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceive:        cfg.Queue.MaxReceive,
		PollInterval:      cfg.Queue.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise retry queue: %w", err)
	}

	dlq, err := queue.New(db, queue.Options{Name: cfg.Queue.DeadLetter})
	if err != nil {
		return nil, fmt.Errorf("initialise dead-letter queue: %w", err)
	}

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	prefSvc, err := services.NewPreferenceService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise preference service: %w", err)
	}
	logSvc, err := services.NewLogService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise log service: %w", err)
	}
	notifSvc, err := services.NewNotificationService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}
	intakeSvc, err := services.NewIntakeService(userSvc, retryQueue)
	if err != nil {
		return nil, fmt.Errorf("initialise intake service: %w", err)
	}

	hub := realtime.NewHub(db)
	presenceSvc, err := presence.New(hub, notifSvc, prefSvc, retryQueue)
	if err != nil {
		return nil, fmt.Errorf("initialise presence service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	adapters, err := buildAdapters(cfg, notifSvc, presenceSvc, logSvc, userSvc, mailer)
	if err != nil {
		return nil, err
	}

	router, err := dispatch.NewRouter(retryQueue, logSvc, prefSvc, adapters)
	if err != nil {
		return nil, fmt.Errorf("initialise dispatch router: %w", err)
	}

	userHandler, err := handlers.NewUserHandler(userSvc)
	if err != nil {
		return nil, err
	}
	notifHandler, err := handlers.NewNotificationHandler(intakeSvc, logSvc, dlq)
	if err != nil {
		return nil, err
	}
	realtimeHandler, err := handlers.NewRealtimeHandler(hub, presenceSvc, userSvc, cfg.Auth.HandshakeSecret)
	if err != nil {
		return nil, err
	}

	engine, err := api.NewRouter(api.Deps{
		Users:         userHandler,
		Notifications: notifHandler,
		Realtime:      realtimeHandler,
		APIKey:        cfg.Auth.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	cleaner := maintenance.NewCleaner(logSvc, dlq,
		maintenance.WithLogSchedule(cfg.Retention.LogSchedule),
		maintenance.WithDLQSchedule(cfg.Retention.DLQSchedule),
		maintenance.WithDLQMaxAge(cfg.Retention.DLQMaxAge),
	)

	return &runtimeStack{
		DB:      db,
		Queue:   retryQueue,
		DLQ:     dlq,
		Router:  router,
		Engine:  engine,
		Cleaner: cleaner,
	}, nil
}

func buildAdapters(
	cfg *app.Config,
	notifSvc *services.NotificationService,
	presenceSvc *presence.Service,
	logSvc *services.LogService,
	userSvc *services.UserService,
	mailer mail.Mailer,
) (map[string]dispatch.Adapter, error) {
	inApp, err := dispatch.NewInAppAdapter(notifSvc, presenceSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise in-app adapter: %w", err)
	}
	email, err := dispatch.NewEmailAdapter(mailer, logSvc, userSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise email adapter: %w", err)
	}

	adapters := map[string]dispatch.Adapter{
		models.ChannelInApp: inApp,
		models.ChannelEmail: email,
	}

	if cfg.Chat.WebhookURL != "" {
		chat, err := dispatch.NewChatAdapter(cfg.Chat.WebhookURL, &http.Client{Timeout: cfg.Chat.Timeout}, logSvc, userSvc)
		if err != nil {
			return nil, fmt.Errorf("initialise chat adapter: %w", err)
		}
		adapters[models.ChannelChat] = chat
	}

	return adapters, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(convertDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}

	switch cfg.Database.Driver {
	case "postgres", "postgresql":
		dbCfg.Host = cfg.Database.Postgres.Host
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = cfg.Database.Postgres.Database
		dbCfg.User = cfg.Database.Postgres.Username
		dbCfg.Password = cfg.Database.Postgres.Password
		dbCfg.Options = cfg.Database.Postgres.Options
	case "mysql":
		dbCfg.Host = cfg.Database.MySQL.Host
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = cfg.Database.MySQL.Database
		dbCfg.User = cfg.Database.MySQL.Username
		dbCfg.Password = cfg.Database.MySQL.Password
		dbCfg.Options = cfg.Database.MySQL.Options
	}

	return dbCfg
}
