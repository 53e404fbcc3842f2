package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/bot"
	"github.com/iamwavecut/langwarden/internal/classifier"
	"github.com/iamwavecut/langwarden/internal/config"
	"github.com/iamwavecut/langwarden/internal/db"
	"github.com/iamwavecut/langwarden/internal/db/sqlite"
	"github.com/iamwavecut/langwarden/internal/detect"
	"github.com/iamwavecut/langwarden/internal/detect/cybertron"
	"github.com/iamwavecut/langwarden/internal/detect/gemini"
	"github.com/iamwavecut/langwarden/internal/detect/openai"
	"github.com/iamwavecut/langwarden/internal/dispatch"
	"github.com/iamwavecut/langwarden/internal/enforcer"
	"github.com/iamwavecut/langwarden/internal/handlers"
	"github.com/iamwavecut/langwarden/internal/infra"
	"github.com/iamwavecut/langwarden/internal/lifecycle"
	"github.com/iamwavecut/langwarden/internal/observability"
	"github.com/iamwavecut/langwarden/internal/platform"
	"github.com/iamwavecut/langwarden/internal/policy"
	"github.com/iamwavecut/langwarden/internal/state"
	"github.com/iamwavecut/langwarden/internal/wordlist"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		QuoteEmptyFields: true,
	})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	client := sqlite.NewSQLiteClient(cfg.DBPath)
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Errorln("cant close db")
		}
	}()

	detector := newDetector(ctx, cfg.Detector)
	words, err := wordlist.NewMatcher()
	if err != nil {
		log.WithError(err).Fatalln("cant load word lists")
	}

	store := state.NewStore()
	store.SetSelfID(botAPI.Self.ID)
	store.Load(ctx, client)

	actions := platform.NewTelegramActions(botAPI, cfg.ReportChatID, cfg.DefaultLanguage)
	policies := policy.NewStore(client, defaultPolicy(cfg.Enforcement))
	matcher := policy.NewMatcher(policies, detector)
	pipeline := classifier.NewPipeline(store, matcher, words, actions, cfg.Enforcement.PunishWindow)

	declared := newDeclared(cfg.Redis)
	queue := dispatch.NewDispatcher()
	machine := enforcer.NewMachine(store, declared, words, actions, queue, client, enforcer.Config{
		PunishWindow:    cfg.Enforcement.PunishWindow,
		NewMemberWindow: cfg.Enforcement.NewMemberWindow,
		WatchTTL:        cfg.Enforcement.WatchTTL,
		ScoreStep:       cfg.Enforcement.ScoreStep,
		ScoreThreshold:  cfg.Enforcement.ScoreThreshold,
		NameLanguages:   cfg.Enforcement.NameLanguages,
		LimitCount:      cfg.Enforcement.LimitCount,
		LimitWindow:     cfg.Enforcement.LimitWindow,
	})

	runtime := lifecycle.NewRuntime(
		queue,
		state.NewFlusher(store, client),
		wordlist.NewFlusher(words, client),
	)
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start runtime")
	}

	service := bot.NewService(botAPI)
	bot.RegisterUpdateHandler("moderation", handlers.NewModeration(service, store, pipeline, machine, actions, cfg.Enforcement))
	bot.RegisterUpdateHandler("langtest", handlers.NewLangTest(service, store, detector))
	updateProcessor := bot.NewUpdateProcessor(service)

	go infra.GoRecoverable(-1, "process_updates", func() {
		defer cancel()

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		for update := range botAPI.GetUpdatesChan(updateConfig) {
			if err := updateProcessor.Process(ctx, &update); err != nil {
				log.WithError(err).Errorln("cant process update")
			}
		}
	})

	notify := make(chan os.Signal, 1)
	signal.Notify(notify, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-notify:
		log.WithField("signal", sig.String()).Infoln("shutting down")
	case <-ctx.Done():
		log.WithError(ctx.Err()).Errorln("no more updates")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := runtime.Stop(stopCtx); err != nil {
		log.WithError(err).Errorln("cant stop runtime cleanly")
	}
}

func newDetector(ctx context.Context, cfg config.Detector) detect.Detector {
	entry := log.WithField("context", "detector").WithField("backend", cfg.Backend)
	switch cfg.Backend {
	case "openai":
		return openai.New(cfg.APIKey, cfg.ModelName, cfg.BaseURL, entry)
	case "gemini":
		backend, err := gemini.New(ctx, cfg.APIKey, cfg.ModelName, entry)
		if err != nil {
			entry.WithError(err).Fatalln("cant initialize detector")
		}
		return backend
	default:
		backend, err := cybertron.New(infra.GetWorkDir(cfg.ModelsDir), cfg.ModelName, entry)
		if err != nil {
			entry.WithError(err).Fatalln("cant initialize detector")
		}
		return backend
	}
}

func newDeclared(cfg config.Redis) state.Declared {
	if cfg.Addr == "" {
		return state.NewMemoryDeclared()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return state.NewRedisDeclared(client)
}

// defaultPolicy enables the language-scoped categories with the configured
// restricted set and the pattern categories as plain toggles. Groups override
// any of it through their persisted policy.
func defaultPolicy(cfg config.Enforcement) db.GroupPolicy {
	restricted := cfg.NameLanguages
	return db.GroupPolicy{
		string(policy.CategoryName):     {Enabled: true, Languages: restricted},
		string(policy.CategoryText):     {Enabled: true, Languages: restricted},
		string(policy.CategoryFilename): {Enabled: true, Languages: restricted},
		string(policy.CategoryGame):     {Enabled: true, Languages: restricted},
		string(policy.CategoryVia):      {Enabled: true, Languages: restricted},
		string(policy.CategorySticker):  {Enabled: true, Languages: restricted},
		string(policy.CategorySpC):      {Enabled: true},
		string(policy.CategorySpE):      {Enabled: true},
		string(policy.CategoryCached):   {Enabled: true},
		string(policy.CategoryURL):      {Enabled: true},
	}
}
