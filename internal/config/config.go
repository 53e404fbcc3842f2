package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		DefaultLanguage  string   `env:"LANG,default=en"`
		LogLevel         int      `env:"LOG_LEVEL,default=2"`
		DotPath          string   `env:"DOT_PATH,default=~/.langwarden"`
		DBPath           string   `env:"DB_PATH,default=langwarden.db"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		EnabledHandlers  []string `env:"HANDLERS,default=moderation,langtest"`

		// Operations group for diagnostic replies and enforcement reports.
		ReportChatID int64 `env:"REPORT_CHAT_ID"`
		TestChatID   int64 `env:"TEST_CHAT_ID"`

		Detector    Detector
		Enforcement Enforcement
		Redis       Redis
	}

	Detector struct {
		Backend   string        `env:"DETECTOR_BACKEND,default=cybertron"`
		ModelsDir string        `env:"DETECTOR_MODELS_DIR,default=models"`
		ModelName string        `env:"DETECTOR_MODEL,default=papluca/xlm-roberta-base-language-detection"`
		APIKey    string        `env:"DETECTOR_API_KEY"`
		BaseURL   string        `env:"DETECTOR_API_URL,default=https://api.openai.com/v1"`
		Timeout   time.Duration `env:"DETECTOR_TIMEOUT,default=5s"`
	}

	Enforcement struct {
		// How long a user stays "detected" in a group after a hit.
		PunishWindow time.Duration `env:"PUNISH_WINDOW,default=10m"`
		// How long after joining a member counts as new.
		NewMemberWindow time.Duration `env:"NEW_MEMBER_WINDOW,default=72h"`
		// Watch-list entry time to live.
		WatchTTL time.Duration `env:"WATCH_TTL,default=24h"`

		ScoreStep      float64 `env:"SCORE_STEP,default=1"`
		ScoreThreshold float64 `env:"SCORE_THRESHOLD,default=3"`

		// Languages that flag impersonation when found in a display name.
		NameLanguages []string `env:"NAME_LANGUAGES,default=zh,ja,ko"`
		// Languages the diagnostic handler reports at all.
		KnownLanguages []string `env:"KNOWN_LANGUAGES,default=zh,ja,ko,ar,fa,th,vi,ru,uk,en"`

		// Rate gate feeding the "limited member" qualifier.
		LimitCount  int           `env:"LIMIT_COUNT,default=5"`
		LimitWindow time.Duration `env:"LIMIT_WINDOW,default=30s"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB,default=0"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("LW_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
