package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opencredlab/credex/pkg/api"
	"github.com/opencredlab/credex/pkg/diagency"
	"github.com/opencredlab/credex/pkg/oauth2"
	"github.com/opencredlab/credex/pkg/prettylog"
	"github.com/opencredlab/credex/pkg/reliablehttp"
	"github.com/opencredlab/credex/pkg/session"
)

type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	Address     string `env:"ADDRESS" envDefault:":3001"`
	StaticDir   string `env:"STATIC_DIR" envDefault:"dist"`

	AgencyBaseURL string `env:"DIAGENCY_BASE_URL" validate:"required,url"`
	TokenURL      string `env:"OAUTH_TOKEN_URL" validate:"required,url"`
	ClientID      string `env:"OAUTH_CLIENT_ID" validate:"required"`
	ClientSecret  string `env:"OAUTH_CLIENT_SECRET" validate:"required"`
	TemplateID    string `env:"VERIFICATION_TEMPLATE_ID" validate:"required"`

	PolicyPath     string        `env:"POLICY_PATH"`
	CACertFile     string        `env:"CA_CERT_FILE"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

func (c Config) production() bool {
	return c.Environment == "production"
}

func loadConfig() (*Config, error) {
	godotenv.Load()

	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *Config) {
	if cfg.production() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
		return
	}
	slog.SetDefault(slog.New(prettylog.NewHandler(slog.LevelDebug)))
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg)

	transportOpts := []reliablehttp.Option{
		reliablehttp.WithTimeout(cfg.RequestTimeout),
		reliablehttp.WithRetryHook(reliablehttp.LogRetries("diagency")),
	}
	if cfg.CACertFile != "" {
		transportOpts = append(transportOpts, reliablehttp.WithCACertFile(cfg.CACertFile))
	}
	transport, err := reliablehttp.NewClient(transportOpts...)
	if err != nil {
		log.Fatal(err)
	}

	policy := diagency.DefaultPolicy()
	if cfg.PolicyPath != "" {
		policy, err = diagency.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	broker := oauth2.NewTokenBroker(oauth2.BrokerConfig{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, transport)

	agency := diagency.NewClient(diagency.ClientConfig{BaseURL: cfg.AgencyBaseURL}, broker, transport, policy)
	orch := diagency.NewOrchestrator(diagency.OrchestratorConfig{TemplateID: cfg.TemplateID}, agency)

	sessions := session.NewManager()
	cookie := session.CookieConfig{Name: "bank.session.id", Production: cfg.production()}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	group := e.Group("/credentials", session.Middleware(sessions, cookie))
	api.NewPresentationAPI(orch).MountRoutes(group)

	api.MountStatic(e, cfg.StaticDir, api.PublicConfig{
		AppName:     "credex-bank",
		APIBaseURL:  "/credentials",
		Environment: cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting bank backend", "address", cfg.Address, "environment", cfg.Environment)
		if err := e.Start(cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
