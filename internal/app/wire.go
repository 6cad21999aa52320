package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"jobgrade/internal/app/observability"
	"jobgrade/internal/db"
	"jobgrade/internal/grade"
	"jobgrade/internal/interpret"
	"jobgrade/internal/interview"
	"jobgrade/internal/report"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"

	"github.com/redis/go-redis/v9"
)

// Backend is the response log plus reference-table persistence.
type Backend interface {
	store.ResponseStore
	survey.CatalogSaver
	LoadCatalog(ctx context.Context) (*survey.Catalog, error)
}

// Runtime holds everything built from a Config. Close releases the connections.
type Runtime struct {
	Config  Config
	DB      *sql.DB
	Backend Backend
	Catalog *survey.Live
	Grades  *grade.Service
	Reports *report.Service
	Engine  *interview.Engine
	Metrics *observability.Collector
	Redis   *redis.Client
	Log     *slog.Logger
}

func NewLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.AppEnv == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// OpenBackend connects the configured store and migrates the schema. The returned
// *sql.DB is nil for the memory driver.
func OpenBackend(ctx context.Context, cfg Config) (Backend, *sql.DB, error) {
	if cfg.DBDriver == "memory" {
		return store.NewMemoryStore(), nil, nil
	}
	conn, driver, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx, conn, driver); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return store.NewSQLStore(conn, driver), conn, nil
}

// Build wires the full runtime: storage, catalog, interpretation, registry, engine
// and reporting.
func Build(ctx context.Context, cfg Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	backend, conn, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, DB: conn, Backend: backend, Log: log}

	catalog, err := backend.LoadCatalog(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load reference tables: %w", err)
	}
	rt.Catalog = survey.NewLive(catalog)
	rt.Metrics = observability.NewCollector(conn, log)

	tasks := interpret.DefaultTaskSettings()
	if strings.TrimSpace(cfg.LLMTasksFile) != "" {
		tasks, err = interpret.LoadTaskSettings(cfg.LLMTasksFile)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	onDegraded := func(task interpret.Task, _ string) { rt.Metrics.Degraded(string(task)) }
	interp := interpret.NewClient(interpret.Config{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.LLMModel,
		Timeout:    cfg.LLMTimeout(),
		Tasks:      tasks,
		OnDegraded: onDegraded,
	}, log)
	if interp.Local() {
		log.Warn("LLM_API_KEY is empty, interpretation runs in local mode")
	}

	var registry interview.Registry = interview.NewMemoryRegistry()
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		registry = interview.NewRedisRegistry(rt.Redis, cfg.SessionTTL())
	}

	rt.Grades = grade.NewService(rt.Catalog, backend, log)
	rt.Reports = report.NewService(rt.Catalog, backend, rt.Grades, cfg.ReportDir, log)
	onCompleted := func(_ store.SessionKey, gradeErr error) { rt.Metrics.Completed(gradeErr == nil) }
	rt.Engine = interview.NewEngine(interview.Deps{
		Reference:   rt.Catalog,
		Responses:   backend,
		Interpreter: interp,
		Registry:    registry,
		Reporter:    rt.Reports,
		Special: interview.Special{
			RoleMenu:      cfg.QuestionRoleMenu,
			RolePath:      cfg.QuestionRolePath,
			Functionality: cfg.QuestionFunctionality,
		},
		Hooks: interview.Hooks{
			Turn:      rt.Metrics.Turn,
			Conflict:  rt.Metrics.Conflict,
			Completed: onCompleted,
		},
	}, log)
	return rt, nil
}

// Handler returns the HTTP surface of the runtime.
func (rt *Runtime) Handler() http.Handler {
	return NewRouter(rt.Config, Services{
		Engine:       rt.Engine,
		Catalog:      rt.Catalog,
		CatalogSaver: rt.Backend,
		SwapCatalog:  rt.Catalog.Swap,
		Reports:      rt.Reports,
		Metrics:      rt.Metrics,
		Log:          rt.Log,
	})
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.DB != nil {
		_ = rt.DB.Close()
	}
}
