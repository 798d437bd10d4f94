package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/litesql/tablegate/internal/backend"
	"github.com/litesql/tablegate/internal/dispatch"
	tghttp "github.com/litesql/tablegate/internal/http"
	"github.com/litesql/tablegate/internal/interceptor"
	"github.com/litesql/tablegate/internal/kafka"
	tgmcp "github.com/litesql/tablegate/internal/mcp"
	tgnats "github.com/litesql/tablegate/internal/nats"
	"github.com/litesql/tablegate/internal/wire/mysql"
	"github.com/litesql/tablegate/internal/wire/postgresql"
)

var (
	version string = "dev"
	commit  string = "none"
	date    string = "unknown"
)

var (
	fs       *ff.FlagSet
	name     *string
	port     *uint
	logLevel *string

	backendDriver  *string
	backendURL     *string
	backendKey     *string
	schema         *string
	sqlFunction    *string
	tablesFunction *string
	maxLimit       *int
	hooks          *string

	natsURL      *string
	natsLogs     *bool
	natsPort     *int
	natsUser     *string
	natsPass     *string
	natsStoreDir *string
	natsConfig   *string
	natsStream   *string
	natsMaxAge   *time.Duration
	natsReplicas *int

	kafkaBrokers *string
	kafkaTopic   *string

	publishTimeout *time.Duration

	pgPort *int
	pgUser *string
	pgPass *string
	pgCert *string
	pgKey  *string

	mysqlPort *int
	mysqlUser *string
	mysqlPass *string
)

func main() {
	fs = ff.NewFlagSet("tablegate")
	name = fs.String('n', "name", "trusted-biz-link-mcp", "Server name reported by /health and MCP")
	port = fs.Uint('p', "port", 3001, "HTTP server port")
	logLevel = fs.StringLong("log-level", "info", "Log level (debug|info|warn|error)")

	backendDriver = fs.StringLong("backend", "postgres", "Backend driver (postgres|sqlite)")
	backendURL = fs.StringLong("backend-url", "", "Backend connection URL or sqlite DSN")
	backendKey = fs.StringLong("backend-key", "", "Backend password, overrides the one in --backend-url")
	schema = fs.StringLong("schema", "public", "Schema listed by list_tables")
	sqlFunction = fs.StringLong("sql-function", "execute_sql", "Function receiving run_sql statements (empty to run them in a read-only transaction, ignored on sqlite unless set)")
	tablesFunction = fs.StringLong("tables-function", "get_tables", "Function called when table introspection fails")
	maxLimit = fs.IntLong("max-limit", dispatch.DefaultMaxLimit, "Maximum number of rows returned by query_table")
	hooks = fs.StringLong("hooks", "", "Go script with Before/After request hooks")

	natsURL = fs.StringLong("nats-url", "", "NATS server url for change events")
	natsLogs = fs.BoolLong("nats-logs", "Enable NATS server logging")
	natsPort = fs.IntLong("nats-port", 0, "Embedded NATS server port (0 to disable)")
	natsStoreDir = fs.StringLong("nats-store-dir", "", "Embedded NATS server store directory")
	natsUser = fs.StringLong("nats-user", "", "Embedded NATS server user")
	natsPass = fs.StringLong("nats-pass", "", "Embedded NATS server password")
	natsConfig = fs.StringLong("nats-config", "", "Embedded NATS server config file")
	natsStream = fs.StringLong("nats-stream", "TABLEGATE", "Change events stream name")
	natsMaxAge = fs.DurationLong("nats-max-age", 24*time.Hour, "Change events stream max age")
	natsReplicas = fs.IntLong("nats-replicas", 1, "Change events stream replicas")

	kafkaBrokers = fs.StringLong("kafka-brokers", "", "Comma-separated list of Kafka seed brokers for change events")
	kafkaTopic = fs.StringLong("kafka-topic", "tablegate.changes", "Kafka change events topic")

	publishTimeout = fs.DurationLong("publish-timeout", 5*time.Second, "Change event publish timeout (at least 1s with Kafka)")

	pgPort = fs.IntLong("pg-port", 0, "PostgreSQL wire protocol port (0 to disable)")
	pgUser = fs.StringLong("pg-user", "tablegate", "PostgreSQL wire auth user")
	pgPass = fs.StringLong("pg-pass", "", "PostgreSQL wire auth password")
	pgCert = fs.StringLong("pg-cert", "", "PostgreSQL TLS certificate file")
	pgKey = fs.StringLong("pg-key", "", "PostgreSQL TLS key file")

	mysqlPort = fs.IntLong("mysql-port", 0, "MySQL wire protocol port (0 to disable)")
	mysqlUser = fs.StringLong("mysql-user", "tablegate", "MySQL wire auth user")
	mysqlPass = fs.StringLong("mysql-pass", "", "MySQL wire auth password")

	printVersion := fs.BoolLong("version", "Print version information and exit")
	_ = fs.String('c', "config", "", "config file (optional)")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TABLEGATE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		fmt.Printf("err=%v\n", err)
		return
	}

	if *printVersion {
		fmt.Println("tablegate")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Date: %s\n", date)
		return
	}

	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var level slog.LevelVar
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	if *backendURL == "" {
		return fmt.Errorf("--backend-url is required")
	}
	if *maxLimit < 1 {
		return fmt.Errorf("--max-limit must be at least 1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := backend.Open(ctx, *backendDriver, *backendURL, *backendKey)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer client.Close()

	cfg := dispatch.Config{
		Schema:         *schema,
		TablesFunction: *tablesFunction,
		SQLFunction:    runSQLFunction(*backendDriver, *sqlFunction, flagIsSet("sql-function")),
		MaxLimit:       *maxLimit,
	}

	if *hooks != "" {
		i, err := interceptor.Load(*hooks)
		if err != nil {
			return fmt.Errorf("failed to load hooks %q: %w", *hooks, err)
		}
		if i != nil {
			slog.Info("request hooks loaded", "file", *hooks)
			cfg.Interceptor = i
		}
	}

	var (
		natsConn   *nats.Conn
		natsServer *server.Server
		changes    tghttp.ChangeFollower
	)
	if *natsPort > 0 || *natsConfig != "" {
		natsConn, natsServer, err = tgnats.RunEmbeddedNATSServer(tgnats.Config{
			Name:       *name,
			Port:       *natsPort,
			StoreDir:   *natsStoreDir,
			User:       *natsUser,
			Pass:       *natsPass,
			File:       *natsConfig,
			EnableLogs: *natsLogs,
		})
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
	} else if *natsURL != "" {
		natsConn, err = tgnats.Connect(*natsURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
	}
	if natsConn != nil {
		slog.Info("starting change events publisher", "stream", *natsStream)
		publisher, err := tgnats.NewChangePublisher(ctx, natsConn, tgnats.StreamConfig{
			Name:     *natsStream,
			Replicas: *natsReplicas,
			MaxAge:   *natsMaxAge,
			Timeout:  *publishTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to start NATS change publisher: %w", err)
		}
		cfg.Publishers = append(cfg.Publishers, publisher)
		subscriber, err := tgnats.NewChangeSubscriber(natsConn, *natsStream)
		if err != nil {
			return fmt.Errorf("failed to start NATS change subscriber: %w", err)
		}
		changes = subscriber
	}

	if *kafkaBrokers != "" {
		publisher, err := kafka.NewChangePublisher(strings.Split(*kafkaBrokers, ","), *kafkaTopic, *publishTimeout)
		if err != nil {
			return fmt.Errorf("failed to start Kafka change publisher: %w", err)
		}
		defer publisher.Close()
		cfg.Publishers = append(cfg.Publishers, publisher)
	}

	d := dispatch.New(client, cfg)

	mux := http.NewServeMux()
	(&tghttp.Handler{
		Name:     *name,
		Dispatch: d,
		Changes:  changes,
	}).Register(mux)
	tgmcp.Register(mux, tgmcp.NewServer(d, *name, version))

	var pgServer *postgresql.Server
	if *pgPort > 0 {
		if *pgPass == "" {
			return fmt.Errorf("--pg-pass is required when --pg-port is set")
		}
		pgServer, err = postgresql.NewServer(postgresql.Config{
			User:    *pgUser,
			Pass:    *pgPass,
			TLSCert: *pgCert,
			TLSKey:  *pgKey,
		}, d)
		if err != nil {
			return fmt.Errorf("failed to create PostgreSQL server: %w", err)
		}
		slog.Info("starting PostgreSQL wire protocol server", "port", *pgPort)
		go func() {
			if err := pgServer.ListenAndServe(*pgPort); err != nil {
				slog.Error("PostgreSQL server error", "error", err)
			}
		}()
	}

	var mysqlServer *mysql.Server
	if *mysqlPort > 0 {
		if *mysqlPass == "" {
			return fmt.Errorf("--mysql-pass is required when --mysql-port is set")
		}
		mysqlServer, err = mysql.NewServer(mysql.Config{
			Port: *mysqlPort,
			User: *mysqlUser,
			Pass: *mysqlPass,
		}, d)
		if err != nil {
			return fmt.Errorf("failed to create MySQL server: %w", err)
		}
		if err := mysqlServer.ListenAndServe(); err != nil {
			return fmt.Errorf("failed to start MySQL server: %w", err)
		}
	}

	httpServer := http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mux,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-done
		slog.Warn("signal detected...", "signal", sig)
		cancel()
		if pgServer != nil {
			if err := pgServer.Close(); err != nil {
				slog.Error("PostgreSQL server shutdown failed", "error", err)
			}
		}
		if mysqlServer != nil {
			if err := mysqlServer.Close(); err != nil {
				slog.Error("MySQL server shutdown failed", "error", err)
			}
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
		if natsConn != nil {
			if err := tgnats.Drain(natsConn, 5*time.Second); err != nil {
				slog.Error("NATS connection drain failed", "error", err)
			}
		}
		if natsServer != nil {
			natsServer.Shutdown()
			natsServer.WaitForShutdown()
		}
	}()

	slog.Info("starting tablegate HTTP server", "name", *name, "port", *port, "backend", *backendDriver, "version", version, "commit", commit, "date", date)
	return httpServer.ListenAndServe()
}

// runSQLFunction drops the default run_sql function on sqlite, which cannot
// call functions, unless one was set explicitly.
func runSQLFunction(driver, function string, explicit bool) string {
	if explicit || function == "" {
		return function
	}
	switch driver {
	case "sqlite", "sqlite3":
		slog.Info("sqlite backend runs run_sql statements directly", "ignored_sql_function", function)
		return ""
	}
	return function
}

func flagIsSet(name string) bool {
	f, ok := fs.GetFlag(name)
	return ok && f.IsSet()
}
