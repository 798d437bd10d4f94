package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const appAccount = "app"

type Config struct {
	Name       string
	Port       int
	StoreDir   string
	User       string
	Pass       string
	File       string
	EnableLogs bool
}

// RunEmbeddedNATSServer starts a JetStream enabled server in process and
// returns a connection to it.
func RunEmbeddedNATSServer(cfg Config) (*nats.Conn, *server.Server, error) {
	var (
		opts *server.Options
		err  error
	)
	if cfg.File != "" {
		opts, err = server.ProcessConfigFile(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to process nats config file: %w", err)
		}
	} else {
		opts = &server.Options{
			ServerName: cfg.Name,
			Port:       cfg.Port,
			StoreDir:   cfg.StoreDir,
		}
		if cfg.User != "" && cfg.Pass != "" {
			appAcct := server.NewAccount(appAccount)
			opts.Accounts = []*server.Account{appAcct}
			opts.Users = []*server.User{
				{
					Username: cfg.User,
					Password: cfg.Pass,
					Account:  appAcct,
				},
			}
		}
	}
	opts.JetStream = true
	opts.DisableJetStreamBanner = true
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.EnableLogs {
		ns.ConfigureLogger()
	}
	slog.Info("starting NATS server", "port", opts.Port, "store_dir", opts.StoreDir)
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, nil, fmt.Errorf("embedded NATS server not ready")
	}

	if cfg.User != "" && cfg.Pass != "" && cfg.File == "" {
		if err := enableAccountJetStream(ns); err != nil {
			ns.Shutdown()
			return nil, nil, err
		}
	}

	slog.Info("embedded NATS server is ready", "jetstream", ns.JetStreamEnabled())
	connOpts := []nats.Option{nats.InProcessServer(ns)}
	if cfg.User != "" && cfg.Pass != "" {
		connOpts = append(connOpts, nats.UserInfo(cfg.User, cfg.Pass))
	}
	nc, err := nats.Connect("", connOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, nil, err
	}
	return nc, ns, nil
}

// enableAccountJetStream turns JetStream on for the user account. The account
// must already be registered with the running server.
func enableAccountJetStream(ns *server.Server) error {
	acct, err := ns.LookupAccount(appAccount)
	if err != nil {
		return fmt.Errorf("lookup %s account: %w", appAccount, err)
	}
	err = acct.EnableJetStream(map[string]server.JetStreamAccountLimits{
		"": {
			MaxMemory:    -1,
			MaxStore:     -1,
			MaxStreams:   -1,
			MaxConsumers: -1,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("enable jetstream for %s account: %w", appAccount, err)
	}
	return nil
}
