package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabterm"
	"pkt.systems/tabterm/httpapi"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/profilestore"
	"pkt.systems/tabterm/internal/sshbackend"
	"pkt.systems/tabterm/internal/version"
	"pkt.systems/tabterm/schema"
	"pkt.systems/tabterm/sshserver"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var httpAddr string
	var sshAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tab engine with its HTTP and SSH front-ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
				cfg.HTTP.Enabled = true
			}
			if sshAddr != "" {
				cfg.SSH.Addr = sshAddr
				cfg.SSH.Enabled = true
			}

			serverCfg := toServerConfig(cfg)
			var opts []tabterm.ServerOption
			if cfg.HTTP.Enabled {
				opts = append(opts, tabterm.WithHTTP())
			}
			if cfg.SSH.Enabled {
				opts = append(opts, tabterm.WithSSH())
			}
			logger.Info("tabterm starting", "version", version.Read().Version)
			logger.Info("profile store selected", "backend", cfg.Profiles.Backend, "path", cfg.Profiles.Path)
			server, err := tabterm.New(serverCfg, tabterm.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if cfg.HTTP.Enabled {
				logger.Info("http server listening", "addr", serverCfg.HTTP.Addr, "token", serverCfg.HTTP.Token != "")
			}
			if cfg.SSH.Enabled {
				logger.Info("ssh server listening", "addr", serverCfg.SSH.Addr, "totp", serverCfg.SSH.TOTPSecret != "")
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "override http.addr and enable the HTTP API")
	cmd.Flags().StringVar(&sshAddr, "ssh-addr", "", "override ssh.addr and enable the SSH attach server")
	return cmd
}

func toServerConfig(cfg appconfig.Config) tabterm.ServerConfig {
	return tabterm.ServerConfig{
		Engine: schema.EngineConfig{
			DefaultTitle:    schema.TabTitle(cfg.Engine.DefaultTitle),
			ConnectWatchdog: time.Duration(cfg.Engine.ConnectWatchdogSeconds) * time.Second,
			TitleMax:        cfg.Engine.TitleMax,
			InboundDepth:    cfg.Engine.InboundDepth,
		},
		Transport: sshbackend.Config{
			KnownHostsPath: cfg.Transport.KnownHostsPath,
			Term:           cfg.Transport.Term,
			DialTimeout:    time.Duration(cfg.Transport.DialTimeoutSeconds) * time.Second,
			Keepalive:      time.Duration(cfg.Transport.KeepaliveSeconds) * time.Second,
		},
		Profiles: toProfilesConfig(cfg.Profiles),
		HTTP: httpapi.Config{
			Addr:        cfg.HTTP.Addr,
			BasePath:    cfg.HTTP.BasePath,
			Token:       cfg.HTTP.APIToken,
			HistorySize: cfg.HTTP.HistorySize,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			TOTPSecret:         cfg.SSH.TOTPSecret,
		},
	}
}

func toProfilesConfig(cfg appconfig.ProfilesConfig) profilestore.Config {
	return profilestore.Config{
		Backend:      cfg.Backend,
		Path:         cfg.Path,
		KeyStorePath: cfg.KeyStorePath,
	}
}
