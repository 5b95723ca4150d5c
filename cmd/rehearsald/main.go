package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/services"
	"rehearsal/pkg/config"
	"rehearsal/pkg/utils"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// configPaths are tried in order when --config is not given.
var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/rehearsal/config.yaml",
	"config.yaml",
}

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to the YAML config file",
		EnvVars: []string{"REHEARSAL_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "overrides logging.level",
	},
	&cli.StringFlag{
		Name:  "session-dir",
		Usage: "overrides session.dir, where tracks and takes live",
	},
	&cli.IntFlag{
		Name:  "buffer-length",
		Usage: "overrides audio.buffer_length, the jitter buffer depth in frames",
		Value: -1,
	},
}

func main() {
	app := &cli.App{
		Name:        "rehearsald",
		Version:     version,
		Usage:       "real-time rehearsal mixing server",
		Description: "run without subcommands to start the server",
		Flags:       baseFlags,
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "load and validate the configuration, then exit",
				Action: checkConfig,
			},
			{
				Name:   "conductor-token",
				Usage:  "issue a conductor token signed with the configured secret",
				Action: conductorToken,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "username carried by the token",
						Value: "conductor",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "token lifetime, defaults to auth.token_ttl",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the first config file found in configPaths,
// and applies flag overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("config file %s: %w", path, statErr)
		}
		cfg, err = config.Load(path)
	} else {
		for _, path := range configPaths {
			if _, statErr := os.Stat(path); statErr != nil {
				continue
			}
			cfg, err = config.Load(path)
			break
		}
		if cfg == nil && err == nil {
			cfg, err = config.Load("")
		}
	}
	if err != nil {
		return nil, err
	}

	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := c.String("session-dir"); dir != "" {
		cfg.Session.Dir = dir
	}
	if n := c.Int("buffer-length"); n >= 0 {
		cfg.Audio.BufferLength = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func checkConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Printf("http      %s\n", cfg.Server.Address)
	fmt.Printf("control   %s (tcp)\n", cfg.Control.Address)
	fmt.Printf("audio     %s (udp)\n", cfg.Audio.UDPAddress)
	fmt.Printf("session   %s\n", cfg.Session.Dir)
	fmt.Printf("buffer    %d frames\n", cfg.Audio.BufferLength)
	fmt.Printf("redis     %t %s\n", cfg.Redis.Enabled, cfg.Redis.Address)
	fmt.Printf("secret    %s\n", utils.MaskSensitive(cfg.Auth.JWTSecret, 3))
	return nil
}

func conductorToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ttl := cfg.Auth.TokenTTL
	if d := c.Duration("ttl"); d > 0 {
		ttl = d
	}
	if ttl <= 0 {
		return errors.New("token ttl must be positive")
	}

	auth := services.NewAuthService(cfg.Auth.JWTSecret, ttl, "")
	token, claims, err := auth.GenerateToken(domain.UserID(uuid.NewString()), c.String("name"), domain.RoleConductor)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
	return nil
}
