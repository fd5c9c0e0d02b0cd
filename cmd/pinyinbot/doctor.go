package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"pinyinbot/internal/config"
	"pinyinbot/internal/dedup"
	"pinyinbot/internal/ledger"
	"pinyinbot/internal/provider"

	"github.com/spf13/cobra"
)

// checkTally counts and prints doctor results.
type checkTally struct {
	w                      io.Writer
	passed, warned, failed int
}

func (t *checkTally) pass(check, detail string) {
	t.passed++
	fmt.Fprintf(t.w, "  [PASS] %-20s %s\n", check, detail)
}

func (t *checkTally) fail(check, detail string) {
	t.failed++
	fmt.Fprintf(t.w, "  [FAIL] %-20s %s\n", check, detail)
}

func (t *checkTally) warn(check, detail string) {
	t.warned++
	fmt.Fprintf(t.w, "  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your pinyinbot setup",
		Long: `Verifies the configuration, the vision provider credentials, the Telegram
bot token and webhook, and the optional Redis and ledger backends.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			t := &checkTally{w: w}
			cfgPath := resolveConfigPath()
			fmt.Fprintf(w, "pinyinbot doctor v%s\n", version)
			fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				t.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				t.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				t.fail("Config validation", err.Error())
				fmt.Fprintf(w, "\n%d passed, %d failed\n", t.passed, t.failed)
				return fmt.Errorf("config is invalid")
			}
			t.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			checkProviders(ctx, t, cfg)
			checkTelegram(ctx, t, cfg)

			if cfg.Dedup.Enabled {
				d := dedup.New(dedup.Config{Addr: cfg.Dedup.RedisAddr, Password: cfg.Dedup.Password, DB: cfg.Dedup.DB})
				if err := d.Ping(ctx); err != nil {
					t.warn("Redis dedup", fmt.Sprintf("%s unreachable: %v", cfg.Dedup.RedisAddr, err))
				} else {
					t.pass("Redis dedup", cfg.Dedup.RedisAddr)
				}
				d.Close()
			}

			if cfg.Ledger.Enabled {
				store, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Ledger.Driver, DSN: cfg.Ledger.DSN, Logger: logger})
				if err != nil {
					t.fail("Ledger", err.Error())
				} else {
					v, err := store.SchemaVersion(ctx)
					if err != nil {
						t.fail("Ledger", err.Error())
					} else {
						t.pass("Ledger", fmt.Sprintf("%s, schema v%d", store.Driver(), v))
					}
					store.Close()
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				t.warn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				t.pass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", t.passed, t.warned, t.failed)
			if t.failed > 0 {
				fmt.Fprintf(w, "\nPlease fix the failed checks before running pinyinbot.\n")
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			if t.warned > 0 {
				fmt.Fprintf(w, "\npinyinbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(w, "\nAll checks passed! pinyinbot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkProviders(ctx context.Context, t *checkTally, cfg *config.Config) {
	factory := provider.NewFactory(cfg, logger)
	defer factory.Close()
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		p, err := factory.Get(name)
		if err != nil {
			t.fail("Provider: "+name, err.Error())
			continue
		}
		if err := p.Healthy(ctx); err != nil {
			if name == cfg.General.DefaultProvider {
				t.fail("Provider: "+name, err.Error())
			} else {
				t.warn("Provider: "+name, err.Error())
			}
			continue
		}
		t.pass("Provider: "+name, "model "+p.Model())
	}
	if _, err := factory.DefaultProvider(); err != nil {
		t.fail("Default provider", err.Error())
	}
}

func checkTelegram(ctx context.Context, t *checkTally, cfg *config.Config) {
	if !cfg.Telegram.Enabled || cfg.Telegram.Token == "" {
		t.warn("Telegram", "no bot token, only the translate endpoint will be served")
		return
	}
	tg, err := newTelegram(cfg)
	if err != nil {
		t.fail("Telegram", err.Error())
		return
	}
	t.pass("Telegram", "@"+tg.Username())

	info, err := tg.WebhookInfo(ctx)
	switch {
	case err != nil:
		t.warn("Webhook", err.Error())
	case info.URL == "":
		t.warn("Webhook", "not registered, run 'pinyinbot set-webhook --url https://...'")
	case cfg.Telegram.WebhookURL != "" && info.URL != cfg.Telegram.WebhookURL:
		t.warn("Webhook", fmt.Sprintf("registered %s, config has %s", info.URL, cfg.Telegram.WebhookURL))
	case info.LastErrorMessage != "":
		t.warn("Webhook", fmt.Sprintf("%s (last error: %s)", info.URL, info.LastErrorMessage))
	default:
		t.pass("Webhook", fmt.Sprintf("%s, %d pending", info.URL, info.PendingUpdateCount))
	}
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
