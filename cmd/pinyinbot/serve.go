package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"pinyinbot/internal/channel"
	"pinyinbot/internal/config"
	"pinyinbot/internal/dedup"
	"pinyinbot/internal/domain"
	"pinyinbot/internal/imaging"
	"pinyinbot/internal/ledger"
	"pinyinbot/internal/metrics"
	"pinyinbot/internal/provider"
	"pinyinbot/internal/translator"

	"github.com/spf13/cobra"
)

// writeTimeoutMargin covers reading the update and writing the 200 on top
// of the photo flow and the final reply.
const writeTimeoutMargin = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (Telegram webhook, translate endpoint, health, metrics)",
		Long:  "Serves the Telegram webhook and the direct translate endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := provider.NewFactory(cfg, logger)
	defer factory.Close()
	prov, err := factory.DefaultProvider()
	if err != nil {
		return fmt.Errorf("default provider: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider not ready, requests will fail until it is configured", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider ready", "provider", prov.Name(), "model", prov.Model())
	}

	var recorder translator.Recorder
	if cfg.Ledger.Enabled {
		store, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Ledger.Driver, DSN: cfg.Ledger.DSN, Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
		logger.Info("outcome ledger enabled", "driver", store.Driver())
	}

	var claimer channel.UpdateClaimer
	if cfg.Dedup.Enabled {
		d := dedup.New(dedup.Config{
			Addr:     cfg.Dedup.RedisAddr,
			Password: cfg.Dedup.Password,
			DB:       cfg.Dedup.DB,
			TTL:      time.Duration(cfg.Dedup.TTLSeconds) * time.Second,
		})
		defer d.Close()
		if err := d.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, updates will not be deduplicated until it is", "addr", cfg.Dedup.RedisAddr, "err", err)
		}
		claimer = d
	}

	srvCfg := channel.ServerConfig{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		WriteTimeout: requestTimeout(cfg) + replyTimeout(cfg) + writeTimeoutMargin,
		Logger:       logger,
	}

	var tg *channel.Telegram
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		tg, err = newTelegram(cfg)
		if err != nil {
			return err
		}
		h, err := newPhotoHandler(cfg, tg, prov, recorder)
		if err != nil {
			return err
		}
		srvCfg.WebhookPath = cfg.Server.WebhookPath
		srvCfg.Webhook = channel.NewWebhook(channel.WebhookConfig{
			Handler:      h,
			SecretToken:  cfg.Telegram.SecretToken,
			Dedup:        claimer,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			Logger:       logger.With("component", "webhook"),
		})
		logger.Info("telegram webhook route enabled", "path", cfg.Server.WebhookPath, "bot", tg.Username())
	} else {
		logger.Warn("telegram bot token not set, webhook route disabled")
	}

	if cfg.Direct.Enabled {
		direct, err := newDirectHandler(cfg, factory, recorder)
		if err != nil {
			return err
		}
		srvCfg.TranslatePath = cfg.Server.TranslatePath
		srvCfg.Direct = channel.NewDirect(channel.DirectConfig{
			Translator:       direct,
			DefaultMediaType: cfg.Direct.DefaultMimeType,
			MaxBodyBytes:     cfg.Direct.MaxBodyBytes,
			Logger:           logger.With("component", "direct"),
		})
		logger.Info("direct translate route enabled", "path", cfg.Server.TranslatePath)
	}

	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
		srvCfg.Metrics = metrics.Collector.Handler()
	}

	srv := channel.NewServer(srvCfg)

	ln, err := net.Listen("tcp", srvCfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srvCfg.Addr, err)
	}

	// Register only once the port is open, so the first delivery finds us.
	if tg != nil && cfg.Telegram.WebhookURL != "" {
		regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := tg.SetWebhook(regCtx, channel.WebhookOptions{
			URL:                cfg.Telegram.WebhookURL,
			SecretToken:        cfg.Telegram.SecretToken,
			DropPendingUpdates: cfg.Telegram.DropPendingUpdates,
		})
		cancel()
		if err != nil {
			logger.Error("webhook registration failed", "err", err)
		}
	}

	return srv.Serve(ctx, ln)
}

func requestTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second
}

func replyTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.General.ReplyTimeoutSeconds) * time.Second
}

func newTelegram(cfg *config.Config) (*channel.Telegram, error) {
	return channel.NewTelegram(channel.TelegramConfig{
		Token:        cfg.Telegram.Token,
		APIEndpoint:  cfg.Telegram.APIEndpoint,
		FileEndpoint: cfg.Telegram.FileEndpoint,
		Logger:       logger.With("component", "telegram"),
	})
}

func newSelector(cfg *config.Config) *imaging.Selector {
	return imaging.NewSelector(imaging.SelectorConfig{
		SoftThresholdBytes: cfg.Image.SoftThresholdBytes,
		HardCeilingBytes:   cfg.Image.HardCeilingBytes,
		BytesPerPixel:      cfg.Image.BytesPerPixel,
	})
}

func newTransformer(cfg *config.Config) *imaging.Transformer {
	if !cfg.Image.Transform.Enabled {
		return nil
	}
	return imaging.NewTransformer(imaging.TransformConfig{
		MaxDimension: cfg.Image.Transform.MaxDimension,
		Quality:      cfg.Image.Transform.Quality,
	})
}

// newPhotoHandler builds the chat flow: select, fetch, transform, translate, reply.
func newPhotoHandler(cfg *config.Config, m domain.Messenger, prov domain.VisionProvider, rec translator.Recorder) (*translator.Handler, error) {
	prompt, err := translator.PromptFor(cfg.Prompt.Preset, cfg.Prompt.Text)
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return translator.NewHandler(translator.Config{
		Messenger:       m,
		Provider:        prov,
		Selector:        newSelector(cfg),
		Transformer:     newTransformer(cfg),
		Recorder:        rec,
		Prompt:          prompt,
		ParseMode:       cfg.Telegram.ParseMode,
		MaxEncodedBytes: cfg.Image.MaxEncodedBytes,
		Timeout:         requestTimeout(cfg),
		ReplyTimeout:    replyTimeout(cfg),
		Logger:          logger.With("component", "translator"),
	}), nil
}

// newDirectHandler builds the handler behind the translate endpoint. It
// can pin its own provider, model and prompt, and never resizes.
func newDirectHandler(cfg *config.Config, factory *provider.Factory, rec translator.Recorder) (*translator.Handler, error) {
	prov, err := factory.Get(cfg.Direct.Provider)
	if err != nil {
		return nil, fmt.Errorf("direct provider: %w", err)
	}
	prompt, err := translator.PromptFor(cfg.Direct.PromptPreset, cfg.Prompt.Text)
	if err != nil {
		return nil, fmt.Errorf("direct prompt: %w", err)
	}
	return translator.NewHandler(translator.Config{
		Provider:        prov,
		Recorder:        rec,
		Prompt:          prompt,
		Model:           cfg.Direct.Model,
		MaxEncodedBytes: cfg.Image.MaxEncodedBytes,
		Timeout:         requestTimeout(cfg),
		Logger:          logger.With("component", "direct"),
	}), nil
}

func translateCmd() *cobra.Command {
	var (
		providerName string
		preset       string
		model        string
		record       bool
	)
	cmd := &cobra.Command{
		Use:   "translate <image-file>",
		Short: "Translate the Chinese text in a local image",
		Long:  "Runs a local image through the same resize and vision provider as the bot and prints the reply.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			factory := provider.NewFactory(cfg, logger)
			defer factory.Close()
			prov, err := factory.Get(providerName)
			if err != nil {
				return err
			}
			if preset == "" {
				preset = cfg.Prompt.Preset
			}
			prompt, err := translator.PromptFor(preset, cfg.Prompt.Text)
			if err != nil {
				return err
			}

			var rec translator.Recorder
			if record && cfg.Ledger.Enabled {
				store, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Ledger.Driver, DSN: cfg.Ledger.DSN, Logger: logger})
				if err != nil {
					return err
				}
				defer store.Close()
				rec = store
			}

			h := translator.NewHandler(translator.Config{
				Provider:        prov,
				Transformer:     newTransformer(cfg),
				Recorder:        rec,
				Prompt:          prompt,
				Model:           model,
				MaxEncodedBytes: cfg.Image.MaxEncodedBytes,
				Timeout:         requestTimeout(cfg),
				Logger:          logger,
			})
			text, out, err := h.TranslateBytes(ctx, data)
			if err != nil {
				var de *domain.Error
				if errors.As(err, &de) {
					return fmt.Errorf("%s: %w", de.Kind, err)
				}
				return err
			}
			logger.Info("translated",
				"provider", out.Provider,
				"model", out.Model,
				"payload_bytes", out.PayloadBytes,
				"duration", out.Latency,
			)
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider name (default: general.defaultProvider)")
	cmd.Flags().StringVar(&preset, "preset", "", "prompt preset: detailed, concise, custom (default: prompt.preset)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override")
	cmd.Flags().BoolVar(&record, "record", true, "write the outcome to the ledger when it is enabled")
	return cmd
}

func setWebhookCmd() *cobra.Command {
	var (
		url     string
		remove  bool
		info    bool
		dropOld bool
	)
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register, remove or show the Telegram webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			tg, err := newTelegram(cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			switch {
			case info:
				wi, err := tg.WebhookInfo(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "url:              %s\n", wi.URL)
				fmt.Fprintf(w, "pending updates:  %d\n", wi.PendingUpdateCount)
				if wi.LastErrorMessage != "" {
					fmt.Fprintf(w, "last error:       %s\n", wi.LastErrorMessage)
				}
				return nil
			case remove:
				if err := tg.DeleteWebhook(ctx, dropOld); err != nil {
					return err
				}
				logger.Info("telegram webhook removed")
				return nil
			}

			if url == "" {
				url = cfg.Telegram.WebhookURL
			}
			if url == "" {
				return fmt.Errorf("no webhook URL: pass --url or set telegram.webhookUrl")
			}
			return tg.SetWebhook(ctx, channel.WebhookOptions{
				URL:                url,
				SecretToken:        cfg.Telegram.SecretToken,
				DropPendingUpdates: dropOld || cfg.Telegram.DropPendingUpdates,
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public https URL of the webhook route (default: telegram.webhookUrl)")
	cmd.Flags().BoolVar(&remove, "delete", false, "remove the webhook instead")
	cmd.Flags().BoolVar(&info, "info", false, "show the webhook Telegram has on file")
	cmd.Flags().BoolVar(&dropOld, "drop-pending", false, "drop updates queued while no webhook answered")
	return cmd
}
