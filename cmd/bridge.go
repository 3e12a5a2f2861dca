package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wabridge/pkg/bridge"
	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/channel/telegram"
	"wabridge/pkg/channel/whatsapp"
	"wabridge/pkg/confirm"
	"wabridge/pkg/config"
	"wabridge/pkg/correlation"
	"wabridge/pkg/gateway"
	"wabridge/pkg/logger"
	"wabridge/pkg/profile"
	"wabridge/pkg/registry"
	"wabridge/pkg/store"
	"wabridge/pkg/transcode"

	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the WhatsApp to Telegram bridge",
	Long:  "Connects to the WhatsApp sidecar and the Telegram bot, relays messages in both directions, and serves health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging, cfg.Telegram.Token)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.run")

		if err := cfg.Validate(); err != nil {
			log.Error("Bridge configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runBridge(runCtx, cfg, appLogger); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bridge runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

// runBridge wires every component and blocks until ctx ends.
func runBridge(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Warn("Failed to close store", "error", err)
		}
	}()

	events := bus.NewMessageBus()
	defer events.Close()

	tg, err := telegram.NewAdapter(cfg.Telegram, log)
	if err != nil {
		return fmt.Errorf("configure telegram channel: %w", err)
	}

	wa, err := whatsapp.Connect(cfg.WhatsApp, log)
	if err != nil {
		return fmt.Errorf("configure whatsapp channel: %w", err)
	}
	defer func() {
		if err := wa.Close(); err != nil {
			log.Warn("Failed to close whatsapp channel", "error", err)
		}
	}()

	tracker := profile.NewTracker(st)
	topics := registry.New(st, tg, wa, registry.Options{
		CreateTopics:       cfg.Telegram.CreateTopics,
		SendInfoCard:       cfg.Telegram.SendInfoCard,
		SendProfilePicture: cfg.Telegram.SendProfilePicture,
		Snapshots:          tracker,
		Events:             events,
	}, log)
	if err := topics.Load(ctx); err != nil {
		return err
	}

	router := bridge.New(bridge.Deps{
		Topics:      topics,
		Correlation: correlation.New(correlation.Options{MaxEntries: cfg.Correlation.MaxEntries, TTL: cfg.Correlation.TTL()}),
		Confirm:     confirm.New(cfg.Telegram.ConfirmationMode, tg, log),
		Destination: tg,
		Source:      wa,
		Transcoder:  transcode.NewFFmpeg(log),
		Events:      events,
		Journal:     st,
	}, bridge.Options{ForwardMedia: cfg.Telegram.ForwardMedia}, log)

	var monitor gateway.Runner
	if cfg.Profiles.Monitor {
		monitor = profile.NewMonitor(wa, topics, router, tracker, profile.MonitorOptions{
			Interval:     cfg.Profiles.Interval(),
			InitialDelay: cfg.Profiles.InitialDelay(),
			Throttle:     cfg.Profiles.Throttle(),
			Events:       events,
		}, log)
	}

	adapters := []channel.Adapter{wa, tg}
	svc, err := gateway.NewService(cfg, adapters, gateway.Options{
		Handlers: router.Handlers(),
		Store:    st,
		Monitor:  monitor,
		Events:   events,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize bridge service: %w", err)
	}

	log.Info("Bridge started", "component", "cmd.run", "channels", channelNames(adapters),
		"database", cfg.Database.Type, "confirmation_mode", cfg.Telegram.ConfirmationMode)
	return svc.Run(ctx)
}

func channelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
