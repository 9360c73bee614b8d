package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"confhub.org/internal/config"
	"confhub.org/internal/notify"
	"confhub.org/internal/obs"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFHUB_CONFIG"), "path to a YAML config file")
	prefetch := flag.Int("prefetch", 10, "unacknowledged deliveries held at once")
	flag.Parse()

	if err := run(*configPath, *prefetch); err != nil {
		obs.Logger().Fatal().Err(err).Msg("confhub-notifier stopped")
	}
}

func run(configPath string, prefetch int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.Log.Level)

	mailer, err := notify.NewMailer(notify.MailConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		BaseURL:  cfg.Public.BaseURL,
	})
	if err != nil {
		return err
	}
	worker, err := notify.DialWorker(notify.AMQPConfig{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange, Queue: cfg.AMQP.Queue}, mailer, prefetch)
	if err != nil {
		return err
	}
	defer func() { _ = worker.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Logger().Info().Str("queue", cfg.AMQP.Queue).Str("smtp_host", cfg.Mail.Host).Msg("notifier starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	obs.Logger().Info().Msg("notifier stopped")
	return nil
}
