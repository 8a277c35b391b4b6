package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/broker"
	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/linker"
	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
	"github.com/voicelink/voicelink/internal/poller"
	"github.com/voicelink/voicelink/internal/server"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/userdata"
	"github.com/voicelink/voicelink/internal/voice"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (optional)")
	port := flag.String("port", "", "Override server port")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	st.WithLogger(logger)

	metrics := monitoring.NewMetrics()

	client := voice.NewClient(cfg.Voice, logger).WithMetrics(metrics)
	if account := st.Get(store.KeyAccount); account != "" {
		client.SetAccount(account)
	}

	profile := userdata.New(client, st, logger, cfg.Poll.UserDataRefresh)

	lk := linker.New(logger, func(number string) {
		phone := st.Get(store.KeyPhone)
		if phone == "" {
			logger.Warn("call requested with no forwarding phone", zap.String("number", number))
			return
		}
		callCtx, callCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer callCancel()
		if err := client.ConnectCall(callCtx, number, phone, 0); err != nil {
			logger.Warn("click-to-call failed", zap.Error(err))
		}
	}).WithMetrics(metrics)

	br := broker.New(st, profile, client, logger).
		WithMetrics(metrics).
		WithSiteURL(cfg.Voice.SiteBaseURL)

	sink := &brokerSink{br}
	notifier := poller.NewNotifier(st, sink, logger)
	p := poller.New(client, profile, st, cfg.Poll, logger).
		WithMetrics(metrics).
		WithNotifier(notifier).
		WithBadge(sink).
		WithAnimator(poller.NewAnimator(restingIcon(), sink))

	srv := server.New(cfg.Server, server.Deps{
		Store:   st,
		Client:  client,
		Profile: profile,
		Linker:  lk,
		Poller:  p,
		Broker:  br,
		Metrics: metrics,
		Log:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

// brokerSink pushes badge and notification events to every connected
// page script over the broker.
type brokerSink struct {
	broker *broker.Broker
}

func (b *brokerSink) SetBadge(text string, grayed bool) {
	b.broker.Broadcast("badge", map[string]any{"text": text, "grayed": grayed})
}

func (b *brokerSink) Notify(title, body string) {
	b.broker.Broadcast("notify", map[string]any{"title": title, "body": body})
}

func (b *brokerSink) PlayAlert() {
	b.broker.Broadcast("alert", map[string]any{})
}

func (b *brokerSink) Frame(img *image.RGBA, index int) {
	b.broker.BroadcastFrame(img, index)
}

func (b *brokerSink) Done() {
	b.broker.Broadcast("frameDone", map[string]any{})
}

// restingIcon renders the toolbar disc the spin frames rotate. A notch
// at the top makes the rotation visible.
func restingIcon() *image.RGBA {
	const size = 19
	icon := image.NewRGBA(image.Rect(0, 0, size, size))
	center := float64(size) / 2
	fill := color.RGBA{R: 0x0f, G: 0x9d, B: 0x58, A: 0xff}
	notch := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - center
			dy := float64(y) + 0.5 - center
			if math.Hypot(dx, dy) > center-1 {
				continue
			}
			if dy < -center/3 && math.Abs(dx) < 1.5 {
				icon.SetRGBA(x, y, notch)
				continue
			}
			icon.SetRGBA(x, y, fill)
		}
	}
	return icon
}
