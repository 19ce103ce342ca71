//go:build linux
// +build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fzft/go-pollchan/channel"
	"github.com/fzft/go-pollchan/cmd"
	"github.com/fzft/go-pollchan/config"
	"github.com/fzft/go-pollchan/log"
	"github.com/fzft/go-pollchan/reactor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is what producers and the console put on the channel.
type Message struct {
	Source string
	Seq    uint64
	Text   string
	At     time.Time
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := log.InitLogger(cfg.Logging.Level); err != nil {
		return err
	}
	defer log.Logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := reactor.New(reactor.Config{EventsCapacity: cfg.Reactor.EventsCapacity})
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		tx *channel.Sender[Message]
		rx *channel.Receiver[Message]
	)
	if cfg.Channel.Bounded() {
		tx, rx = channel.Bounded[Message](cfg.Channel.Capacity)
	} else {
		tx, rx = channel.Unbounded[Message]()
	}

	var received uint64
	if _, err := reactor.Consume(r, rx, func(m Message) error {
		received++
		log.Logger.Info("received",
			zap.String("source", m.Source),
			zap.Uint64("seq", m.Seq),
			zap.String("text", m.Text),
			zap.Duration("latency", time.Since(m.At)))
		return nil
	}); err != nil {
		return err
	}

	if _, err := r.Ticker(cfg.Reactor.GetStatsInterval(), func(uint64) error {
		log.Logger.Info("stats", zap.Uint64("pending", rx.Pending()), zap.Uint64("received", received))
		return nil
	}); err != nil {
		return err
	}

	log.Logger.Info("pollchan started",
		zap.String("version", Version()),
		zap.Bool("bounded", cfg.Channel.Bounded()),
		zap.Int("producers", cfg.Producer.Count))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Producer.Count; i++ {
		ptx := tx.Clone()
		name := fmt.Sprintf("producer-%d", i)
		g.Go(func() error {
			defer ptx.Close()
			return produce(gctx, ptx, name, cfg.Producer.GetInterval())
		})
	}

	console := cmd.NewConsole(os.Stdin)
	defer console.Close()
	consoleCtx, stopConsole := context.WithCancel(gctx)
	defer stopConsole()
	go func() {
		defer tx.Close()
		var seq uint64
		err := console.Run(consoleCtx, func(line string) error {
			seq++
			return deliver(tx.Send(Message{Source: "console", Seq: seq, Text: line, At: time.Now()}))
		})
		switch {
		case errors.Is(err, cmd.ErrQuit):
			log.Logger.Info("quit requested")
			cancel()
		case err != nil:
			log.Logger.Error("console stopped", zap.Error(err))
			cancel()
		}
	}()

	g.Go(func() error {
		// unblocks producers waiting on a full channel
		defer rx.Close()
		return r.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Logger.Info("pollchan stopped", zap.Uint64("received", received))
	return nil
}

// produce sends a heartbeat every interval until ctx is done.
func produce(ctx context.Context, tx *channel.Sender[Message], name string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			seq++
			if err := deliver(tx.Send(Message{Source: name, Seq: seq, Text: "heartbeat", At: now})); err != nil {
				return err
			}
		}
	}
}

// deliver keeps a value that reached the channel from failing its sender.
func deliver(err error) error {
	if err == nil {
		return nil
	}
	if channel.IsDelivered(err) {
		log.Logger.Warn("readiness update failed", zap.Error(err))
		return nil
	}
	if errors.Is(err, channel.ErrDisconnected) {
		return nil
	}
	return err
}
