// Command loadclient simulates singers: each one announces over the control
// channel, streams a sine tone over UDP in 20 ms frames and counts the mix
// coming back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rehearsal/pkg/logger"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "loadclient",
		Usage: "stream synthetic singers into a rehearsal server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "server host",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "control-port",
				Usage: "TCP control port",
				Value: 9001,
			},
			&cli.IntFlag{
				Name:  "audio-port",
				Usage: "UDP audio port",
				Value: 9000,
			},
			&cli.IntFlag{
				Name:  "clients",
				Usage: "number of simulated singers",
				Value: 4,
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "how long to stream; zero streams until interrupted",
				Value: 30 * time.Second,
			},
			&cli.Float64Flag{
				Name:  "frequency",
				Usage: "tone of the first singer in Hz; later singers step up a fifth",
				Value: 220,
			},
			&cli.Float64Flag{
				Name:  "amplitude",
				Usage: "tone peak amplitude in (0, 1]",
				Value: 0.3,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	zapLogger := logger.New(c.String("log-level"))
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	n := c.Int("clients")
	if n <= 0 {
		return fmt.Errorf("--clients must be positive")
	}
	amplitude := c.Float64("amplitude")
	if amplitude <= 0 || amplitude > 1 {
		return fmt.Errorf("--amplitude must be in (0, 1]")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	singers := make([]*singer, n)
	for i := range singers {
		singers[i] = newSinger(singerConfig{
			ClientID:    fmt.Sprintf("load-%03d", i+1),
			Host:        c.String("host"),
			ControlPort: c.Int("control-port"),
			AudioPort:   c.Int("audio-port"),
			Frequency:   c.Float64("frequency") * pow(1.5, i),
			Amplitude:   amplitude,
		}, log.With("client_id", fmt.Sprintf("load-%03d", i+1)))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range singers {
		s := s
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	started := time.Now()
	err := g.Wait()

	reports := lo.Map(singers, func(s *singer, _ int) report {
		return s.Report()
	})
	total := lo.Reduce(reports, func(acc report, r report, _ int) report {
		return acc.add(r)
	}, report{})
	elapsed := time.Since(started)

	for _, r := range reports {
		log.Infow("singer report",
			"client_id", r.ClientID,
			"sent", r.Sent,
			"received", r.Received,
			"lost", r.Lost,
			"loss_pct", fmt.Sprintf("%.2f", r.LossPercent()),
		)
	}
	log.Infow("load run finished",
		"singers", n,
		"elapsed", elapsed.Round(time.Millisecond),
		"sent", total.Sent,
		"received", total.Received,
		"lost", total.Lost,
		"loss_pct", fmt.Sprintf("%.2f", total.LossPercent()),
		"bytes_out", humanize.Bytes(total.BytesOut),
		"bytes_in", humanize.Bytes(total.BytesIn),
	)

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
