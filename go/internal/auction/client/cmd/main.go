package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// A terminal viewer: prints the auction as it changes and submits every amount typed on stdin.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := parseViewerConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := client.NewAgent(
		client.DefaultConfig(cfg.AuctionID, cfg.BidderID, cfg.BidderName),
		client.NewWebsocketDialerFactory(cfg.URL, nil),
		clockwork.NewRealClock(),
	)
	agent.Start(ctx)
	defer agent.Close()

	views, unsubscribe := agent.Subscribe()
	defer unsubscribe()
	go render(views)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" || line == "r" {
				agent.Refresh()
				continue
			}
			amount, err := decimal.NewFromString(line)
			if err != nil {
				log.Warn().Str("input", line).Msg("type an amount, or r to refresh")
				continue
			}
			if _, err := agent.Bid(ctx, amount); err != nil {
				log.Error().Err(err).Msg("bid not sent")
			}
		}
	}
}

func render(views <-chan client.View) {
	for view := range views {
		event := log.Info().
			Str("state", string(view.State)).
			Str("leading", view.Leading().StringFixed(2)).
			Int("participants", view.ParticipantCount).
			Int("pending", len(view.Pending)).
			Int("history", len(view.History))
		if view.Auction != nil {
			event = event.Str("status", view.Auction.Status).Str("minimum_bid", view.Auction.MinimumBid.StringFixed(2))
		}
		if view.LastRejection != nil {
			event = event.Str("rejected", view.LastRejection.Reason)
		}
		if view.LastError != "" {
			event = event.Str("error", view.LastError)
		}
		event.Msg("auction")
	}
}
