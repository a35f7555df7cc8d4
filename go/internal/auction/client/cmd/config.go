package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type viewerConfig struct {
	URL        string
	AuctionID  uuid.UUID
	BidderID   string
	BidderName string
}

func parseViewerConfig(args []string) (*viewerConfig, error) {
	fs := pflag.NewFlagSet("auction-viewer", pflag.ContinueOnError)
	fs.String("url", "ws://localhost:8080/ws/auction", "gateway websocket endpoint")
	fs.String("auction-id", "", "auction to watch")
	fs.String("bidder-id", "", "bidder identity sent with every bid (random when empty)")
	fs.String("bidder-name", "", "display name shown to other viewers (defaults to the bidder id prefix)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("AUCTIONSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	auctionID, err := uuid.Parse(v.GetString("auction-id"))
	if err != nil {
		return nil, fmt.Errorf("--auction-id is required: %w", err)
	}

	cfg := &viewerConfig{
		URL:        v.GetString("url"),
		AuctionID:  auctionID,
		BidderID:   v.GetString("bidder-id"),
		BidderName: v.GetString("bidder-name"),
	}
	if cfg.BidderID == "" {
		cfg.BidderID = uuid.NewString()
	}
	if cfg.BidderName == "" {
		cfg.BidderName = cfg.BidderID[:min(8, len(cfg.BidderID))]
	}
	return cfg, nil
}
