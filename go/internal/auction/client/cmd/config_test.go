package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseViewerConfig_Defaults(t *testing.T) {
	id := uuid.New()

	cfg, err := parseViewerConfig([]string{"--auction-id=" + id.String()})
	require.NoError(t, err)

	assert.Equal(t, id, cfg.AuctionID)
	assert.Equal(t, "ws://localhost:8080/ws/auction", cfg.URL)
	_, err = uuid.Parse(cfg.BidderID)
	assert.NoError(t, err, "a random bidder id is generated")
	assert.Equal(t, cfg.BidderID[:8], cfg.BidderName)
}

func TestParseViewerConfig_FlagsAndEnv(t *testing.T) {
	id := uuid.New()
	t.Setenv("AUCTIONSYNC_AUCTION_ID", id.String())
	t.Setenv("AUCTIONSYNC_BIDDER_NAME", "Dora")

	cfg, err := parseViewerConfig([]string{"--bidder-id=dora", "--url=ws://gateway:9000/ws/auction"})
	require.NoError(t, err)

	assert.Equal(t, id, cfg.AuctionID)
	assert.Equal(t, "dora", cfg.BidderID)
	assert.Equal(t, "Dora", cfg.BidderName)
	assert.Equal(t, "ws://gateway:9000/ws/auction", cfg.URL)
}

func TestParseViewerConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing auction", nil},
		{"bad auction id", []string{"--auction-id=nope"}},
		{"unknown flag", []string{"--auction-id=" + uuid.NewString(), "--shout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseViewerConfig(tt.args)
			assert.Error(t, err)
		})
	}
}
