package auction

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SeedFile lists auction definitions to create at startup.
type SeedFile struct {
	Auctions []SeedAuction `yaml:"auctions"`
}

// SeedAuction is a definition with a window relative to load time.
type SeedAuction struct {
	ProductID    string           `yaml:"product_id"`
	Biddable     *bool            `yaml:"biddable"`
	StartingBid  decimal.Decimal  `yaml:"starting_bid"`
	ReservePrice *decimal.Decimal `yaml:"reserve_price"`
	StartsIn     time.Duration    `yaml:"starts_in"`
	Duration     time.Duration    `yaml:"duration"`
}

// Definition resolves the relative window against now. Biddable defaults to true.
func (s SeedAuction) Definition(now time.Time) models.AuctionDefinition {
	biddable := true
	if s.Biddable != nil {
		biddable = *s.Biddable
	}
	start := now.Add(s.StartsIn)
	return models.AuctionDefinition{
		ProductID:    s.ProductID,
		Biddable:     biddable,
		StartingBid:  s.StartingBid,
		ReservePrice: s.ReservePrice,
		StartTime:    start,
		EndTime:      start.Add(s.Duration),
	}
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Seed creates every auction in the file and returns the created records.
func (s *Service) Seed(ctx context.Context, seed *SeedFile) ([]*models.Auction, error) {
	now := s.clock.Now()
	created := make([]*models.Auction, 0, len(seed.Auctions))
	for i, def := range seed.Auctions {
		a, err := s.CreateAuction(ctx, def.Definition(now))
		if err != nil {
			return created, fmt.Errorf("seed auction %d (%s): %w", i, def.ProductID, err)
		}
		created = append(created, a)
	}
	log.Info().Int("count", len(created)).Msg("seeded auctions")
	return created, nil
}
