// Package learning keeps signal performance aggregates and derives signal
// weights and fingerprint blacklists from them.
package learning

import "time"

// Config tunes weight adaptation and blacklisting.
type Config struct {
	MinSamples int     // outcomes required before history affects weights or blacklists
	Alpha      float64 // win-rate term coefficient
	Beta       float64 // average-PnL term coefficient
	PnlScale   float64 // return fraction mapped to tanh(1)
	MinFactor  float64 // lower bound of the weight multiplier
	MaxFactor  float64 // upper bound of the weight multiplier

	BlacklistWinRate  float64 // fingerprints below this win rate are blacklisted
	BlacklistTTL      time.Duration
	ReevaluateSamples int // probation outcomes before a blacklist is cleared or renewed

	QueueSize int
}

// DefaultConfig returns the default learning configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples:        5,
		Alpha:             0.5,
		Beta:              0.5,
		PnlScale:          0.10,
		MinFactor:         0.25,
		MaxFactor:         2.0,
		BlacklistWinRate:  0.3,
		BlacklistTTL:      24 * time.Hour,
		ReevaluateSamples: 5,
		QueueSize:         1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.PnlScale <= 0 {
		c.PnlScale = def.PnlScale
	}
	if c.MinFactor <= 0 {
		c.MinFactor = def.MinFactor
	}
	if c.MaxFactor < c.MinFactor {
		c.MaxFactor = max(def.MaxFactor, c.MinFactor)
	}
	if c.BlacklistTTL <= 0 {
		c.BlacklistTTL = def.BlacklistTTL
	}
	if c.ReevaluateSamples <= 0 {
		c.ReevaluateSamples = def.ReevaluateSamples
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}
