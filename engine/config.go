package engine

import "time"

// Config carries the engine's tunables (§6 "Defaults"). Every field has a
// mapstructure tag so cmd/syncpsd can load it through viper, the same
// pairing the teacher uses for its sync2.Config.
type Config struct {
	MaxPubSize     int           `mapstructure:"max-pub-size"`
	MaxPubLifetime time.Duration `mapstructure:"max-pub-lifetime"`
	MaxClockSkew   time.Duration `mapstructure:"max-clock-skew"`
	DistDelay      time.Duration `mapstructure:"dist-delay"`
	RepubDelay     time.Duration `mapstructure:"repub-delay"`
	CStateLifetime time.Duration `mapstructure:"cstate-lifetime"`
	JitterMin      time.Duration `mapstructure:"jitter-min"`
	JitterMax      time.Duration `mapstructure:"jitter-max"`
	IBLTCells      int           `mapstructure:"iblt-cells"`
	IBLTHashCount  int           `mapstructure:"iblt-hash-count"`
	ExpirationGB   time.Duration `mapstructure:"expiration-gb"`
}

// DefaultConfig returns §6's tunable defaults. ExpirationGB defaults to
// MaxPubLifetime: a published entry gets one full lifetime's grace
// between deactivation and erasure, rather than erasing immediately on
// deactivation.
func DefaultConfig() Config {
	cfg := Config{
		MaxPubSize:     1024,
		MaxPubLifetime: 2 * time.Second,
		MaxClockSkew:   time.Second,
		DistDelay:      50 * time.Millisecond,
		RepubDelay:     50 * time.Millisecond,
		CStateLifetime: 1357 * time.Millisecond,
		JitterMin:      7 * time.Millisecond,
		JitterMax:      12 * time.Millisecond,
		IBLTCells:      80,
		IBLTHashCount:  3,
	}
	cfg.ExpirationGB = cfg.MaxPubLifetime
	return cfg
}
