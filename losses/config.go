// Package losses implements the self-supervised and supervised loss terms
// for optical-flow training: ternary census, smoothness, SSIM,
// forward-backward consistency, photometric difference, and endpoint-error
// metrics, plus the multi-scale combiner that applies a term across a flow
// pyramid.
package losses

import "fmt"

// Config selects which loss terms are active and carries their weights and
// penalty exponents. It is created once at run start and treated as
// read-only for the lifetime of training.
type Config struct {
	// Per-term weights.
	SmoothWeight float32
	PhotoWeight  float32
	FBWeight     float32

	// Generalized Charbonnier exponents.
	SmoothExp float32
	PhotoExp  float32
	FBExp     float32

	// Term toggles.
	Census bool
	Smooth bool
	SSIM   bool
	FB     bool

	// WeightedSmooth switches the single-direction variant to the
	// edge-aware smoothness term.
	WeightedSmooth bool

	// Pyramid policy per term: evaluate every level or only the finest.
	MultiscaleSmooth bool
	MultiscalePhoto  bool
	MultiscaleCensus bool
	MultiscaleSSIM   bool
	MultiscaleFB     bool

	// CensusMaxDistance bounds the ternary descriptor neighborhood.
	CensusMaxDistance int
}

// DefaultConfig returns the tuned configuration for unflow training.
func DefaultConfig() Config {
	return Config{
		SmoothWeight:      0.002,
		PhotoWeight:       1,
		FBWeight:          1,
		SmoothExp:         0.38,
		PhotoExp:          0.25,
		FBExp:             0.45,
		Census:            true,
		Smooth:            true,
		SSIM:              false,
		FB:                false,
		WeightedSmooth:    true,
		MultiscaleSmooth:  true,
		MultiscalePhoto:   true,
		MultiscaleCensus:  true,
		MultiscaleSSIM:    true,
		MultiscaleFB:      true,
		CensusMaxDistance: 1,
	}
}

// Validate fails fast on option values no loss term can work with.
func (c Config) Validate() error {
	if c.SmoothExp <= 0 || c.PhotoExp <= 0 || c.FBExp <= 0 {
		return fmt.Errorf("penalty exponents must be positive, got sl=%v pl=%v fb=%v",
			c.SmoothExp, c.PhotoExp, c.FBExp)
	}
	if c.CensusMaxDistance < 1 {
		return fmt.Errorf("census max distance must be >= 1, got %d", c.CensusMaxDistance)
	}
	return nil
}
