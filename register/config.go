// Package register orchestrates pairwise registration of a set of images:
// descriptor matching, robust model estimation and pose graph assembly.
package register

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/registration/features"
	"go.viam.com/registration/transform"
)

// Mode selects the geometric relationship fitted to each image pair.
type Mode string

const (
	// ModePlanar fits a planar homography per pair.
	ModePlanar = Mode("planar")
	// ModeCalibrated fits a calibrated relative pose via an essential
	// matrix per pair; it requires per-image intrinsics.
	ModeCalibrated = Mode("calibrated")
)

// Config contains the parameters of a registration run.
type Config struct {
	Mode        Mode                       `json:"mode"`
	Matching    *features.MatchingConfig   `json:"matching"`
	Homography  *transform.HomographyConfig `json:"homography"`
	Essential   *transform.EssentialConfig  `json:"essential"`
	MinFeatures int                        `json:"min_features"`
	DebugDir    string                     `json:"debug_dir"`
}

// DefaultConfig returns a planar registration configuration with the
// estimator defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:        ModePlanar,
		Matching:    &features.MatchingConfig{DoCrossCheck: true},
		Homography:  transform.DefaultHomographyConfig(),
		Essential:   transform.DefaultEssentialConfig(),
		MinFeatures: 10,
	}
}

// LoadConfiguration loads a registration Config from a json file.
func LoadConfiguration(file string) (*Config, error) {
	var config Config
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath) //nolint:gosec
	defer goutils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil, err
	}
	jsonParser := json.NewDecoder(configFile)
	err = jsonParser.Decode(&config)
	if err != nil {
		return nil, err
	}
	err = config.Validate(file)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Mode != ModePlanar && cfg.Mode != ModeCalibrated {
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown mode %q", cfg.Mode))
	}
	if cfg.Matching == nil {
		return goutils.NewConfigValidationFieldRequiredError(path, "matching")
	}
	if cfg.MinFeatures < 0 {
		return goutils.NewConfigValidationError(path, errors.New("min_features cannot be negative"))
	}
	if cfg.Mode == ModePlanar {
		if cfg.Homography == nil {
			return goutils.NewConfigValidationFieldRequiredError(path, "homography")
		}
		if err := cfg.Homography.Validate(path); err != nil {
			return err
		}
	}
	if cfg.Mode == ModeCalibrated {
		if cfg.Essential == nil {
			return goutils.NewConfigValidationFieldRequiredError(path, "essential")
		}
		if err := cfg.Essential.Validate(path); err != nil {
			return err
		}
	}
	return nil
}
