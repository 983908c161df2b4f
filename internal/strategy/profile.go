package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ProfileSchemaVersion is the current profile schema version.
const ProfileSchemaVersion = "1.0"

// ProfileMetadata identifies an exported tuning profile.
type ProfileMetadata struct {
	SchemaVersion string    `yaml:"schema_version" json:"schema_version"`
	ID            string    `yaml:"id,omitempty" json:"id,omitempty"`
	Name          string    `yaml:"name" json:"name"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt     time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	Source        string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// Profile is a shareable ensemble tuning: voting mode, weights, and the
// per-strategy parameters.
type Profile struct {
	Metadata       ProfileMetadata      `yaml:"metadata" json:"metadata"`
	Mode           Mode                 `yaml:"mode" json:"mode"`
	MinConfidence  float64              `yaml:"min_confidence" json:"min_confidence"`
	Enabled        []string             `yaml:"enabled" json:"enabled"`
	Weights        map[string]float64   `yaml:"weights,omitempty" json:"weights,omitempty"`
	Emperor        EmperorParams        `yaml:"emperor" json:"emperor"`
	DCA            DCAParams            `yaml:"dca" json:"dca"`
	AntiMartingale AntiMartingaleParams `yaml:"antimartingale" json:"antimartingale"`
	Reversal       ReversalParams       `yaml:"reversal" json:"reversal"`
	Candlestick    CandlestickParams    `yaml:"candlestick" json:"candlestick"`
}

// DefaultProfile returns the stock tuning under a given name.
func DefaultProfile(name string) *Profile {
	return &Profile{
		Metadata: ProfileMetadata{
			SchemaVersion: ProfileSchemaVersion,
			ID:            uuid.New().String(),
			Name:          name,
			CreatedAt:     time.Now().UTC(),
			Source:        "default",
		},
		Mode:          ModeEnsemble,
		MinConfidence: 0.55,
		Enabled: []string{
			NameEmperor, NameDCA, NameAntiMartingale, NameReversal, NameCandlestick,
		},
		Emperor:        DefaultEmperorParams(),
		DCA:            DefaultDCAParams(),
		AntiMartingale: DefaultAntiMartingaleParams(),
		Reversal:       DefaultReversalParams(),
		Candlestick:    DefaultCandlestickParams(),
	}
}

// Validate checks a profile for values the combiner cannot run with.
func (p *Profile) Validate() error {
	switch p.Mode {
	case ModeEnsemble, ModeConsensus, ModeBest, ModeConservative:
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f outside [0,1]", p.MinConfidence)
	}
	if len(p.Enabled) == 0 {
		return fmt.Errorf("no strategies enabled")
	}
	known := map[string]bool{
		NameEmperor: true, NameDCA: true, NameAntiMartingale: true,
		NameReversal: true, NameCandlestick: true,
	}
	for _, name := range p.Enabled {
		if !known[strings.ToLower(name)] {
			return fmt.Errorf("unknown strategy %q", name)
		}
	}
	for name, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("negative weight %.2f for %q", w, name)
		}
	}
	return nil
}

// Migrate upgrades an older profile to the current schema. Profiles
// newer than this build are rejected.
func (p *Profile) Migrate() error {
	if p.Metadata.SchemaVersion == "" {
		p.Metadata.SchemaVersion = ProfileSchemaVersion
		return nil
	}
	if p.Metadata.SchemaVersion == ProfileSchemaVersion {
		return nil
	}

	current, err := parseSchemaVersion(p.Metadata.SchemaVersion)
	if err != nil {
		return err
	}
	target, err := parseSchemaVersion(ProfileSchemaVersion)
	if err != nil {
		return err
	}
	if current.GreaterThan(target) {
		return fmt.Errorf("profile schema %s is newer than supported %s",
			p.Metadata.SchemaVersion, ProfileSchemaVersion)
	}

	// No older schemas shipped yet; stamp forward.
	p.Metadata.SchemaVersion = ProfileSchemaVersion
	return nil
}

func parseSchemaVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err == nil {
		return parsed, nil
	}
	// Tolerate two-segment versions like "1.0".
	parsed, err = semver.NewVersion(v + ".0")
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %q", v)
	}
	return parsed, nil
}

// SaveProfile writes a profile, YAML or JSON by file extension.
func SaveProfile(p *Profile, path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Metadata.ID == "" {
		p.Metadata.ID = uuid.New().String()
	}
	if p.Metadata.CreatedAt.IsZero() {
		p.Metadata.CreatedAt = time.Now().UTC()
	}
	p.Metadata.SchemaVersion = ProfileSchemaVersion

	var (
		raw []byte
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		raw, err = json.MarshalIndent(p, "", "  ")
	} else {
		raw, err = yaml.Marshal(p)
	}
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

// LoadProfile reads, migrates, and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, &p)
	} else {
		err = yaml.Unmarshal(raw, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if err := p.Migrate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Combiner builds the voting combiner this profile describes.
func (p *Profile) Combiner(log zerolog.Logger) *Combiner {
	byName := map[string]Strategy{
		NameEmperor:        NewEmperor(p.Emperor),
		NameDCA:            NewDCA(p.DCA),
		NameAntiMartingale: NewAntiMartingale(p.AntiMartingale),
		NameReversal:       NewReversal(p.Reversal),
		NameCandlestick:    NewCandlestick(p.Candlestick),
	}
	var picked []Strategy
	for _, name := range p.Enabled {
		if s, ok := byName[strings.ToLower(name)]; ok {
			picked = append(picked, s)
		}
	}
	return NewCombiner(p.Mode, picked, p.Weights, p.MinConfidence, log)
}
