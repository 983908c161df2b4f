package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WhitelistEntry is one operator-trusted token.
type WhitelistEntry struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol,omitempty"`
	Note    string `yaml:"note,omitempty"`
}

type whitelistFile struct {
	Tokens []WhitelistEntry `yaml:"tokens"`
}

// LoadWhitelist reads the trusted-token file. A missing file yields an
// empty whitelist rather than an error.
func LoadWhitelist(path string) (map[string]WhitelistEntry, error) {
	out := make(map[string]WhitelistEntry)
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read whitelist: %w", err)
	}

	var file whitelistFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	for _, entry := range file.Tokens {
		if entry.Address == "" {
			continue
		}
		out[entry.Address] = entry
	}
	return out, nil
}
