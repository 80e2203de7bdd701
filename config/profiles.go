package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ProfileVersion is the only profile file version this build understands.
const ProfileVersion = 1.0

// Plugin categories a profile may configure.
const (
	CategoryLLM       = "llm"
	CategoryEmbedding = "embedding"
	CategoryVectorDB  = "vector_db"
	CategoryDB        = "db"
)

var profileCategories = []string{CategoryLLM, CategoryEmbedding, CategoryVectorDB, CategoryDB}

// Profile is one resolved backend profile: for each (category, usage) slot it
// names a backend and carries the free-form args handed to that backend.
type Profile struct {
	Name string

	// Entries is keyed by category, then usage. Each entry carries at
	// minimum a "name" key identifying the backend.
	Entries map[string]map[string]map[string]any
}

// Entry returns the raw args map for a (category, usage) slot.
func (p *Profile) Entry(category, usage string) (map[string]any, error) {
	usages, ok := p.Entries[category]
	if !ok {
		return nil, NewConfigError("profile %s has no %s category", p.Name, category)
	}
	entry, ok := usages[usage]
	if !ok {
		return nil, NewConfigError("profile %s has no %s.%s entry", p.Name, category, usage)
	}
	return entry, nil
}

// BackendName returns the backend name for a (category, usage) slot.
func (p *Profile) BackendName(category, usage string) (string, error) {
	entry, err := p.Entry(category, usage)
	if err != nil {
		return "", err
	}
	name, ok := entry["name"].(string)
	if !ok || name == "" {
		return "", NewConfigError("profile %s entry %s.%s is missing a name", p.Name, category, usage)
	}
	return name, nil
}

// Profiles is the parsed profile file. Pointer profiles alias other profiles
// and are resolved on lookup.
type Profiles struct {
	data map[string]any
}

// LoadProfiles reads and version-checks a TOML profile file.
func LoadProfiles(path string) (*Profiles, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("profile file not found: %s: %v", path, err)
	}
	return ParseProfiles(raw)
}

// ParseProfiles parses profile file content.
func ParseProfiles(raw []byte) (*Profiles, error) {
	var data map[string]any
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, NewConfigError("invalid profile file: %v", err)
	}

	version, ok := toFloat(data["version"])
	if !ok || version != ProfileVersion {
		return nil, NewConfigError("incompatible profile version: want %v, got %v", ProfileVersion, data["version"])
	}

	return &Profiles{data: data}, nil
}

// Resolve retrieves a profile by name, following pointer profiles until a
// real profile is found. Pointer cycles are a ConfigError.
func (p *Profiles) Resolve(name string) (*Profile, error) {
	visited := map[string]bool{}
	return p.resolve(name, visited)
}

func (p *Profiles) resolve(name string, visited map[string]bool) (*Profile, error) {
	if visited[name] {
		return nil, NewConfigError("cyclic pointer reference for profile %s", name)
	}
	visited[name] = true

	raw, ok := p.data[name].(map[string]any)
	if !ok {
		return nil, NewConfigError("no profile found for key %s", name)
	}

	if t, _ := raw["type"].(string); t == "pointer" {
		target, _ := raw["ptr"].(string)
		if target == "" {
			return nil, NewConfigError("pointer profile %s does not contain a ptr key", name)
		}
		return p.resolve(target, visited)
	}

	return parseProfile(name, raw)
}

func parseProfile(name string, raw map[string]any) (*Profile, error) {
	profile := &Profile{
		Name:    name,
		Entries: map[string]map[string]map[string]any{},
	}

	if n, ok := raw["name"].(string); ok && n != "" {
		profile.Name = n
	}

	for _, category := range profileCategories {
		catRaw, ok := raw[category].(map[string]any)
		if !ok {
			continue
		}
		usages := map[string]map[string]any{}
		for usage, entryRaw := range catRaw {
			entry, ok := entryRaw.(map[string]any)
			if !ok {
				return nil, NewConfigError("profile %s entry %s.%s is not a table", name, category, usage)
			}
			usages[usage] = entry
		}
		profile.Entries[category] = usages
	}

	return profile, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
