// Package preset loads named dice expressions ("fireball: 8d6") from YAML.
package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/dicenotation/internal/dice"
)

// yamlPresetFile is the top-level YAML structure for preset files.
type yamlPresetFile struct {
	Presets []yamlPreset `yaml:"presets"`
}

type yamlPreset struct {
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// Preset is a named, validated dice expression.
type Preset struct {
	Name        string
	Description string
	// Notation is the expression exactly as written in the file.
	Notation string
	// Canonical is the parsed expression's canonical string.
	Canonical string
}

// Expression parses the preset's notation.
//
// Postcondition: never fails for a Preset returned by this package.
func (p Preset) Expression() *dice.Expression {
	return dice.MustParse(p.Notation)
}

// Library is an immutable set of presets keyed by lower-cased name.
type Library struct {
	byName map[string]Preset
}

// Get returns the preset named name, case-insensitively.
func (l *Library) Get(name string) (Preset, bool) {
	if l == nil {
		return Preset{}, false
	}
	p, ok := l.byName[strings.ToLower(name)]
	return p, ok
}

// Names returns every preset name, sorted.
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.byName))
	for _, p := range l.byName {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownPreset is returned by Expression for a name the library lacks.
var ErrUnknownPreset = errors.New("unknown preset")

// Expression returns the parsed expression of the preset named name.
func (l *Library) Expression(name string) (*dice.Expression, error) {
	p, ok := l.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p.Expression(), nil
}

// Len returns the number of presets.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.byName)
}

// LoadFromFile reads and validates a single preset YAML file.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: Returns a validated Library or a non-nil error.
func LoadFromFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preset file %s: %w", path, err)
	}
	lib := &Library{byName: make(map[string]Preset)}
	if err := lib.add(data); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return lib, nil
}

// LoadFromBytes parses and validates presets from YAML bytes.
//
// Postcondition: Returns a validated Library or a non-nil error.
func LoadFromBytes(data []byte) (*Library, error) {
	lib := &Library{byName: make(map[string]Preset)}
	if err := lib.add(data); err != nil {
		return nil, err
	}
	return lib, nil
}

// LoadFromDir merges every .yaml/.yml file in dir into one Library.
// A name defined in two files is an error.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a validated Library or the first error encountered.
func LoadFromDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset directory %s: %w", dir, err)
	}

	lib := &Library{byName: make(map[string]Preset)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading preset file %s: %w", name, err)
		}
		if err := lib.add(data); err != nil {
			return nil, fmt.Errorf("loading presets from %s: %w", name, err)
		}
	}
	return lib, nil
}

// Load loads path as a directory or a single file.
func Load(path string) (*Library, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat preset path %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadFromDir(path)
	}
	return LoadFromFile(path)
}

func (l *Library) add(data []byte) error {
	var file yamlPresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing preset YAML: %w", err)
	}

	for i, yp := range file.Presets {
		name := strings.TrimSpace(yp.Name)
		if name == "" {
			return fmt.Errorf("preset %d: name must not be empty", i)
		}
		if strings.ContainsAny(name, " \t") {
			return fmt.Errorf("preset %q: name must not contain whitespace", name)
		}
		key := strings.ToLower(name)
		if _, dup := l.byName[key]; dup {
			return fmt.Errorf("preset %q: duplicate name", name)
		}
		expr, err := dice.Parse(yp.Expression)
		if err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
		l.byName[key] = Preset{
			Name:        name,
			Description: strings.TrimSpace(yp.Description),
			Notation:    yp.Expression,
			Canonical:   expr.String(),
		}
	}
	return nil
}
