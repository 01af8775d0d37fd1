package extraction

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// Pattern is one named regular expression for an entity type.
type Pattern struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
	// Group is the capture group holding the value. Nil means 1.
	Group *int `yaml:"group,omitempty"`

	re *regexp.Regexp
}

func (p *Pattern) group() int {
	if p.Group == nil {
		return 1
	}
	return *p.Group
}

// submatch returns the value group of a FindStringSubmatch result.
func (p *Pattern) submatch(m []string) string {
	g := p.group()
	if g < 0 || g >= len(m) {
		return ""
	}
	return m[g]
}

// Library holds the compiled, priority-ordered pattern sets for each entity.
type Library struct {
	Merchant []Pattern `yaml:"merchant"`
	Date     []Pattern `yaml:"date"`
	Amount   []Pattern `yaml:"amount"`
	Phone    []Pattern `yaml:"phone"`
	Address  []Pattern `yaml:"address"`
	Items    []Pattern `yaml:"items"`
	Tax      []Pattern `yaml:"tax"`
	Ignore   []string  `yaml:"ignore"`

	ignore []*regexp.Regexp
}

// DefaultPatterns returns the built-in Vietnamese/English pattern library.
func DefaultPatterns() *Library {
	lib, err := ParsePatterns(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("built-in patterns: %v", err))
	}
	return lib
}

// LoadPatterns reads a pattern library from a YAML file.
func LoadPatterns(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}
	lib, err := ParsePatterns(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return lib, nil
}

// ParsePatterns decodes and compiles a YAML pattern library.
func ParsePatterns(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("decoding patterns: %w", err)
	}

	sets := map[string][]Pattern{
		"merchant": lib.Merchant,
		"date":     lib.Date,
		"amount":   lib.Amount,
		"phone":    lib.Phone,
		"address":  lib.Address,
		"items":    lib.Items,
		"tax":      lib.Tax,
	}
	for section, set := range sets {
		if err := compileSet(section, set); err != nil {
			return nil, err
		}
	}

	lib.ignore = make([]*regexp.Regexp, 0, len(lib.Ignore))
	for _, kw := range lib.Ignore {
		re, err := regexp.Compile("(?i)" + kw)
		if err != nil {
			return nil, fmt.Errorf("compiling ignore keyword %q: %w", kw, err)
		}
		lib.ignore = append(lib.ignore, re)
	}

	return &lib, nil
}

// compileSet compiles every pattern in place and sorts by priority, highest first.
// Entries with equal priority keep their file order.
func compileSet(section string, set []Pattern) error {
	for i := range set {
		re, err := regexp.Compile(set[i].Pattern)
		if err != nil {
			return fmt.Errorf("compiling %s pattern %q: %w", section, set[i].Name, err)
		}
		if g := set[i].group(); g > re.NumSubexp() {
			return fmt.Errorf("%s pattern %q: group %d out of range", section, set[i].Name, g)
		}
		set[i].re = re
	}
	sort.SliceStable(set, func(a, b int) bool {
		return set[a].Priority > set[b].Priority
	})
	return nil
}

// stripIgnored removes boilerplate keywords (thank-you lines, footers) from s.
func (l *Library) stripIgnored(s string) string {
	for _, re := range l.ignore {
		s = re.ReplaceAllString(s, "")
	}
	return s
}
