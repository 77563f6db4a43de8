package detector

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlcorQi/kango/internal/logger"
)

// entry holds the compiled matchers for a single anomaly type.
type entry struct {
	keywords []string // stored lowercase
	patterns []*regexp.Regexp
	mode     Mode // per-type override; empty means follow the call-site mode
}

// Library holds per-type keyword and regex sets. It is immutable after
// construction, so Classify is safe for concurrent use.
type Library struct {
	entries map[Type]*entry
	log     logger.Logger
}

// LibraryFile is the YAML override document for the pattern library.
// Omitted detectors keep their built-in sets; supplied keyword or pattern
// lists replace the built-in ones for that type.
type LibraryFile struct {
	DetectionMode string                  `yaml:"detection_mode"`
	Detectors     map[string]DetectorSpec `yaml:"detectors"`
}

// DetectorSpec is one detector's configuration entity.
type DetectorSpec struct {
	Enabled       *bool    `yaml:"enabled"`
	DetectionMode string   `yaml:"detection_mode"`
	Keywords      []string `yaml:"keywords"`
	RegexPatterns []string `yaml:"regex_patterns"`
}

// NewLibrary returns the library with the built-in keyword and regex sets.
func NewLibrary(log logger.Logger) *Library {
	if log == nil {
		log = logger.NewNop()
	}
	lib := &Library{entries: make(map[Type]*entry), log: log}
	for t, d := range defaultSets {
		e := &entry{keywords: lowercaseAll(d.keywords)}
		for _, p := range d.patterns {
			e.patterns = append(e.patterns, regexp.MustCompile("(?i)"+p))
		}
		lib.entries[t] = e
	}
	return lib
}

// LoadLibraryFile builds a library from the built-in defaults merged with a
// YAML override file. A missing file yields the defaults; a malformed file
// is an error. Invalid regex patterns inside the file are skipped with a
// warning and never abort classification.
func LoadLibraryFile(path string, log logger.Logger) (*Library, error) {
	lib := NewLibrary(log)
	if path == "" {
		return lib, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("failed to read pattern library %s: %w", path, err)
	}
	var file LibraryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern library %s: %w", path, err)
	}
	lib.applyOverrides(&file)
	return lib, nil
}

func (l *Library) applyOverrides(file *LibraryFile) {
	for name, spec := range file.Detectors {
		t := canonicalType(name)
		if t == "" {
			l.log.WithField("detector", name).Warn("unknown detector in pattern library, skipping")
			continue
		}
		e := l.entries[t]
		if len(spec.Keywords) > 0 {
			e.keywords = lowercaseAll(spec.Keywords)
		}
		if len(spec.RegexPatterns) > 0 {
			var compiled []*regexp.Regexp
			for _, p := range spec.RegexPatterns {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					l.log.WithFields(map[string]interface{}{
						"detector": string(t),
						"pattern":  p,
					}).Warn("invalid regex pattern, skipping")
					continue
				}
				compiled = append(compiled, re)
			}
			e.patterns = compiled
		}
		if spec.DetectionMode != "" {
			e.mode = ParseMode(spec.DetectionMode)
		}
	}
}

// canonicalType maps the historic detector names used by pattern files onto
// the taxonomy. The original configs named three detectors differently.
func canonicalType(name string) Type {
	switch name {
	case "panic":
		return TypeKernelPanic
	case "reboot":
		return TypeUnexpectedReboot
	case "fs_exception":
		return TypeFSError
	}
	if ValidType(name) {
		return Type(name)
	}
	return ""
}

// Classify returns the anomaly types matched by line, restricted to the
// enabled set. Each type appears at most once; order follows the taxonomy.
//
// Matching is case-insensitive. In keyword mode a type matches when any of
// its keywords is a substring of the line; in regex mode when any compiled
// pattern matches; in mixed mode keywords are tried first and regexes only
// when the keywords missed, per type independently.
func (l *Library) Classify(line string, enabled EnabledSet, mode Mode) []Type {
	lower := strings.ToLower(line)
	var matched []Type
	for _, t := range AllTypes() {
		if !enabled[t] {
			continue
		}
		e := l.entries[t]
		m := mode
		if e.mode != "" {
			m = e.mode
		}
		if l.matches(e, lower, line, m) {
			matched = append(matched, t)
		}
	}
	return matched
}

func (l *Library) matches(e *entry, lower, raw string, mode Mode) bool {
	switch mode {
	case ModeKeyword:
		return matchKeywords(lower, e.keywords)
	case ModeRegex:
		return matchPatterns(raw, e.patterns)
	default: // mixed
		if matchKeywords(lower, e.keywords) {
			return true
		}
		return matchPatterns(raw, e.patterns)
	}
}

func matchKeywords(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func matchPatterns(line string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func lowercaseAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
