package wordlist

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/langwarden/resources"
)

const (
	ListWB  = "wb"
	ListSpC = "spc"
	ListSpE = "spe"
)

const wordlistsPath = "wordlists/wordlists.yml"

var squeezePattern = regexp.MustCompile(`\s{2,}`)

type pattern struct {
	raw string
	re  *regexp.Regexp
}

// Matcher matches text against the seeded word lists and counts pattern hits
// for later persistence. Patterns are tried in declared order; the first match
// wins, so results are deterministic regardless of hit popularity.
type Matcher struct {
	lists map[string][]pattern

	hitsMutex sync.Mutex
	pending   map[string]map[string]int64
}

type wordlistsFile struct {
	WB  []string `yaml:"wb"`
	SpC []string `yaml:"spc"`
	SpE []string `yaml:"spe"`
}

// NewMatcher loads the embedded word lists. A pattern that fails to compile
// is skipped with a warning rather than poisoning its list.
func NewMatcher() (*Matcher, error) {
	data, err := resources.FS.ReadFile(wordlistsPath)
	if err != nil {
		return nil, errors.WithMessage(err, "cant read wordlists")
	}
	var file wordlistsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WithMessage(err, "cant parse wordlists")
	}
	m := &Matcher{
		lists:   map[string][]pattern{},
		pending: map[string]map[string]int64{},
	}
	m.lists[ListWB] = compile(ListWB, file.WB)
	m.lists[ListSpC] = compile(ListSpC, file.SpC)
	m.lists[ListSpE] = compile(ListSpE, file.SpE)
	return m, nil
}

func compile(listID string, raws []string) []pattern {
	patterns := make([]pattern, 0, len(raws))
	for _, raw := range raws {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			log.WithError(err).WithField("list", listID).WithField("pattern", raw).Warn("skipping invalid pattern")
			continue
		}
		patterns = append(patterns, pattern{raw: raw, re: re})
	}
	return patterns
}

// Match normalizes the text and tries the list's patterns against it. The
// first pass collapses whitespace runs; if nothing matches and the text still
// contains spaces, a second pass strips all whitespace to defeat padding.
func (m *Matcher) Match(listID, text string) (string, bool) {
	patterns, ok := m.lists[listID]
	if !ok || len(patterns) == 0 {
		return "", false
	}
	squeezed := strings.TrimSpace(squeezePattern.ReplaceAllString(text, " "))
	if squeezed == "" {
		return "", false
	}
	if raw, ok := m.matchOnce(patterns, squeezed); ok {
		m.recordHit(listID, raw)
		return raw, true
	}
	if strings.ContainsAny(squeezed, " \t\n") {
		stripped := strings.Join(strings.Fields(squeezed), "")
		if raw, ok := m.matchOnce(patterns, stripped); ok {
			m.recordHit(listID, raw)
			return raw, true
		}
	}
	return "", false
}

func (m *Matcher) matchOnce(patterns []pattern, text string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.raw, true
		}
	}
	return "", false
}

func (m *Matcher) recordHit(listID, raw string) {
	m.hitsMutex.Lock()
	defer m.hitsMutex.Unlock()
	hits, ok := m.pending[listID]
	if !ok {
		hits = map[string]int64{}
		m.pending[listID] = hits
	}
	hits[raw]++
}

// DrainHits returns and clears the accumulated hit counters.
func (m *Matcher) DrainHits() map[string]map[string]int64 {
	m.hitsMutex.Lock()
	defer m.hitsMutex.Unlock()
	drained := m.pending
	m.pending = map[string]map[string]int64{}
	return drained
}
