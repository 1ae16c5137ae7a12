package dialect

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrParamMismatch is returned by TranslateStrict when the number of
// placeholders differs from the number of supplied parameters
var ErrParamMismatch = errors.New("placeholder count does not match parameter count")

const DefaultCacheSize = 1024

// Translated is a native PostgreSQL statement and its parameters
type Translated struct {
	SQL             string
	Params          []any
	Markers         int
	Transformations []string
}

type cachedTranslation struct {
	original        string
	sql             string
	markers         int
	transformations []string
}

// Translator rewrites "?" templates into PostgreSQL. Safe for concurrent use.
type Translator struct {
	rules RuleSet
	cache *lru.Cache[uint64, cachedTranslation]
}

// NewTranslator creates a translator with the default rule set
func NewTranslator(cacheSize int) (*Translator, error) {
	return NewTranslatorWithRules(cacheSize, DefaultRules())
}

// NewTranslatorWithRules creates a translator with a custom rule set
func NewTranslatorWithRules(cacheSize int, rules RuleSet) (*Translator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[uint64, cachedTranslation](cacheSize)
	if err != nil {
		return nil, err
	}

	sorted := make(RuleSet, len(rules))
	copy(sorted, rules)
	sort.Stable(sorted)

	return &Translator{
		rules: sorted,
		cache: cache,
	}, nil
}

// Translate rewrites sql and numbers its placeholders. Each marker consumes one
// parameter in order. When the statement has no marker the params slice is
// returned as given, whatever its length.
func (t *Translator) Translate(sql string, params []any) Translated {
	entry := t.lookup(sql)

	out := Translated{
		SQL:             entry.sql,
		Params:          params,
		Markers:         entry.markers,
		Transformations: entry.transformations,
	}
	if entry.markers > 0 && entry.markers < len(params) {
		out.Params = params[:entry.markers]
	}

	return out
}

// TranslateStrict is Translate with a marker/parameter count check
func (t *Translator) TranslateStrict(sql string, params []any) (Translated, error) {
	out := t.Translate(sql, params)
	if out.Markers != len(params) {
		return out, fmt.Errorf("%w: %d placeholders, %d params", ErrParamMismatch, out.Markers, len(params))
	}
	return out, nil
}

func (t *Translator) lookup(sql string) cachedTranslation {
	key := xxhash.Sum64String(sql)
	if cached, ok := t.cache.Get(key); ok && cached.original == sql {
		telemetry.TranslatorCacheTotal.With("hit").Inc()
		return cached
	}
	telemetry.TranslatorCacheTotal.With("miss").Inc()

	rewritten := sql
	var transformations []string
	for _, rule := range t.rules {
		newSQL, applied := rule.ApplyPattern(rewritten)
		if !applied {
			continue
		}
		log.Debug().
			Str("rule", rule.Name()).
			Str("before", rewritten).
			Str("after", newSQL).
			Msg("Applied dialect rule")
		transformations = append(transformations, rule.Name())
		rewritten = newSQL
	}

	numbered, markers := numberPlaceholders(rewritten)
	entry := cachedTranslation{
		original:        sql,
		sql:             numbered,
		markers:         markers,
		transformations: transformations,
	}
	t.cache.Add(key, entry)

	return entry
}
