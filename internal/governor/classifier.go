package governor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/xela07ax/ratewarden/internal/domain"
)

// WildcardSegment заменяет идентификаторы ресурсов в пути: /items/482 -> /items/:id.
const WildcardSegment = ":id"

var (
	numericSegment  = regexp.MustCompile(`^[0-9]+$`)
	objectIDSegment = regexp.MustCompile(`^[0-9a-f]{24}$`)
	uuidSegment     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Classifier сводит произвольный путь запроса к каноническому ключу эндпоинта.
// Чистая функция от входа: набор префиксов неизменен после старта.
type Classifier struct {
	// отсортированы по убыванию длины, чтобы первый совпавший был самым длинным
	prefixes []string
	cache    *bigcache.BigCache
}

func NewClassifier(prefixes []string) *Classifier {
	seen := make(map[string]struct{}, len(prefixes))
	sorted := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == domain.DefaultEndpoint {
			continue
		}
		p = NormalizePath(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return &Classifier{prefixes: sorted}
}

// NewCachedClassifier кладет перед классификатором ограниченный кэш.
// Пути приходят от клиентов, поэтому обычная map здесь росла бы бесконечно.
func NewCachedClassifier(ctx context.Context, prefixes []string, lifeWindow time.Duration, maxSizeMB int) (*Classifier, error) {
	c := NewClassifier(prefixes)

	if maxSizeMB <= 0 {
		maxSizeMB = 16
	}
	cfg := bigcache.DefaultConfig(lifeWindow)
	// ключ: путь запроса, значение: короткий префикс
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10_000
	cfg.MaxEntrySize = 256
	cfg.HardMaxCacheSize = maxSizeMB
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("classifier cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Classify возвращает самый длинный подходящий префикс политики или "default".
func (c *Classifier) Classify(rawPath string) string {
	if c.cache != nil {
		if key, err := c.cache.Get(rawPath); err == nil {
			return string(key)
		}
	}

	key := c.match(NormalizePath(rawPath))

	if c.cache != nil {
		// промах записи в кэш не влияет на результат
		_ = c.cache.Set(rawPath, []byte(key))
	}
	return key
}

// Prefixes возвращает копию известных префиксов, от длинного к короткому.
func (c *Classifier) Prefixes() []string {
	out := make([]string, len(c.prefixes))
	copy(out, c.prefixes)
	return out
}

func (c *Classifier) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}

func (c *Classifier) match(path string) string {
	for _, p := range c.prefixes {
		if hasSegmentPrefix(path, p) {
			return p
		}
	}
	return domain.DefaultEndpoint
}

// NormalizePath отрезает query и fragment, схлопывает слеши, приводит к нижнему регистру
// и заменяет сегменты-идентификаторы (число, 24 hex, UUID) на WildcardSegment.
func NormalizePath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ToLower(strings.TrimSpace(raw))

	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, s := range parts {
		if s == "" {
			continue
		}
		if isOpaqueID(s) {
			s = WildcardSegment
		}
		segments = append(segments, s)
	}
	return "/" + strings.Join(segments, "/")
}

func isOpaqueID(segment string) bool {
	return numericSegment.MatchString(segment) ||
		objectIDSegment.MatchString(segment) ||
		uuidSegment.MatchString(segment)
}

// hasSegmentPrefix: /news покрывает /news и /news/:id, но не /newsletter.
func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
