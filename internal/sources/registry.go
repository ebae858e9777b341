package sources

import (
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// Status is the availability state of a registered source.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusUnchecked   Status = "unchecked"
)

// Source is one registered citation. IDs are sequential and 1-based; the
// registry is append-only and never reuses or reassigns an id.
type Source struct {
	ID               int     `json:"id"`
	URL              string  `json:"url"`
	Title            string  `json:"title"`
	Domain           string  `json:"domain"`
	AuthorityScore   float64 `json:"authority_score"`
	Status           Status  `json:"status"`
	Date             string  `json:"date,omitempty"`
	OriginQuestionID string  `json:"origin_question_id"`
}

// Citation is an incoming reference produced by the research phase.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
}

// Hint carries search-result metadata used to backfill missing titles.
type Hint struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Registry deduplicates and scores citations for one pipeline run. Identity is
// the normalized URL; two sources never share a normalized form.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	sources []*Source
	index   map[string]int // normalized URL -> id
}

// NewRegistry creates an empty per-run registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		index:  make(map[string]int),
	}
}

// NormalizeURL returns the registry identity key for a URL: lowercased host
// with any "www." prefix stripped, utm_* query params removed, and the
// trailing slash dropped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	u.Host = host
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// AddBatch registers a batch of citations, deduplicating against existing
// entries. It returns a map from input index to registry id. Citations whose
// URL cannot be parsed are skipped and absent from the result.
func (r *Registry) AddBatch(citations []Citation, hints []Hint, originID string) map[int]int {
	hintTitles := make(map[string]string, len(hints))
	for _, h := range hints {
		if key, err := NormalizeURL(h.URL); err == nil && h.Title != "" {
			hintTitles[key] = h.Title
		}
	}

	result := make(map[int]int, len(citations))

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range citations {
		key, err := NormalizeURL(c.URL)
		if err != nil || key == "" {
			r.logger.Warn("Skipping unparseable citation URL",
				zap.String("url", c.URL),
				zap.String("origin", originID),
			)
			continue
		}
		if id, ok := r.index[key]; ok {
			result[i] = id
			metrics.SourceDedupHits.Inc()
			r.logger.Debug("Citation deduplicated",
				zap.String("url", c.URL),
				zap.Int("existing_id", id),
			)
			continue
		}

		title := c.Title
		if title == "" {
			title = hintTitles[key]
		}
		domain := domainOf(key)
		src := &Source{
			ID:               len(r.sources) + 1,
			URL:              c.URL,
			Title:            title,
			Domain:           domain,
			AuthorityScore:   AuthorityScore(domain),
			Status:           StatusUnchecked,
			Date:             c.Date,
			OriginQuestionID: originID,
		}
		r.sources = append(r.sources, src)
		r.index[key] = src.ID
		result[i] = src.ID
		metrics.SourcesRegistered.Inc()
	}
	return result
}

// GetAll returns copies of all registered sources in id order.
func (r *Registry) GetAll() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	for i, s := range r.sources {
		out[i] = *s
	}
	return out
}

// GetByID returns the source with the given id, if registered.
func (r *Registry) GetByID(id int) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 1 || id > len(r.sources) {
		return Source{}, false
	}
	return *r.sources[id-1], true
}

// GetCount returns the number of registered sources.
func (r *Registry) GetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func domainOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
