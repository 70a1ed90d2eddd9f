// Package datasource provides concrete domain.DataSource implementations:
// a rate-limited HTTP backend and a local trigram/exact-match dump backend
// (§4.3), plus a default registry wiring both in by name (§9 "avoid global
// mutable state").
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/observability"
	"github.com/fairyhunter13/bookcard-runtime/internal/service/ratelimiter"
)

// HTTPSource is a generic JSON/HTTP-backed domain.DataSource, grounded on
// the teacher's ObservableClient (circuit breaker + adaptive timeout +
// connection metrics, internal/observability/observable_client.go) for
// resilience around an external provider API. It enforces the minimum
// inter-request delay required by §4.3 either via an injected
// ratelimiter.Limiter (shared across worker processes through Redis) or,
// absent one, a local mutex-gated clock.
type HTTPSource struct {
	name         string
	baseURL      string
	apiToken     string
	client       *http.Client
	observable   *observability.ObservableClient
	limiter      ratelimiter.Limiter
	minInterval  time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewHTTPSource constructs an HTTPSource. limiter may be nil, in which case
// a local last-call timestamp enforces minInterval instead.
func NewHTTPSource(name, baseURL, apiToken string, minInterval, timeout time.Duration, limiter ratelimiter.Limiter) *HTTPSource {
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}
	return &HTTPSource{
		name:        name,
		baseURL:     baseURL,
		apiToken:    apiToken,
		client:      &http.Client{Timeout: timeout},
		observable:  observability.NewObservableClient(observability.ConnectionTypeDataSource, observability.OperationTypeRequest, baseURL, timeout, timeout/4, timeout*2),
		limiter:     limiter,
		minInterval: minInterval,
	}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) throttle(ctx domain.Context) error {
	if s.limiter != nil {
		allowed, retryAfter, err := s.limiter.Allow(ctx, "datasource:"+s.name, 1)
		if err != nil {
			return err
		}
		if !allowed {
			t := time.NewTimer(retryAfter)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
		return nil
	}

	s.mu.Lock()
	wait := s.minInterval - time.Since(s.lastCall)
	s.lastCall = time.Now()
	s.mu.Unlock()
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// doGet performs a throttled GET against path?query, decoding the JSON
// response body into out. HTTP 404 maps to ErrSourceNotFound, 429 to
// ErrSourceRateLimit, and transport/5xx errors to ErrSourceNetwork (§4.3, §7).
func (s *HTTPSource) doGet(ctx domain.Context, path string, query url.Values, out any) error {
	if err := s.throttle(ctx); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrSourceNetwork, err)
	}

	full := s.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	err := s.observable.ExecuteWithMetrics(ctx, "GET "+path, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return err
		}
		if s.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiToken)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return domain.ErrSourceNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			return domain.ErrSourceRateLimit
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", domain.ErrSourceNetwork, resp.StatusCode)
		case resp.StatusCode >= 400:
			return fmt.Errorf("op=doGet: unexpected status %d", resp.StatusCode)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) || errors.Is(err, domain.ErrSourceRateLimit) || errors.Is(err, domain.ErrSourceNetwork) {
			return err
		}
		return fmt.Errorf("%w: %s", domain.ErrSourceNetwork, err)
	}
	return nil
}

// authorEnvelope is the generic JSON shape this backend expects from a
// provider's author search/get endpoints. Detailed per-provider payload
// parsing is out of scope (§1 Non-goals); this covers the fields the
// domain model needs.
type authorEnvelope struct {
	Key            string              `json:"key"`
	Name           string              `json:"name"`
	AlternateNames []string            `json:"alternate_names"`
	Identifiers    domain.IdentifierSet `json:"identifiers"`
	Biography      string              `json:"biography"`
	BirthDate      *string             `json:"birth_date"`
	DeathDate      *string             `json:"death_date"`
	Location       string              `json:"location"`
	PhotoURL       string              `json:"photo_url"`
	Personal       string              `json:"personal"`
	Fuller         string              `json:"fuller"`
	Title          string              `json:"title"`
	TopWork        string              `json:"top_work"`
	RatingsAverage *float64            `json:"ratings_average"`
	RatingsCount   int64               `json:"ratings_count"`
}

func (a authorEnvelope) toAuthorData() domain.AuthorData {
	return domain.AuthorData{
		Key: a.Key, Name: a.Name, AlternateNames: a.AlternateNames, Identifiers: a.Identifiers,
		Biography: a.Biography, BirthDate: a.BirthDate, DeathDate: a.DeathDate, Location: a.Location,
		PhotoURL: a.PhotoURL, Personal: a.Personal, Fuller: a.Fuller, Title: a.Title, TopWork: a.TopWork,
		RatingsAverage: a.RatingsAverage, RatingsCount: a.RatingsCount,
	}
}

func (s *HTTPSource) SearchAuthor(ctx domain.Context, name string, identifiers *domain.IdentifierSet) ([]domain.AuthorData, error) {
	var results []authorEnvelope
	q := url.Values{"name": []string{name}}
	if err := s.doGet(ctx, "/authors/search", q, &results); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.AuthorData, len(results))
	for i, r := range results {
		out[i] = r.toAuthorData()
	}
	return out, nil
}

func (s *HTTPSource) GetAuthor(ctx domain.Context, key string) (*domain.AuthorData, error) {
	var r authorEnvelope
	if err := s.doGet(ctx, "/authors/"+url.PathEscape(key), nil, &r); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data := r.toAuthorData()
	return &data, nil
}

func (s *HTTPSource) GetAuthorWorks(ctx domain.Context, key string, limit int, lang string) ([]domain.WorkKey, error) {
	var works []domain.WorkKey
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if lang != "" {
		q.Set("lang", lang)
	}
	if err := s.doGet(ctx, "/authors/"+url.PathEscape(key)+"/works", q, &works); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return works, nil
}

type bookEnvelope struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	ISBN    string   `json:"isbn"`
	Authors []string `json:"authors"`
}

func (b bookEnvelope) toBookData() domain.BookData {
	return domain.BookData{Key: b.Key, Title: b.Title, ISBN: b.ISBN, Authors: b.Authors}
}

func (s *HTTPSource) SearchBook(ctx domain.Context, title, isbn string, authors []string) ([]domain.BookData, error) {
	var results []bookEnvelope
	q := url.Values{}
	if title != "" {
		q.Set("title", title)
	}
	if isbn != "" {
		q.Set("isbn", isbn)
	}
	for _, a := range authors {
		q.Add("author", a)
	}
	if err := s.doGet(ctx, "/books/search", q, &results); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.BookData, len(results))
	for i, r := range results {
		out[i] = r.toBookData()
	}
	return out, nil
}

func (s *HTTPSource) GetBook(ctx domain.Context, key string, skipAuthors bool) (*domain.BookData, error) {
	var r bookEnvelope
	q := url.Values{}
	if skipAuthors {
		q.Set("skip_authors", "true")
	}
	if err := s.doGet(ctx, "/books/"+url.PathEscape(key), q, &r); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data := r.toBookData()
	return &data, nil
}
