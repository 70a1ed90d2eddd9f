// Package scanworkers implements the C8 distributed scan pipeline (§4.8):
// one worker per stage, each subscribed to an input broker topic and
// publishing to an output topic, sharing job-completion accounting through
// a domain.ProgressTracker keyed by library id. It mirrors
// internal/scanpipeline's per-author logic exactly (match/ingest/link all
// delegate to the same matching/domain helpers) but runs each stage as an
// independent process cascade instead of one in-process Pipeline.RunScan.
package scanworkers

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/matching"
)

// Envelope fields, exact string keys per §6.
const (
	fieldTaskID           = "task_id"
	fieldLibraryID        = "library_id"
	fieldCalibreDBPath    = "calibre_db_path"
	fieldCalibreDBFile    = "calibre_db_file"
	fieldDataSourceConfig = "data_source_config"
	fieldMatchResult      = "match_result"
	fieldCalibreAuthorID  = "calibre_author_id"
	fieldAuthorName       = "author_name"

	// Fields beyond the §6 envelope shape, carried through the per-author
	// chain so every downstream worker can resolve its own DataSource and
	// matching options without a second round-trip to the task row.
	fieldAuthorAlternateNames = "author_alternate_names"
	fieldAuthorIdentifiers    = "author_identifiers"
	fieldForce                    = "force"
	fieldStaleMaxAgeDays          = "stale_max_age_days"
	fieldStaleRefreshIntervalDays = "stale_refresh_interval_days"
	fieldMaxWorksPerAuthor        = "max_works_per_author"
)

func dataSourceConfig(payload map[string]any) (name string, kwargs map[string]any) {
	cfg, _ := payload[fieldDataSourceConfig].(map[string]any)
	if cfg == nil {
		return "", nil
	}
	name, _ = cfg["name"].(string)
	kwargs, _ = cfg["kwargs"].(map[string]any)
	return name, kwargs
}

func encodeDataSourceConfig(name string, kwargs map[string]any) map[string]any {
	return map[string]any{"name": name, "kwargs": kwargs}
}

func encodeIdentifiers(s domain.IdentifierSet) map[string]any {
	return map[string]any{
		"viaf": s.VIAF, "goodreads": s.Goodreads, "wikidata": s.Wikidata, "isni": s.ISNI,
		"library_thing": s.LibraryThing, "amazon": s.Amazon, "imdb": s.IMDB,
		"musicbrainz": s.MusicBrainz, "lc_naf": s.LCNAF, "opac_sbn": s.OPACSBN,
		"storygraph": s.StoryGraph,
	}
}

func decodeIdentifiers(v any) domain.IdentifierSet {
	m, _ := v.(map[string]any)
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return domain.IdentifierSet{
		VIAF: str("viaf"), Goodreads: str("goodreads"), Wikidata: str("wikidata"), ISNI: str("isni"),
		LibraryThing: str("library_thing"), Amazon: str("amazon"), IMDB: str("imdb"),
		MusicBrainz: str("musicbrainz"), LCNAF: str("lc_naf"), OPACSBN: str("opac_sbn"),
		StoryGraph: str("storygraph"),
	}
}

func encodeCalibreAuthor(a domain.CalibreAuthor) map[string]any {
	return map[string]any{
		fieldCalibreAuthorID:      a.ID,
		fieldAuthorName:           a.Name,
		fieldAuthorAlternateNames: toAnySlice(a.AlternateNames),
		fieldAuthorIdentifiers:    encodeIdentifiers(a.Identifiers),
	}
}

func decodeCalibreAuthor(payload map[string]any) domain.CalibreAuthor {
	id, _ := asInt64(payload[fieldCalibreAuthorID])
	name, _ := payload[fieldAuthorName].(string)
	return domain.CalibreAuthor{
		ID:             id,
		Name:           name,
		AlternateNames: toStringSlice(payload[fieldAuthorAlternateNames]),
		Identifiers:    decodeIdentifiers(payload[fieldAuthorIdentifiers]),
	}
}

func encodeMatchResult(r matching.MatchResult) map[string]any {
	return map[string]any{
		"external_key":    r.Author.Key,
		"name":            r.Author.Name,
		"alternate_names": toAnySlice(r.Author.AlternateNames),
		"identifiers":     encodeIdentifiers(r.Author.Identifiers),
		"biography":       r.Author.Biography,
		"birth_date":      ptrToAny(r.Author.BirthDate),
		"death_date":      ptrToAny(r.Author.DeathDate),
		"location":        r.Author.Location,
		"photo_url":       r.Author.PhotoURL,
		"personal":        r.Author.Personal,
		"fuller":          r.Author.Fuller,
		"title":           r.Author.Title,
		"top_work":        r.Author.TopWork,
		"ratings_average": ptrFloatToAny(r.Author.RatingsAverage),
		"ratings_count":   r.Author.RatingsCount,
		"confidence":      r.Confidence,
		"matched_by":      string(r.MatchedBy),
	}
}

func decodeMatchResult(payload map[string]any, calibreAuthorID int64) (matching.MatchResult, bool) {
	raw, ok := payload[fieldMatchResult].(map[string]any)
	if !ok {
		return matching.MatchResult{}, false
	}
	key, _ := raw["external_key"].(string)
	name, _ := raw["name"].(string)
	confidence, _ := asFloat64(raw["confidence"])
	matchedBy, _ := raw["matched_by"].(string)
	ratingsCount, _ := asInt64(raw["ratings_count"])
	return matching.MatchResult{
		Author: domain.AuthorData{
			Key:            key,
			Name:           name,
			AlternateNames: toStringSlice(raw["alternate_names"]),
			Identifiers:    decodeIdentifiers(raw["identifiers"]),
			Biography:      stringField(raw, "biography"),
			BirthDate:      stringPtrField(raw, "birth_date"),
			DeathDate:      stringPtrField(raw, "death_date"),
			Location:       stringField(raw, "location"),
			PhotoURL:       stringField(raw, "photo_url"),
			Personal:       stringField(raw, "personal"),
			Fuller:         stringField(raw, "fuller"),
			Title:          stringField(raw, "title"),
			TopWork:        stringField(raw, "top_work"),
			RatingsAverage: floatPtrField(raw, "ratings_average"),
			RatingsCount:   ratingsCount,
		},
		CalibreAuthorID: calibreAuthorID,
		Confidence:      confidence,
		MatchedBy:       domain.MatchMethod(matchedBy),
	}, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringPtrField(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func floatPtrField(m map[string]any, key string) *float64 {
	f, ok := asFloat64(m[key])
	if !ok {
		return nil
	}
	return &f
}

func ptrToAny(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrFloatToAny(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// asInt64 converts the JSON-decoded numeric or plain-Go-value forms a
// map[string]any field may take, mirroring taskruntime's own helper since
// broker payloads cross the same round trip here.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
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

func asIntPtr(v any) *int {
	n, ok := asInt64(v)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
