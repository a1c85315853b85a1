// Package prefs persists user preferences, onboarding flags, and recent
// searches in the key-value store.
package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// Persisted keys.
const (
	KeyOnboarding      = "pyqdeck.onboardingCompleted"
	KeyPersonalization = "pyqdeck.personalizationCompleted"
	KeyPreferences     = "pyqdeck.preferences"
	KeyRecentSearches  = "pyqdeck.recentSearches"

	// KeyPrefix namespaces every key this application writes.
	KeyPrefix = "pyqdeck."
)

// MaxRecentSearches bounds the recent-search list.
const MaxRecentSearches = 10

// Preferences are the user's durable choices.
type Preferences struct {
	Branch               *api.Branch   `json:"branch"`
	Semester             *api.Semester `json:"semester"`
	Subject              *api.Subject  `json:"subject"`
	Goal                 string        `json:"goal"`
	Frequency            string        `json:"frequency"`
	PreferredContent     []string      `json:"preferredContent"`
	NotificationsEnabled bool          `json:"notificationsEnabled"`
	Language             string        `json:"language"`
	College              string        `json:"college"`
}

// Defaults returns first-run preferences.
func Defaults() Preferences {
	return Preferences{
		PreferredContent:     []string{},
		NotificationsEnabled: true,
		Language:             "English",
	}
}

func (p Preferences) clone() Preferences {
	if p.Branch != nil {
		b := *p.Branch
		p.Branch = &b
	}
	if p.Semester != nil {
		s := *p.Semester
		p.Semester = &s
	}
	if p.Subject != nil {
		s := *p.Subject
		s.Modules = slices.Clone(s.Modules)
		p.Subject = &s
	}
	p.PreferredContent = slices.Clone(p.PreferredContent)
	return p
}

// Store owns Preferences and the onboarding flags. Writes are serialized so
// the persisted blob always equals the in-memory value.
type Store struct {
	kv     store.KeyValue
	logger *slog.Logger

	mu              sync.Mutex
	prefs           Preferences
	onboarding      bool
	personalization bool
	recent          []string
}

// New creates a Store with default values. Call Load to restore persisted
// state.
func New(kv store.KeyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger, prefs: Defaults()}
}

// Load restores persisted state. Corrupt entries fall back to defaults.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Defaults()
	raw, ok, err := s.kv.Get(ctx, KeyPreferences)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("discarding corrupt preferences", "error", err)
			p = Defaults()
		}
	}
	s.prefs = p

	if s.onboarding, err = s.loadFlag(ctx, KeyOnboarding); err != nil {
		return err
	}
	if s.personalization, err = s.loadFlag(ctx, KeyPersonalization); err != nil {
		return err
	}

	s.recent = nil
	raw, ok, err = s.kv.Get(ctx, KeyRecentSearches)
	if err != nil {
		return fmt.Errorf("load recent searches: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &s.recent); err != nil {
			s.logger.Warn("discarding corrupt recent searches", "error", err)
			s.recent = nil
		}
	}
	return nil
}

func (s *Store) loadFlag(ctx context.Context, key string) (bool, error) {
	v, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	return v == "true", nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.clone()
}

// Update merges a single field, named by its JSON key, and persists the
// whole structure. Unknown keys and values of the wrong type are rejected.
func (s *Store) Update(ctx context.Context, key string, value any) error {
	if _, ok := fieldKeys[key]; !ok {
		return &apperr.ValidationError{Field: key, Reason: "is not a preference"}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return &apperr.ValidationError{Field: key, Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := mergeField(s.prefs, key, encoded)
	if err != nil {
		return &apperr.ValidationError{Field: key, Reason: err.Error()}
	}
	return s.commit(ctx, next)
}

// Mutate applies fn to a copy of the preferences and persists the result.
func (s *Store) Mutate(ctx context.Context, fn func(p *Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs.clone()
	fn(&next)
	return s.commit(ctx, next)
}

// ResetToDefaults restores default preferences.
func (s *Store) ResetToDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, Defaults())
}

// commit persists next and then installs it. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next Preferences) error {
	b, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.kv.Set(ctx, KeyPreferences, string(b)); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	s.prefs = next
	return nil
}

// fieldKeys lists the JSON keys of Preferences.
var fieldKeys = func() map[string]struct{} {
	b, _ := json.Marshal(Preferences{})
	var m map[string]json.RawMessage
	_ = json.Unmarshal(b, &m)
	keys := make(map[string]struct{}, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}
	return keys
}()

// mergeField returns p with key replaced by the JSON value.
func mergeField(p Preferences, key string, value json.RawMessage) (Preferences, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return p, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return p, err
	}
	fields[key] = value

	merged, err := json.Marshal(fields)
	if err != nil {
		return p, err
	}
	var out Preferences
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return p, fmt.Errorf("invalid value: %w", err)
	}
	return out, nil
}

// OnboardingCompleted reports whether onboarding has been finished.
func (s *Store) OnboardingCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarding
}

// PersonalizationCompleted reports whether personalization has been finished.
func (s *Store) PersonalizationCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personalization
}

// CompleteOnboarding marks onboarding as finished.
func (s *Store) CompleteOnboarding(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyOnboarding, "true"); err != nil {
		return fmt.Errorf("save onboarding flag: %w", err)
	}
	s.onboarding = true
	return nil
}

// CompletePersonalization marks personalization as finished.
func (s *Store) CompletePersonalization(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, KeyPersonalization, "true"); err != nil {
		return fmt.Errorf("save personalization flag: %w", err)
	}
	s.personalization = true
	return nil
}

// RecentSearches returns recent queries, most recent first.
func (s *Store) RecentSearches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.recent)
}

// AddRecentSearch records query at the head of the recent list. Blank
// queries are ignored; repeats move to the front.
func (s *Store) AddRecentSearch(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]string, 0, MaxRecentSearches)
	next = append(next, query)
	for _, q := range s.recent {
		if len(next) == MaxRecentSearches {
			break
		}
		if !strings.EqualFold(q, query) {
			next = append(next, q)
		}
	}
	return s.saveRecent(ctx, next)
}

// ClearRecentSearches empties the recent list.
func (s *Store) ClearRecentSearches(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, KeyRecentSearches); err != nil {
		return fmt.Errorf("clear recent searches: %w", err)
	}
	s.recent = nil
	return nil
}

func (s *Store) saveRecent(ctx context.Context, next []string) error {
	b, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode recent searches: %w", err)
	}
	if err := s.kv.Set(ctx, KeyRecentSearches, string(b)); err != nil {
		return fmt.Errorf("save recent searches: %w", err)
	}
	s.recent = next
	return nil
}

// ResetAll wipes every persisted key of the application and restores
// in-memory defaults. It is the factory reset behind logout-with-wipe.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if err := s.kv.MultiRemove(ctx, keys...); err != nil {
		return fmt.Errorf("remove keys: %w", err)
	}
	s.logger.Info("factory reset", "keys", len(keys))

	s.prefs = Defaults()
	s.onboarding = false
	s.personalization = false
	s.recent = nil
	return nil
}

// ClearOnboarding is ResetAll under the name the onboarding flow uses.
func (s *Store) ClearOnboarding(ctx context.Context) error {
	return s.ResetAll(ctx)
}
