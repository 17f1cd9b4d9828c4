package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual rollout.
// A subject (usually a user UID) lands in a stable bucket per feature.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	subjectOverrides map[string]map[string]bool // subject -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Subjects are assigned based on hash of their key
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// Offer the next-ranked mentor when an accept hits a full mentor.
	FeatureSuggestNextCandidate = "matching.suggest_next_candidate"

	// Cache counterpart summaries of pending listings in Redis.
	FeatureSummaryCache = "cache.summaries"

	// Broadcast domain events to other instances over Redis pub/sub.
	FeatureEventBroadcast = "events.broadcast"

	// Let the scheduled capacity audit rewrite drifted counters.
	FeatureAutoRepair = "audit.auto_repair"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := newFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

func newFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		subjectOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureSuggestNextCandidate] = &Feature{
		Name:           FeatureSuggestNextCandidate,
		Description:    "Suggest the next-ranked mentor on capacity_exceeded",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSummaryCache] = &Feature{
		Name:           FeatureSummaryCache,
		Description:    "Cache profile summaries in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// needs Redis, off until an operator turns it on
	ff.features[FeatureEventBroadcast] = &Feature{
		Name:           FeatureEventBroadcast,
		Description:    "Publish domain events to every instance",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureAutoRepair] = &Feature{
		Name:           FeatureAutoRepair,
		Description:    "Repair drifted mentor counters during the scheduled audit",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_AUDIT_AUTO_REPAIR=true
// Example: FEATURE_MATCHING_SUGGEST_NEXT_CANDIDATE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "audit.auto_repair" -> "FEATURE_AUDIT_AUTO_REPAIR"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the subject.
// An empty subject asks about the feature as a whole.
func (ff *FeatureFlags) IsEnabled(featureName, subject string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if subject != "" {
		if overrides, ok := ff.subjectOverrides[subject]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && subject != "" {
		return inRollout(subject, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// inRollout uses consistent hashing so subjects stay in their bucket.
func inRollout(subject, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(subject))
	return int(h.Sum32()%100) < percent
}

// SetSubjectOverride forces a feature on or off for one subject.
func (ff *FeatureFlags) SetSubjectOverride(subject, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.subjectOverrides[subject]; !ok {
		ff.subjectOverrides[subject] = make(map[string]bool)
	}
	ff.subjectOverrides[subject][featureName] = enabled
}

// ClearSubjectOverrides removes all overrides for a subject.
func (ff *FeatureFlags) ClearSubjectOverrides(subject string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.subjectOverrides, subject)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns copies of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Convenience methods for common checks ---

// SuggestNextCandidate reports whether capacity errors carry a suggestion.
func (ff *FeatureFlags) SuggestNextCandidate() bool {
	return ff.IsEnabled(FeatureSuggestNextCandidate, "")
}

// SummaryCache reports whether the Redis summary cache is used.
func (ff *FeatureFlags) SummaryCache() bool {
	return ff.IsEnabled(FeatureSummaryCache, "")
}

// EventBroadcast reports whether events go through Redis pub/sub.
func (ff *FeatureFlags) EventBroadcast() bool {
	return ff.IsEnabled(FeatureEventBroadcast, "")
}

// AutoRepair reports whether the scheduled audit repairs counters.
func (ff *FeatureFlags) AutoRepair() bool {
	return ff.IsEnabled(FeatureAutoRepair, "")
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
