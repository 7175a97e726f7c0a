// Package risk scores authentication contexts and maintains per-identity risk profiles.
//
// Scoring is an additive model. Each rule contributes an independent, non-negative delta
// on top of the identity's learned baseline; the total is clamped to [0, 1] at the end.
// The score then selects the challenge type and security level on shared thresholds.
package risk

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/tracing"
)

// Rule weights
const (
	UnknownDeviceDelta   = 0.20
	UnknownLocationDelta = 0.15
	SuspiciousHourDelta  = 0.25
	RapidRetryDelta      = 0.30
	PerAttemptDelta      = 0.10

	RapidRetryWindow = time.Minute

	// Suspicious hours are [SuspiciousHourStart, SuspiciousHourEnd] inclusive, in the configured location
	SuspiciousHourStart = 1
	SuspiciousHourEnd   = 5
)

// Profile maintenance
const (
	SuccessDiscount = 0.05
	FailurePenalty  = 0.10
	MinBaseRisk     = 0.1
	MaxBaseRisk     = 1.0
)

// Thresholds shared by challenge selection and security classification
const (
	ThresholdMedium   = 0.4
	ThresholdHigh     = 0.6
	ThresholdCritical = 0.8
)

// Default caps on the known-device and known-location maps
const (
	DefaultMaxKnownDevices   = 50
	DefaultMaxKnownLocations = 50
)

// EngineConfig configures the scoring engine
type EngineConfig struct {
	// Location fixes the timezone of the suspicious-hour rule for every instance
	Location          *time.Location
	MaxKnownDevices   int
	MaxKnownLocations int
}

// Engine combines the pure scoring rules with the profile store
type Engine struct {
	store  *Store
	config EngineConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a scoring engine backed by the given profile store
func NewEngine(store *Store, config EngineConfig, logger *slog.Logger) *Engine {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.MaxKnownDevices <= 0 {
		config.MaxKnownDevices = DefaultMaxKnownDevices
	}
	if config.MaxKnownLocations <= 0 {
		config.MaxKnownLocations = DefaultMaxKnownLocations
	}
	return &Engine{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Assess scores the context against the identity's current profile
func (e *Engine) Assess(ctx context.Context, email string, cc models.ChallengeContext, attemptCount int) models.RiskAssessment {
	ctx, span := tracing.StartSpan(ctx, "risk.assess")
	defer span.End()

	profile := e.store.Snapshot(ctx, email)
	assessment := Evaluate(profile, cc, attemptCount, e.now(), e.config.Location)

	span.SetAttributes(
		attribute.Float64("risk.score", assessment.Score),
		attribute.String("risk.level", string(assessment.Level)),
		attribute.String("challenge.type", string(assessment.ChallengeType)),
		attribute.Int("risk.factors", len(assessment.Factors)),
	)
	metrics.RiskScore.Observe(assessment.Score)
	return assessment
}

// RecordOutcome folds a verification result back into the identity's profile
func (e *Engine) RecordOutcome(ctx context.Context, email string, success bool, cc models.ChallengeContext) {
	now := e.now()

	e.store.Update(ctx, email, func(p *models.RiskProfile) {
		attemptAt := now
		p.LastAttemptTime = &attemptAt

		if !success {
			p.ConsecutiveFailures++
			p.FailureCount++
			failedAt := now
			p.LastFailureTime = &failedAt
			p.BaseRiskScore = round(math.Min(MaxBaseRisk, p.BaseRiskScore+FailurePenalty))
			return
		}

		p.ConsecutiveFailures = 0
		p.SuccessCount++
		p.BaseRiskScore = round(math.Max(MinBaseRisk, p.BaseRiskScore-SuccessDiscount))
		if cc.DeviceFingerprint != nil && *cc.DeviceFingerprint != "" {
			incrementBounded(p.KnownDevices, *cc.DeviceFingerprint, e.config.MaxKnownDevices)
		}
		if cc.Geolocation != nil && *cc.Geolocation != "" {
			incrementBounded(p.KnownLocations, *cc.Geolocation, e.config.MaxKnownLocations)
		}
	})

	e.logger.DebugContext(ctx, "risk profile updated", slog.Bool("success", success))
}

// Profile returns the externally visible view of the identity's profile
func (e *Engine) Profile(ctx context.Context, email string) models.RiskSnapshot {
	profile := e.store.Snapshot(ctx, email)
	assessment := Evaluate(profile, models.ChallengeContext{}, 0, e.now(), e.config.Location)

	return models.RiskSnapshot{
		Email:               email,
		BaseRiskScore:       profile.BaseRiskScore,
		CurrentRiskScore:    assessment.Score,
		SecurityLevel:       assessment.Level,
		RequiresStepUp:      RequiresStepUp(assessment.Level),
		KnownDeviceCount:    len(profile.KnownDevices),
		KnownLocationCount:  len(profile.KnownLocations),
		ConsecutiveFailures: profile.ConsecutiveFailures,
		LastFailureTime:     profile.LastFailureTime,
	}
}

// Evaluate scores a context and maps the score onto a challenge type and security level
func Evaluate(profile *models.RiskProfile, cc models.ChallengeContext, attemptCount int, now time.Time, loc *time.Location) models.RiskAssessment {
	score, factors := Score(profile, cc, attemptCount, now, loc)
	return models.RiskAssessment{
		Score:         score,
		Level:         ClassifyLevel(score),
		ChallengeType: SelectChallengeType(score),
		Factors:       factors,
	}
}

// Score is the additive risk model. It never fails and always returns a value in [0, 1].
func Score(profile *models.RiskProfile, cc models.ChallengeContext, attemptCount int, now time.Time, loc *time.Location) (float64, []models.RiskFactor) {
	if profile == nil {
		profile = models.NewRiskProfile("")
	}
	if loc == nil {
		loc = time.UTC
	}

	factors := []models.RiskFactor{{Name: "base_risk", ScoreDelta: profile.BaseRiskScore}}
	add := func(name string, delta float64) {
		factors = append(factors, models.RiskFactor{Name: name, ScoreDelta: delta})
	}

	if cc.DeviceFingerprint != nil && *cc.DeviceFingerprint != "" && profile.KnownDevices[*cc.DeviceFingerprint] == 0 {
		add("unknown_device", UnknownDeviceDelta)
	}

	if cc.Geolocation != nil && *cc.Geolocation != "" && profile.KnownLocations[*cc.Geolocation] == 0 {
		add("unknown_location", UnknownLocationDelta)
	}

	if hour := now.In(loc).Hour(); hour >= SuspiciousHourStart && hour <= SuspiciousHourEnd {
		add("suspicious_hour", SuspiciousHourDelta)
	}

	if profile.LastAttemptTime != nil {
		if since := now.Sub(*profile.LastAttemptTime); since >= 0 && since < RapidRetryWindow {
			add("rapid_retry", RapidRetryDelta)
		}
	}

	if attemptCount > 0 {
		add("attempt_count", PerAttemptDelta*float64(attemptCount))
	}

	total := 0.0
	for _, f := range factors {
		total += f.ScoreDelta
	}

	return round(clamp(total, 0, 1)), factors
}

// SelectChallengeType maps a score to the required challenge, strictly increasing in strength
func SelectChallengeType(score float64) models.ChallengeType {
	switch {
	case score < ThresholdMedium:
		return models.ChallengeTypeCaptcha
	case score < ThresholdHigh:
		return models.ChallengeTypeEmailVerification
	case score < ThresholdCritical:
		return models.ChallengeTypePhoneVerification
	default:
		return models.ChallengeTypeAdminApproval
	}
}

// ClassifyLevel maps a score to a security level on the challenge thresholds
func ClassifyLevel(score float64) models.SecurityLevel {
	switch {
	case score < ThresholdMedium:
		return models.SecurityLevelLow
	case score < ThresholdHigh:
		return models.SecurityLevelMedium
	case score < ThresholdCritical:
		return models.SecurityLevelHigh
	default:
		return models.SecurityLevelCritical
	}
}

// RequiresStepUp is true for every level above LOW
func RequiresStepUp(level models.SecurityLevel) bool {
	switch level {
	case models.SecurityLevelMedium, models.SecurityLevelHigh, models.SecurityLevelCritical:
		return true
	case models.SecurityLevelLow:
		return false
	}
	return true
}

// incrementBounded bumps key's usage count. When key is new and the map is full, the least
// used other entry is evicted first (ties broken by key order, for determinism).
func incrementBounded(m map[string]int, key string, max int) {
	if _, ok := m[key]; !ok && max > 0 {
		for len(m) >= max {
			victim := ""
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if victim == "" || m[k] < m[victim] {
					victim = k
				}
			}
			delete(m, victim)
		}
	}
	m[key]++
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round keeps six decimals so threshold comparisons are stable across float noise
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
