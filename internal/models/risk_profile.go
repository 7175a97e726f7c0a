package models

import "time"

// DefaultBaseRiskScore is the baseline assigned to an identity seen for the first time
const DefaultBaseRiskScore = 0.3

// SecurityLevel buckets a risk score on the same thresholds as challenge selection
type SecurityLevel string

const (
	SecurityLevelLow      SecurityLevel = "LOW"
	SecurityLevelMedium   SecurityLevel = "MEDIUM"
	SecurityLevelHigh     SecurityLevel = "HIGH"
	SecurityLevelCritical SecurityLevel = "CRITICAL"
)

// RiskProfile is the per-identity state the scoring engine learns from
type RiskProfile struct {
	Email               string         `db:"email" json:"email"`
	BaseRiskScore       float64        `db:"base_risk_score" json:"base_risk_score"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"consecutive_failures"`
	LastFailureTime     *time.Time     `db:"last_failure_time" json:"last_failure_time,omitempty"`
	LastAttemptTime     *time.Time     `db:"last_attempt_time" json:"last_attempt_time,omitempty"`
	KnownDevices        map[string]int `db:"known_devices" json:"known_devices"`
	KnownLocations      map[string]int `db:"known_locations" json:"known_locations"`
	SuccessCount        int            `db:"success_count" json:"success_count"`
	FailureCount        int            `db:"failure_count" json:"failure_count"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// NewRiskProfile returns the default profile for an identity
func NewRiskProfile(email string) *RiskProfile {
	return &RiskProfile{
		Email:          email,
		BaseRiskScore:  DefaultBaseRiskScore,
		KnownDevices:   make(map[string]int),
		KnownLocations: make(map[string]int),
	}
}

// Clone returns a deep copy safe to hand out of the store
func (p *RiskProfile) Clone() *RiskProfile {
	out := *p
	out.KnownDevices = make(map[string]int, len(p.KnownDevices))
	for k, v := range p.KnownDevices {
		out.KnownDevices[k] = v
	}
	out.KnownLocations = make(map[string]int, len(p.KnownLocations))
	for k, v := range p.KnownLocations {
		out.KnownLocations[k] = v
	}
	if p.LastFailureTime != nil {
		t := *p.LastFailureTime
		out.LastFailureTime = &t
	}
	if p.LastAttemptTime != nil {
		t := *p.LastAttemptTime
		out.LastAttemptTime = &t
	}
	return &out
}

// RiskFactor is one additive term that contributed to a score
type RiskFactor struct {
	Name       string  `json:"name"`
	ScoreDelta float64 `json:"score_delta"`
}

// RiskAssessment is the output of scoring one authentication context
type RiskAssessment struct {
	Score         float64       `json:"score"`
	Level         SecurityLevel `json:"security_level"`
	ChallengeType ChallengeType `json:"challenge_type"`
	Factors       []RiskFactor  `json:"factors"`
}

// RiskSnapshot is the externally visible view of a profile; it never exposes raw fingerprints
type RiskSnapshot struct {
	Email               string        `json:"email"`
	BaseRiskScore       float64       `json:"base_risk_score"`
	CurrentRiskScore    float64       `json:"current_risk_score"`
	SecurityLevel       SecurityLevel `json:"security_level"`
	RequiresStepUp      bool          `json:"requires_step_up"`
	KnownDeviceCount    int           `json:"known_device_count"`
	KnownLocationCount  int           `json:"known_location_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureTime     *time.Time    `json:"last_failure_time,omitempty"`
}
