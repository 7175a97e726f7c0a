package models

import "time"

// Report section names used in OmittedSections
const (
	ReportSectionSuspiciousActivities = "suspicious_activities"
	ReportSectionResourceHotspots     = "resource_hotspots"
)

// SecurityReport aggregates audit records over a time window
type SecurityReport struct {
	StartTime            time.Time              `json:"start_time"`
	EndTime              time.Time              `json:"end_time"`
	GeneratedAt          time.Time              `json:"generated_at"`
	TotalEvents          int                    `json:"total_events"`
	EventsByType         map[AuditEventType]int `json:"events_by_type"`
	EventsBySeverity     map[AuditSeverity]int  `json:"events_by_severity"`
	EventsByStatus       map[AuditStatus]int    `json:"events_by_status"`
	UniqueIdentities     int                    `json:"unique_identities"`
	SuspiciousActivities []SuspiciousActivity   `json:"suspicious_activities,omitempty"`
	ResourceHotspots     []ResourceHotspot      `json:"resource_hotspots,omitempty"`

	// OmittedSections lists sections dropped because their analyzer was unavailable
	OmittedSections []string `json:"omitted_sections,omitempty"`
}

// SuspiciousActivity flags an identity whose behaviour in the window departs from its own baseline
type SuspiciousActivity struct {
	Email               string   `json:"email"`
	Reasons             []string `json:"reasons"`
	EventCount          int      `json:"event_count"`
	FailureCount        int      `json:"failure_count"`
	FailureRate         float64  `json:"failure_rate"`
	BaselineFailureRate float64  `json:"baseline_failure_rate"`
	OffHoursRatio       float64  `json:"off_hours_ratio"`
	BaselineOffHours    float64  `json:"baseline_off_hours_ratio"`
}

// ResourceHotspot is a heavily accessed resource in the window
type ResourceHotspot struct {
	ResourceType       string `json:"resource_type"`
	ResourceID         string `json:"resource_id"`
	AccessCount        int    `json:"access_count"`
	UniqueUsers        int    `json:"unique_users"`
	MostFrequentAction string `json:"most_frequent_action"`
}
