package model

type DashboardSummary struct {
	TotalSymptoms     int     `json:"total_symptoms"`
	AvgSeverity       float64 `json:"avg_severity"`
	AchievedGoals     int     `json:"achieved_goals"`
	TotalGoals        int     `json:"total_goals"`
	AvgMood           float64 `json:"avg_mood"`
	MeditationMinutes int     `json:"meditation_minutes"`
	HealthScore       float64 `json:"health_score"`
	WindowDays        int     `json:"window_days"`
	// Degraded lists the metrics that fell back to a neutral value.
	Degraded []string `json:"degraded,omitempty"`
}
