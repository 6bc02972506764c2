package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/notify"
	"github.com/templui/healthsync/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWindowDays = 30

	// NeutralScore stands in for a metric that could not be computed.
	NeutralScore = 50.0

	severityWeight = 0.4
	moodWeight     = 0.3
	goalWeight     = 0.3
)

// Metric names reported in DashboardSummary.Degraded.
const (
	MetricSymptoms   = "symptoms"
	MetricGoals      = "goals"
	MetricMood       = "mood"
	MetricMeditation = "meditation"
)

type Notifier interface {
	Add(spec notify.Spec) int64
}

type DashboardService struct {
	repos      *repository.Set
	windowDays int
	notifier   Notifier
	now        func() time.Time
}

func NewDashboardService(repos *repository.Set, windowDays int) *DashboardService {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &DashboardService{
		repos:      repos,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// WithNotifier returns a copy that reports failed metrics to n.
func (s *DashboardService) WithNotifier(n Notifier) *DashboardService {
	c := *s
	c.notifier = n
	return &c
}

type symptomStats struct {
	total       int
	avgSeverity float64
}

type goalStats struct {
	total    int
	achieved int
}

// Summary aggregates the trailing window in parallel. A metric whose query
// fails falls back to NeutralScore and is listed in Degraded; the rest of the
// summary is still returned.
func (s *DashboardService) Summary(ctx context.Context, userID string, windowDays int) (*model.DashboardSummary, error) {
	if userID == "" {
		return nil, &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	if windowDays <= 0 {
		windowDays = s.windowDays
	}

	now := s.now().UTC()
	filter := repository.Filter{
		UserID: userID,
		From:   now.AddDate(0, 0, -windowDays),
	}

	var (
		symptoms   symptomStats
		goals      goalStats
		avgMood    float64
		moodCount  int
		meditation int
		mu         sync.Mutex
		failed     []string
	)

	fail := func(metric string, err error) {
		slog.Error("dashboard metric failed", "error", err, "metric", metric, "user_id", userID)
		mu.Lock()
		failed = append(failed, metric)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var sum, n int
		for sym, err := range s.repos.Symptoms.Query(gctx, filter) {
			if err != nil {
				fail(MetricSymptoms, err)
				return nil
			}
			sum += sym.Severity
			n++
		}
		symptoms = symptomStats{total: n, avgSeverity: average(sum, n)}
		return nil
	})

	g.Go(func() error {
		var st goalStats
		for goal, err := range s.repos.Goals.Query(gctx, filter) {
			if err != nil {
				fail(MetricGoals, err)
				return nil
			}
			st.total++
			if goal.Achieved {
				st.achieved++
			}
		}
		goals = st
		return nil
	})

	g.Go(func() error {
		var sum, n int
		for entry, err := range s.repos.Moods.Query(gctx, filter) {
			if err != nil {
				fail(MetricMood, err)
				return nil
			}
			sum += entry.Mood
			n++
		}
		avgMood, moodCount = average(sum, n), n
		return nil
	})

	g.Go(func() error {
		total := 0
		for session, err := range s.repos.Meditations.Query(gctx, filter) {
			if err != nil {
				fail(MetricMeditation, err)
				return nil
			}
			total += session.DurationMinutes
		}
		meditation = total
		return nil
	})

	// Metric failures are absorbed above; Wait only reports cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	degraded := func(metric string) bool {
		for _, m := range failed {
			if m == metric {
				return true
			}
		}
		return false
	}

	severityScore := NeutralScore
	if !degraded(MetricSymptoms) {
		severityScore = SeverityScore(symptoms.total, symptoms.avgSeverity)
	}
	moodScore := NeutralScore
	if !degraded(MetricMood) {
		moodScore = MoodScore(moodCount, avgMood)
	}
	goalScore := NeutralScore
	if !degraded(MetricGoals) {
		goalScore = GoalScore(goals.total, goals.achieved)
	}

	summary := &model.DashboardSummary{
		TotalSymptoms:     symptoms.total,
		AvgSeverity:       round1(symptoms.avgSeverity),
		AchievedGoals:     goals.achieved,
		TotalGoals:        goals.total,
		AvgMood:           round1(avgMood),
		MeditationMinutes: meditation,
		HealthScore:       HealthScore(severityScore, moodScore, goalScore),
		WindowDays:        windowDays,
		Degraded:          failed,
	}

	if s.notifier != nil {
		for _, metric := range failed {
			s.notifier.Add(notify.Spec{
				Type:      model.NotificationError,
				Title:     "Dashboard incomplete",
				Message:   fmt.Sprintf("Could not load %s data. Showing a neutral value instead.", metric),
				Retryable: true,
			})
		}
	}

	return summary, nil
}

// SeverityScore maps average severity 1..10 onto 100..0. No symptoms in the
// window scores 100.
func SeverityScore(total int, avgSeverity float64) float64 {
	if total == 0 {
		return 100
	}
	return clamp((float64(model.SeverityMax) - avgSeverity) / float64(model.SeverityMax-model.SeverityMin) * 100)
}

// MoodScore maps average mood 1..10 onto 0..100. No entries is neutral.
func MoodScore(count int, avgMood float64) float64 {
	if count == 0 {
		return NeutralScore
	}
	return clamp((avgMood - 1) / 9 * 100)
}

// GoalScore is the completion ratio as a percentage. No goals is neutral.
func GoalScore(total, achieved int) float64 {
	if total == 0 {
		return NeutralScore
	}
	return clamp(float64(achieved) / float64(total) * 100)
}

func HealthScore(severity, mood, goals float64) float64 {
	return round1(clamp(severityWeight*clamp(severity) + moodWeight*clamp(mood) + goalWeight*clamp(goals)))
}

func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
