// Package healthstore is the primary datastore for user profiles, logged
// health entries, generated insights and daily goal progress.
package healthstore

import (
	"context"
	"sort"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

// MaxInsights is how many insights are retained per user, newest first.
const MaxInsights = 50

// Store is the primary datastore contract.
type Store interface {
	// Profile returns the user's profile, or nil when they have none.
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	SaveProfile(ctx context.Context, p domain.Profile) error

	// AppendEntry logs an entry. A second entry with the same timestamp
	// fails with domain.ErrDuplicateEntry.
	AppendEntry(ctx context.Context, userID string, e domain.HealthEntry) error
	// Entries returns entries with from <= timestamp <= to in ascending
	// order. A positive limit keeps only the most recent limit entries.
	Entries(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.HealthEntry, error)

	// Insights returns stored insights, newest first.
	Insights(ctx context.Context, userID string) ([]domain.Insight, error)
	// SaveInsights merges new insights, keeping the newest MaxInsights.
	SaveInsights(ctx context.Context, userID string, insights []domain.Insight) error

	SaveGoalProgress(ctx context.Context, userID string, progress []domain.GoalProgress) error
	// GoalProgress returns the snapshot for one day ("2006-01-02").
	GoalProgress(ctx context.Context, userID, date string) ([]domain.GoalProgress, error)
}

// mergeInsights orders newest first (ties by ID) and caps the list.
func mergeInsights(existing, added []domain.Insight) []domain.Insight {
	all := make([]domain.Insight, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > MaxInsights {
		all = all[:MaxInsights]
	}
	return all
}
