package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"projects2nas/internal/registry"
)

const recentLimit = 10
const failedLimit = 20

// CategoryCount is the per-category migration breakdown
type CategoryCount struct {
	Category string
	Total    int
	Migrated int
}

// RunStats carries the numbers only the scheduler knows
type RunStats struct {
	DryRun         bool
	CategoryFilter string
	TotalEligible  int
	Dispatched     int
	Migrated       int64
	Failed         int64
	Elapsed        time.Duration
}

// Summary is the post-run aggregate report
type Summary struct {
	GeneratedAt time.Time
	Run         RunStats
	SuccessRate float64
	ByCategory  []CategoryCount
	Recent      []*registry.Item
	FailedItems []*registry.Item
}

// Build aggregates run statistics with registry-wide breakdowns
func Build(ctx context.Context, store registry.Store, stats RunStats) (*Summary, error) {
	s := &Summary{
		GeneratedAt: time.Now(),
		Run:         stats,
	}

	if stats.Dispatched > 0 {
		s.SuccessRate = float64(stats.Migrated) / float64(stats.Dispatched) * 100
	}

	totals, err := store.CategoryBreakdown(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read category breakdown: %w", err)
	}
	migrated, err := store.CategoryBreakdown(ctx, registry.StateMigrated)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrated breakdown: %w", err)
	}

	for category, total := range totals {
		s.ByCategory = append(s.ByCategory, CategoryCount{
			Category: category,
			Total:    total,
			Migrated: migrated[category],
		})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		return s.ByCategory[i].Category < s.ByCategory[j].Category
	})

	if s.Recent, err = store.RecentMigrations(ctx, recentLimit); err != nil {
		return nil, fmt.Errorf("failed to read recent migrations: %w", err)
	}
	if s.FailedItems, err = store.FailedItems(ctx, failedLimit); err != nil {
		return nil, fmt.Errorf("failed to read failed items: %w", err)
	}

	return s, nil
}

// Render formats the human-readable summary printed at the end of a run
func (s *Summary) Render() string {
	var b strings.Builder

	mode := "LIVE MIGRATION"
	if s.Run.DryRun {
		mode = "DRY-RUN (no changes made)"
	}
	filter := s.Run.CategoryFilter
	if filter == "" {
		filter = "none (all categories)"
	}

	fmt.Fprintf(&b, "MIGRATION REPORT\n")
	fmt.Fprintf(&b, "================\n")
	fmt.Fprintf(&b, "Generated: %s\n", s.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Category filter: %s\n\n", filter)

	fmt.Fprintf(&b, "SUMMARY\n-------\n")
	fmt.Fprintf(&b, "Eligible at start:  %d\n", s.Run.TotalEligible)
	fmt.Fprintf(&b, "Dispatched:         %d\n", s.Run.Dispatched)
	fmt.Fprintf(&b, "Migrated:           %d\n", s.Run.Migrated)
	fmt.Fprintf(&b, "Failed:             %d\n", s.Run.Failed)
	fmt.Fprintf(&b, "Success rate:       %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Elapsed:            %.1fs\n\n", s.Run.Elapsed.Seconds())

	fmt.Fprintf(&b, "BREAKDOWN BY CATEGORY\n---------------------\n")
	for _, c := range s.ByCategory {
		fmt.Fprintf(&b, "%-24s %4d/%-4d migrated\n", c.Category, c.Migrated, c.Total)
	}

	if len(s.Recent) > 0 {
		fmt.Fprintf(&b, "\nRECENT MIGRATIONS\n-----------------\n")
		for _, item := range s.Recent {
			fmt.Fprintf(&b, "  %s (%s) -> %s\n", item.DisplayName, item.Category, item.TargetPath)
		}
	}

	if len(s.FailedItems) > 0 {
		fmt.Fprintf(&b, "\nFAILED ITEMS\n------------\n")
		for _, item := range s.FailedItems {
			fmt.Fprintf(&b, "  %s: %s\n", item.DisplayName, item.FailReason)
		}
	}

	return b.String()
}

// Write saves the report as a durable artifact and returns its path
func (s *Summary) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("migration_report_%s.txt",
		s.GeneratedAt.Format("20060102_150405")))

	if err := os.WriteFile(path, []byte(s.Render()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}
