package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/timeline"
	"github.com/vthunder/clr/internal/types"
)

var (
	sessionsSince time.Duration
	dailySince    time.Duration
	timelineSince time.Duration
	reportGap     int
	reportJSON    bool
	reportSource  string
	reportLimit   int

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "List work sessions from the timeline",
		RunE:  runSessions,
	}
	dailyCmd = &cobra.Command{
		Use:   "daily",
		Short: "Show per-day load and focus statistics",
		RunE:  runDaily,
	}
	timelineCmd = &cobra.Command{
		Use:   "timeline",
		Short: "Print raw timeline rows",
		RunE:  runTimeline,
	}
)

func init() {
	sessionsCmd.Flags().DurationVar(&sessionsSince, "since", 24*time.Hour, "how far back to look")
	dailyCmd.Flags().DurationVar(&dailySince, "since", 7*24*time.Hour, "how far back to look")
	timelineCmd.Flags().DurationVar(&timelineSince, "since", time.Hour, "how far back to look")
	for _, c := range []*cobra.Command{sessionsCmd, dailyCmd, timelineCmd} {
		c.Flags().BoolVar(&reportJSON, "json", false, "print JSON instead of a table")
	}
	for _, c := range []*cobra.Command{sessionsCmd, dailyCmd} {
		c.Flags().IntVar(&reportGap, "gap", 0, "session gap in minutes (default: session_gap_minutes setting)")
	}
	timelineCmd.Flags().StringVar(&reportSource, "source", "", "filter by source (browser|ide|desktop|lms|engine)")
	timelineCmd.Flags().IntVar(&reportLimit, "limit", timeline.DefaultLimit, "maximum rows")
}

func openTimeline() (*timeline.Store, error) {
	path := cfg.TimelinePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no timeline at %s: %w", path, err)
	}
	return timeline.Open(path)
}

// sessionGap resolves --gap, falling back to the persisted setting
func sessionGap() time.Duration {
	if reportGap > 0 {
		return time.Duration(reportGap) * time.Minute
	}
	prefs := settings.NewStore(cfg.SettingsPath())
	_ = prefs.Load()
	return prefs.Get().SessionGap()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, err := openTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	since := types.Unix(time.Now().Add(-sessionsSince))
	sessions, err := store.Sessions(cmd.Context(), since, 0, sessionGap())
	if err != nil {
		return err
	}
	if reportJSON {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTART\tMINUTES\tTICKS\tAVG\tPEAK\tDOMINANT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%d\t%.2f\t%.2f\t%s\n",
			s.SessionIndex,
			types.FromUnix(s.StartTS).Local().Format("2006-01-02 15:04"),
			s.DurationMinutes, s.TickCount, s.AvgLoadScore, s.PeakLoadScore, s.DominantContext)
	}
	return w.Flush()
}

func runDaily(cmd *cobra.Command, args []string) error {
	store, err := openTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	since := types.Unix(time.Now().Add(-dailySince))
	stats, err := store.DailyStats(cmd.Context(), since, 0, sessionGap())
	if err != nil {
		return err
	}
	if reportJSON {
		return printJSON(stats)
	}
	if len(stats) == 0 {
		fmt.Println("No activity.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSESSIONS\tMINUTES\tFOCUS\tAVG\tPEAK\tCONTEXTS")
	for _, d := range stats {
		fmt.Fprintf(w, "%s\t%d\t%.0f\t%.0f\t%.2f\t%.2f\t%s\n",
			d.Date, d.SessionCount, d.TotalSessionMinutes, d.FocusMinutes,
			d.AvgLoadScore, d.PeakLoadScore, formatDistribution(d.ContextDistribution))
	}
	return w.Flush()
}

func runTimeline(cmd *cobra.Command, args []string) error {
	store, err := openTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Query(cmd.Context(), timeline.Filter{
		Since:  types.Unix(time.Now().Add(-timelineSince)),
		Source: reportSource,
		Limit:  reportLimit,
	})
	if err != nil {
		return err
	}
	if reportJSON {
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSOURCE\tTYPE\tLOAD\tCONTEXT")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.3f\t%s\n",
			e.ID, types.FromUnix(e.Timestamp).Local().Format("15:04:05"),
			e.Source, e.EventType, e.LoadScore, e.Context)
	}
	return w.Flush()
}

// formatDistribution renders "deep_focus 62%, shallow_work 30%" largest first
func formatDistribution(dist map[string]float64) string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if dist[keys[i]] != dist[keys[j]] {
			return dist[keys[i]] > dist[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %.0f%%", k, dist[k]*100)
	}
	return strings.Join(parts, ", ")
}
