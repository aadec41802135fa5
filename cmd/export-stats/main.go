package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/prehled-vlaku/poller/internal/db"
)

// DayExport is the JSON document written for one service day.
type DayExport struct {
	ServiceDay string        `json:"serviceDay"` // YYYY-MM-DD
	Carriers   []CarrierLine `json:"carriers"`
}

// CarrierLine is one carrier's punctuality on the exported day.
type CarrierLine struct {
	Carrier         string  `json:"carrier"`
	Journeys        int     `json:"journeys"`
	OnTime          int     `json:"onTime"`
	Delayed         int     `json:"delayed"`
	OnTimePercent   float64 `json:"onTimePercent"`
	MeanDelay       float64 `json:"meanDelayMinutes"`
	DelayStdDev     float64 `json:"delayStdDevMinutes"`
	MaxDelayMinutes float64 `json:"maxDelayMinutes"`
}

func main() {
	dbPath := flag.String("db", "data/vlaky.db", "SQLite database written by the poller")
	outputDir := flag.String("output", "", "Directory for per-day JSON files (stdout when empty)")
	days := flag.Int("days", 1, "Number of service days to export, ending with -day")
	day := flag.String("day", time.Now().Format("2006-01-02"), "Last service day to export (YYYY-MM-DD)")
	flag.Parse()

	last, err := time.Parse("2006-01-02", *day)
	if err != nil {
		log.Fatalf("Invalid -day %q: %v", *day, err)
	}

	database, err := db.Connect(*dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	ctx := context.Background()
	for i := *days - 1; i >= 0; i-- {
		serviceDay := last.AddDate(0, 0, -i).Format("2006-01-02")
		export, err := buildExport(ctx, database, serviceDay)
		if err != nil {
			log.Printf("ERROR exporting %s: %v", serviceDay, err)
			continue
		}

		if *outputDir == "" {
			if err := writeJSON(os.Stdout, export); err != nil {
				log.Fatalf("Failed to write export: %v", err)
			}
			continue
		}
		path := filepath.Join(*outputDir, serviceDay+".json")
		if err := writeFile(path, export); err != nil {
			log.Printf("ERROR writing %s: %v", path, err)
			continue
		}
		log.Printf("Exported %s: %d carriers", serviceDay, len(export.Carriers))
	}
}

func buildExport(ctx context.Context, database *db.DB, serviceDay string) (DayExport, error) {
	stats, err := database.CarrierStatsForDay(ctx, serviceDay)
	if err != nil {
		return DayExport{}, err
	}
	return toExport(serviceDay, stats), nil
}

func toExport(serviceDay string, stats []db.CarrierStats) DayExport {
	export := DayExport{ServiceDay: serviceDay, Carriers: make([]CarrierLine, 0, len(stats))}
	for _, s := range stats {
		line := CarrierLine{
			Carrier:         s.Carrier,
			Journeys:        s.JourneyCount,
			OnTime:          s.OnTimeCount,
			Delayed:         s.DelayedCount,
			MeanDelay:       s.DelayMean,
			DelayStdDev:     s.DelayStdDev,
			MaxDelayMinutes: s.MaxDelayMinutes,
		}
		if s.JourneyCount > 0 {
			line.OnTimePercent = 100 * float64(s.OnTimeCount) / float64(s.JourneyCount)
		}
		export.Carriers = append(export.Carriers, line)
	}
	return export
}

func writeFile(path string, export DayExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return writeJSON(f, export)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
