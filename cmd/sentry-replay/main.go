// Command sentry-replay runs a recorded detection log through the
// tracking and behavior pipeline offline, printing the patterns that
// would have fired. Useful for tuning zone rules against footage that
// already happened.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/sentry.report/internal/behavior"
	"github.com/banshee-data/sentry.report/internal/config"
	"github.com/banshee-data/sentry.report/internal/pipeline"
	"github.com/banshee-data/sentry.report/internal/timeutil"
)

var (
	zonesPath  = flag.String("zones", "", "Zone definitions file (required)")
	detections = flag.String("detections", "-", "NDJSON detection log, '-' for stdin")
	interval   = flag.Duration("interval", 200*time.Millisecond, "Simulated time between frames without timestamps")
	cameraID   = flag.String("camera", "replay", "Camera id for the replayed frames")
	asJSON     = flag.Bool("json", false, "Emit patterns as NDJSON instead of text")
)

type replayFrame struct {
	Camera string `json:"camera,omitempty"`
	pipeline.Frame
}

func main() {
	flag.Parse()

	if *zonesPath == "" {
		log.Fatal("a -zones file is required")
	}
	zoneDefs, err := config.LoadZones(*zonesPath)
	if err != nil {
		log.Fatalf("failed to load zones: %v", err)
	}
	zones := behavior.NewZoneSet()
	for _, z := range zoneDefs {
		if err := zones.Set(z); err != nil {
			log.Fatalf("invalid zone %q: %v", z.ID, err)
		}
	}

	var r io.Reader
	if *detections == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(*detections)
		if err != nil {
			log.Fatalf("failed to open detection log: %v", err)
		}
		defer f.Close()
		r = f
	}

	clock := timeutil.NewMockClock(time.Now())
	cam := pipeline.NewCamera(pipeline.CameraConfig{ID: *cameraID}, zones, nil, clock)

	var frames, patterns int
	byType := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f replayFrame
		if err := json.Unmarshal(line, &f); err != nil {
			log.Printf("skipping malformed frame: %v", err)
			continue
		}

		// Frames with recorded timestamps drive the simulated clock; the
		// rest advance at a fixed rate.
		if !f.Time.IsZero() {
			clock.Set(f.Time)
		} else if frames > 0 {
			clock.Advance(*interval)
		}
		frames++

		for _, p := range cam.Process(f.Frame) {
			patterns++
			byType[p.Type]++
			printPattern(p)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read detection log: %v", err)
	}

	fmt.Fprintf(os.Stderr, "replayed %d frames, %d patterns\n", frames, patterns)
	for pt, n := range byType {
		fmt.Fprintf(os.Stderr, "  %s: %d\n", pt, n)
	}
}

func printPattern(p behavior.Pattern) {
	if *asJSON {
		data, err := json.Marshal(p)
		if err != nil {
			log.Printf("failed to encode pattern: %v", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	zone := p.Zone
	if zone == "" {
		zone = "(scene)"
	}
	fmt.Printf("%s  %-16s zone=%-12s confidence=%.2f tracks=%v\n",
		p.Timestamp.Format("15:04:05"), p.Type, zone, p.Confidence, p.TrackIDs)
}
