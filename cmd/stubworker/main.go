// Command stubworker stands in for the Python generation scripts during local
// development. It speaks the same line protocol on stdout, so the full
// orchestration path can be exercised without the real synthesis stack:
//
//	PYTHON_BIN=$(go env GOPATH)/bin/stubworker SCRIPTS_DIR=/tmp go run ./cmd/api
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	delay := flag.Duration("delay", 200*time.Millisecond, "pause between stages")
	fail := flag.Bool("fail", false, "exit nonzero after the scenario stage")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: stubworker [flags] <script> [worker args...]")
		os.Exit(2)
	}

	// The first positional arg mirrors the script path the orchestrator
	// passes to the Python interpreter; the script name selects the mode.
	if strings.Contains(args[0], "audio_enhancer") {
		runEnhancer(args[1:], *delay)
		return
	}
	runGenerator(args[1:], *delay, *fail)
}

func runGenerator(args []string, delay time.Duration, fail bool) {
	id := "unknown"
	if len(args) >= 3 {
		id = args[2]
	}

	scenario := "A short promotional scene."
	timing := 16.0
	prompts := []map[string]any{
		{"prompt": "Frame: opening shot", "duration": "8s"},
		{"prompt": "Frame: closing shot", "duration": "8s"},
	}
	segments := []string{
		fmt.Sprintf("raw_video/%s_segment_1.mp4", id),
		fmt.Sprintf("raw_video/%s_segment_2.mp4", id),
	}

	fmt.Println("Generating scenario...")
	time.Sleep(delay)
	emit("INTERMEDIATE_RESULT:", map[string]any{"step": "scenario", "scenario": scenario})
	if fail {
		fmt.Fprintln(os.Stderr, "synthetic failure requested")
		os.Exit(1)
	}

	time.Sleep(delay)
	emit("INTERMEDIATE_RESULT:", map[string]any{"step": "timing", "scenario": scenario, "timing": timing})

	time.Sleep(delay)
	emit("INTERMEDIATE_RESULT:", map[string]any{"step": "prompts", "scenario": scenario, "timing": timing, "prompts": prompts})

	fmt.Println("Rendering segments 45%|████ 2.1it/s") // exercises the noise filter
	time.Sleep(delay)
	emit("INTERMEDIATE_RESULT:", map[string]any{"step": "videos", "scenario": scenario, "timing": timing, "prompts": prompts, "video_segments": segments})

	time.Sleep(delay)
	emit("GENERATION_RESULT:", map[string]any{
		"scenario":       scenario,
		"timing":         timing,
		"prompts":        prompts,
		"video_segments": segments,
		"final_video":    fmt.Sprintf("ready_video/%s_final.mp4", id),
	})
}

func runEnhancer(args []string, delay time.Duration) {
	finalVideo := "ready_video/final.mp4"
	if len(args) >= 1 {
		finalVideo = args[0]
	}
	fmt.Println("Enhancing audio...")
	time.Sleep(delay)
	emit("ENHANCED_RESULT:", map[string]any{
		"enhanced_video": strings.TrimSuffix(finalVideo, ".mp4") + "_enhanced.mp4",
	})
}

func emit(marker string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal payload:", err)
		os.Exit(1)
	}
	// Matches the real worker, which prints a space after the marker.
	fmt.Println(marker, string(data))
}
