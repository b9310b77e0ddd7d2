// Command fleetdna is the FleetDNA CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fleetdna/fleetdna/internal/version"
	"github.com/fleetdna/fleetdna/queue"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "fleetdna server URL")
		token     = flag.String("token", os.Getenv("FLEETDNA_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "stats":
		err = cli.cmdStats(rest)
	case "failed":
		err = cli.cmdFailed(rest)
	case "enqueue":
		err = cli.cmdEnqueue(rest)
	case "drain":
		err = cli.cmdDrain(rest)
	case "cleanup":
		err = cli.cmdCleanup(rest)
	case "pipeline":
		err = cli.cmdPipeline(rest)
	case "dna":
		err = cli.cmdDNA(rest)
	case "breakdown":
		err = cli.cmdBreakdown(rest)
	case "completeness":
		err = cli.cmdCompleteness(rest)
	case "similar":
		err = cli.cmdSimilar(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use fleetdnad to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `fleetdna — FleetDNA CLI

Usage:
  fleetdna [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $FLEETDNA_TOKEN)

Commands:
  version                        print version
  status                         show server status
  stats                          show queue stats
  failed                         list failed tasks
  enqueue <type> <subject...>    enqueue AI tasks
  drain [batch]                  drain pending tasks now
  cleanup                        delete old finished tasks
  pipeline <name> run <subject>  run a pipeline synchronously
  pipeline <name> batch <s...>   enqueue a pipeline for many subjects
  dna <subject>                  show the fingerprint hash
  breakdown <subject>            show the per-dimension breakdown
  completeness <subject>         show the completeness score
  similar <subject>              find similar entities
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("fleetdna %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// post performs a POST and decodes JSON response into v (may be nil).
func (c *Client) post(path string, body io.Reader, v any) error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]any
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:     %s\n", strVal(result["status"]))
	fmt.Printf("version:    %s\n", strVal(result["version"]))
	fmt.Printf("dimensions: %s\n", strVal(result["dimensions"]))
	return nil
}

// --- queue ---

func (c *Client) cmdStats(_ []string) error {
	var stats map[string]int
	if err := c.get("/api/queue/stats", &stats); err != nil {
		return err
	}
	for _, status := range []string{"pending", "processing", "completed", "failed"} {
		fmt.Printf("%-12s %d\n", status, stats[status])
	}
	return nil
}

func (c *Client) cmdFailed(_ []string) error {
	var result struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := c.get("/api/queue/failed", &result); err != nil {
		return err
	}
	if len(result.Tasks) == 0 {
		fmt.Println("no failed tasks")
		return nil
	}
	fmt.Printf("%-36s %-16s %-16s %s\n", "ID", "TYPE", "SUBJECT", "ERROR")
	fmt.Println(strings.Repeat("-", 100))
	for _, t := range result.Tasks {
		fmt.Printf("%-36s %-16s %-16s %s\n",
			strVal(t["id"]),
			truncate(strVal(t["task_type"]), 15),
			truncate(strVal(t["subject_id"]), 15),
			truncate(strVal(t["error_message"]), 40),
		)
	}
	return nil
}

func (c *Client) cmdEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	priority := fs.Int("priority", queue.DefaultPriority, "task priority (lower runs first, 0 is most urgent)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: fleetdna enqueue <type> <subject...> [-priority n]")
	}
	taskType, subjects := rest[0], rest[1:]

	req := map[string]any{"task_type": taskType, "priority": *priority}
	if len(subjects) == 1 {
		req["subject_id"] = subjects[0]
	} else {
		req["subject_ids"] = subjects
	}
	body, _ := json.Marshal(req)
	var result map[string]any
	if err := c.post("/api/queue/tasks", strings.NewReader(string(body)), &result); err != nil {
		return err
	}
	if len(subjects) == 1 {
		fmt.Printf("queued task %s\n", strVal(result["id"]))
	} else {
		fmt.Printf("queued %s tasks\n", strVal(result["queued"]))
	}
	return nil
}

func (c *Client) cmdDrain(args []string) error {
	body := "{}"
	if len(args) > 0 {
		body = fmt.Sprintf(`{"batch_size":%s}`, args[0])
	}
	var report map[string]any
	if err := c.post("/api/queue/drain", strings.NewReader(body), &report); err != nil {
		return err
	}
	fmt.Printf("processed: %s  completed: %s  retried: %s  failed: %s\n",
		strVal(report["processed"]), strVal(report["completed"]),
		strVal(report["retried"]), strVal(report["failed"]))
	return nil
}

func (c *Client) cmdCleanup(_ []string) error {
	var result map[string]int64
	if err := c.post("/api/queue/cleanup", strings.NewReader("{}"), &result); err != nil {
		return err
	}
	fmt.Printf("deleted %d tasks, released %d stuck tasks\n", result["deleted"], result["released"])
	return nil
}

// --- pipelines ---

func (c *Client) cmdPipeline(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: fleetdna pipeline <name> <run|batch> <subject...>")
	}
	name, sub := args[0], args[1]
	switch sub {
	case "run":
		body := fmt.Sprintf(`{"subject_id":%q}`, args[2])
		var report map[string]any
		if err := c.post("/api/pipelines/"+name+"/run", strings.NewReader(body), &report); err != nil {
			return err
		}
		fmt.Printf("pipeline %s for %s: %s\n", name, args[2], strVal(report["status"]))
		steps, _ := report["steps"].([]any)
		for _, raw := range steps {
			step, _ := raw.(map[string]any)
			line := fmt.Sprintf("  %-14s %s", strVal(step["name"]), strVal(step["status"]))
			if e := strVal(step["error"]); e != "" {
				line += "  " + truncate(e, 50)
			}
			fmt.Println(line)
		}
		return nil
	case "batch":
		req := map[string]any{"subject_ids": args[2:]}
		body, _ := json.Marshal(req)
		var result map[string]any
		if err := c.post("/api/pipelines/"+name+"/batch", strings.NewReader(string(body)), &result); err != nil {
			return err
		}
		fmt.Printf("queued %s pipeline runs\n", strVal(result["queued"]))
		return nil
	default:
		return fmt.Errorf("unknown pipeline subcommand: %s", sub)
	}
}

// --- fingerprints ---

func (c *Client) cmdDNA(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fleetdna dna <subject>")
	}
	var result map[string]any
	if err := c.get("/api/entities/"+args[0]+"/dna", &result); err != nil {
		return err
	}
	fmt.Println(strVal(result["hash"]))
	return nil
}

func (c *Client) cmdBreakdown(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fleetdna breakdown <subject>")
	}
	var result struct {
		Dimensions []map[string]any `json:"dimensions"`
	}
	if err := c.get("/api/entities/"+args[0]+"/dna/breakdown", &result); err != nil {
		return err
	}
	for _, d := range result.Dimensions {
		values := strVal(d["values"])
		if values == "" || values == "[]" {
			values = "-"
		}
		fmt.Printf("%-28s %s\n", strVal(d["dimension"]), values)
	}
	return nil
}

func (c *Client) cmdCompleteness(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fleetdna completeness <subject>")
	}
	var result map[string]any
	if err := c.get("/api/entities/"+args[0]+"/completeness", &result); err != nil {
		return err
	}
	fmt.Printf("%s%%\n", strVal(result["completeness"]))
	return nil
}

func (c *Client) cmdSimilar(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fleetdna similar <subject>")
	}
	var result map[string]any
	if err := c.get("/api/entities/"+args[0]+"/similar", &result); err != nil {
		return err
	}
	fmt.Printf("method: %s\n", strVal(result["method"]))
	ids, _ := result["ids"].([]any)
	if len(ids) == 0 {
		fmt.Println("no similar entities")
		return nil
	}
	for _, id := range ids {
		fmt.Println(strVal(id))
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
