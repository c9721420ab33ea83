// Importer loads period metrics from a CSV file into ChurnGuard.
//
// Usage:
//
//	go run ./cmd/importer -csv metrics.csv -url http://localhost:8080
//
// The CSV needs account_id and period_key columns and may carry
// total_spend, total_texts_delivered, coupons_redeemed and
// active_subscribers. Rows are grouped per account and posted in one batch
// each; the resulting risk distribution is printed at the end.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Counters tracks import results.
type Counters struct {
	Accounts int64
	Created  int64
	Periods  int64
	Errors   int64
}

// Summary is the subset of GET /api/summary the importer prints.
type Summary struct {
	PeriodLabel   string `json:"periodLabel"`
	TotalAccounts int    `json:"totalAccounts"`
	Risk          struct {
		Low    int `json:"low"`
		Medium int `json:"medium"`
		High   int `json:"high"`
		Other  int `json:"other"`
	} `json:"risk"`
	TotalSpend    float64 `json:"totalSpend"`
	RevenueAtRisk float64 `json:"revenueAtRisk"`
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func main() {
	csvPath := flag.String("csv", "", "Path to the metrics CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "ChurnGuard base URL")
	password := flag.String("password", os.Getenv("CHURNGUARD_ADMIN_PASSWORD"), "Admin password (defaults to CHURNGUARD_ADMIN_PASSWORD)")
	granularity := flag.String("granularity", "month", "Period granularity: month or week")
	limit := flag.Int("limit", 0, "Maximum rows to import (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent uploads")
	verbose := flag.Bool("verbose", false, "Print each account result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: importer -csv /path/to/metrics.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *workers < 1 {
		*workers = 1
	}

	c := &client{baseURL: *baseURL, http: &http.Client{Timeout: 30 * time.Second}}

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: ChurnGuard not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	if err := c.login(*password); err != nil {
		fmt.Printf("ERROR: login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Logged in")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	batches, skipped, err := readBatches(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d accounts from %s\n", len(batches), *csvPath)
	for _, rowErr := range skipped {
		fmt.Printf("  skipped %v\n", rowErr)
	}

	start := time.Now()
	counters := c.upload(batches, *granularity, *workers, *verbose)
	duration := time.Since(start)

	fmt.Printf("\nImported %d periods for %d accounts in %s (%d new, %d errors, %d rows skipped)\n",
		counters.Periods, counters.Accounts, duration.Round(time.Millisecond),
		counters.Created, counters.Errors, len(skipped))

	summary, err := c.summary(*granularity)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch summary: %v\n", err)
		os.Exit(1)
	}
	printSummary(summary)

	if counters.Errors > 0 {
		os.Exit(2)
	}
}

func (c *client) upload(batches []AccountBatch, granularity string, numWorkers int, verbose bool) *Counters {
	counters := &Counters{}
	bar := progressbar.Default(int64(len(batches)), "importing")

	work := make(chan AccountBatch, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range work {
				created, err := c.ingest(b, granularity)
				if err != nil {
					atomic.AddInt64(&counters.Errors, 1)
					if verbose {
						fmt.Printf("\nERROR: %s -> %v\n", b.AccountID, err)
					}
				} else {
					atomic.AddInt64(&counters.Accounts, 1)
					atomic.AddInt64(&counters.Periods, int64(len(b.Periods)))
					if created {
						atomic.AddInt64(&counters.Created, 1)
					}
				}
				_ = bar.Add(1)
			}
		}()
	}

	for _, b := range batches {
		work <- b
	}
	close(work)
	wg.Wait()
	_ = bar.Finish()

	return counters
}

func (c *client) checkHealth() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) login(password string) error {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(http.MethodPost, "/api/auth/login", map[string]string{"password": password}, http.StatusOK, &resp); err != nil {
		return err
	}
	c.token = resp.SessionID
	return nil
}

func (c *client) ingest(b AccountBatch, granularity string) (bool, error) {
	body := map[string]any{
		"granularity": granularity,
		"periods":     b.Periods,
	}
	var resp struct {
		Created bool `json:"created"`
	}
	err := c.do(http.MethodPost, "/api/accounts/"+b.AccountID+"/metrics", body, 0, &resp)
	return resp.Created, err
}

func (c *client) summary(granularity string) (*Summary, error) {
	var s Summary
	if err := c.do(http.MethodGet, "/api/summary?granularity="+granularity, nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// do sends a JSON request. A zero want accepts any 2xx status.
func (c *client) do(method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !ok {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printSummary(s *Summary) {
	fmt.Printf("\nRISK DISTRIBUTION (%s)\n", s.PeriodLabel)
	fmt.Printf("   Accounts:         %d\n", s.TotalAccounts)
	fmt.Printf("   High:             %d (%s)\n", s.Risk.High, percent(s.Risk.High, s.TotalAccounts))
	fmt.Printf("   Medium:           %d (%s)\n", s.Risk.Medium, percent(s.Risk.Medium, s.TotalAccounts))
	fmt.Printf("   Low:              %d (%s)\n", s.Risk.Low, percent(s.Risk.Low, s.TotalAccounts))
	if s.Risk.Other > 0 {
		fmt.Printf("   Overridden:       %d\n", s.Risk.Other)
	}
	fmt.Printf("   Total spend:      $%.2f\n", s.TotalSpend)
	fmt.Printf("   Revenue at risk:  $%.2f\n", s.RevenueAtRisk)
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}
