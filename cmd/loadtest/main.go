// Command loadtest drives the matcher's /api/v1/match endpoint with
// misspelled queries and reports latency and match quality.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harishambati/fuzzyset/internal/vocabulary"
)

var defaultQueries = []string{
	"Calculus", "Linear Algebra", "Organic Chemistry", "Physics",
	"Microeconomics", "World History", "Data Structures", "Operating Systems",
	"Molecular Biology", "Statistics",
}

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	TypoRate    float64
	Queries     []string
}

type Stats struct {
	total    atomic.Int64
	errors   atomic.Int64
	exact    atomic.Int64
	fuzzy    atomic.Int64
	noMatch  atomic.Int64
	mu       sync.Mutex
	latency  []time.Duration
	statuses map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latency:  make([]time.Duration, 0, 100000),
		statuses: make(map[int]int64),
	}
}

type matchResponse struct {
	Exact   bool              `json:"exact"`
	Matches []json.RawMessage `json:"matches"`
}

// Record accounts for one request. body is nil when the request failed.
func (s *Stats) Record(d time.Duration, status int, body []byte) {
	s.total.Add(1)
	if body == nil || status < 200 || status >= 300 {
		s.errors.Add(1)
	} else {
		var res matchResponse
		switch {
		case json.Unmarshal(body, &res) != nil:
			s.errors.Add(1)
		case res.Exact:
			s.exact.Add(1)
		case len(res.Matches) == 0:
			s.noMatch.Add(1)
		default:
			s.fuzzy.Add(1)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != 0 {
		s.statuses[status]++
		s.latency = append(s.latency, d)
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the matcher service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	typoRate := flag.Float64("typo-rate", 0.7, "fraction of queries given one random edit")
	queryFile := flag.String("queries", "", "file of base queries (.yaml or one per line)")
	flag.Parse()

	queries := defaultQueries
	if *queryFile != "" {
		loaded, err := vocabulary.LoadFile(*queryFile)
		if err != nil || len(loaded) == 0 {
			fmt.Fprintf(os.Stderr, "loading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}
	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		TypoRate:    *typoRate,
		Queries:     queries,
	}

	fmt.Println("=== Matcher Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d base, typo rate %.0f%%\n\n", len(cfg.Queries), cfg.TypoRate*100)

	stats := runLoadTest(cfg)
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
			for i := w; ctx.Err() == nil; i++ {
				query := cfg.Queries[i%len(cfg.Queries)]
				if rng.Float64() < cfg.TypoRate {
					query = mutate(query, rng)
				}
				target := fmt.Sprintf("%s/api/v1/match?q=%s", cfg.BaseURL, url.QueryEscape(query))
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					stats.Record(0, 0, nil)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.Record(time.Since(start), 0, nil)
					}
					continue
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				stats.Record(time.Since(start), resp.StatusCode, body)
			}
		}()
	}
	wg.Wait()
	return stats
}

// mutate applies one random substitution, deletion, insertion or
// transposition to s.
func mutate(s string, rng *rand.Rand) string {
	r := []rune(s)
	if len(r) < 2 {
		return s
	}
	i := rng.IntN(len(r) - 1)
	letter := 'a' + rune(rng.IntN(26))
	switch rng.IntN(4) {
	case 0:
		r[i] = letter
	case 1:
		r = append(r[:i], r[i+1:]...)
	case 2:
		r = slices.Insert(r, i, letter)
	default:
		r[i], r[i+1] = r[i+1], r[i]
	}
	return string(r)
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, s *Stats, duration time.Duration) bool {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Errors:          %d\n", s.errors.Load())
	fmt.Fprintf(w, "Exact:           %d\n", s.exact.Load())
	fmt.Fprintf(w, "Fuzzy:           %d\n", s.fuzzy.Load())
	fmt.Fprintf(w, "No Match:        %d\n", s.noMatch.Load())
	if total > 0 {
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latency)
	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	counts := make([]int64, len(codes))
	for i, code := range codes {
		counts[i] = s.statuses[code]
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(w, "\n=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-5.0f %s\n", p, percentile(latencies, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w, "\n=== Status Codes ===")
	for i, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[i])
	}
	if total == 0 {
		fmt.Fprintln(w, "\nWARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
