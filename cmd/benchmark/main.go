package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/api"
	"github.com/punchamoorthee/tokenledger/internal/models"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	amount      string
	secret      string
)

var (
	totalRequests uint64
	success       uint64
	insufficient  uint64 // 422, the overdraft guard firing
	flagged       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&workload, "workload", "uniform", "workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "seeded accounts, user IDs 1..N")
	flag.StringVar(&amount, "amount", "1", "tokens spent per request")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the API")
}

func main() {
	flag.Parse()
	if secret == "" {
		secret = "dev-secret-change-me"
	}
	logrus.Infof("starting benchmark: %s | workers: %d | duration: %s", workload, concurrency, duration)

	tokens := api.NewTokenIssuer(secret, duration+time.Minute)
	bearer := make(map[int64]string, accounts)
	for id := int64(1); id <= int64(accounts); id++ {
		tok, err := tokens.Issue(id, "")
		if err != nil {
			logrus.WithError(err).Fatal("mint token")
		}
		bearer[id] = "Bearer " + tok
	}

	start := time.Now()
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(start, bearer)
		}()
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(start time.Time, bearer map[int64]string) {
	client := &http.Client{Timeout: 5 * time.Second}
	body, _ := json.Marshal(map[string]string{"amount": amount})

	for time.Since(start) < duration {
		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transactions/spend", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", bearer[pickUser()])

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			atomic.AddUint64(&success, 1)
			var tr models.TransactionResponse
			if json.NewDecoder(resp.Body).Decode(&tr) == nil && tr.Flagged {
				atomic.AddUint64(&flagged, 1)
			}
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&insufficient, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickUser sends 90% of hotspot traffic to user 1, the contended row.
func pickUser() int64 {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return 1
	}
	return int64(rand.Intn(accounts) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&success)
	f422 := atomic.LoadUint64(&insufficient)
	fErr := atomic.LoadUint64(&failOther)

	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f422) / float64(total) * 100
	}

	results := map[string]any{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_tps":      float64(total) / d.Seconds(),
		"success":             ok,
		"flagged":             atomic.LoadUint64(&flagged),
		"insufficient":        f422,
		"insufficient_rate_%": rejectRate,
		"errors":              fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logrus.WithError(err).Warn("could not save results")
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
