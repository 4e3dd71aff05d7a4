// loadgen drives a marketd instance with a steady stream of JSON-RPC
// traffic and reports latency percentiles. Queries need no setup; pass a
// funded supplier address to mix in real supply transactions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"termlend/sdk/market"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // requests per minute
)

type latencyTracker struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int
}

func (t *latencyTracker) record(elapsed time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failures++
		return
	}
	t.latencies = append(t.latencies, elapsed)
}

func (t *latencyTracker) report() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.latencies) == 0 {
		fmt.Printf("no successful requests (%d failures)\n", t.failures)
		return
	}
	sorted := append([]time.Duration(nil), t.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	percentile := func(p float64) time.Duration {
		index := int(float64(len(sorted)-1) * p)
		return sorted[index]
	}
	fmt.Printf("requests: %d ok, %d failed\n", len(sorted), t.failures)
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		percentile(0.50), percentile(0.95), percentile(0.99), sorted[len(sorted)-1])
}

func main() {
	var (
		endpoint = flag.String("endpoint", "http://127.0.0.1:8645", "marketd JSON-RPC endpoint")
		marketID = flag.String("market", "TUSD", "market to exercise")
		supplier = flag.String("supplier", "", "funded bech32 address; enables supply transactions")
		amount   = flag.String("amount", "1", "amount per supply transaction")
		rate     = flag.Int("rate", defaultRate, "requests per minute")
		duration = flag.Duration("duration", defaultDuration, "how long to run")
		maturity = flag.Uint64("maturity", 0, "maturity for preview quotes; zero skips previews")
	)
	flag.Parse()

	token := strings.TrimSpace(os.Getenv("TERMLEND_RPC_TOKEN"))
	if *supplier != "" && token == "" {
		log.Fatal("supply traffic requires TERMLEND_RPC_TOKEN")
	}
	client := market.New(*endpoint, market.WithAuthToken(token))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	deadline, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	interval := time.Minute / time.Duration(*rate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tracker := &latencyTracker{}
	var wg sync.WaitGroup

	log.Printf("driving %s at %d req/min for %s", *endpoint, *rate, *duration)
loop:
	for {
		select {
		case <-deadline.Done():
			break loop
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				err := fire(deadline, client, *marketID, *supplier, *amount, *maturity)
				tracker.record(time.Since(start), err)
			}()
		}
	}
	wg.Wait()
	tracker.report()
}

// fire issues one randomly chosen request from the configured mix.
func fire(ctx context.Context, client *market.Client, marketID, supplier, amount string, maturity uint64) error {
	choices := 2
	if maturity != 0 {
		choices++
	}
	if supplier != "" {
		choices++
	}
	switch rand.Intn(choices) {
	case 0:
		_, err := client.GetFloatingPool(ctx, marketID)
		return err
	case 1:
		_, err := client.GetMarkets(ctx)
		return err
	case 2:
		if maturity != 0 {
			_, err := client.PreviewBorrow(ctx, marketID, maturity, "1000")
			return err
		}
		fallthrough
	default:
		_, err := client.Supply(ctx, market.SupplyRequest{
			Market:   marketID,
			Supplier: supplier,
			Amount:   amount,
		}, uuid.NewString())
		return err
	}
}
