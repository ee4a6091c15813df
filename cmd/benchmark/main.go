package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/logging"
	"github.com/punchamoorthee/stockledger/internal/models"
)

type options struct {
	baseURL  string
	workers  int
	duration time.Duration
	workload string
	batch    int
	out      string
}

// stats is shared by all workers.
type stats struct {
	sent      atomic.Uint64
	committed atomic.Uint64
	conflicts atomic.Uint64 // optimistic lock lost
	rejected  atomic.Uint64 // invariant or duplicate request id
	failed    atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *stats) record(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

type result struct {
	Workload     string  `json:"workload"`
	BatchSize    int     `json:"batch_size"`
	Workers      int     `json:"workers"`
	DurationSec  float64 `json:"duration_sec"`
	Requests     uint64  `json:"total_requests"`
	Throughput   float64 `json:"throughput_tps"`
	Committed    uint64  `json:"committed"`
	Conflicts    uint64  `json:"aborts_conflict"`
	ConflictRate float64 `json:"conflict_rate_pct"`
	Rejected     uint64  `json:"rejected"`
	Errors       uint64  `json:"errors"`
	P50Millis    float64 `json:"p50_ms"`
	P99Millis    float64 `json:"p99_ms"`
}

func main() {
	var opt options
	flag.StringVar(&opt.baseURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&opt.workers, "workers", 10, "Concurrent workers")
	flag.DurationVar(&opt.duration, "duration", 30*time.Second, "How long to run")
	flag.StringVar(&opt.workload, "workload", "uniform", "uniform | hotspot")
	flag.IntVar(&opt.batch, "batch", 1, "Intents per commit (1..10)")
	flag.StringVar(&opt.out, "out", "", "Result file (default results_<workload>.json)")
	flag.Parse()

	log := logging.New(os.Getenv("LOG_LEVEL"), os.Stderr)
	if opt.batch < 1 || opt.batch > 10 {
		log.Fatal("batch must be between 1 and 10")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	products, err := loadProducts(client, opt.baseURL)
	if err != nil {
		log.WithError(err).Fatal("unable to load products")
	}
	if len(products) < 2 {
		log.Fatal("benchmark needs at least two active products; run the seeder first")
	}

	log.WithFields(logrus.Fields{
		"workload": opt.workload, "workers": opt.workers, "duration": opt.duration,
		"batch": opt.batch, "products": len(products),
	}).Info("starting benchmark")

	ctx, cancel := context.WithTimeout(context.Background(), opt.duration)
	defer cancel()

	st := &stats{}
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < opt.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx, client, opt, products, st)
		}()
	}
	wg.Wait()

	res := summarize(opt, st, time.Since(start))
	if err := write(res, opt); err != nil {
		log.WithError(err).Error("unable to write results")
	}
}

func loadProducts(client *http.Client, baseURL string) ([]uuid.UUID, error) {
	resp, err := client.Get(baseURL + "/api/v1/stock?per_page=100")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock list returned %d", resp.StatusCode)
	}

	var env models.StockListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(env.Data))
	for i, it := range env.Data {
		ids[i] = it.ProductID
	}
	return ids, nil
}

func run(ctx context.Context, client *http.Client, opt options, products []uuid.UUID, st *stats) {
	for ctx.Err() == nil {
		target := pick(opt.workload, products)
		url := fmt.Sprintf("%s/api/v1/products/%s/transactions/batch", opt.baseURL, target)

		body, err := json.Marshal(models.BatchTransactionRequest{Transactions: intents(opt.batch)})
		if err != nil {
			st.failed.Add(1)
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			st.failed.Add(1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		began := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				st.failed.Add(1)
			}
			continue
		}
		st.record(time.Since(began))
		st.sent.Add(1)
		classify(resp, st)
		resp.Body.Close()
	}
}

// intents mixes receipts and reservations so hot products keep stock to reserve.
func intents(n int) []models.TransactionRequest {
	txs := make([]models.TransactionRequest, n)
	for i := range txs {
		typ := "IN"
		if rand.Intn(2) == 0 {
			typ = "RESERVE"
		}
		txs[i] = models.TransactionRequest{Type: typ, Qty: 1, RequestID: uuid.NewString()}
	}
	return txs
}

func classify(resp *http.Response, st *stats) {
	switch resp.StatusCode {
	case http.StatusCreated:
		st.committed.Add(1)
	case http.StatusConflict:
		var env models.ErrorEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		if env.Error.Code == "CONFLICT" {
			st.conflicts.Add(1)
		} else {
			st.rejected.Add(1)
		}
	default:
		st.failed.Add(1)
	}
}

// pick sends 90% of hotspot traffic to the first two products.
func pick(workload string, products []uuid.UUID) uuid.UUID {
	if workload == "hotspot" && rand.Float64() < 0.9 {
		return products[rand.Intn(2)]
	}
	return products[rand.Intn(len(products))]
}

func summarize(opt options, st *stats, elapsed time.Duration) result {
	res := result{
		Workload:    opt.workload,
		BatchSize:   opt.batch,
		Workers:     opt.workers,
		DurationSec: elapsed.Seconds(),
		Requests:    st.sent.Load(),
		Committed:   st.committed.Load(),
		Conflicts:   st.conflicts.Load(),
		Rejected:    st.rejected.Load(),
		Errors:      st.failed.Load(),
	}
	res.Throughput = float64(res.Requests) / elapsed.Seconds()
	if res.Requests > 0 {
		res.ConflictRate = float64(res.Conflicts) / float64(res.Requests) * 100
	}

	sort.Slice(st.latencies, func(i, j int) bool { return st.latencies[i] < st.latencies[j] })
	res.P50Millis = percentile(st.latencies, 0.50)
	res.P99Millis = percentile(st.latencies, 0.99)
	return res
}

func percentile(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return float64(sorted[i].Microseconds()) / 1000
}

func write(res result, opt options) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	name := opt.out
	if name == "" {
		name = fmt.Sprintf("results_%s.json", opt.workload)
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(res)
}
