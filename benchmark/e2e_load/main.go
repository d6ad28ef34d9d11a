// Channel E2E Load Benchmark
//
// Answers the questions that matter in production:
// - What is the p50/p95/p99 roundtrip latency under concurrent load?
// - How much allocation + GC work does that load generate?
//
// It runs a real channel server with the echo handler and drives N concurrent
// clients over the chosen transport. Each client posts a token and waits for
// it to come back before posting the next one.
//
// Run:
//   cd benchmark/e2e_load
//   go run . -clients=200 -duration=30s -rps=5 -transport=poll
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/channel/pkg/client"
	"github.com/vango-dev/channel/pkg/server"
)

func main() {
	var (
		clients      = flag.Int("clients", 100, "number of concurrent clients")
		duration     = flag.Duration("duration", 15*time.Second, "how long to run the load test")
		rps          = flag.Float64("rps", 2, "target messages/sec per client (best-effort, response-gated)")
		transport    = flag.String("transport", "socket", "client transport: socket or poll")
		payloadBytes = flag.Int("payload-bytes", 24, "bytes of payload per message")
	)
	flag.Parse()

	if *clients <= 0 {
		log.Fatal("-clients must be > 0")
	}
	if *duration <= 0 {
		log.Fatal("-duration must be > 0")
	}
	if *rps <= 0 {
		log.Fatal("-rps must be > 0")
	}
	if *transport != "socket" && *transport != "poll" {
		log.Fatal("-transport must be socket or poll")
	}
	if *payloadBytes < 0 {
		log.Fatal("-payload-bytes must be >= 0")
	}

	// Reduce incidental variability a bit.
	debug.SetGCPercent(100)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := server.DefaultConfig()
	cfg.Logger = quiet
	cfg.CheckOrigin = server.AllowAnyOrigin
	srv := server.New(cfg, server.Echo())

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	defer func() {
		_ = srv.Shutdown(context.Background())
	}()

	base := "http://" + ln.Addr().String()
	newConn := func() *client.Conn {
		opts := client.DefaultOptions().WithLogger(quiet)
		if *transport == "poll" {
			return client.NewPollConn(&client.HTTPRequester{
				URL:    base + cfg.PollPath,
				Client: &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 4}},
			}, opts)
		}
		return client.NewSocketConn(&client.WebSocketDialer{URL: "ws://" + ln.Addr().String() + cfg.SocketPath}, opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	samplesCh := make(chan time.Duration, 1024)
	var samples []time.Duration
	var samplesMu sync.Mutex
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samplesMu.Lock()
			samples = append(samples, rtt)
			samplesMu.Unlock()
		}
	}()

	var (
		totalMessages atomic.Uint64
		totalErrors   atomic.Uint64
	)

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	var wg sync.WaitGroup
	wg.Add(*clients)
	for i := 0; i < *clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			if err := runClient(ctx, newConn(), clientID, *rps, *payloadBytes, samplesCh, &totalMessages); err != nil {
				totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	samplesMu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	samplesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	total := totalMessages.Load()
	errs := totalErrors.Load()
	runSeconds := math.Max(0.001, (*duration).Seconds())
	stats := srv.Registry().Stats()

	fmt.Println("=== Channel E2E Load Benchmark ===")
	fmt.Printf("Transport: %s\n", *transport)
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Duration: %s\n", (*duration).String())
	fmt.Printf("Target per-client rate: %.2f messages/s\n", *rps)
	fmt.Printf("Payload bytes: %d\n", *payloadBytes)
	fmt.Printf("Total messages: %d\n", total)
	fmt.Printf("Errors: %d\n", errs)
	fmt.Printf("Throughput: %.1f messages/s\n", float64(total)/runSeconds)
	fmt.Printf("Server connections: %d created, %d peak\n", stats.TotalCreated, stats.Peak)
	fmt.Println()

	if len(latencies) == 0 {
		fmt.Println("No latency samples recorded.")
	} else {
		fmt.Println("RTT (client post → server echo → client receive):")
		fmt.Printf("  min: %s\n", latencies[0])
		fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
		fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
		fmt.Printf("  p99: %s\n", percentile(latencies, 0.99))
		fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	}
	fmt.Println()

	fmt.Println("Go runtime / GC (process-wide):")
	fmt.Printf("  alloc:     %.2f MB\n", float64(after.TotalAlloc-before.TotalAlloc)/(1024*1024))
	fmt.Printf("  heap_live: %.2f MB\n", float64(after.HeapAlloc)/(1024*1024))
	fmt.Printf("  num_gc:    %d\n", after.NumGC-before.NumGC)
	fmt.Printf("  gc_pause:  %s (total)\n", time.Duration(after.PauseTotalNs-before.PauseTotalNs))
	fmt.Printf("  gc_pause:  %s (avg)\n", avgPause(after, before))
	fmt.Printf("  gc_cpu:    %.2f%%\n", 100*cpuFraction(afterMetrics, beforeMetrics))
	fmt.Printf("  allocs:    %.2f M objects\n", float64(afterMetrics.heapAllocsObjects-beforeMetrics.heapAllocsObjects)/1_000_000)
}

func avgPause(after, before runtime.MemStats) time.Duration {
	gcCount := after.NumGC - before.NumGC
	if gcCount == 0 {
		return 0
	}
	return time.Duration((after.PauseTotalNs - before.PauseTotalNs) / uint64(gcCount))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

// runClient connects conn, then posts tokens until ctx is done. Every token
// must come back before the next one is posted.
func runClient(
	ctx context.Context,
	conn *client.Conn,
	clientID int,
	rps float64,
	payloadBytes int,
	samples chan<- time.Duration,
	totalMessages *atomic.Uint64,
) error {
	ready := make(chan struct{})
	closed := make(chan struct{})
	var readyOnce, closedOnce sync.Once
	conn.OnStateChange(func(_, new client.State) {
		switch new {
		case client.StateReady:
			readyOnce.Do(func() { close(ready) })
		case client.StateClosed:
			closedOnce.Do(func() { close(closed) })
		}
	})
	echoes := make(chan any, 16)
	conn.OnMessage(func(msg any) { echoes <- msg })

	if err := conn.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		conn.Close()
		<-closed
	}()

	select {
	case <-ready:
	case <-closed:
		return fmt.Errorf("connect: closed before ready")
	case <-ctx.Done():
		return nil
	}

	period := time.Duration(float64(time.Second) / rps)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		seq++
		token := makeToken(clientID, seq, payloadBytes)

		start := time.Now()
		if err := conn.Post(token); err != nil {
			return fmt.Errorf("post: %w", err)
		}

		if err := waitForToken(ctx, echoes, closed, token); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for token: %w", err)
		}

		totalMessages.Add(1)
		samples <- time.Since(start)

		// Best-effort pacing, gated on the response to expose queueing.
		if sleep := period - time.Since(start); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

func waitForToken(ctx context.Context, echoes <-chan any, closed <-chan struct{}, token string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return fmt.Errorf("connection closed")
		case msg := <-echoes:
			if msg == token {
				return nil
			}
		}
	}
}

func makeToken(clientID int, seq uint64, payloadBytes int) string {
	// Always include client+seq for debugging, then pad with random bytes.
	prefix := fmt.Sprintf("c%d:%d:", clientID, seq)
	if payloadBytes <= len(prefix) {
		return prefix
	}

	need := payloadBytes - len(prefix)
	raw := make([]byte, (need+1)/2)
	_, _ = rand.Read(raw)
	return prefix + hex.EncodeToString(raw)[:need]
}
