// Load generator: registers a fleet of accounts, connects each to the
// event bus, and sends ciphered messages into the shared room while
// measuring the send-to-echo round trip. Every mutation is push
// confirmed, so the echo latency is the user-visible send latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"convo/internal/api"
	"convo/internal/bus"
	"convo/internal/cipher"
	"convo/internal/config"
	"convo/internal/models"
)

const loadRoom = "general" // every new account is a participant here

type Stats struct {
	sync.Mutex
	totalSends   int64
	successSends int64
	failedSends  int64
	totalLatency time.Duration
	maxLatency   time.Duration
	minLatency   time.Duration
	latencies    []time.Duration
}

func (s *Stats) recordSuccess(latency time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.totalSends++
	s.successSends++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	s.latencies = append(s.latencies, latency)
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalSends++
	s.failedSends++
}

func (s *Stats) p99() time.Duration {
	s.Lock()
	defer s.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func registerUser(cfg *config.Config, i int) (*api.Client, api.Session, error) {
	client := api.NewClient(cfg.ServerURL, cfg.RequestTimeout)
	sess, err := client.Register(api.RegisterRequest{
		Name:     fmt.Sprintf("loadtest_%d_%s", i, uuid.NewString()[:8]),
		Password: "testpass123",
	})
	if err != nil {
		return nil, api.Session{}, err
	}
	return client, sess, nil
}

// simulateUser sends ciphered messages at the configured rate and
// waits for each one to come back as a new_message push.
func simulateUser(ctx context.Context, cfg *config.Config, sess api.Session, rate int, duration time.Duration, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	c := cipher.New(cfg.CipherKey)
	busClient := bus.New(cfg.SocketURL, sess.AccessToken)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go busClient.Run(runCtx)

	// Marker of an in-flight send -> the time it left.
	pending := struct {
		sync.Mutex
		m map[string]time.Time
	}{m: make(map[string]time.Time)}

	go func() {
		for evt := range busClient.Events() {
			if evt.Name != models.EvtNewMessage {
				continue
			}
			var msg models.Message
			if err := bus.Decode(evt, &msg); err != nil {
				continue
			}
			if msg.SenderID != sess.UserID {
				continue
			}
			marker := c.Decrypt(msg.Content)
			pending.Lock()
			sent, ok := pending.m[marker]
			if ok {
				delete(pending.m, marker)
			}
			pending.Unlock()
			if ok {
				stats.recordSuccess(time.Since(sent))
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		marker := "loadtest " + uuid.NewString()
		pending.Lock()
		pending.m[marker] = time.Now()
		pending.Unlock()

		err := busClient.Emit(models.CmdSendMessage, map[string]interface{}{
			"token":   sess.AccessToken,
			"room_id": loadRoom,
			"content": c.Encrypt(marker),
			"type":    models.MessageText,
		})
		if err != nil {
			pending.Lock()
			delete(pending.m, marker)
			pending.Unlock()
			stats.recordError()
		}
	}

	// Anything still pending at the deadline never echoed back.
	time.Sleep(2 * time.Second)
	pending.Lock()
	lost := len(pending.m)
	pending.Unlock()
	for i := 0; i < lost; i++ {
		stats.recordError()
	}
}

func main() {
	users := flag.Int("users", 50, "number of simulated accounts")
	rate := flag.Int("rate", 1, "messages per second per account")
	duration := flag.Duration("duration", 60*time.Second, "how long to run")
	batch := flag.Int("batch", 10, "parallel registrations")
	flag.Parse()

	cfg := config.Load()
	log.Printf("Starting load test: %d users, %d msg/s each, for %v against %s",
		*users, *rate, *duration, cfg.ServerURL)

	sessions := make([]api.Session, *users)
	var regWg sync.WaitGroup
	errChan := make(chan error, *users)
	sem := make(chan struct{}, *batch)

	start := time.Now()
	for i := 0; i < *users; i++ {
		regWg.Add(1)
		go func(i int) {
			defer regWg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			_, sess, err := registerUser(cfg, i)
			if err != nil {
				errChan <- fmt.Errorf("register user %d: %w", i, err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	regWg.Wait()
	close(errChan)

	errorCount := 0
	for err := range errChan {
		errorCount++
		if errorCount <= 10 {
			log.Printf("Error: %v", err)
		}
	}
	registered := 0
	for _, s := range sessions {
		if s.UserID != "" {
			registered++
		}
	}
	log.Printf("Registered %d/%d users in %v", registered, *users, time.Since(start))
	if registered < *users/2 {
		log.Fatalf("Too many registration failures, aborting")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup
	testStart := time.Now()
	for _, sess := range sessions {
		if sess.UserID == "" {
			continue
		}
		wg.Add(1)
		go simulateUser(ctx, cfg, sess, *rate, *duration, stats, &wg)
	}
	wg.Wait()
	elapsed := time.Since(testStart)

	log.Printf(strings.Repeat("-", 40))
	log.Printf("Load Test Results:")
	log.Printf("Total Sends: %d", stats.totalSends)
	log.Printf("Echoed: %d", stats.successSends)
	log.Printf("Failed or Lost: %d", stats.failedSends)
	if stats.successSends > 0 {
		log.Printf("Average Round Trip: %v", stats.totalLatency/time.Duration(stats.successSends))
		log.Printf("Min Round Trip: %v", stats.minLatency)
		log.Printf("Max Round Trip: %v", stats.maxLatency)
		log.Printf("P99 Round Trip: %v", stats.p99())
	}
	log.Printf("Sends per Second: %.2f", float64(stats.totalSends)/elapsed.Seconds())
	log.Printf("Total Duration: %v", elapsed)
}
