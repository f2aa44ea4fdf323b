package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/last-emo-boy/statuswatch/internal/api"
	"github.com/last-emo-boy/statuswatch/internal/config"
	"github.com/last-emo-boy/statuswatch/internal/logstore"
	"github.com/last-emo-boy/statuswatch/internal/probe"
	"github.com/last-emo-boy/statuswatch/internal/push"
	"github.com/last-emo-boy/statuswatch/internal/scheduler"
)

func main() {
	log.Println("🔍 Starting statuswatchd...")

	environment := os.Getenv("STATUSWATCH_ENV")
	if environment == "" {
		environment = "development"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	log.Printf("📋 Environment: %s", environment)

	serverKey, err := config.LoadServerKey(cfg.Server.ECDSAKeyPath)
	if err != nil {
		log.Fatalf("❌ Failed to load server ECDSA key: %v", err)
	}

	store, err := logstore.Open(cfg.Database.Path, cfg.Database.BusyTimeout())
	if err != nil {
		log.Fatalf("❌ Failed to open log store: %v", err)
	}
	defer store.Close()

	checks, err := buildChecks(cfg.Checks)
	if err != nil {
		log.Fatalf("❌ Failed to build checks from configuration: %v", err)
	}
	sched := scheduler.New(checks)

	dispatcher := push.NewDispatcher(serverKey, cfg.Push.VAPIDSubject, cfg.Push.JWTLifetime(), cfg.Push.QueueSize,
		func(endpoint string, auth []byte) {
			// The push service no longer recognizes this subscription;
			// drop every check preference registered under it.
			if err := store.UpdatePushSubscriptions(endpoint, auth, nil, nil); err != nil {
				log.Printf("❌ Failed to purge rejected subscription: %v", err)
			}
		})
	dispatcher.Start()
	defer dispatcher.Stop()

	stopWorkers := make(chan struct{})
	go sched.RunWorkers(cfg.Workers, stopWorkers)
	go runLogWriter(sched, store, dispatcher, cfg.Push.TTL())

	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
	})
	apiGroup := r.Group("/api/v1")
	api.New(sched, store).Register(apiGroup)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("🚀 API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down statuswatchd...")

	close(stopWorkers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ statuswatchd shutdown complete")
}

// runLogWriter drains the scheduler's in-memory log buffer and durably
// persists each entry, wiring push emissions from the log-write
// transaction into the dispatcher's queue. This is the glue between the
// scheduler and the log store.
func runLogWriter(sched *scheduler.Scheduler, store *logstore.Store, dispatcher *push.Dispatcher, ttl time.Duration) {
	var buf []scheduler.LogEntry
	for {
		sched.WaitLogs()
		buf = buf[:0]
		sched.ReadLogs(&buf)
		for _, entry := range buf {
			sendPush := makeSendPush(dispatcher, entry, ttl)
			if _, err := store.AddLogAndPush(entry.CheckID, entry.Time, entry.Result, sendPush); err != nil {
				// Exhausting the retry budget on a busy/locked database is
				// fatal here; the operator must investigate.
				log.Fatalf("❌ add_log_and_push for check %d exhausted retries: %v", entry.CheckID, err)
			}
		}
	}
}

// pushPayload is the small JSON body delivered to subscribers describing
// what changed — the plaintext that gets encrypted into the opaque push
// body.
type pushPayload struct {
	CheckID int64  `json:"check_id"`
	Desc    string `json:"desc"`
	Result  string `json:"result"`
	Info    string `json:"info,omitempty"`
}

func makeSendPush(dispatcher *push.Dispatcher, entry scheduler.LogEntry, ttl time.Duration) logstore.SendPushFunc {
	payload, err := json.Marshal(pushPayload{
		CheckID: entry.CheckID,
		Desc:    entry.Desc,
		Result:  string(entry.Result.Type),
		Info:    entry.Result.Info,
	})
	if err != nil {
		log.Printf("❌ Failed to marshal push payload for check %d: %v", entry.CheckID, err)
		return func(string, []byte, []byte) {}
	}
	return func(endpointURL string, auth, p256dh []byte) {
		dispatcher.Enqueue(push.Task{
			Endpoint: endpointURL,
			Auth:     auth,
			P256DH:   p256dh,
			Payload:  payload,
			TTL:      ttl,
			Tag:      entry.Desc,
		})
	}
}

func buildChecks(configs []config.CheckConfig) ([]scheduler.Check, error) {
	checks := make([]scheduler.Check, 0, len(configs))
	for _, cc := range configs {
		var checker probe.Checker
		switch cc.Type {
		case "http":
			h := probe.NewHTTPChecker(cc.URL,
				time.Duration(cc.WarnTimeoutMillis)*time.Millisecond,
				time.Duration(cc.ErrorTimeoutMillis)*time.Millisecond)
			if cc.ExpectStatus != 0 {
				h.Expect(probe.ExpectStatus(cc.ExpectStatus))
			}
			if cc.ExpectContains != "" {
				h.Expect(probe.ExpectResponseContains(cc.ExpectContains))
			}
			if cc.RateLimitPerSecond > 0 {
				h.SetRateLimit(rate.Limit(cc.RateLimitPerSecond), 1)
			}
			checker = h
		case "tls":
			t := probe.NewTLSChecker(cc.Host, cc.Port)
			t.ExpiryThreshold = time.Duration(cc.ExpiryThresholdHours) * time.Hour
			if cc.STARTTLS == "smtp" {
				t.STARTTLS = probe.STARTTLSSMTP
			}
			checker = t
		default:
			return nil, fmt.Errorf("check %d: unknown type %q", cc.ID, cc.Type)
		}
		checks = append(checks, scheduler.Check{
			ID:               cc.ID,
			Desc:             cc.Desc,
			Checker:          checker,
			MinCheckInterval: time.Duration(cc.IntervalSecs) * time.Second,
		})
	}
	return checks, nil
}
