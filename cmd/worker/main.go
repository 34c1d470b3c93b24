package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/audit"
	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

// Worker drains the audit queue into Postgres and drives the periodic
// session sweep. The API process stays on the hot path; everything
// best-effort lands here.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:audit")
	}

	auditRepo := audit.NewRepository(db.Client)
	sessions := session.NewRepository(db.Client)

	// the worker publishes session-ended for swept sessions; SSE subscribers
	// live in the API process, so this hub only feeds local listeners, but
	// the sweep itself acts on shared state in Postgres
	mgr := session.NewManager(sessions, notify.NewHub(), nil, session.Config{
		RotateEvery: cfg.RotateEvery,
		TokenTTL:    cfg.TokenTTL,
		SweepGrace:  cfg.SweepGrace,
	})

	go runSweep(ctx, mgr)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for audit entries...")
	for msg := range messages {
		if msg.Type != audit.MessageType {
			continue
		}
		entry, err := audit.Decode(msg.Body)
		if err != nil {
			log.Printf("audit decode failed: %v", err)
			continue
		}
		if err := auditRepo.Insert(ctx, entry); err != nil {
			// best-effort by contract: log and move on
			log.Printf("audit insert failed for attendee %s: %v", entry.AttendeeID, err)
		}
	}

	log.Println("worker stopped")
}

// runSweep force-ends overdue sessions once a minute until ctx is done.
func runSweep(ctx context.Context, mgr *session.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := mgr.Sweep(ctx)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			for _, id := range ids {
				metrics.SessionsEnded.WithLabelValues("sweep").Inc()
				log.Printf("sweep force-ended session %s", id)
			}
		}
	}
}
