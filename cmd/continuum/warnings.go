package main

import (
	"log"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/config"
)

// notifierRetryWindow is the sum of the notifier's delivery backoff. A
// reconcile threshold at or below this re-emits decisions that are still
// mid-retry.
const notifierRetryWindow = 12*time.Minute + 30*time.Second

// logConfigWarnings flags configuration combinations that are valid but
// lose decisions or duplicate deliveries under failure.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false. Decisions emitted while the notifier is down or the event buffer is full are never redelivered. Set RECONCILE_ENABLED=true in production.")
	}

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold <= notifierRetryWindow {
		log.Printf("WARNING [P0]: RECONCILE_THRESHOLD=%s is within the notifier's %s retry window. Decisions still being retried will be re-emitted, producing duplicate deliveries.",
			cfg.ReconcileThreshold, notifierRetryWindow)
	}

	if cfg.StoreBackend == "postgres" && !cfg.LeaderEnabled {
		log.Println("WARNING [P1]: LEADER_ENABLED=false with the postgres backend. Running more than one replica will evaluate the same triggers concurrently; enable leader election before scaling out.")
	}

	if cfg.CircuitBreakerThreshold <= 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0. A failing notification endpoint will absorb the full retry schedule on every decision.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. Decision throughput, delivery failures, and bus drops will not be observable.")
	}

	if cfg.NotifyWebhookURL == "" && cfg.RosterPath == "" {
		log.Println("WARNING [P0]: neither NOTIFY_WEBHOOK_URL nor ROSTER_PATH is set. No delivery endpoint can be resolved; every decision will fail delivery.")
	}

	if cfg.StoreBackend == "memory" {
		log.Println("INFO: STORE_BACKEND=memory. Triggers, decisions, and de-dup keys are lost on restart; webhook replays after a restart will fire again.")
	}
}
