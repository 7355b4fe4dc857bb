// notify-receiver is a local sink for decision notifications. It records
// deliveries, checks their HMAC signature when NOTIFY_WEBHOOK_SECRET is
// set, and exposes the received traffic for inspection at /stats.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type delivery struct {
	Timestamp      string `json:"timestamp"`
	EventID        string `json:"event_id"`
	DecisionID     string `json:"decision_id"`
	SignatureValid *bool  `json:"signature_valid,omitempty"`
	Body           string `json:"body"`
}

type stats struct {
	Count          int64      `json:"count"`
	BadSignatures  int64      `json:"bad_signatures"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	badSignatures  int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50
	secret         string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("NOTIFY_WEBHOOK_SECRET")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/notify", notifyHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignatures = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	if secret == "" {
		log.Printf("notify-receiver: NOTIFY_WEBHOOK_SECRET unset, skipping signature checks")
	}
	log.Printf("notify-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func notifyHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	d := delivery{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		EventID:    r.Header.Get("X-Continuum-Event-ID"),
		DecisionID: r.Header.Get("X-Continuum-Decision-ID"),
		Body:       string(body),
	}
	if secret != "" {
		valid := verifySignature(secret, body, r.Header.Get("X-Continuum-Signature"))
		d.SignatureValid = &valid
	}

	mu.Lock()
	count++
	if d.SignatureValid != nil && !*d.SignatureValid {
		badSignatures++
	}
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	mu.Unlock()

	if d.SignatureValid != nil && !*d.SignatureValid {
		log.Printf("notify received #%d decision=%s BAD SIGNATURE", current, d.DecisionID)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"received":%d,"signature":"invalid"}`, current)
		return
	}

	log.Printf("notify received #%d decision=%s: %s", current, d.DecisionID, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		BadSignatures:  badSignatures,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
