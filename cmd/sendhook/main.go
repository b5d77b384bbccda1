// sendhook is a development tool that signs and POSTs a test event to a
// running receiver, exercising the same signature scheme the verifier checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/mooring/internal/signature"
)

func main() {
	var (
		target    = flag.String("target", "http://localhost:8080/webhooks", "receiver webhook URL")
		secret    = flag.String("secret", os.Getenv("WEBHOOK_SECRET"), "shared webhook secret")
		eventID   = flag.String("id", "", "event id (default: generated)")
		eventType = flag.String("type", "payment.succeeded", "event type")
		payload   = flag.String("payload", `{"payment_id":"pay_test","amount":2500,"currency":"usd"}`, "event payload JSON")
		apiKey    = flag.String("api-key", "sendhook-dev", "X-Api-Key rate limit key")
		skew      = flag.Duration("skew", 0, "offset applied to the signed timestamp (for testing tolerance)")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "sendhook: -secret or WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	id := *eventID
	if id == "" {
		id = "evt_" + uuid.NewString()
	}

	body, err := json.Marshal(map[string]any{
		"id":          id,
		"type":        *eventType,
		"api_version": "2025-01-01",
		"payload":     json.RawMessage(*payload),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendhook: marshal event: %v\n", err)
		os.Exit(1)
	}

	ts := strconv.FormatInt(time.Now().Add(*skew).Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendhook: build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mooring-Signature", signature.Sign(*secret, body, ts))
	req.Header.Set("X-Mooring-Timestamp", ts)
	req.Header.Set("X-Api-Key", *apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendhook: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n%s\n", resp.Status, id, bytes.TrimSpace(respBody))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
