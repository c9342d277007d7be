package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Exercises a running API end to end: register, open a session, vote, check
// the duplicate and gating rules, close, and read the results.
func main() {
	base := os.Getenv("BALLOTBOX_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Intn(1_000_000)
	host := fmt.Sprintf("0xhost%06d", suffix)
	voter := fmt.Sprintf("0xvoter%06d", suffix)

	mustPost(client, base+"/v1/users", map[string]any{
		"wallet_address": host,
		"username":       fmt.Sprintf("smoke-host-%d", suffix),
	}, http.StatusCreated)
	mustPost(client, base+"/v1/users", map[string]any{
		"wallet_address": voter,
		"username":       fmt.Sprintf("smoke-voter-%d", suffix),
	}, http.StatusCreated)

	now := time.Now().UTC()
	created := mustPost(client, base+"/v1/sessions", map[string]any{
		"host_address": host,
		"name":         fmt.Sprintf("smoke session %d", suffix),
		"candidates":   []string{"option-a", "option-b"},
		"voters":       []map[string]string{{"identifier": voter, "kind": "address"}},
		"start_date":   now,
		"end_date":     now.Add(time.Hour),
		"result_date":  now.Add(2 * time.Hour),
	}, http.StatusCreated)
	session := created["session"].(map[string]any)
	id := session["id"].(string)

	mustPost(client, base+"/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": voter,
		"candidate":     "option-a",
	}, http.StatusCreated)

	// One vote per voter.
	mustPost(client, base+"/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": voter,
		"candidate":     "option-b",
	}, http.StatusConflict)

	// Results stay gated while the session is open.
	mustGet(client, base+"/v1/sessions/"+id+"/results", http.StatusForbidden)

	mustPost(client, base+"/v1/sessions/"+id+"/close", map[string]any{
		"host_address": host,
	}, http.StatusOK)

	body := mustGet(client, base+"/v1/sessions/"+id+"/results", http.StatusOK)
	results := body["results"].(map[string]any)
	if results["total_votes"].(float64) != 1 {
		log.Fatalf("unexpected total votes: %v", results["total_votes"])
	}
	winners := results["winners"].([]any)
	if len(winners) != 1 || winners[0] != "option-a" {
		log.Fatalf("unexpected winners: %v", winners)
	}

	fmt.Printf("✅ voting smoke test passed: session=%s\n", id)
}

func mustPost(client *http.Client, url string, body map[string]any, want int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	return decodeStatus(resp, url, want)
}

func mustGet(client *http.Client, url string, want int) map[string]any {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("get %s: %v", url, err)
	}
	return decodeStatus(resp, url, want)
}

func decodeStatus(resp *http.Response, url string, want int) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", url, err)
	}
	if resp.StatusCode != want {
		log.Fatalf("%s: expected %d, got %d (%v)", url, want, resp.StatusCode, out)
	}
	return out
}
