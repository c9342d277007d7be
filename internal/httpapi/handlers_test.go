package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ballotbox.org/internal/auth"
	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/identity"
	"ballotbox.org/internal/notify"
	"ballotbox.org/internal/stream"
	"ballotbox.org/internal/voting"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testBackend struct {
	users  identity.Registry
	inbox  notify.Store
	ledger *chain.Memory
}

// newTestAPI starts the full handler stack without token auth: wallet
// addresses in request bodies are trusted as-is.
func newTestAPI(t *testing.T, opts ...APIOption) (*apiClient, *testBackend) {
	t.Helper()

	t.Setenv("BALLOTBOX_AUTH_SECRET", "")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	be := &testBackend{
		users:  identity.NewInMemory(),
		inbox:  notify.NewInMemory(),
		ledger: chain.NewMemory(),
	}
	svc := voting.NewInMemory(be.users, be.inbox, voting.WithChainReader(be.ledger))

	api := New(ReadyProbe{}, "test", svc, be.users, be.inbox, stream.New(), opts...)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}, be
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) register(wallet, username string) {
	c.t.Helper()
	resp := c.post("/v1/users", map[string]any{
		"wallet_address": wallet,
		"username":       username,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", username, resp.StatusCode)
	}
}

// createOpenSession creates a session whose window already covers now, so
// voting is open immediately.
func (c *apiClient) createOpenSession(host string, candidates []string, voters []string) string {
	c.t.Helper()
	refs := make([]map[string]string, len(voters))
	for i, v := range voters {
		refs[i] = map[string]string{"identifier": v, "kind": "address"}
	}
	now := time.Now().UTC()
	resp := c.post("/v1/sessions", map[string]any{
		"host_address": host,
		"name":         "board election",
		"candidates":   candidates,
		"voters":       refs,
		"start_date":   now,
		"end_date":     now.Add(time.Hour),
		"result_date":  now.Add(2 * time.Hour),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create session: unexpected status %d", resp.StatusCode)
	}
	payload := decode[map[string]any](c.t, resp)
	sess := payload["session"].(map[string]any)
	id := sess["id"].(string)
	if id == "" {
		c.t.Fatalf("session created without id")
	}
	if sess["phase"] != string(voting.PhaseOpen) {
		c.t.Fatalf("expected open phase, got %v", sess["phase"])
	}
	return id
}

func TestAPIVotingLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)

	api.register("0xHost000000000000000000000000000000000001", "host")
	api.register("0xVoter00000000000000000000000000000000001", "alice")
	api.register("0xVoter00000000000000000000000000000000002", "bob")

	host := "0xhost000000000000000000000000000000000001"
	alice := "0xvoter00000000000000000000000000000000001"
	bob := "0xvoter00000000000000000000000000000000002"

	id := api.createOpenSession(host, []string{"north wing", "south wing"}, []string{alice, bob})

	// Both voters cast; a duplicate attempt conflicts.
	resp := api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "north wing",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cast vote: unexpected status %d", resp.StatusCode)
	}
	voteBody := decode[map[string]any](t, resp)
	receipt := voteBody["receipt"].(map[string]any)
	if receipt["candidate"] != "north wing" || receipt["voter"] != alice {
		t.Fatalf("unexpected receipt: %v", receipt)
	}

	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "south wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate vote: expected 409, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": bob,
		"candidate":     "north wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second vote: unexpected status %d", resp.StatusCode)
	}

	// An outsider is rejected with 422.
	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": "0xoutsider000000000000000000000000000000",
		"candidate":     "north wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("outsider vote: expected 422, got %d", resp.StatusCode)
	}

	// Results are gated while voting is open.
	resp = api.get("/v1/sessions/"+id+"/results", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("early results: expected 403, got %d", resp.StatusCode)
	}

	// Closing the session makes results available.
	resp = api.post("/v1/sessions/"+id+"/close", map[string]any{"host_address": host}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close session: unexpected status %d", resp.StatusCode)
	}

	resp = api.get("/v1/sessions/"+id+"/results", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results: unexpected status %d", resp.StatusCode)
	}
	resBody := decode[map[string]any](t, resp)
	results := resBody["results"].(map[string]any)
	if results["total_votes"].(float64) != 2 {
		t.Fatalf("unexpected total votes: %v", results["total_votes"])
	}
	winners := results["winners"].([]any)
	if len(winners) != 1 || winners[0] != "north wing" {
		t.Fatalf("unexpected winners: %v", winners)
	}

	// Closing delivered result notifications to the voters.
	resp = api.get("/v1/notifications/"+alice, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notifications: unexpected status %d", resp.StatusCode)
	}
	nBody := decode[map[string]any](t, resp)
	items := nBody["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one notification, got %d", len(items))
	}
}

func TestAPINominationFlow(t *testing.T) {
	api, _ := newTestAPI(t)

	api.register("0xhost000000000000000000000000000000000001", "host")
	api.register("0xvoter00000000000000000000000000000000001", "alice")
	api.register("0xnominee000000000000000000000000000000001", "carol")

	host := "0xhost000000000000000000000000000000000001"
	alice := "0xvoter00000000000000000000000000000000001"
	carol := "0xnominee000000000000000000000000000000001"

	id := api.createOpenSession(host, []string{"incumbent"}, []string{alice})

	resp := api.post("/v1/sessions/"+id+"/candidates", map[string]any{
		"host_address":       host,
		"candidate_name":     "challenger",
		"candidate_username": "carol",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add candidate: unexpected status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	candidates := body["session"].(map[string]any)["candidates"].([]any)
	if len(candidates) != 2 {
		t.Fatalf("expected two candidates, got %d", len(candidates))
	}
	if candidates[1].(map[string]any)["status"] != "pending" {
		t.Fatalf("nominated candidate should be pending")
	}

	// Nominating an unregistered username fails and leaves the roster alone.
	resp = api.post("/v1/sessions/"+id+"/candidates", map[string]any{
		"host_address":       host,
		"candidate_name":     "write-in",
		"candidate_username": "nobody",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("nominate unknown username: expected 422, got %d", resp.StatusCode)
	}
	resp = api.get("/v1/sessions/"+id, nil, nil)
	sessBody := decode[map[string]any](t, resp)
	if got := len(sessBody["candidates"].([]any)); got != 2 {
		t.Fatalf("roster changed after failed nomination: %d candidates", got)
	}

	// A pending candidate cannot receive votes.
	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "challenger",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("vote for pending candidate: expected 422, got %d", resp.StatusCode)
	}

	// The nominee finds the nomination in their mailbox and accepts it.
	resp = api.get("/v1/notifications/"+carol, nil, nil)
	nBody := decode[map[string]any](t, resp)
	items := nBody["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one nomination notification, got %d", len(items))
	}
	notificationID := items[0].(map[string]any)["id"].(string)

	resp = api.post("/v1/notifications/respond", map[string]any{
		"notification_id": notificationID,
		"session_id":      id,
		"wallet_address":  carol,
		"accept":          true,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("respond: unexpected status %d", resp.StatusCode)
	}
	respBody := decode[map[string]any](t, resp)
	if !strings.Contains(respBody["message"].(string), "accepted") {
		t.Fatalf("unexpected message: %v", respBody["message"])
	}

	// Responding twice conflicts or is gone, never a second transition.
	resp = api.post("/v1/notifications/respond", map[string]any{
		"notification_id": notificationID,
		"session_id":      id,
		"wallet_address":  carol,
		"accept":          false,
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusConflict {
		t.Fatalf("second respond: expected 404 or 409, got %d", resp.StatusCode)
	}

	// The accepted candidate is now votable.
	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "challenger",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("vote for accepted candidate: unexpected status %d", resp.StatusCode)
	}
}

func TestAPIMirrorsVotesOnLinkedSessions(t *testing.T) {
	ledger := chain.NewMemory()
	api, _ := newTestAPI(t, WithLedger(ledger))

	api.register("0xhost000000000000000000000000000000000001", "host")
	api.register("0xvoter00000000000000000000000000000000001", "alice")
	host := "0xhost000000000000000000000000000000000001"
	alice := "0xvoter00000000000000000000000000000000001"

	id := api.createOpenSession(host, []string{"north wing"}, []string{alice})

	resp := api.post("/v1/sessions/"+id+"/chain", map[string]any{
		"host_address":     host,
		"chain_session_id": "chain-77",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("link chain: unexpected status %d", resp.StatusCode)
	}

	// No client tx hash: the server submits the mirror transaction itself and
	// records the returned hash on the vote.
	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "north wing",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cast vote: unexpected status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	receipt := body["receipt"].(map[string]any)
	hash, _ := receipt["tx_hash"].(string)
	if !strings.HasPrefix(hash, "0xmem") {
		t.Fatalf("expected server-assigned tx hash, got %q", hash)
	}

	// A failing ledger rejects the vote before any durable write.
	ledger.FailNext()
	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "north wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("ledger failure: expected 502, got %d", resp.StatusCode)
	}
}

func TestAPIRevertVote(t *testing.T) {
	api, _ := newTestAPI(t)

	api.register("0xhost000000000000000000000000000000000001", "host")
	api.register("0xvoter00000000000000000000000000000000001", "alice")
	host := "0xhost000000000000000000000000000000000001"
	alice := "0xvoter00000000000000000000000000000000001"

	id := api.createOpenSession(host, []string{"north wing"}, []string{alice})

	resp := api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "north wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cast vote: unexpected status %d", resp.StatusCode)
	}

	resp = api.post("/v1/sessions/"+id+"/votes/revert", map[string]any{"voter_address": alice}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revert: unexpected status %d", resp.StatusCode)
	}

	// Reverting again is a no-op, and the voter can vote once more.
	resp = api.post("/v1/sessions/"+id+"/votes/revert", map[string]any{"voter_address": alice}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second revert: unexpected status %d", resp.StatusCode)
	}

	resp = api.post("/v1/sessions/"+id+"/votes", map[string]any{
		"voter_address": alice,
		"candidate":     "north wing",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("re-vote after revert: unexpected status %d", resp.StatusCode)
	}
}

func TestAPIUserEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)

	api.register("0xhost000000000000000000000000000000000001", "host")

	// Duplicate wallet and duplicate username both conflict.
	resp := api.post("/v1/users", map[string]any{
		"wallet_address": "0xhost000000000000000000000000000000000001",
		"username":       "other",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate wallet: expected 409, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/users", map[string]any{
		"wallet_address": "0xhost000000000000000000000000000000000002",
		"username":       "host",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate username: expected 409, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/users/resolve", url.Values{"username": []string{"host"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: unexpected status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["wallet_address"] != "0xhost000000000000000000000000000000000001" {
		t.Fatalf("unexpected resolved wallet: %v", body["wallet_address"])
	}

	resp = api.get("/v1/users/resolve", url.Values{"username": []string{"nobody"}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve unknown: expected 404, got %d", resp.StatusCode)
	}
}

func TestAPISessionListings(t *testing.T) {
	api, _ := newTestAPI(t)

	api.register("0xhost000000000000000000000000000000000001", "host")
	api.register("0xvoter00000000000000000000000000000000001", "alice")
	host := "0xhost000000000000000000000000000000000001"
	alice := "0xvoter00000000000000000000000000000000001"

	id := api.createOpenSession(host, []string{"north wing"}, []string{alice})

	resp := api.get("/v1/sessions", url.Values{"host": []string{host}}, nil)
	body := decode[map[string]any](t, resp)
	sessions := body["sessions"].([]any)
	if len(sessions) != 1 || sessions[0].(map[string]any)["id"] != id {
		t.Fatalf("unexpected host listing: %v", sessions)
	}

	resp = api.get("/v1/sessions", url.Values{"voter": []string{alice}}, nil)
	body = decode[map[string]any](t, resp)
	if len(body["sessions"].([]any)) != 1 {
		t.Fatalf("unexpected voter listing: %v", body["sessions"])
	}

	// Requiring exactly one filter.
	resp = api.get("/v1/sessions", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no filter: expected 400, got %d", resp.StatusCode)
	}
	resp = api.get("/v1/sessions", url.Values{"host": []string{host}, "voter": []string{alice}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("both filters: expected 400, got %d", resp.StatusCode)
	}
}

func TestAPIHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: unexpected status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "ballotbox-api" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: unexpected status %d", resp.StatusCode)
	}

	resp = api.get("/v1/info", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: unexpected status %d", resp.StatusCode)
	}

	resp = api.get("/nope", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: expected 404, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["success"] != false || errBody["request_id"] == "" {
		t.Fatalf("unexpected error envelope: %v", errBody)
	}
}

func TestAPIBodyCapFollowsConfiguredLimit(t *testing.T) {
	api, _ := newTestAPI(t, WithMaxBodyBytes(4<<20))

	host := "0xhost000000000000000000000000000000000001"
	api.register(host, "host")

	// A body between the default cap and the configured one must decode.
	now := time.Now().UTC()
	resp := api.post("/v1/sessions", map[string]any{
		"host_address": host,
		"name":         "annual vote",
		"description":  strings.Repeat("d", 2<<20),
		"candidates":   []string{"alice"},
		"voters":       []map[string]string{{"identifier": "0xvoter00000000000000000000000000000000001", "kind": "address"}},
		"start_date":   now,
		"end_date":     now.Add(time.Hour),
		"result_date":  now.Add(2 * time.Hour),
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("large body within configured cap: expected 201, got %d", resp.StatusCode)
	}
}
