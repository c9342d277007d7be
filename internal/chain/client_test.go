package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string            `json:"jsonrpc"`
			Method  string            `json:"method"`
			Params  []json.RawMessage `json:"params"`
			ID      int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.JSONRPC != "2.0" {
			t.Errorf("jsonrpc version: %q", req.JSONRPC)
		}
		result, rpcErr := handler(req.Method, req.Params)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientSubmitTransaction(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		if method != methodSubmitTransaction {
			t.Errorf("method: %q", method)
		}
		var ref string
		var payload TxPayload
		if err := json.Unmarshal(params[0], &ref); err != nil {
			t.Errorf("session ref param: %v", err)
		}
		if err := json.Unmarshal(params[1], &payload); err != nil {
			t.Errorf("payload param: %v", err)
		}
		if ref != "chain-1" || payload.Method != "vote" || len(payload.Args) != 1 {
			t.Errorf("unexpected call: %s %+v", ref, payload)
		}
		return map[string]string{"txHash": "0xfeed"}, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	hash, err := c.SubmitTransaction(context.Background(), "chain-1", TxPayload{Method: "vote", Args: []string{"alice"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != "0xfeed" {
		t.Fatalf("tx hash: %q", hash)
	}
}

func TestClientReadVoteCount(t *testing.T) {
	cases := []struct {
		name   string
		result any
		want   int64
	}{
		{"number", 42, 42},
		{"decimal string", "17", 17},
		{"hex quantity", "0x2a", 42},
	}
	for _, tc := range cases {
		srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
			if method != methodGetCandidateVotes {
				t.Errorf("%s: method %q", tc.name, method)
			}
			return tc.result, nil
		})
		c := NewClient(srv.URL)
		got, err := c.ReadVoteCount(context.Background(), "chain-1", 0)
		srv.Close()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestClientErrors(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "session unknown"}
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.ReadVoteCount(context.Background(), "nope", 0); !errors.Is(err, ErrLedger) {
		t.Fatalf("rpc error: got %v, want ErrLedger", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	c = NewClient(down.URL)
	if _, err := c.SubmitTransaction(context.Background(), "x", TxPayload{Method: "vote"}); !errors.Is(err, ErrLedger) {
		t.Fatalf("bad status: got %v, want ErrLedger", err)
	}

	empty := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		return map[string]string{}, nil
	})
	defer empty.Close()
	c = NewClient(empty.URL)
	if _, err := c.SubmitTransaction(context.Background(), "x", TxPayload{Method: "vote"}); !errors.Is(err, ErrLedger) {
		t.Fatalf("empty hash: got %v, want ErrLedger", err)
	}
}
