package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	methodSubmitTransaction = "ballot_submitTransaction"
	methodGetCandidateVotes = "ballot_getCandidateVotes"
)

// Client speaks JSON-RPC 2.0 to the chain gateway in front of the voting
// contract, the same wire protocol the wallet provider uses.
type Client struct {
	url    string
	httpc  *http.Client
	nextID atomic.Int64
}

var _ Ledger = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpc = c
		}
	}
}

// NewClient creates a gateway client with sensible defaults.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:   strings.TrimSpace(url),
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) SubmitTransaction(ctx context.Context, sessionRef string, payload TxPayload) (string, error) {
	raw, err := c.call(ctx, methodSubmitTransaction, []any{sessionRef, payload})
	if err != nil {
		return "", err
	}
	var result struct {
		TxHash string `json:"txHash"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: decode result: %v", ErrLedger, err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("%w: empty transaction hash", ErrLedger)
	}
	return result.TxHash, nil
}

func (c *Client) ReadVoteCount(ctx context.Context, sessionRef string, candidateIndex int) (int64, error) {
	raw, err := c.call(ctx, methodGetCandidateVotes, []any{sessionRef, candidateIndex})
	if err != nil {
		return 0, err
	}
	return decodeCount(raw)
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrLedger, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway returned status %d", ErrLedger, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrLedger, err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrLedger, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrLedger, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	return rpcResp.Result, nil
}

// decodeCount accepts either a JSON number or a hex quantity string, both of
// which gateways emit for uint256 counters.
func decodeCount(raw json.RawMessage) (int64, error) {
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, fmt.Errorf("%w: unexpected count encoding", ErrLedger)
	}
	asString = strings.TrimSpace(asString)
	base := 10
	if strings.HasPrefix(asString, "0x") || strings.HasPrefix(asString, "0X") {
		asString = asString[2:]
		base = 16
	}
	n, err := strconv.ParseInt(asString, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse count %q: %v", ErrLedger, asString, err)
	}
	return n, nil
}
