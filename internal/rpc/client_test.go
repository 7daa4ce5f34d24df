package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type observation struct {
	method  string
	success bool
	latency float64
}

// recordingRecorder captures every RecordRPC call.
type recordingRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingRecorder) RecordRPC(method string, success bool, latencySeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, success, latencySeconds})
}

func (r *recordingRecorder) all() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.obs...)
}

// newRPCServer answers every request with the body produced by respond.
func newRPCServer(t *testing.T, respond func(req JSONRPCRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req JSONRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("server got invalid request: %v", err)
		}
		status, payload := respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string, rec Recorder) *HTTPClient {
	cfg := DefaultClientConfig(url)
	cfg.Timeout = 2 * time.Second
	cfg.Recorder = rec
	return NewHTTPClient(cfg)
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}
	if got := err.Error(); got != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", got, "RPC error -32000: nonce too low")
	}

	raw := &RPCError{Data: json.RawMessage(`"boom"`)}
	if got := raw.Error(); got != `RPC error: "boom"` {
		t.Errorf("RPCError.Error() = %q", got)
	}

	if !IsRPCError(err) {
		t.Error("IsRPCError should return true for *RPCError")
	}
	if IsTransportError(err) {
		t.Error("IsTransportError should return false for *RPCError")
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
	}{
		{
			name:       "429 with body",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
		},
		{
			name:       "502 without body",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
		})
	}
}

func TestCallRequestEnvelope(t *testing.T) {
	var got JSONRPCRequest
	srv := newRPCServer(t, func(req JSONRPCRequest) (int, string) {
		got = req
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`
	})

	c := newTestClient(srv.URL, nil)
	n, err := c.GetBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("GetBlockNumber() error = %v", err)
	}
	if n != 16 {
		t.Errorf("GetBlockNumber() = %d, want 16", n)
	}
	if got.JSONRPC != "2.0" || got.ID != 1 || got.Method != MethodBlockNumber {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.Params == nil || len(got.Params) != 0 {
		t.Errorf("params = %v, want empty array", got.Params)
	}
}

func TestCallRecordsExactlyOneObservation(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		payload     string
		wantSuccess bool
		wantRPCErr  bool
		wantTranErr bool
	}{
		{
			name:        "success",
			status:      http.StatusOK,
			payload:     `{"jsonrpc":"2.0","id":1,"result":"0x1"}`,
			wantSuccess: true,
		},
		{
			name:       "standard error payload",
			status:     http.StatusOK,
			payload:    `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"nonce too low"}}`,
			wantRPCErr: true,
		},
		{
			name:       "non-standard error payload",
			status:     http.StatusOK,
			payload:    `{"jsonrpc":"2.0","id":1,"error":"something broke"}`,
			wantRPCErr: true,
		},
		{
			name:        "null error with result",
			status:      http.StatusOK,
			payload:     `{"jsonrpc":"2.0","id":1,"error":null,"result":"0x2"}`,
			wantSuccess: true,
		},
		{
			name:        "missing result",
			status:      http.StatusOK,
			payload:     `{"jsonrpc":"2.0","id":1}`,
			wantTranErr: true,
		},
		{
			name:        "http 503",
			status:      http.StatusServiceUnavailable,
			payload:     `overloaded`,
			wantTranErr: true,
		},
		{
			name:        "garbage body",
			status:      http.StatusOK,
			payload:     `not json`,
			wantTranErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRPCServer(t, func(JSONRPCRequest) (int, string) {
				return tt.status, tt.payload
			})
			rec := &recordingRecorder{}
			c := newTestClient(srv.URL, rec)

			_, err := c.Call(context.Background(), MethodChainID, nil)
			if tt.wantSuccess && err != nil {
				t.Fatalf("Call() unexpected error: %v", err)
			}
			if !tt.wantSuccess && err == nil {
				t.Fatal("Call() expected error, got nil")
			}
			if got := IsRPCError(err); got != tt.wantRPCErr {
				t.Errorf("IsRPCError() = %v, want %v (err=%v)", got, tt.wantRPCErr, err)
			}
			if got := IsTransportError(err); got != tt.wantTranErr {
				t.Errorf("IsTransportError() = %v, want %v (err=%v)", got, tt.wantTranErr, err)
			}

			obs := rec.all()
			if len(obs) != 1 {
				t.Fatalf("recorded %d observations, want 1", len(obs))
			}
			if obs[0].method != MethodChainID {
				t.Errorf("method = %q, want %q", obs[0].method, MethodChainID)
			}
			if obs[0].success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", obs[0].success, tt.wantSuccess)
			}
			if obs[0].latency < 0 {
				t.Errorf("latency = %v, want >= 0", obs[0].latency)
			}
		})
	}
}

func TestCallUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recordingRecorder{}
	c := newTestClient(url, rec)

	_, err := c.GetBlockNumber(context.Background())
	if !IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if obs := rec.all(); len(obs) != 1 || obs[0].success {
		t.Errorf("observations = %+v, want one failure", obs)
	}
}

func TestTypedMethods(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash := "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"

	srv := newRPCServer(t, func(req JSONRPCRequest) (int, string) {
		switch req.Method {
		case MethodChainID:
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x539"}`
		case MethodGetBalance:
			if req.Params[1] != "latest" {
				t.Errorf("balance tag = %v, want latest", req.Params[1])
			}
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0xde0b6b3a7640000"}`
		case MethodGetTransactionCount:
			if req.Params[1] != "pending" {
				t.Errorf("nonce tag = %v, want pending", req.Params[1])
			}
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x7"}`
		case MethodSendRawTransaction:
			if req.Params[0] != "0x0102" {
				t.Errorf("raw tx = %v, want 0x0102", req.Params[0])
			}
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"` + hash + `"}`
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`
	})

	c := newTestClient(srv.URL, nil)
	ctx := context.Background()

	chainID, err := c.GetChainID(ctx)
	if err != nil || chainID.Int64() != 1337 {
		t.Errorf("GetChainID() = %v, %v; want 1337", chainID, err)
	}

	balance, err := c.GetBalance(ctx, addr)
	if err != nil || balance.Cmp(big.NewInt(1e18)) != 0 {
		t.Errorf("GetBalance() = %v, %v; want 1e18", balance, err)
	}

	nonce, err := c.GetPendingNonce(ctx, addr)
	if err != nil || nonce != 7 {
		t.Errorf("GetPendingNonce() = %d, %v; want 7", nonce, err)
	}

	txHash, err := c.SendRawTransaction(ctx, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("SendRawTransaction() error = %v", err)
	}
	if txHash != common.HexToHash(hash) {
		t.Errorf("SendRawTransaction() = %s, want %s", txHash.Hex(), hash)
	}
}

func TestDecodeFailureIsReturned(t *testing.T) {
	srv := newRPCServer(t, func(JSONRPCRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"not-hex"}`
	})
	c := newTestClient(srv.URL, nil)

	if _, err := c.GetBlockNumber(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestConcurrentCallsShareTransport(t *testing.T) {
	srv := newRPCServer(t, func(JSONRPCRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`
	})
	rec := &recordingRecorder{}
	c := newTestClient(srv.URL, rec)
	defer c.Close()

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetBlockNumber(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
	if got := len(rec.all()); got != callers {
		t.Errorf("recorded %d observations, want %d", got, callers)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", nil)
	c.Close()
	c.Close()
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := &HTTPStatusError{StatusCode: 502}
	err := error(&TransportError{Method: MethodBlockNumber, Err: inner})

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 502 {
		t.Errorf("errors.As did not find HTTPStatusError in %v", err)
	}
}
