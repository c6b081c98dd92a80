package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tenzoki/redisrpc/internal/transport"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type calculatorHandler struct{}

func (calculatorHandler) SupportedMethods() []string { return []string{"Add", "Divide"} }

func (calculatorHandler) Handle(method string, params json.RawMessage, cancel <-chan struct{}) (any, error) {
	switch method {
	case "Add":
		var p addParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParameters("bad parameters", nil)
		}
		return p.A + p.B, nil
	case "Divide":
		var p addParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParameters("bad parameters", nil)
		}
		if p.B == 0 {
			return nil, InvalidParameters("Division by zero is not allowed", map[string]int{"Dividend": p.A, "Divisor": p.B})
		}
		return p.A / p.B, nil
	}
	return nil, MethodNotFound(method)
}

type slowHandler struct {
	delay time.Duration
}

func (h slowHandler) SupportedMethods() []string { return []string{"Slow"} }

func (h slowHandler) Handle(method string, params json.RawMessage, cancel <-chan struct{}) (any, error) {
	select {
	case <-time.After(h.delay):
		return "done", nil
	case <-cancel:
		return nil, fmt.Errorf("cancelled")
	}
}

func newLinkedPair(t *testing.T, opts ServerOptions) (*Client, *Server) {
	t.Helper()
	bus := transport.NewFakeAdapter()

	client, err := NewClient(bus, ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	server := NewServer(bus, opts)
	return client, server
}

func TestAddReturnsSum(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	server.RegisterHandler(calculatorHandler{})
	if err := server.StartListening(context.Background(), "calculator"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	raw, err := client.SendRequest(context.Background(), "calculator", "Add", addParams{A: 10, B: 5}, RequestOptions{})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	var sum int
	if err := json.Unmarshal(raw, &sum); err != nil {
		t.Fatalf("Unmarshal result: %v", err)
	}
	if sum != 15 {
		t.Fatalf("got %d, want 15", sum)
	}
}

func TestSendRequestAsCoercesTypedResult(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	server.RegisterHandler(calculatorHandler{})
	if err := server.StartListening(context.Background(), "calculator"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	sum, err := SendRequestAs[int](context.Background(), client, "calculator", "Add", addParams{A: 2, B: 3}, RequestOptions{})
	if err != nil {
		t.Fatalf("SendRequestAs: %v", err)
	}
	if sum != 5 {
		t.Fatalf("got %d, want 5", sum)
	}
}

func TestDivideByZeroRaisesInvalidParameters(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	server.RegisterHandler(calculatorHandler{})
	if err := server.StartListening(context.Background(), "calculator"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	_, err := client.SendRequest(context.Background(), "calculator", "Divide", addParams{A: 10, B: 0}, RequestOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %T, want *Error", err)
	}
	if rpcErr.Code != CodeInvalidParameters {
		t.Fatalf("got code %v, want InvalidParameters", rpcErr.Code)
	}
	if rpcErr.Message != "Division by zero is not allowed" {
		t.Fatalf("got message %q", rpcErr.Message)
	}
}

func TestUnknownMethodRaisesMethodNotFound(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	server.RegisterHandler(calculatorHandler{})
	if err := server.StartListening(context.Background(), "calculator"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	_, err := client.SendRequest(context.Background(), "calculator", "Bogus", nil, RequestOptions{})
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %T, want *Error", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("got code %v, want MethodNotFound", rpcErr.Code)
	}
}

func TestSlowHandlerClientTimesOut(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{DefaultTimeoutMs: 5000})
	server.RegisterHandler(slowHandler{delay: 500 * time.Millisecond})
	if err := server.StartListening(context.Background(), "slow"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	timeoutMs := int64(50)
	_, err := client.SendRequest(context.Background(), "slow", "Slow", nil, RequestOptions{TimeoutMs: &timeoutMs})
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %T, want *Error", err)
	}
	if rpcErr.Code != CodeTimeout {
		t.Fatalf("got code %v, want Timeout", rpcErr.Code)
	}
}

func TestNotificationProducesNoResponse(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	var called sync.WaitGroup
	called.Add(1)
	server.RegisterHandler(HandlerFunc{
		Method: "LogActivity",
		Func: func(params json.RawMessage, cancel <-chan struct{}) (any, error) {
			defer called.Done()
			return nil, nil
		},
	})
	if err := server.StartListening(context.Background(), "activity"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())
	defer client.Dispose(context.Background())

	if err := client.SendNotification(context.Background(), "activity", "LogActivity", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	done := make(chan struct{})
	go func() { called.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestConcurrentClientsCompleteUnderPermitPool(t *testing.T) {
	bus := transport.NewFakeAdapter()
	server := NewServer(bus, ServerOptions{MaxConcurrentRequests: 4})
	server.RegisterHandler(calculatorHandler{})
	if err := server.StartListening(context.Background(), "calculator"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())

	const clients = 10
	const perClient = 20
	var wg sync.WaitGroup
	errs := make(chan error, clients*perClient)

	for i := 0; i < clients; i++ {
		client, err := NewClient(bus, ClientOptions{})
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			defer c.Dispose(context.Background())
			for j := 0; j < perClient; j++ {
				raw, err := c.SendRequest(context.Background(), "calculator", "Add", addParams{A: j, B: 1}, RequestOptions{})
				if err != nil {
					errs <- err
					continue
				}
				var sum int
				if err := json.Unmarshal(raw, &sum); err != nil {
					errs <- err
					continue
				}
				if sum != j+1 {
					errs <- fmt.Errorf("got %d, want %d", sum, j+1)
				}
			}
		}(client)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent request failed: %v", err)
	}
}

func TestDisposalCancelsOutstandingCalls(t *testing.T) {
	client, server := newLinkedPair(t, ServerOptions{})
	server.RegisterHandler(slowHandler{delay: 5 * time.Second})
	if err := server.StartListening(context.Background(), "slow"); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer server.Dispose(context.Background())

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), "slow", "Slow", nil, RequestOptions{TimeoutMs: int64Ptr(60000)})
		resultCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := client.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected an error after disposal")
		}
	case <-time.After(time.Second):
		t.Fatal("call never unblocked after disposal")
	}
}

func TestEmptyChannelOrMethodRejectedWithoutPublishing(t *testing.T) {
	client, _ := newLinkedPair(t, ServerOptions{})
	defer client.Dispose(context.Background())

	if _, err := client.SendRequest(context.Background(), "", "Add", nil, RequestOptions{}); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if _, err := client.SendRequest(context.Background(), "calculator", "", nil, RequestOptions{}); err == nil {
		t.Fatal("expected error for empty method")
	}
}

func int64Ptr(v int64) *int64 { return &v }
