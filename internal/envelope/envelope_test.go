package envelope

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	timeout := int64(1000)
	req, err := NewRequest("req-1", "Add", map[string]int{"a": 10, "b": 5}, "redis-rpc:response:host:1:abc", &timeout)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	encoded, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	decoded, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	if decoded.ID != req.ID || decoded.Method != req.Method || decoded.ResponseChannel != req.ResponseChannel {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, req)
	}

	var params struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if err := CoerceResult(decoded.Parameters, &params); err != nil {
		t.Fatalf("CoerceResult: %v", err)
	}
	if params.A != 10 || params.B != 5 {
		t.Fatalf("coerced params mismatch: %+v", params)
	}
}

func TestNotificationHasEmptyResponseChannel(t *testing.T) {
	req, err := NewRequest("notif-1", "LogActivity", nil, "", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if !req.IsNotification() {
		t.Fatal("expected notification")
	}
}

func TestSuccessResponseCoerceResultPrimitive(t *testing.T) {
	resp, err := NewSuccessResponse("req-1", 15)
	if err != nil {
		t.Fatalf("NewSuccessResponse: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success response")
	}
	var result int
	if err := CoerceResult(resp.Result, &result); err != nil {
		t.Fatalf("CoerceResult: %v", err)
	}
	if result != 15 {
		t.Fatalf("got %d, want 15", result)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := NewErrorResponse("req-2", ResponseError{
		Code:    1002,
		Message: "Division by zero is not allowed",
	})
	encoded, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	decoded, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if decoded.Success {
		t.Fatal("expected failure response")
	}
	if decoded.Error == nil || decoded.Error.Code != 1002 {
		t.Fatalf("got error %+v, want code 1002", decoded.Error)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"x","method":"Foo","responseChannel":"","timestamp":"now","extraField":123}`)
	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest with unknown field: %v", err)
	}
	if req.Method != "Foo" {
		t.Fatalf("got method %q, want Foo", req.Method)
	}
}
