package toolserver

import (
	"context"
	"encoding/json"
	"testing"
)

func TestJSONResult(t *testing.T) {
	res, err := JSONResult(map[string]any{"message": "Data cleared"})
	if err != nil {
		t.Fatalf("JSONResult() error = %v", err)
	}
	if res.IsError {
		t.Error("expected success result")
	}
	if got := ResultText(res); got != `{"message":"Data cleared"}` {
		t.Errorf("ResultText() = %s", got)
	}
}

func TestErrorResult(t *testing.T) {
	res := ErrorResult(`bad "range"`)
	if !res.IsError {
		t.Error("expected error flag")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(ResultText(res)), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if payload["error"] != `bad "range"` {
		t.Errorf("error = %q", payload["error"])
	}
}

func TestRequestArguments(t *testing.T) {
	req := Request("get_data", map[string]any{"range_name": "A1:B2"})
	if req.Params.Name != "get_data" {
		t.Errorf("name = %q", req.Params.Name)
	}
	if got := req.GetString("range_name", ""); got != "A1:B2" {
		t.Errorf("range_name = %q", got)
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	err := Serve(context.Background(), New("test"), Options{Transport: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
}
