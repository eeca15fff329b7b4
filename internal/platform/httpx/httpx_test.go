package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foodcourt/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("order_not_found", "Order not found with id: o1\n", http.StatusNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_not_found" || body["message"] != "Order not found with id: o1" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		MenuItemID string `json:"menuItemId"`
		Quantity   int    `json:"quantity"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"menuItemId":"101","quantity":2}`))
	var got payload
	if err := DecodeJSON(req, 0, &got); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.MenuItemID != "101" || got.Quantity != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}

	cases := map[string]struct {
		body  string
		limit int64
		want  error
	}{
		"empty":    {body: "  ", want: ErrEmptyBody},
		"large":    {body: `{"menuItemId":"1234567890"}`, limit: 8, want: ErrBodyTooLarge},
		"unknown":  {body: `{"price":1}`, want: ErrInvalidJSON},
		"trailing": {body: `{"quantity":1}{}`, want: ErrInvalidJSON},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			if err := DecodeJSON(req, tc.limit, &dst); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
