package pspclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmit_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/disbursements" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatalf("missing api key header")
		}
		if r.Header.Get("Idempotency-Key") != "payout-1" {
			t.Fatalf("missing idempotency key header")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted":     true,
			"pspReference": "psp-abc",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	res, err := client.Submit(context.Background(), SubmitRequest{Amount: 60000, Currency: "UGX", IdempotencyKey: "payout-1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Accepted || res.PSPReference != "psp-abc" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmit_RejectedWithReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rejected": true,
			"reason":   "InsufficientFloat",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	res, err := client.Submit(context.Background(), SubmitRequest{Amount: 60000, Currency: "UGX", IdempotencyKey: "payout-1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Accepted {
		t.Fatal("expected rejection")
	}
	if res.Reason != "InsufficientFloat" {
		t.Fatalf("expected PSP reason surfaced, got %q", res.Reason)
	}
}

func TestSubmit_UnreachableGatewayNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, "test-key")
	res, err := client.Submit(context.Background(), SubmitRequest{Amount: 60000, Currency: "UGX", IdempotencyKey: "payout-1"})
	if err != nil {
		t.Fatalf("transport failure must not surface as an error, got %v", err)
	}
	if res.Accepted || res.Reason != ReasonGatewayUnreachable {
		t.Fatalf("expected GatewayUnreachable rejection, got %+v", res)
	}
}

func TestResolve_NormalizesStatuses(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"SUCCESSFUL", StatusSuccess},
		{"completed", StatusSuccess},
		{"Rejected", StatusFailed},
		{"failure", StatusFailed},
		{"pending", StatusProcessing},
		{"initiated", StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/disbursements/psp-abc" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(map[string]interface{}{
					"pspReference": "psp-abc",
					"status":       tt.wire,
				})
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			res, err := client.Resolve(context.Background(), "psp-abc")
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if res.Status != tt.want {
				t.Fatalf("expected status %q, got %q", tt.want, res.Status)
			}
		})
	}
}

func TestResolve_TransportFailureIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.Resolve(context.Background(), "psp-abc"); err == nil {
		t.Fatal("expected an error for an unreachable gateway on resolve")
	}
}
