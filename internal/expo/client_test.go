package expo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsExpoToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[abc123]", true},
		{"ExpoPushToken[abc123]", true},
		{"ExponentPushToken[]", false},
		{"ExponentPushToken[abc", false},
		{"abc]", false},
		{"", false},
		{"fcm-registration-token", false},
		{"exponentpushtoken[abc]", false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := IsExpoToken(tt.token); got != tt.want {
				t.Errorf("IsExpoToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

// ticketServer answers each push request with one ok ticket per message.
func ticketServer(t *testing.T, batchSizes *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var msgs []Message
		if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*batchSizes = append(*batchSizes, len(msgs))
		tickets := make([]Ticket, len(msgs))
		for i := range tickets {
			tickets[i] = Ticket{Status: "ok", ID: fmt.Sprintf("ticket-%d", i)}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
}

func TestSendBatchChunking(t *testing.T) {
	var batchSizes []int
	srv := ticketServer(t, &batchSizes)
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	msgs := make([]Message, 150)
	for i := range msgs {
		msgs[i] = Message{To: fmt.Sprintf("ExponentPushToken[t%d]", i), Title: "hi", Body: "there"}
	}

	tickets, err := c.SendBatch(context.Background(), msgs)
	if err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if len(tickets) != 150 {
		t.Errorf("expected one ticket per message, got %d", len(tickets))
	}
	if len(batchSizes) != 2 || batchSizes[0] != MaxBatchSize || batchSizes[1] != 50 {
		t.Errorf("expected chunks [100 50], got %v", batchSizes)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []Ticket{{Status: "ok", ID: "t1"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRetry(3, time.Millisecond))
	ticket, err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]", Title: "hi", Body: "there"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ticket.OK() {
		t.Errorf("expected ok ticket, got %+v", ticket)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRetry(3, time.Millisecond))
	if _, err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestSendErrorTicketNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":[{"status":"error","message":"\"ExponentPushToken[x]\" is not registered","details":{"error":"DeviceNotRegistered"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRetry(3, time.Millisecond))
	ticket, err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]", Title: "hi", Body: "there"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ticket.OK() {
		t.Error("expected error ticket")
	}
	if ticket.ErrorCode() != ErrDeviceNotRegistered {
		t.Errorf("expected %s, got %q", ErrDeviceNotRegistered, ticket.ErrorCode())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("an error ticket is a delivered response and must not be retried, got %d calls", got)
	}
}

func TestSendSingleObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"ok","id":"solo"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ticket, err := c.Send(context.Background(), Message{To: "ExponentPushToken[x]", Title: "hi", Body: "there"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ticket.OK() || ticket.ID != "solo" {
		t.Errorf("single-object ticket not parsed: %+v", ticket)
	}
}

func TestSendContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRetry(3, 10*time.Second))
	if _, err := c.Send(ctx, Message{To: "ExponentPushToken[x]"}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
