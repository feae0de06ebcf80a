package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"topup-bot/internal/logging"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL}, srv.Client(), logging.Discard(), nil)
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.ChatID != "-100" || req.Text != "طلب جديد" {
			t.Errorf("unexpected payload %+v", req)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).SendMessage(context.Background(), "TOKEN", "-100", "طلب جديد", time.Second)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.MessageID != 77 {
		t.Fatalf("MessageID = %d, want 77", res.MessageID)
	}
}

func TestSendMessageNotDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SendMessage(context.Background(), "TOKEN", "1", "hi", time.Second)
	if !errors.Is(err, ErrNotDelivered) {
		t.Fatalf("SendMessage() error = %v, want ErrNotDelivered", err)
	}
}

func TestSendMessageTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(srv).SendMessage(context.Background(), "TOKEN", "1", "hi", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if strings.Contains(err.Error(), "TOKEN") {
		t.Fatalf("error leaks token: %v", err)
	}
}

func TestSendMessageRequiresConfiguration(t *testing.T) {
	c := New(Config{}, nil, logging.Discard(), nil)
	if _, err := c.SendMessage(context.Background(), "", "1", "x", 0); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
	if _, err := c.GetUpdates(context.Background(), " ", 0, 0); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

func TestGetUpdatesRequestsAfterCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("offset"); got != "11" {
			t.Errorf("offset = %q, want 11", got)
		}
		if got := r.URL.Query().Get("timeout"); got != "2" {
			t.Errorf("timeout = %q, want 2", got)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":11,"message":{"message_id":5,"text":"تم","reply_to_message":{"message_id":77}}},
			{"update_id":12,"message":{"message_id":6,"caption":"عرض خاص"}}
		]}`))
	}))
	defer srv.Close()

	updates, err := newTestClient(srv).GetUpdates(context.Background(), "TOKEN", 10, 2*time.Second)
	if err != nil {
		t.Fatalf("GetUpdates() error = %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	replyTo, ok := updates[0].Message.RepliedMessageID()
	if !ok || replyTo != 77 {
		t.Fatalf("RepliedMessageID() = %d, %v", replyTo, ok)
	}
	if _, ok := updates[1].Message.RepliedMessageID(); ok {
		t.Fatal("second update is not a reply")
	}
	if updates[1].Message.Body() != "عرض خاص" {
		t.Fatalf("Body() = %q, want caption", updates[1].Message.Body())
	}
}

func TestGetUpdatesNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Conflict"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).GetUpdates(context.Background(), "TOKEN", 0, time.Second); err == nil {
		t.Fatal("expected error for ok=false")
	}
}
