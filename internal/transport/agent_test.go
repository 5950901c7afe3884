package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cinebox/internal/config"
)

func newAgent(t *testing.T, url string) *AgentTransport {
	t.Helper()
	return NewAgentTransport(&config.Config{
		AgentURL:      url,
		EncodeTimeout: 5 * time.Second,
	})
}

func TestAgentRunStreamsLines(t *testing.T) {
	wantLines := []string{
		"Opening '/var/media/M1/720p/index.m3u8' for writing",
		"Duration: 00:10:00.00, start: 0.000000",
		"time=00:05:00.00 bitrate=3200.1kbits/s",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/encode" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if payload["id"] != "M1" || payload["src"] == "" {
			t.Errorf("unexpected payload %v", payload)
		}

		flusher := w.(http.Flusher)
		for _, line := range wantLines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	var got []string
	err := newAgent(t, srv.URL).Run(context.Background(),
		Request{JobID: "j1", MovieID: "M1", SourcePath: "/srv/media/uploads/m1.mp4"},
		func(line string) { got = append(got, line) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != len(wantLines) {
		t.Fatalf("expected %d lines, got %v", len(wantLines), got)
	}
	for i, want := range wantLines {
		if got[i] != want {
			t.Errorf("line %d: expected %q, got %q", i, want, got[i])
		}
	}
}

func TestAgentRunFailureMarkerIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "time=00:01:00.00")
		fmt.Fprintln(w, "ENCODE_FAILED: pass 2 retried")
		fmt.Fprintln(w, "time=00:02:00.00")
	}))
	defer srv.Close()

	var lines int
	err := newAgent(t, srv.URL).Run(context.Background(),
		Request{MovieID: "M1", SourcePath: "/x.mp4"},
		func(string) { lines++ })
	if err != nil {
		t.Fatalf("expected marker line to be non-fatal, got %v", err)
	}
	if lines != 3 {
		t.Errorf("expected all 3 lines forwarded, got %d", lines)
	}
}

func TestAgentRunNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such source", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newAgent(t, srv.URL).Run(context.Background(),
		Request{MovieID: "M1", SourcePath: "/x.mp4"}, func(string) {})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *transport.Error, got %v", err)
	}
	if terr.Kind != KindExit || terr.Code != http.StatusInternalServerError {
		t.Errorf("expected exit(500), got %s(%d)", terr.Kind, terr.Code)
	}
}

func TestAgentRunConnectFailure(t *testing.T) {
	// A server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := newAgent(t, srv.URL).Run(context.Background(),
		Request{MovieID: "M1", SourcePath: "/x.mp4"}, func(string) {})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *transport.Error, got %v", err)
	}
	if terr.Kind != KindConnect {
		t.Errorf("expected connect error, got %s", terr.Kind)
	}
}

func TestAgentRunTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "time=00:01:00.00")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	agent := NewAgentTransport(&config.Config{
		AgentURL:      srv.URL,
		EncodeTimeout: 100 * time.Millisecond,
	})
	err := agent.Run(context.Background(),
		Request{MovieID: "M1", SourcePath: "/x.mp4"}, func(string) {})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *transport.Error, got %v", err)
	}
	if terr.Kind != KindTimeout {
		t.Errorf("expected timeout, got %s: %v", terr.Kind, err)
	}
}
