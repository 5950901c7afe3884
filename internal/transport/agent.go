package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"cinebox/internal/config"
)

// failureMarker is printed by the worker agent when an individual ffmpeg
// pass reports trouble. It is diagnostic only; the agent decides for itself
// whether the encode as a whole failed, and signals that via the response.
const failureMarker = "ENCODE_FAILED"

// AgentTransport hands the encode to a worker agent over a long-lived HTTP
// request and reads progress from the chunked response body.
type AgentTransport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewAgentTransport builds the streaming-request transport from config.
func NewAgentTransport(cfg *config.Config) *AgentTransport {
	return &AgentTransport{
		baseURL: strings.TrimRight(cfg.AgentURL, "/"),
		// No client timeout: the response body streams for hours. The
		// request context bounds the whole operation instead.
		client:  &http.Client{},
		timeout: cfg.EncodeTimeout,
	}
}

// Run posts the encode request to the agent and feeds each body line to
// onLine. End of stream without a transport error means success.
func (t *AgentTransport) Run(ctx context.Context, req Request, onLine LineFunc) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"src": req.SourcePath,
		"id":  req.MovieID,
	})
	if err != nil {
		return &Error{Kind: KindStream, Msg: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/encode", bytes.NewReader(payload))
	if err != nil {
		return connectError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutError(fmt.Errorf("gave up after %s", t.timeout))
		}
		return connectError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Kind: KindExit,
			Code: resp.StatusCode,
			Msg:  fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, failureMarker) {
			log.Printf("encode agent reported failure marker for movie %s: %s", req.MovieID, line)
		}
		onLine(line)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutError(fmt.Errorf("gave up after %s", t.timeout))
		}
		return &Error{Kind: KindStream, Msg: err.Error(), Err: err}
	}
	return nil
}
