// Command fake_providers serves canned streaming completions in both wire
// families so chorus can be exercised without API keys:
//
//	go run ./scripts/testservers/fake_providers -port 8089
//
// then point providers at it, e.g. base_url http://localhost:8089/fast for
// an iterator provider or http://localhost:8089/slow for an event-stream one.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type persona struct {
	delay   time.Duration // before the first chunk
	gap     time.Duration // between chunks
	words   []string
	failure int // HTTP status to fail with, 0 streams normally
}

func main() {
	port := flag.Int("port", 0, "Listening port")
	text := flag.String("text", "The quick brown fox jumps over the lazy dog.", "Text every persona streams back")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	words := strings.SplitAfter(*text, " ")
	personas := map[string]persona{
		"fast":     {gap: 20 * time.Millisecond, words: words},
		"slow":     {delay: 800 * time.Millisecond, gap: 60 * time.Millisecond, words: words},
		"stall":    {delay: time.Hour, words: words},
		"limited":  {failure: http.StatusTooManyRequests},
		"overload": {failure: http.StatusServiceUnavailable},
	}

	mux := http.NewServeMux()
	for name, p := range personas {
		mux.HandleFunc("/"+name+"/chat/completions", iteratorHandler(p))
		mux.HandleFunc("/"+name+"/v1/messages", eventStreamHandler(p))
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("fake provider server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

type chatRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func decode(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return req, false
	}
	log.Printf("%s %s model=%s", r.Method, r.URL.Path, req.Model)
	return req, true
}

// streamer writes SSE frames and stops when the client goes away.
type streamer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	r       *http.Request
}

func startStream(w http.ResponseWriter, r *http.Request, p persona) (*streamer, bool) {
	if p.failure != 0 {
		http.Error(w, fmt.Sprintf(`{"error":{"message":"%s"}}`, http.StatusText(p.failure)), p.failure)
		return nil, false
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	s := &streamer{w: w, flusher: flusher, r: r}
	return s, s.wait(p.delay)
}

func (s *streamer) wait(d time.Duration) bool {
	if d <= 0 {
		return s.r.Context().Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-s.r.Context().Done():
		return false
	}
}

func (s *streamer) send(event string, payload any) {
	if event != "" {
		fmt.Fprintf(s.w, "event: %s\n", event)
	}
	switch v := payload.(type) {
	case string:
		fmt.Fprintf(s.w, "data: %s\n\n", v)
	default:
		data, _ := json.Marshal(v)
		fmt.Fprintf(s.w, "data: %s\n\n", data)
	}
	s.flusher.Flush()
}

func iteratorHandler(p persona) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		s, ok := startStream(w, r, p)
		if !ok {
			return
		}
		s.send("", map[string]any{"model": req.Model, "choices": []any{map[string]any{"delta": map[string]any{"role": "assistant"}}}})
		for _, word := range p.words {
			if !s.wait(p.gap) {
				return
			}
			s.send("", map[string]any{"model": req.Model, "choices": []any{map[string]any{"delta": map[string]any{"content": word}}}})
		}
		s.send("", map[string]any{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}})
		s.send("", "[DONE]")
	}
}

func eventStreamHandler(p persona) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		s, ok := startStream(w, r, p)
		if !ok {
			return
		}
		s.send("message_start", map[string]any{"type": "message_start", "message": map[string]any{"model": req.Model}})
		fmt.Fprint(w, ": ping\n\n")
		s.send("content_block_start", map[string]any{"type": "content_block_start", "index": 0})
		for _, word := range p.words {
			if !s.wait(p.gap) {
				return
			}
			s.send("content_block_delta", map[string]any{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": word}})
		}
		s.send("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		s.send("message_stop", map[string]any{"type": "message_stop"})
	}
}
