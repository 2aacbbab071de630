// ABOUTME: SSE passthrough streaming with unbuffered relay and terminal error events
// ABOUTME: Client disconnect cancels the backend fetch; backend failure ends in-band

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// defaultPingIntervalMs is the keep-alive comment cadence on streams
// whose server does not configure its own interval.
const defaultPingIntervalMs = 60000

// streamSSE pipes an event stream from target to the client. Bytes are
// relayed as they arrive with a flush per read so individual events are
// never delayed. Idle streams carry keep-alive comments every pingMs
// milliseconds. A connect or mid-stream failure produces exactly one
// terminal error event instead of an abrupt close.
func (rt *Router) streamSSE(w http.ResponseWriter, r *http.Request, target string, pingMs int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		rt.logger.Error("streaming not supported")
		rt.writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	if target == "" {
		rt.writeError(w, http.StatusBadGateway, "no_upstream", "no upstream configured")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		rt.writeTerminalError(w, flusher, "cannot build backend request")
		return
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := rt.client.Do(req)
	if err != nil {
		upstreamErrors.Inc()
		rt.logger.Warn("sse backend connect failed", "target", target, "error", err)
		rt.writeTerminalError(w, flusher, "backend unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		upstreamErrors.Inc()
		rt.writeTerminalError(w, flusher, fmt.Sprintf("backend returned status %d", resp.StatusCode))
		return
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	// The pinger and the relay loop share the response writer.
	var wmu sync.Mutex
	if pingMs > 0 {
		stop := make(chan struct{})
		done := make(chan struct{})
		defer func() { close(stop); <-done }()
		go func() {
			defer close(done)
			ticker := time.NewTicker(time.Duration(pingMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					wmu.Lock()
					fmt.Fprint(w, ": keep-alive\n\n")
					flusher.Flush()
					wmu.Unlock()
				}
			}
		}()
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			wmu.Lock()
			_, werr := w.Write(buf[:n])
			flusher.Flush()
			wmu.Unlock()
			if werr != nil {
				// Client went away; the request context cancels the fetch.
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Orderly backend close ends the stream cleanly.
			case errors.Is(err, context.Canceled), r.Context().Err() != nil:
				// Client disconnect, nothing left to tell it.
			default:
				upstreamErrors.Inc()
				rt.logger.Warn("sse backend stream broken", "target", target, "error", err)
				wmu.Lock()
				rt.writeTerminalError(w, flusher, "backend stream interrupted")
				wmu.Unlock()
			}
			return
		}
	}
}

// writeTerminalError emits the single in-band error event that ends a
// stream. Headers are already committed by the time streaming fails, so
// this is the only channel left to signal the client.
func (rt *Router) writeTerminalError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "message": message})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
