package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-identity/core"
)

// Stream writes a subscription to w as server-sent events until ctx is
// cancelled, the subscription is closed, or the peer goes away. It
// emits a retry hint first, one frame per event, and comment heartbeats
// while idle so proxies do not reap the connection. The subscription is
// always closed before Stream returns.
func Stream(ctx context.Context, w io.Writer, sub *Subscription, cfg core.EventsConfig) error {
	defer sub.Close()

	defaults := core.DefaultConfig().Events
	keepAlive := cfg.KeepAliveSeconds
	if keepAlive <= 0 {
		keepAlive = defaults.KeepAliveSeconds
	}
	retryDelay := cfg.RetryDelaySeconds
	if retryDelay <= 0 {
		retryDelay = defaults.RetryDelaySeconds
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryDelay*1000); err != nil {
		return err
	}
	flush()

	heartbeat := time.NewTicker(time.Duration(keepAlive) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeFrame(w, evt); err != nil {
				return err
			}
			flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flush()
		}
	}
}

func writeFrame(w io.Writer, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode event %s: %w", evt.ID, err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Typ, payload)
	return err
}
