package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/events"
)

const streamRetryDelay = 3 * time.Second

// StreamEvents reads the caller's job event stream until it ends or ctx is
// done, passing each job event to fn.
func (c *Client) StreamEvents(ctx context.Context, fn func(events.JobEvent)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/restorations/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return decodeAPIError(resp.StatusCode, raw)
	}
	return readEvents(resp.Body, fn)
}

// readEvents decodes a text/event-stream body, delivering "job" events.
func readEvents(r io.Reader, fn func(events.JobEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if name == "job" && data.Len() > 0 {
				var ev events.JobEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
					fn(ev)
				}
			}
			name = ""
			data.Reset()
			continue
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// FollowEvents keeps the push stream open and turns each event into a refetch
// on w. Started jobs re-arm polling. It reconnects until ctx is done.
func FollowEvents(ctx context.Context, c *Client, w *Watcher, log zerolog.Logger) {
	for {
		err := c.StreamEvents(ctx, func(ev events.JobEvent) {
			if ev.Type == events.TypeJobStarted {
				w.Arm()
				return
			}
			w.Nudge()
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Debug().Err(err).Msg("event stream closed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryDelay):
		}
	}
}
