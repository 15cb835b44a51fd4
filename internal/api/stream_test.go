package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// readSSEEvent scans the stream until the named event arrives and returns
// its data line.
func readSSEEvent(t *testing.T, scanner *bufio.Scanner, name string) string {
	t.Helper()
	inEvent := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: "+name {
			inEvent = true
			continue
		}
		if inEvent && strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before %q event", name)
	return ""
}

func TestSSEStream(t *testing.T) {
	ts, _, svc := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// The ready event confirms the subscription is live before we trigger
	readSSEEvent(t, scanner, "ready")

	if n := svc.NotifyChanged(context.Background(), []string{"recXYZ"}); n != 1 {
		t.Fatalf("NotifyChanged = %d, want 1", n)
	}

	data := readSSEEvent(t, scanner, "airtable.update")
	var ev struct {
		TableID string          `json:"tableId"`
		Record  json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("bad event data %q: %v", data, err)
	}
	if ev.TableID != testTable {
		t.Errorf("tableId = %q, want %q", ev.TableID, testTable)
	}
	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Record, &record); err != nil || record.ID != "recXYZ" {
		t.Errorf("record payload = %s (err %v), want id recXYZ", ev.Record, err)
	}
}

func TestWebSocketChannel(t *testing.T) {
	ts, _, svc := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var welcome wsMessage
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if err := json.Unmarshal(data, &welcome); err != nil || welcome.Type != "welcome" {
		t.Fatalf("first frame = %s, want welcome", data)
	}

	if n := svc.NotifyChanged(context.Background(), []string{"recXYZ"}); n != 1 {
		t.Fatalf("NotifyChanged = %d, want 1", n)
	}

	var update wsMessage
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	if update.Type != "record_update" || len(update.Records) != 1 {
		t.Fatalf("frame = %s, want one record_update", data)
	}
	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(update.Records[0], &record); err != nil || record.ID != "recXYZ" {
		t.Errorf("record = %s, want id recXYZ", update.Records[0])
	}
}
