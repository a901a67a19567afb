package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pabbly/hookdash/pkg/logger"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartUsesRequestIDAndLinksChildren(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "analytics.all")
	if root.TraceID != "req-1" {
		t.Fatalf("trace id = %q", root.TraceID)
	}

	var wg sync.WaitGroup
	for _, name := range []string{"/summary", "/mrr", "/churn"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, child := Start(ctx, name)
			if child.TraceID != "req-1" {
				t.Errorf("%s trace id = %q", name, child.TraceID)
			}
			child.Finish(nil)
		}()
	}
	wg.Wait()
	if n := len(root.Children()); n != 3 {
		t.Fatalf("children = %d", n)
	}
	if FromContext(ctx) != root {
		t.Error("root not in context")
	}
}

func TestRootWithoutRequestIDGetsTraceID(t *testing.T) {
	_, s := Start(context.Background(), "load")
	if s.TraceID == "" {
		t.Fatal("empty trace id")
	}
}

func TestLogOneRecordWarnOnChildError(t *testing.T) {
	buf := captureLogs(t)
	ctx, root := Start(context.Background(), "analytics.all")
	root.Set("query", "planId=pro")

	_, fast := Start(ctx, "/summary")
	fast.Finish(nil)
	_, slow := Start(ctx, "/customers")
	time.Sleep(2 * time.Millisecond)
	slow.Finish(errors.New("HTTP 500: Internal Server Error"))
	root.Finish(nil)
	root.Log(ctx)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("want a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" || rec["msg"] != "trace" || rec["query"] != "planId=pro" {
		t.Errorf("record = %v", rec)
	}
	calls, _ := rec["calls"].(map[string]any)
	customers, _ := calls["/customers"].(map[string]any)
	if customers["error"] != "HTTP 500: Internal Server Error" {
		t.Errorf("calls = %v", calls)
	}
	if _, ok := calls["/summary"]; !ok {
		t.Errorf("calls = %v", calls)
	}
	if got := root.Children(); got[0] != slow {
		t.Errorf("slowest child first, got %s", got[0].Name)
	}
}
