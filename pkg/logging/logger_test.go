package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompactHandlerFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.With("phase", "filter").Debug("level pruned", "runtime", 1.5, "key", "LM3", "durationMs", int64(12))

	out := buf.String()
	for _, want := range []string{"[DEBUG]", "level pruned |", "phase=filter", "runtime=1.5s", "key=LM3", "duration=12ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got: %s", want, out)
		}
	}
}

func TestCompactHandlerGroupsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l.Debug("hidden")
	l.WithGroup("graph").Info("built", "nodes", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug record should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, "graph.nodes=4") {
		t.Errorf("Expected grouped attribute, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContextIDs(t *testing.T) {
	ctx := WithBuildID(WithRequestID(context.Background(), "req-1"), "build-1")
	args := withContextIDs(ctx, []any{"k", "v"})
	if len(args) != 6 || args[0] != "requestID" || args[2] != "buildID" {
		t.Errorf("Unexpected args: %v", args)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/graph", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc" {
		t.Errorf("Expected request id abc in context, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("Expected request id echoed in header")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", rec.Code)
	}
}
