package logobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NetPo4ki/go-async/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestObserverLevels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	s := scope.New(scope.WithObserver(New(l)), scope.WithLogger(slog.New(slog.DiscardHandler)))
	s.Go(context.Background(), func(context.Context) error { return nil })
	s.Go(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Error(t, s.Wait())

	recs := records(t, &buf)
	require.Len(t, recs, 1, "only the failed task reaches Warn")
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "task finished", recs[0]["msg"])
	assert.Equal(t, "boom", recs[0]["error"])
	assert.Equal(t, "scope", recs[0]["component"])
}

func TestObserverPanicAtError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := New(slog.New(slog.NewJSONHandler(&buf, nil)))
	o.TaskFinished(0, errors.New("panic: x"), true)

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, true, recs[0]["panicked"])
}

func TestObserverDebugLifecycle(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := New(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	o.ScopeCreated()
	o.TaskSpawned()
	o.TaskFinished(0, nil, false)
	o.ScopeJoined(0)

	var msgs []string
	for _, r := range records(t, &buf) {
		msgs = append(msgs, r["msg"].(string))
	}
	assert.Equal(t, []string{"scope created", "task spawned", "task finished", "scope joined"}, msgs)
}
