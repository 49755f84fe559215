package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kanaz606/auto-geo/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestModuleLogger_BroadcastsInfoAndAbove(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{}
	logger := New(&buf, slog.LevelDebug, sink)

	log := Module(logger, "orchestrator")
	log.Debug("debug only")
	log.Info("item published", "item_id", "abc")
	log.Error("commit failed")

	out := buf.String()
	assert.Contains(t, out, "module=orchestrator")
	assert.Contains(t, out, "debug only")

	require.Len(t, sink.events, 2, "debug records stay local")
	assert.Equal(t, "INFO", sink.events[0].Level)
	assert.Equal(t, "orchestrator", sink.events[0].Module)
	assert.Equal(t, "item published item_id=abc", sink.events[0].Message)
	assert.Equal(t, "ERROR", sink.events[1].Level)
}

func TestModuleLogger_NestedWith(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{}
	log := Module(New(&buf, slog.LevelInfo, sink), "session").With("platform", "zhihu")

	log.Warn("slot wait")

	require.Len(t, sink.events, 1)
	assert.Equal(t, "session", sink.events[0].Module)
	assert.Equal(t, "WARN", sink.events[0].Level)
	assert.True(t, strings.HasPrefix(sink.events[0].Message, "slot wait"))
	assert.Contains(t, sink.events[0].Message, "platform=zhihu")
}

func TestNew_NilSink(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, nil)
	logger.Info("no sink")
	assert.Contains(t, buf.String(), "no sink")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
