package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "checktime/internal/transport"
)

type day string

func (d day) String() string { return string(d) }

type action string

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(User(7))
	log.Info("dispatch finished",
		Action(action("check_in")),
		DispatchID("d-1"),
		Date(day("2025-03-04")),
		Err(nil),
	)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "dispatch finished", m["message"])
	assert.Equal(t, float64(7), m["user_id"])
	assert.Equal(t, "check_in", m["action"])
	assert.Equal(t, "d-1", m["dispatch_id"])
	assert.Equal(t, "2025-03-04", m["date"])
	assert.NotContains(t, m, "err")
	assert.Contains(t, m["caller"], "logx_test.go:")
}

func TestLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("quiet")
	assert.Zero(t, buf.Len())
	log.Error("loud", Err(errors.New("disk full")))
	assert.Contains(t, buf.String(), `"err":"disk full"`)
	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerDiscards(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("nothing happens")
	assert.False(t, l.With(String("k", "v")).IsZero())
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "WARN", "warning", " debug "} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("verbose"))
}

func TestRenderForChat(t *testing.T) {
	line := []byte(`{"time":"x","level":"error","message":"boom","b":"2","a":1}`)
	assert.Equal(t, "[ERROR] boom\n- a=1\n- b=2", renderForChat(line))
	assert.Equal(t, "not json", renderForChat([]byte("  not json \n")))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}

type chatRecorder struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *chatRecorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *chatRecorder) Stop(context.Context) error                      { return nil }
func (r *chatRecorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opt == nil || !opt.Silent {
		return kit.MessageRef{}, errors.New("operator lines must be silent")
	}
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}

func (r *chatRecorder) snapshot() ([]string, []kit.ChatTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...), append([]kit.ChatTarget(nil), r.to...)
}

func TestOperatorForwarding(t *testing.T) {
	rec := &chatRecorder{}
	svc, log := New(Config{
		Level:    "info",
		Operator: OperatorConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, rec)
	defer svc.Close()

	log.Warn("before target")
	svc.SetOperatorTarget(99)
	log.Info("below threshold")
	log.Warn("session release failed", Action(action("check_out")))

	require.Eventually(t, func() bool {
		sent, _ := rec.snapshot()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)

	sent, to := rec.snapshot()
	assert.Equal(t, []kit.ChatTarget{{ChatID: 99}}, to)
	assert.Contains(t, sent[0], "[WARN] session release failed")
	assert.Contains(t, sent[0], "- action=check_out")
}

func TestApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checktime.log")
	svc, log := New(Config{Level: "info"}, nil)
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})

	log.Debug("tick completed", Int("due", 2))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"tick completed"`)
	assert.Contains(t, string(b), `"due":2`)
}
