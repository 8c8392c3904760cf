package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/live/protocol"
	"github.com/haasonsaas/livelink/internal/notify"
	"github.com/haasonsaas/livelink/internal/observability"
	"github.com/haasonsaas/livelink/internal/tools/naming"
)

type recordingSender struct {
	mu        sync.Mutex
	responses []protocol.ToolResponse
	texts     []string
	events    []string
	sendErr   error
}

func (s *recordingSender) SendToolResponses(_ context.Context, responses ...protocol.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
	for range responses {
		s.events = append(s.events, "response")
	}
	return s.sendErr
}

func (s *recordingSender) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.events = append(s.events, "text")
	return s.sendErr
}

func (s *recordingSender) snapshot() ([]protocol.ToolResponse, []string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ToolResponse(nil), s.responses...),
		append([]string(nil), s.texts...),
		append([]string(nil), s.events...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	texts  []string
	photos []notify.Photo

	failPhotos int
	attempts   int
}

func (n *recordingNotifier) SendText(_ context.Context, _ string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) SendPhoto(_ context.Context, _ string, photo notify.Photo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failPhotos > 0 {
		n.failPhotos--
		return errors.New("telegram unavailable")
	}
	n.photos = append(n.photos, photo)
	return nil
}

type voiceRecorder struct {
	voice string
}

func (v *voiceRecorder) SetVoice(_ context.Context, voice string) error {
	v.voice = voice
	return nil
}

func newTestRegistry(t *testing.T, caps ...capabilities.Capability) *capabilities.MemoryRegistry {
	t.Helper()
	reg := capabilities.NewMemoryRegistry()
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

func funcCapability(name string, args map[string]capabilities.ArgSpec, fn func(ctx context.Context, args map[string]any) (any, error)) capabilities.Func {
	return capabilities.Func{
		Decl: capabilities.Declaration{Name: name, Description: "test capability", Args: args},
		Fn:   fn,
	}
}

func newTestDispatcher(t *testing.T, reg capabilities.Registry, policy Policy, log *continuity.Log) *Dispatcher {
	t.Helper()
	d := New(Config{
		Registry:    reg,
		Permissions: &capabilities.Allowlist{},
		Caller:      capabilities.Caller{UserID: "u1", ConversationID: "conv-1"},
		Policy:      policy,
		Log:         log,
	})
	names := make([]string, 0)
	for _, decl := range reg.List() {
		names = append(names, decl.Name)
	}
	m, _ := naming.Build(names)
	d.SetNames(m)
	return d
}

func TestHandleToolCallFastResult(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("weather.lookup", map[string]capabilities.ArgSpec{
		"city": {Type: capabilities.TypeString, Required: true},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return "sunny in " + args["city"].(string), nil
	}))
	log := continuity.NewLog(10)
	d := newTestDispatcher(t, reg, Policy{ToolTimeout: time.Second}, log)
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{
		ID: "c1", WireName: "weather__lookup", Args: map[string]any{"city": "Paris"},
	})
	d.Wait()

	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	responses, texts, _ := sender.snapshot()
	if len(responses) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(responses))
	}
	if responses[0].ID != "c1" || responses[0].WireName != "weather__lookup" {
		t.Fatalf("unexpected response identity: %+v", responses[0])
	}
	if responses[0].Output != "sunny in Paris" {
		t.Fatalf("output = %v", responses[0].Output)
	}
	if len(texts) != 0 {
		t.Fatalf("no text injection expected, got %v", texts)
	}
	entries := log.Entries()
	if len(entries) != 1 || entries[0].Role != continuity.RoleTool || !strings.Contains(entries[0].Text, "sunny in Paris") {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestHandleToolCallTruncatesResult(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("echo", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return strings.Repeat("x", 100), nil
	}))
	d := newTestDispatcher(t, reg, Policy{ToolTimeout: time.Second, ResultMaxChars: 10}, nil)
	sender := &recordingSender{}

	d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "echo"})

	responses, _, _ := sender.snapshot()
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %d", len(responses))
	}
	if got := responses[0].Output; got != strings.Repeat("x", 10)+truncateSuffix {
		t.Fatalf("output = %v", got)
	}
}

func TestHandleToolCallStructuredResult(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("stats", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"count": 3}, nil
	}))
	d := newTestDispatcher(t, reg, Policy{ToolTimeout: time.Second}, nil)
	sender := &recordingSender{}

	d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "stats"})

	responses, _, _ := sender.snapshot()
	if got := responses[0].Output; got != `{"count":3}` {
		t.Fatalf("output = %v", got)
	}
}

func TestHandleToolCallSlowResultDeferred(t *testing.T) {
	tests := []struct {
		name       string
		inject     bool
		wantTexts  int
		wantEvents []string
	}{
		{"injected", true, 1, []string{"response", "text"}},
		{"logged only", false, 0, []string{"response"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			reg := newTestRegistry(t, funcCapability("report.build", nil, func(ctx context.Context, args map[string]any) (any, error) {
				<-release
				return "report ready", nil
			}))
			log := continuity.NewLog(10)
			d := newTestDispatcher(t, reg, Policy{ToolTimeout: 20 * time.Millisecond, InjectDeferred: tt.inject}, log)
			sender := &recordingSender{}

			outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "slow", WireName: "report__build"})
			if outcome != OutcomeDeferred {
				t.Fatalf("outcome = %s, want deferred", outcome)
			}

			responses, _, _ := sender.snapshot()
			if len(responses) != 1 || responses[0].Output != InterimMessage {
				t.Fatalf("expected interim response, got %+v", responses)
			}

			close(release)
			d.Wait()

			responses, texts, events := sender.snapshot()
			if len(responses) != 1 {
				t.Fatalf("final result must not be sent as a second tool response, got %d", len(responses))
			}
			if len(texts) != tt.wantTexts {
				t.Fatalf("texts = %v, want %d", texts, tt.wantTexts)
			}
			if tt.inject && texts[0] != "[Result of report.build]: report ready" {
				t.Fatalf("injected text = %q", texts[0])
			}
			if strings.Join(events, ",") != strings.Join(tt.wantEvents, ",") {
				t.Fatalf("events = %v, want %v", events, tt.wantEvents)
			}
			entries := log.Entries()
			if len(entries) != 1 || !strings.Contains(entries[0].Text, "report ready") {
				t.Fatalf("deferred result not logged: %+v", entries)
			}
		})
	}
}

func TestHandleToolCallDeferredAfterSessionEnds(t *testing.T) {
	release := make(chan struct{})
	reg := newTestRegistry(t, funcCapability("slow", nil, func(ctx context.Context, args map[string]any) (any, error) {
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return "done", nil
	}))
	log := continuity.NewLog(10)
	d := newTestDispatcher(t, reg, Policy{ToolTimeout: 10 * time.Millisecond, InjectDeferred: true}, log)
	sender := &recordingSender{}

	ctx, cancel := context.WithCancel(context.Background())
	d.HandleToolCall(ctx, sender, protocol.ToolCallRequest{ID: "c1", WireName: "slow"})
	cancel()
	close(release)
	d.Wait()

	_, texts, _ := sender.snapshot()
	if len(texts) != 0 {
		t.Fatalf("no injection expected after the session ended, got %v", texts)
	}
	if entries := log.Entries(); len(entries) != 1 || !strings.Contains(entries[0].Text, "done") {
		t.Fatalf("expected the orphaned result to be logged, got %+v", entries)
	}
}

func TestHandleToolCallPermissionDenied(t *testing.T) {
	var executed atomic.Bool
	reg := newTestRegistry(t, funcCapability("admin.reset", nil, func(ctx context.Context, args map[string]any) (any, error) {
		executed.Store(true)
		return "reset", nil
	}))
	d := New(Config{
		Registry:    reg,
		Permissions: &capabilities.Allowlist{AdminOnly: []string{"admin.*"}},
		Caller:      capabilities.Caller{UserID: "guest"},
	})
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "admin__reset"})

	if outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", outcome)
	}
	if executed.Load() {
		t.Fatal("capability must not execute when permission is denied")
	}
	responses, _, _ := sender.snapshot()
	if len(responses) != 1 || !strings.Contains(responses[0].Error, "denied") {
		t.Fatalf("expected denied error payload, got %+v", responses)
	}
}

func TestHandleToolCallNilPermissionsFailsClosed(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("echo", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return "echo", nil
	}))
	d := New(Config{Registry: reg})
	sender := &recordingSender{}

	if outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "echo"}); outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", outcome)
	}
}

func TestHandleToolCallTypedNilAllowlistFailsClosed(t *testing.T) {
	var executed atomic.Bool
	reg := newTestRegistry(t, funcCapability("admin.wipe", nil, func(ctx context.Context, args map[string]any) (any, error) {
		executed.Store(true)
		return "wiped", nil
	}))
	var perms *capabilities.Allowlist
	d := New(Config{Registry: reg, Permissions: perms})
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "admin__wipe"})

	if outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", outcome)
	}
	if executed.Load() {
		t.Fatal("capability must not execute without a permission policy")
	}
}

func TestHandleToolCallUnknownCapability(t *testing.T) {
	d := newTestDispatcher(t, capabilities.NewMemoryRegistry(), Policy{}, nil)
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "calendar__add"})

	if outcome != OutcomeUnknown {
		t.Fatalf("outcome = %s, want unknown", outcome)
	}
	responses, _, _ := sender.snapshot()
	if len(responses) != 1 || !strings.Contains(responses[0].Error, "calendar.add") {
		t.Fatalf("expected error naming the reversed capability, got %+v", responses)
	}
}

func TestHandleToolCallUnmappedNameUsesReverseTransform(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("notes.create", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return "created", nil
	}))
	var logs bytes.Buffer
	d := New(Config{
		Registry:    reg,
		Permissions: &capabilities.Allowlist{},
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "notes__create"})

	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	if !strings.Contains(logs.String(), "unmapped tool name") || !strings.Contains(logs.String(), "capability=notes.create") {
		t.Fatalf("expected unmapped-name warning, got:\n%s", logs.String())
	}
}

func TestHandleToolCallValidationFailure(t *testing.T) {
	var executed atomic.Bool
	reg := newTestRegistry(t, funcCapability("weather", map[string]capabilities.ArgSpec{
		"city": {Type: capabilities.TypeString, Required: true},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		executed.Store(true)
		return "", nil
	}))
	d := newTestDispatcher(t, reg, Policy{}, nil)
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "weather", Args: map[string]any{"city": 12}})

	if outcome != OutcomeInvalid {
		t.Fatalf("outcome = %s, want invalid", outcome)
	}
	if executed.Load() {
		t.Fatal("capability must not execute with invalid arguments")
	}
	responses, _, _ := sender.snapshot()
	if len(responses) != 1 || responses[0].Error == "" {
		t.Fatalf("expected error payload, got %+v", responses)
	}
}

func TestHandleToolCallExecutionError(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("flaky", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("upstream unavailable")
	}))
	d := newTestDispatcher(t, reg, Policy{}, nil)
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "c1", WireName: "flaky"})

	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	responses, _, _ := sender.snapshot()
	if len(responses) != 1 || responses[0].Error != "upstream unavailable" {
		t.Fatalf("unexpected responses %+v", responses)
	}
}

func TestHandleToolCallInjectsConversationID(t *testing.T) {
	var got atomic.Value
	reg := newTestRegistry(t, funcCapability("memory.save", map[string]capabilities.ArgSpec{
		"conversation_id": {Type: capabilities.TypeString, Required: true},
		"note":            {Type: capabilities.TypeString, Required: true},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		got.Store(args["conversation_id"])
		return "saved", nil
	}))
	d := newTestDispatcher(t, reg, Policy{}, nil)
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{
		ID: "c1", WireName: "memory__save", Args: map[string]any{"note": "buy milk"},
	})

	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	if got.Load() != "conv-1" {
		t.Fatalf("conversation_id = %v", got.Load())
	}
}

func TestDispatchFansOutConcurrently(t *testing.T) {
	var running, peak int32
	barrier := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(3)
	go func() {
		arrived.Wait()
		close(barrier)
	}()

	reg := newTestRegistry(t, funcCapability("work", nil, func(ctx context.Context, args map[string]any) (any, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		arrived.Done()
		<-barrier
		atomic.AddInt32(&running, -1)
		return "ok", nil
	}))
	d := newTestDispatcher(t, reg, Policy{ToolTimeout: 2 * time.Second}, nil)
	sender := &recordingSender{}

	outcomes := d.Dispatch(context.Background(), sender, []protocol.ToolCallRequest{
		{ID: "a", WireName: "work"},
		{ID: "b", WireName: "work"},
		{ID: "c", WireName: "work"},
	})
	d.Wait()

	for i, o := range outcomes {
		if o != OutcomeCompleted {
			t.Fatalf("outcome[%d] = %s", i, o)
		}
	}
	if peak != 3 {
		t.Fatalf("expected 3 concurrent executions, peak was %d", peak)
	}
	responses, _, _ := sender.snapshot()
	ids := map[string]bool{}
	for _, r := range responses {
		ids[r.ID] = true
	}
	if len(responses) != 3 || !ids["a"] || !ids["b"] || !ids["c"] {
		t.Fatalf("expected one response per call, got %+v", responses)
	}
}

func TestReservedSetVoice(t *testing.T) {
	voice := &voiceRecorder{}
	d := New(Config{Registry: capabilities.NewMemoryRegistry(), Voice: voice})
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{
		ID: "v1", WireName: SetVoiceTool, Args: map[string]any{"voice": "Kore"},
	})

	if outcome != OutcomeReserved {
		t.Fatalf("outcome = %s, want reserved", outcome)
	}
	if voice.voice != "Kore" {
		t.Fatalf("voice = %q", voice.voice)
	}
	responses, _, _ := sender.snapshot()
	if len(responses) != 1 || !strings.Contains(responses[0].Output.(string), "Kore") {
		t.Fatalf("unexpected responses %+v", responses)
	}
}

func TestReservedSetVoiceMissingArgument(t *testing.T) {
	d := New(Config{Voice: &voiceRecorder{}})
	sender := &recordingSender{}

	if outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "v1", WireName: SetVoiceTool}); outcome != OutcomeInvalid {
		t.Fatalf("outcome = %s, want invalid", outcome)
	}
}

func TestReservedRecentHistory(t *testing.T) {
	log := continuity.NewLog(10)
	log.Append(continuity.RoleUser, "hello")
	log.Append(continuity.RoleAssistant, "hi there")
	log.Append(continuity.RoleUser, "what's new")
	notifier := &recordingNotifier{}
	d := New(Config{Log: log, Notifier: notifier, Recipient: "42"})
	sender := &recordingSender{}

	outcome := d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{
		ID: "h1", WireName: RecentHistoryTool, Args: map[string]any{"count": float64(2), "send": true},
	})

	if outcome != OutcomeReserved {
		t.Fatalf("outcome = %s, want reserved", outcome)
	}
	responses, _, _ := sender.snapshot()
	out := responses[0].Output.(string)
	if strings.Contains(out, "hello") || !strings.Contains(out, "assistant: hi there") || !strings.Contains(out, "user: what's new") {
		t.Fatalf("unexpected history output %q", out)
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "hi there") {
		t.Fatalf("history not delivered: %v", notifier.texts)
	}
}

func TestReservedDeclarations(t *testing.T) {
	d := New(Config{Voice: &voiceRecorder{}})
	decls := d.ReservedDeclarations()
	if len(decls) != 2 || decls[0].Name != RecentHistoryTool || decls[1].Name != SetVoiceTool {
		t.Fatalf("unexpected declarations %+v", decls)
	}
	if !decls[1].Args["voice"].Required {
		t.Fatal("voice argument should be required")
	}
	if decls[0].Args["count"].Type != capabilities.TypeInteger {
		t.Fatalf("count type = %q", decls[0].Args["count"].Type)
	}

	without := New(Config{}).ReservedDeclarations()
	if len(without) != 1 || without[0].Name != RecentHistoryTool {
		t.Fatalf("set_voice should be absent without a voice changer, got %+v", without)
	}
}

func TestMediaResultForwarded(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	reg := newTestRegistry(t, funcCapability("image.generate", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"image_base64": encoded, "caption": "a cat"}, nil
	}))
	notifier := &recordingNotifier{}
	d := New(Config{Registry: reg, Permissions: &capabilities.Allowlist{}, Notifier: notifier})
	sender := &recordingSender{}

	d.HandleToolCall(context.Background(), sender, protocol.ToolCallRequest{ID: "i1", WireName: "image__generate"})

	if len(notifier.photos) != 1 || string(notifier.photos[0].Data) != "png-bytes" || notifier.photos[0].Caption != "a cat" {
		t.Fatalf("photo not forwarded: %+v", notifier.photos)
	}
	responses, _, _ := sender.snapshot()
	if out := responses[0].Output.(string); strings.Contains(out, encoded) {
		t.Fatalf("inline image bytes leaked to the model: %s", out)
	}
}

func TestMediaForwardRetriesNotifier(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("image.fetch", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"image_url": "https://example.com/cat.png"}, nil
	}))
	notifier := &recordingNotifier{failPhotos: 1}
	d := New(Config{Registry: reg, Permissions: &capabilities.Allowlist{}, Notifier: notifier})

	outcome := d.HandleToolCall(context.Background(), &recordingSender{}, protocol.ToolCallRequest{ID: "i2", WireName: "image__fetch"})
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	if notifier.attempts != 2 || len(notifier.photos) != 1 {
		t.Fatalf("attempts = %d, photos = %d; want a retry then delivery", notifier.attempts, len(notifier.photos))
	}
}

func TestMediaResultURL(t *testing.T) {
	photo, value := extractMedia(map[string]any{"image_url": "https://example.com/a.png"})
	if photo == nil || photo.URL != "https://example.com/a.png" {
		t.Fatalf("photo = %+v", photo)
	}
	if value == nil {
		t.Fatal("value should be preserved")
	}
	if photo, _ := extractMedia("plain text"); photo != nil {
		t.Fatal("plain text must not produce media")
	}
}

func TestDispatchRecordsMetrics(t *testing.T) {
	reg := newTestRegistry(t, funcCapability("echo", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return "ok", nil
	}))
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	d := New(Config{Registry: reg, Permissions: &capabilities.Allowlist{}, Metrics: metrics})

	if outcome := d.HandleToolCall(context.Background(), &recordingSender{}, protocol.ToolCallRequest{ID: "m1", WireName: "echo"}); outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", outcome)
	}
}
