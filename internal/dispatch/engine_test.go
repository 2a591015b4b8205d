package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zapleads/zapleads/internal/db"
	"github.com/zapleads/zapleads/internal/gateway"
	"github.com/zapleads/zapleads/internal/metrics"
	"github.com/zapleads/zapleads/internal/models"
	"github.com/zapleads/zapleads/internal/repository"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	for _, m := range db.Migrations() {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// fakeGateway records sends and answers from fixed state. When holdSend
// is set, each send blocks until the channel is closed, like a slow
// gateway holding the HTTP request open.
type fakeGateway struct {
	mu         sync.Mutex
	state      gateway.ConnState
	failPhones map[string]bool
	sends      []string
	holdSend   chan struct{}
	inFlight   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{state: gateway.StateOpen, failPhones: map[string]bool{}}
}

func (g *fakeGateway) ConnectionState(ctx context.Context, instance string) (gateway.ConnState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, nil
}

func (g *fakeGateway) SendText(ctx context.Context, instance, destination, text string) (*gateway.SendResult, error) {
	if g.holdSend != nil {
		g.mu.Lock()
		g.inFlight++
		g.mu.Unlock()
		<-g.holdSend
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}
	// A real HTTP client fails the request once its context is gone
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, destination)
	if g.failPhones[destination] {
		return nil, errors.New("recipient rejected")
	}
	return &gateway.SendResult{ID: "MSG-" + destination}, nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

func (g *fakeGateway) inFlightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

type testEnv struct {
	campaigns *repository.CampaignRepository
	leads     *repository.LeadRepository
	logs      *repository.MessageLogRepository
	gw        *fakeGateway
	board     *Board
	engine    *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn := setupTestDB(t)
	env := &testEnv{
		campaigns: repository.NewCampaignRepository(conn),
		leads:     repository.NewLeadRepository(conn),
		logs:      repository.NewMessageLogRepository(conn),
		gw:        newFakeGateway(),
		board:     NewBoard(50),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = New(env.campaigns, env.leads, env.logs, env.gw, env.board, nil, metrics.New(),
		Config{IntervalUnit: time.Millisecond}, logger)
	t.Cleanup(env.engine.Stop)
	return env
}

// seedCampaign creates a draft campaign with validated pending leads
func (env *testEnv) seedCampaign(t *testing.T, minIv, maxIv int, phones ...string) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Name:            "Test",
		Instance:        "main",
		MessageTemplate: "Hello there",
		MinIntervalMin:  minIv,
		MaxIntervalMin:  maxIv,
	}
	if err := env.campaigns.Create(c); err != nil {
		t.Fatalf("Create campaign error = %v", err)
	}
	for _, phone := range phones {
		l := &models.CampaignLead{CampaignID: c.ID, Phone: phone}
		if err := env.leads.Create(l); err != nil {
			t.Fatalf("Create lead error = %v", err)
		}
		if err := env.leads.UpdateValidation(l.ID, models.ValidityValid, ""); err != nil {
			t.Fatalf("UpdateValidation error = %v", err)
		}
	}
	if err := env.campaigns.RefreshTotalLeads(c.ID); err != nil {
		t.Fatalf("RefreshTotalLeads error = %v", err)
	}
	return c
}

// waitForStatus polls until the campaign reaches the wanted status
func (env *testEnv) waitForStatus(t *testing.T, id string, want models.CampaignStatus) *models.Campaign {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := env.campaigns.GetByID(id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if c.Status == want {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := env.campaigns.GetByID(id)
	t.Fatalf("campaign never reached %s, stuck at %s", want, c.Status)
	return nil
}

func TestEngine_StartDispatchesAllAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, 1, 3, "5511999990001", "5511999990002", "5511999990003")

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := env.waitForStatus(t, c.ID, models.StatusCompleted)
	if got.SentMessages != 3 {
		t.Errorf("SentMessages = %d, want 3", got.SentMessages)
	}
	if got.FailedMessages != 0 {
		t.Errorf("FailedMessages = %d, want 0", got.FailedMessages)
	}
	if env.gw.sendCount() != 3 {
		t.Errorf("gateway sends = %d, want 3", env.gw.sendCount())
	}

	// All leads marked, one log per send
	remaining, err := env.leads.ListDispatchable(c.ID)
	if err != nil {
		t.Fatalf("ListDispatchable() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("dispatchable after completion = %d, want 0", len(remaining))
	}
	logs, _ := env.logs.ListByCampaign(c.ID, 10)
	if len(logs) != 3 {
		t.Errorf("message logs = %d, want 3", len(logs))
	}

	snap := env.board.Snapshot(c.ID)
	if snap.Stage != StageCompleted {
		t.Errorf("board stage = %v, want %v", snap.Stage, StageCompleted)
	}
	if got.CurrentLeadID != "" || got.NextDispatchAt != nil {
		t.Error("dispatch state not cleared after completion")
	}
}

func TestEngine_StartConditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Start(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start(missing) error = %v, want ErrNotFound", err)
	}

	// No validated pending leads
	empty := env.seedCampaign(t, 1, 2)
	if err := env.engine.Start(ctx, empty.ID); !errors.Is(err, ErrNothingToSend) {
		t.Errorf("Start(empty) error = %v, want ErrNothingToSend", err)
	}
	if got, _ := env.campaigns.GetByID(empty.ID); got.Status != models.StatusDraft {
		t.Errorf("refused start changed status to %s, want draft", got.Status)
	}

	// Gateway instance not connected
	c := env.seedCampaign(t, 1, 2, "5511999990001")
	env.gw.state = gateway.StateClosed
	if err := env.engine.Start(ctx, c.ID); !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("Start(gateway closed) error = %v, want ErrGatewayUnavailable", err)
	}
	env.gw.state = gateway.StateOpen

	// Terminal campaign cannot be started
	if err := env.campaigns.Transition(c.ID, models.StatusCancelled); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err := env.engine.Start(ctx, c.ID); !errors.Is(err, ErrNotDispatchable) {
		t.Errorf("Start(cancelled) error = %v, want ErrNotDispatchable", err)
	}
}

func TestEngine_SingleFlight(t *testing.T) {
	env := newTestEnv(t)
	// A long interval keeps the run alive while we poke at it
	c := env.seedCampaign(t, 1000, 1000, "5511999990001", "5511999990002")

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !env.engine.Dispatching(c.ID) {
		t.Fatal("Dispatching() = false after Start")
	}

	if err := env.engine.Start(context.Background(), c.ID); !errors.Is(err, ErrAlreadyDispatching) {
		t.Errorf("second Start() error = %v, want ErrAlreadyDispatching", err)
	}

	if err := env.engine.Cancel(c.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if env.engine.Dispatching(c.ID) {
		t.Error("Dispatching() = true after Cancel")
	}
}

func TestEngine_FirstSendImmediate(t *testing.T) {
	env := newTestEnv(t)
	// Interval so long that any send after the first would take an hour
	env.engine.unit = time.Hour
	c := env.seedCampaign(t, 1, 1, "5511999990001", "5511999990002")

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.gw.sendCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.gw.sendCount() != 1 {
		t.Fatalf("gateway sends = %d, want exactly the immediate first send", env.gw.sendCount())
	}

	if err := env.engine.Cancel(c.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
}

func TestEngine_FailedSendRecordedAndRunContinues(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, 1, 1, "5511999990001", "5511999990002")
	env.gw.failPhones["5511999990001"] = true

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := env.waitForStatus(t, c.ID, models.StatusCompleted)
	if got.SentMessages != 1 || got.FailedMessages != 1 {
		t.Errorf("counters = %d sent / %d failed, want 1/1", got.SentMessages, got.FailedMessages)
	}

	leads, _, err := env.leads.List(c.ID, models.LeadListFilter{MessageStatus: models.MessageFailed, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("failed leads = %d, want 1", len(leads))
	}
	if leads[0].MessageError == "" {
		t.Error("failed lead has no recorded error")
	}
}

func TestEngine_PauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	env.engine.unit = 200 * time.Millisecond
	c := env.seedCampaign(t, 1, 1, "5511999990001", "5511999990002", "5511999990003")

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.gw.sendCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := env.engine.Pause(c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	got, _ := env.campaigns.GetByID(c.ID)
	if got.Status != models.StatusPaused {
		t.Fatalf("status after pause = %s, want paused", got.Status)
	}
	if env.engine.Dispatching(c.ID) {
		t.Error("Dispatching() = true after Pause")
	}

	// Pausing a paused campaign is not an error
	if err := env.engine.Pause(c.ID); err != nil {
		t.Errorf("Pause(paused) error = %v, want nil", err)
	}

	// No further sends while paused
	sends := env.gw.sendCount()
	time.Sleep(450 * time.Millisecond)
	if env.gw.sendCount() != sends {
		t.Errorf("sends while paused grew from %d to %d", sends, env.gw.sendCount())
	}

	// Resume picks up the remaining pending leads only
	if err := env.engine.Resume(context.Background(), c.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	final := env.waitForStatus(t, c.ID, models.StatusCompleted)
	if final.SentMessages != 3 {
		t.Errorf("SentMessages = %d, want 3 with no lead sent twice", final.SentMessages)
	}
	if env.gw.sendCount() != 3 {
		t.Errorf("gateway sends = %d, want 3", env.gw.sendCount())
	}
}

func TestEngine_PauseConditions(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, 1, 2, "5511999990001")

	if err := env.engine.Pause("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pause(missing) error = %v, want ErrNotFound", err)
	}
	if err := env.engine.Pause(c.ID); !errors.Is(err, ErrNotDispatching) {
		t.Errorf("Pause(draft) error = %v, want ErrNotDispatching", err)
	}
}

func TestEngine_PauseNeverInterruptsInFlightSend(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	env.gw.holdSend = release
	c := env.seedCampaign(t, 1, 1, "5511999990001")

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.gw.inFlightCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.gw.inFlightCount() != 1 {
		t.Fatal("first send never reached the gateway")
	}

	// Pause while the gateway still holds the request open, then let
	// the send finish. The message was already on its way, so it must
	// land as sent, not be aborted and recorded as failed.
	if err := env.engine.Pause(c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	close(release)

	leads, err := env.leads.ListDispatchable(c.ID)
	if err != nil {
		t.Fatalf("ListDispatchable() error = %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for len(leads) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		leads, err = env.leads.ListDispatchable(c.ID)
		if err != nil {
			t.Fatalf("ListDispatchable() error = %v", err)
		}
	}

	got, _ := env.campaigns.GetByID(c.ID)
	if got.Status != models.StatusPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}
	if got.SentMessages != 1 || got.FailedMessages != 0 {
		t.Errorf("counters = %d sent / %d failed, want 1/0", got.SentMessages, got.FailedMessages)
	}
	failed, _, err := env.leads.List(c.ID, models.LeadListFilter{MessageStatus: models.MessageFailed})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed leads = %d, want 0: pause aborted the in-flight send", len(failed))
	}
}

func TestEngine_PauseRacingCompletionReportsCondition(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 20; i++ {
		c := env.seedCampaign(t, 1, 1, "5511999990001", "5511999990002")
		if err := env.engine.Start(context.Background(), c.ID); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		// Hammer Pause while the short run completes underneath it. A
		// Pause losing the race must report the campaign's condition,
		// never surface an internal transition error.
		for {
			if err := env.engine.Pause(c.ID); err != nil && !errors.Is(err, ErrNotDispatching) {
				t.Fatalf("Pause() racing completion error = %v", err)
			}
			cur, err := env.campaigns.GetByID(c.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if cur.Status == models.StatusPaused || cur.Status.Terminal() {
				break
			}
		}
	}
}

func TestEngine_Cancel(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, 1, 2, "5511999990001")

	if err := env.engine.Cancel(c.ID); err != nil {
		t.Fatalf("Cancel(draft) error = %v", err)
	}
	got, _ := env.campaigns.GetByID(c.ID)
	if got.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// Terminal states stay terminal
	if err := env.engine.Cancel(c.ID); !errors.Is(err, ErrFinished) {
		t.Errorf("Cancel(cancelled) error = %v, want ErrFinished", err)
	}
	if err := env.engine.Start(context.Background(), c.ID); !errors.Is(err, ErrNotDispatchable) {
		t.Errorf("Start(cancelled) error = %v, want ErrNotDispatchable", err)
	}
}

func TestEngine_RecoverStale(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, 1, 2, "5511999990001")

	// Simulate a campaign left active by a crashed process
	if err := env.campaigns.Transition(c.ID, models.StatusActive); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if err := env.engine.RecoverStale(); err != nil {
		t.Fatalf("RecoverStale() error = %v", err)
	}

	got, _ := env.campaigns.GetByID(c.ID)
	if got.Status != models.StatusPaused {
		t.Errorf("status after recovery = %s, want paused", got.Status)
	}
	snap := env.board.Snapshot(c.ID)
	if snap.Stage != StagePaused {
		t.Errorf("board stage = %v, want paused", snap.Stage)
	}
}

func TestEngine_WaitBetweenBounds(t *testing.T) {
	env := newTestEnv(t)
	env.engine.unit = time.Minute

	for i := 0; i < 200; i++ {
		w := env.engine.waitBetween(2, 5)
		if w < 2*time.Minute || w > 5*time.Minute {
			t.Fatalf("waitBetween(2, 5) = %v, want within [2m, 5m]", w)
		}
		if w%time.Minute != 0 {
			t.Fatalf("waitBetween(2, 5) = %v, want a whole number of units", w)
		}
	}

	if w := env.engine.waitBetween(3, 3); w != 3*time.Minute {
		t.Errorf("waitBetween(3, 3) = %v, want exactly 3m", w)
	}
}

func TestEngine_SkipsLeadNoLongerPending(t *testing.T) {
	env := newTestEnv(t)
	env.engine.unit = 100 * time.Millisecond
	c := env.seedCampaign(t, 1, 1, "5511999990001", "5511999990002")

	leads, err := env.leads.ListDispatchable(c.ID)
	if err != nil {
		t.Fatalf("ListDispatchable() error = %v", err)
	}

	if err := env.engine.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Move the second lead out of pending behind the engine's back,
	// while its timer is still running
	if err := env.leads.UpdateMessageStatus(leads[1].ID, models.MessageSent, ""); err != nil {
		t.Fatalf("UpdateMessageStatus() error = %v", err)
	}

	env.waitForStatus(t, c.ID, models.StatusCompleted)
	if env.gw.sendCount() != 1 {
		t.Errorf("gateway sends = %d, want 1 with the stale lead skipped", env.gw.sendCount())
	}

	snap := env.board.Snapshot(c.ID)
	found := false
	for _, ev := range snap.Events {
		if ev.Level == EventWarning {
			found = true
		}
	}
	if !found {
		t.Error("no warning event recorded for the skipped lead")
	}
}
