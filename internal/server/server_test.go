package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/tradeapproval/internal/config"
	"github.com/aristath/tradeapproval/internal/di"
	"github.com/aristath/tradeapproval/internal/events"
	"github.com/aristath/tradeapproval/internal/modules/identity"
	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/aristath/tradeapproval/internal/scheduler"
	testingpkg "github.com/aristath/tradeapproval/internal/testing"
)

func newTestContainer(t *testing.T) *di.Container {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	dir, err := identity.NewDirectory(testingpkg.NewPrincipalFixtures())
	require.NoError(t, err)

	bus := events.NewBus()
	manager := events.NewManager(bus, log)
	repo := testingpkg.NewMockRepository()

	return &di.Container{
		Config:       &config.Config{DataDir: t.TempDir()},
		Repo:         repo,
		EventBus:     bus,
		EventManager: manager,
		TradeService: trades.NewService(repo, manager, trades.ServiceConfig{}, log),
		Policy:       trades.NewPolicy(),
		Directory:    dir,
		Scheduler:    scheduler.New(log),
	}
}

func newTestServer(t *testing.T, container *di.Container) *Server {
	t.Helper()

	s := New(Config{
		Log:            zerolog.New(nil).Level(zerolog.Disabled),
		Port:           0,
		DevMode:        true,
		Container:      container,
		OriginPatterns: []string{"trusted.example"},
	})
	s.systemHandlers.cpuPercent = func(time.Duration, bool) ([]float64, error) { return []float64{12.5}, nil }
	s.systemHandlers.virtualMemory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 40}, nil
	}
	s.systemHandlers.diskUsage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 20e9}, nil
	}
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(identity.HeaderUserID, user)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func dialStream(ctx context.Context, srv *httptest.Server, query, user, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if user != "" {
		header.Set(identity.HeaderUserID, user)
	}
	if origin != "" {
		header.Set("Origin", origin)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws" + query
	return websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
}

func readConnected(ctx context.Context, t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, "connected", msg.Type)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, newTestContainer(t))

	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "tradeapproval", body["service"])
}

func TestHandleHealth_SQLiteClosed(t *testing.T) {
	container := newTestContainer(t)
	db, cleanup := testingpkg.NewTestDB(t, "trades")
	defer cleanup()
	container.DB = db
	require.NoError(t, db.Close())

	s := newTestServer(t, container)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestHandleSystemStatus(t *testing.T) {
	container := newTestContainer(t)
	s := newTestServer(t, container)

	ctx := context.Background()
	first, err := container.TradeService.Submit(ctx, "alice", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)
	_, err = container.TradeService.Submit(ctx, "bob", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)
	_, err = container.TradeService.Approve(ctx, first.ID, "admin")
	require.NoError(t, err)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/system/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "memory", body.Storage)
	assert.Equal(t, 12.5, body.CPUPercent)
	assert.Equal(t, 40.0, body.MemoryPercent)
	assert.Equal(t, 20.0, body.DiskFreeGB)
	assert.Equal(t, 2, body.TradeCount)
	assert.Equal(t, map[string]int{"APPROVED": 1, "PENDING_APPROVAL": 1}, body.TradesByState)
}

func TestHandleSystemStatus_Degraded(t *testing.T) {
	container := newTestContainer(t)
	container.Repo.(*testingpkg.MockRepository).SetListError(assert.AnError)
	s := newTestServer(t, container)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/system/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}

type noopJob struct{}

func (noopJob) Run() error   { return nil }
func (noopJob) Name() string { return "noop" }

func TestHandleJobsStatus(t *testing.T) {
	container := newTestContainer(t)
	require.NoError(t, container.Scheduler.AddJob("@every 1h", noopJob{}))
	require.NoError(t, container.Scheduler.RunNow(noopJob{}))
	s := newTestServer(t, container)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/system/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body JobsStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.TotalJobs)
	assert.Equal(t, "noop", body.Jobs[0].Name)
	assert.Equal(t, 1, body.Jobs[0].Runs)
}

func TestAPIRoutes_RequirePrincipal(t *testing.T) {
	s := newTestServer(t, newTestContainer(t))

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/trades", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/trades", "mallory", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "User not found"}`, rec.Body.String())
}

func TestAPIRoutes_SubmitAndApprove(t *testing.T) {
	s := newTestServer(t, newTestContainer(t))
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/trades", "alice",
		map[string]interface{}{"details": testingpkg.NewTradeDetailsFixture()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var submitted map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	id, _ := submitted["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "PENDING_APPROVAL", submitted["state"])

	rec = doRequest(t, h, http.MethodPost, "/api/v1/trades/"+id+"/approve", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/trades/"+id+"/approve", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/trades/"+id+"/status", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "APPROVED")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/users", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bob")
}

func TestEventsStream(t *testing.T) {
	container := newTestContainer(t)
	s := newTestServer(t, container)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := dialStream(ctx, srv, "", "alice", "")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readConnected(ctx, t, conn)

	trade, err := container.TradeService.Submit(ctx, "alice", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.TradeSubmitted), msg.Type)
	assert.Equal(t, "trades", msg.Module)
	assert.Equal(t, trade.ID, msg.Data["trade_id"])
	assert.Equal(t, "PENDING_APPROVAL", msg.Data["new_state"])
}

func TestEventsStream_TypesFilter(t *testing.T) {
	container := newTestContainer(t)
	s := newTestServer(t, container)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := dialStream(ctx, srv, "?types=trade_approved", "alice", "")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readConnected(ctx, t, conn)

	trade, err := container.TradeService.Submit(ctx, "alice", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)
	_, err = container.TradeService.Approve(ctx, trade.ID, "admin")
	require.NoError(t, err)

	// The submit event is filtered out
	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.TradeApproved), msg.Type)
}

func TestEventsStream_RequiresPrincipal(t *testing.T) {
	s := newTestServer(t, newTestContainer(t))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := dialStream(ctx, srv, "", "", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialStream(ctx, srv, "", "mallory", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsStream_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, newTestContainer(t))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := dialStream(ctx, srv, "", "admin", "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialStream(ctx, srv, "", "admin", "http://trusted.example")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readConnected(ctx, t, conn)
}

func TestEventsStream_OnlyOwnTradesForRequesters(t *testing.T) {
	container := newTestContainer(t)
	s := newTestServer(t, container)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobConn, _, err := dialStream(ctx, srv, "", "bob", "")
	require.NoError(t, err)
	defer bobConn.Close(websocket.StatusNormalClosure, "")
	readConnected(ctx, t, bobConn)

	adminConn, _, err := dialStream(ctx, srv, "", "admin", "")
	require.NoError(t, err)
	defer adminConn.Close(websocket.StatusNormalClosure, "")
	readConnected(ctx, t, adminConn)

	alicesTrade, err := container.TradeService.Submit(ctx, "alice", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)
	_, err = container.TradeService.Approve(ctx, alicesTrade.ID, "admin")
	require.NoError(t, err)
	bobsTrade, err := container.TradeService.Submit(ctx, "bob", testingpkg.NewTradeDetailsFixture())
	require.NoError(t, err)

	// bob's first event is his own submission
	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, bobConn, &msg))
	assert.Equal(t, string(events.TradeSubmitted), msg.Type)
	assert.Equal(t, bobsTrade.ID, msg.Data["trade_id"])

	// The approver sees all three
	var seen []string
	for i := 0; i < 3; i++ {
		require.NoError(t, wsjson.Read(ctx, adminConn, &msg))
		seen = append(seen, msg.Data["trade_id"].(string))
	}
	assert.Equal(t, []string{alicesTrade.ID, alicesTrade.ID, bobsTrade.ID}, seen)
}

func TestVisibleTo(t *testing.T) {
	alice := trades.Principal{ID: "alice", Role: trades.RoleUser}
	admin := trades.Principal{ID: "admin", Role: trades.RoleAdmin}

	own := &events.Event{Type: events.TradeSubmitted, Data: map[string]interface{}{"requester_id": "alice"}}
	other := &events.Event{Type: events.TradeSubmitted, Data: map[string]interface{}{"requester_id": "bob"}}
	system := &events.Event{Type: events.BackupCompleted, Data: map[string]interface{}{"archive": "a.tar.gz"}}

	assert.True(t, visibleTo(alice, own))
	assert.False(t, visibleTo(alice, other))
	assert.False(t, visibleTo(alice, system))
	assert.True(t, visibleTo(admin, other))
	assert.True(t, visibleTo(admin, system))
}

func TestParseTypesFilter(t *testing.T) {
	assert.Equal(t, events.LifecycleEventTypes, parseTypesFilter(""))
	assert.Equal(t,
		[]events.EventType{events.TradeBooked, events.BackupCompleted},
		parseTypesFilter("TRADE_BOOKED, backup_completed,TRADE_BOOKED,unknown"))
	assert.Empty(t, parseTypesFilter("nope"))
}
