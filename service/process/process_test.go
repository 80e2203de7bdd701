package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
)

type memDB struct {
	mu     sync.Mutex
	tables map[plugin.Table]map[string]map[string]any
}

func newMemDB() *memDB {
	return &memDB{tables: map[plugin.Table]map[string]map[string]any{}}
}

func (m *memDB) Connect(ctx context.Context) error { return nil }
func (m *memDB) Close() error                      { return nil }

func (m *memDB) Fetch(ctx context.Context, table plugin.Table, ids []string, args plugin.Args) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, id := range ids {
		if doc, ok := m.tables[table][id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memDB) InsertDocuments(ctx context.Context, table plugin.Table, docs []map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = map[string]map[string]any{}
	}
	for _, doc := range docs {
		m.tables[table][doc["id"].(string)] = doc
	}
	return nil
}

func (m *memDB) count(table plugin.Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func setup(t *testing.T) (*Service, *bus.InProc, *repository.Processes, *memDB) {
	t.Helper()
	db := newMemDB()

	processes, err := repository.NewProcesses(db, 8)
	require.NoError(t, err)

	b := bus.NewInProc(nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	executor := exec.New(nil)
	require.NoError(t, executor.Start(context.Background()))
	t.Cleanup(func() { _ = executor.Stop(time.Second) })

	s := New(nil, b, executor, processes)
	require.NoError(t, s.InitAsync(context.Background()))
	return s, b, processes, db
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// register publishes a document submission and returns the tracked process id.
func register(t *testing.T, s *Service, b *bus.InProc, trackingID, documentID string) string {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), bus.TopicSubmitDocument, bus.SubmitDocument{
		Node: core.FileNode{ID: documentID, FileName: "doc.txt", NodeType: core.NodeTypeFile, TrackingID: trackingID},
	}))

	var pid string
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.active[trackingID]
		if ok {
			pid = p.ID
		}
		return ok
	})
	return pid
}

func TestScanLifecyclePersistsProcess(t *testing.T) {
	s, b, processes, _ := setup(t)
	ctx := context.Background()

	pid := register(t, s, b, "t1", "d1")

	require.NoError(t, b.Publish(ctx, bus.TopicProgressUpdated, bus.ProgressUpdated{
		TrackingID: "t1", PercentComplete: 0.5,
	}))
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.active["t1"]
		return ok && p.Status == core.ProcessStatusRunning && p.PercentComplete == 0.5
	})

	require.NoError(t, b.Publish(ctx, bus.TopicProgressUpdated, bus.ProgressUpdated{
		TrackingID: "t1", PercentComplete: 1.0,
	}))
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.active["t1"]
		return !ok
	})

	loaded, err := processes.Load(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, core.ProcessStatusDone, loaded.Status)
	assert.Equal(t, 1.0, loaded.PercentComplete)
	assert.Equal(t, "t1", loaded.CurrentTrackingID)
	assert.Equal(t, "d1", loaded.Memory["document_id"])
}

func TestFailureIsPersistedAndExplained(t *testing.T) {
	s, b, processes, _ := setup(t)
	ctx := context.Background()

	var msgMu sync.Mutex
	var relayed []bus.ResponseMessage
	require.NoError(t, b.Subscribe(bus.TopicResponseSubmitMessage, func(_ context.Context, data []byte) {
		var msg bus.ResponseMessage
		if err := bus.Decode(data, &msg); err != nil {
			return
		}
		msgMu.Lock()
		relayed = append(relayed, msg)
		msgMu.Unlock()
	}))

	pid := register(t, s, b, "t2", "d2")

	require.NoError(t, b.Publish(ctx, bus.TopicProgressUpdated, bus.ProgressUpdated{
		TrackingID: "t2", FailedMessage: "cannot read document",
	}))
	waitFor(t, func() bool {
		msgMu.Lock()
		defer msgMu.Unlock()
		return len(relayed) == 1
	})

	msgMu.Lock()
	msg := relayed[0]
	msgMu.Unlock()
	assert.True(t, msg.Packet.IsTerminal)
	assert.Contains(t, msg.Packet.Text, "cannot read document")
	assert.Equal(t, "t2", msg.TrackingID)

	loaded, err := processes.Load(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, core.ProcessStatusFailed, loaded.Status)
	assert.Equal(t, "cannot read document", loaded.FailedMessage)

	s.mu.Lock()
	assert.Empty(t, s.active)
	s.mu.Unlock()
}

func TestForeignProgressIsIgnored(t *testing.T) {
	_, b, _, db := setup(t)

	require.NoError(t, b.Publish(context.Background(), bus.TopicProgressUpdated, bus.ProgressUpdated{
		TrackingID: "someone-elses", PercentComplete: 1.0,
	}))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, db.count(plugin.TableProcess))
}
