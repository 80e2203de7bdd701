package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/exec"
)

func encode(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := bus.Encode(payload)
	require.NoError(t, err)
	return data
}

func setup(t *testing.T) (*Service, *bus.InProc) {
	t.Helper()
	b := bus.NewInProc(nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	s := New(nil, b, exec.New(nil))
	require.NoError(t, s.InitAsync(context.Background()))
	return s, b
}

// buildDocumentTree registers document -> observation -> two engrams with
// two indices each.
func buildDocumentTree(t *testing.T, s *Service) {
	ctx := context.Background()
	s.onDocumentCreated(ctx, encode(t, bus.DocumentCreated{
		DocumentID: "doc", TargetID: "doc", TrackingID: "t1",
	}))
	s.onObservationCreated(ctx, encode(t, bus.ObservationCreated{
		ObservationID: "obs", ParentID: "doc", TrackingID: "t1",
	}))
	s.onEngramsCreated(ctx, encode(t, bus.EngramsCreated{
		EngramIDs: []string{"e1", "e2"}, ParentID: "obs", TrackingID: "t1",
	}))
	s.onIndicesCreated(ctx, encode(t, bus.IndicesCreated{
		EngramID: "e1", IndexIDs: []string{"i1", "i2"}, TrackingID: "t1",
	}))
	s.onIndicesCreated(ctx, encode(t, bus.IndicesCreated{
		EngramID: "e2", IndexIDs: []string{"i3", "i4"}, TrackingID: "t1",
	}))
}

func TestPartialInsertionReportsPercent(t *testing.T) {
	s, b := setup(t)

	updates := make(chan bus.ProgressUpdated, 8)
	require.NoError(t, b.Subscribe(bus.TopicProgressUpdated, func(_ context.Context, data []byte) {
		var msg bus.ProgressUpdated
		_ = bus.Decode(data, &msg)
		updates <- msg
	}))

	buildDocumentTree(t, s)
	s.onIndicesInserted(context.Background(), encode(t, bus.IndicesInserted{
		EngramID: "e1", IndexIDs: []string{"i1"}, TrackingID: "t1",
	}))

	select {
	case update := <-updates:
		assert.Equal(t, "doc", update.ID)
		assert.Equal(t, "document", update.ProgressType)
		assert.InDelta(t, 0.25, update.PercentComplete, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress update")
	}

	nodes, _, tracked := s.snapshot()
	assert.Greater(t, nodes, 0)
	assert.Equal(t, 1, tracked)
}

func TestFullInsertionBubblesAndCleansUp(t *testing.T) {
	s, b := setup(t)

	inserted := make(chan bus.DocumentInserted, 1)
	require.NoError(t, b.Subscribe(bus.TopicDocumentInserted, func(_ context.Context, data []byte) {
		var msg bus.DocumentInserted
		_ = bus.Decode(data, &msg)
		inserted <- msg
	}))
	updates := make(chan bus.ProgressUpdated, 8)
	require.NoError(t, b.Subscribe(bus.TopicProgressUpdated, func(_ context.Context, data []byte) {
		var msg bus.ProgressUpdated
		_ = bus.Decode(data, &msg)
		updates <- msg
	}))

	buildDocumentTree(t, s)
	ctx := context.Background()
	s.onIndicesInserted(ctx, encode(t, bus.IndicesInserted{
		EngramID: "e1", IndexIDs: []string{"i1", "i2"}, TrackingID: "t1",
	}))
	s.onIndicesInserted(ctx, encode(t, bus.IndicesInserted{
		EngramID: "e2", IndexIDs: []string{"i3", "i4"}, TrackingID: "t1",
	}))

	select {
	case msg := <-inserted:
		assert.Equal(t, "doc", msg.DocumentID)
		assert.Equal(t, "t1", msg.TrackingID)
	case <-time.After(2 * time.Second):
		t.Fatal("document never completed")
	}

	var last bus.ProgressUpdated
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case last = <-updates:
			if last.PercentComplete == 1.0 {
				done = true
			}
		case <-deadline:
			t.Fatal("never reached 100%")
		}
	}
	assert.Equal(t, "doc", last.ID)

	nodes, parents, tracked := s.snapshot()
	assert.Zero(t, nodes, "completed subtree is deleted")
	assert.Zero(t, parents)
	assert.Zero(t, tracked)
}

func TestObservationFallsBackToTrackingRoot(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	s.onPromptCreated(ctx, encode(t, bus.PromptCreated{
		PromptID: "p1", TargetID: "p1", TrackingID: "t2",
	}))
	// The observation's parent is the response id, which is not a tree
	// node; it must attach under the prompt root.
	s.onObservationCreated(ctx, encode(t, bus.ObservationCreated{
		ObservationID: "obs", ParentID: "resp-123", TrackingID: "t2",
	}))

	s.mu.Lock()
	parent := s.parentOf["obs"]
	s.mu.Unlock()
	assert.Equal(t, "p1", parent)
}

func TestUnknownEngramIsContained(t *testing.T) {
	s, _ := setup(t)
	s.onIndicesInserted(context.Background(), encode(t, bus.IndicesInserted{
		EngramID: "ghost", IndexIDs: []string{"i"}, TrackingID: "none",
	}))

	nodes, _, _ := s.snapshot()
	assert.Zero(t, nodes)
}
