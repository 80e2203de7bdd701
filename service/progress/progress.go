// Package progress tracks completion of nested work: lessons, prompts, and
// documents down to individual index insertions, aggregated per tracking id.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/service"
)

// ItemType names what a progress node stands for.
type ItemType string

const (
	ItemLesson      ItemType = "lesson"
	ItemPrompt      ItemType = "prompt"
	ItemDocument    ItemType = "document"
	ItemObservation ItemType = "observation"
	ItemEngram      ItemType = "engram"
)

// Node is one entry in the progress tree. Children maps child id to its
// completion; a node is complete when every child is true. Parent edges
// live in the tracker's lookup, never in the node.
type Node struct {
	ItemType   ItemType
	TrackingID string
	TargetID   string
	Children   map[string]bool
}

func (n *Node) complete() bool {
	for _, done := range n.Children {
		if !done {
			return false
		}
	}
	return true
}

// bubbleReturn aggregates index counts for one tracking id.
type bubbleReturn struct {
	RootID           string
	TotalIndices     int
	CompletedIndices int
	IsComplete       bool
}

// Service is the progress tracker.
type Service struct {
	service.Base

	mu       sync.Mutex
	nodes    map[string]*Node
	parentOf map[string]string
	tracking map[string]*bubbleReturn
}

// New creates the progress tracker.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor) *Service {
	return &Service{
		Base:     service.NewBase("progress", logger, b, executor),
		nodes:    map[string]*Node{},
		parentOf: map[string]string{},
		tracking: map[string]*bubbleReturn{},
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}

	subs := map[bus.Topic]bus.Handler{
		bus.TopicLessonCreated:      s.onLessonCreated,
		bus.TopicPromptCreated:      s.onPromptCreated,
		bus.TopicDocumentCreated:    s.onDocumentCreated,
		bus.TopicObservationCreated: s.onObservationCreated,
		bus.TopicEngramsCreated:     s.onEngramsCreated,
		bus.TopicIndicesCreated:     s.onIndicesCreated,
		bus.TopicIndicesInserted:    s.onIndicesInserted,
	}
	for topic, handler := range subs {
		if err := s.Bus.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

// addRoot registers a root node and opens its tracking entry.
func (s *Service) addRoot(id string, itemType ItemType, targetID, trackingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[id] = &Node{
		ItemType:   itemType,
		TrackingID: trackingID,
		TargetID:   targetID,
		Children:   map[string]bool{},
	}
	s.tracking[trackingID] = &bubbleReturn{RootID: id}
}

// addChild registers a node under its parent. A parent id that is not in
// the tree falls back to the tracking root: observation parents are
// pipeline entities (a response id), not always tree nodes.
func (s *Service) addChild(id string, itemType ItemType, parentID, trackingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addChildLocked(id, itemType, parentID, trackingID)
}

func (s *Service) addChildLocked(id string, itemType ItemType, parentID, trackingID string) {
	parent, ok := s.nodes[parentID]
	if !ok {
		bubble, tracked := s.tracking[trackingID]
		if !tracked {
			s.Log.Error("progress node has no tree to attach to",
				"id", id, "parent_id", parentID, "tracking_id", trackingID,
				"error", core.NewInvariantError("node %s missing from progress tree", parentID))
			return
		}
		parentID = bubble.RootID
		parent = s.nodes[parentID]
		if parent == nil {
			return
		}
	}

	target := parent.TargetID
	s.nodes[id] = &Node{
		ItemType:   itemType,
		TrackingID: trackingID,
		TargetID:   target,
		Children:   map[string]bool{},
	}
	parent.Children[id] = false
	s.parentOf[id] = parentID
}

func (s *Service) onLessonCreated(ctx context.Context, data []byte) {
	var msg bus.LessonCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad lesson payload", "error", err)
		return
	}
	s.addRoot(msg.LessonID, ItemLesson, msg.TargetID, msg.TrackingID)
}

func (s *Service) onPromptCreated(ctx context.Context, data []byte) {
	var msg bus.PromptCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad prompt payload", "error", err)
		return
	}
	s.addRoot(msg.PromptID, ItemPrompt, msg.TargetID, msg.TrackingID)
}

func (s *Service) onDocumentCreated(ctx context.Context, data []byte) {
	var msg bus.DocumentCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad document payload", "error", err)
		return
	}

	s.mu.Lock()
	_, hasParent := s.nodes[msg.ParentID]
	s.mu.Unlock()

	if msg.ParentID != "" && hasParent {
		s.addChild(msg.DocumentID, ItemDocument, msg.ParentID, msg.TrackingID)
		return
	}
	s.addRoot(msg.DocumentID, ItemDocument, msg.TargetID, msg.TrackingID)
}

func (s *Service) onObservationCreated(ctx context.Context, data []byte) {
	var msg bus.ObservationCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad observation payload", "error", err)
		return
	}
	s.addChild(msg.ObservationID, ItemObservation, msg.ParentID, msg.TrackingID)
}

func (s *Service) onEngramsCreated(ctx context.Context, data []byte) {
	var msg bus.EngramsCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad engram batch payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range msg.EngramIDs {
		s.addChildLocked(id, ItemEngram, msg.ParentID, msg.TrackingID)
	}
}

func (s *Service) onIndicesCreated(ctx context.Context, data []byte) {
	var msg bus.IndicesCreated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad index batch payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	engram, ok := s.nodes[msg.EngramID]
	if !ok {
		s.Log.Error("indices created for unknown engram",
			"engram_id", msg.EngramID,
			"error", core.NewInvariantError("node %s missing from progress tree", msg.EngramID))
		return
	}
	for _, indexID := range msg.IndexIDs {
		engram.Children[indexID] = false
	}
	if bubble, ok := s.tracking[msg.TrackingID]; ok {
		bubble.TotalIndices += len(msg.IndexIDs)
	}
}

func (s *Service) onIndicesInserted(ctx context.Context, data []byte) {
	var msg bus.IndicesInserted
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad index insertion payload", "error", err)
		return
	}

	s.mu.Lock()
	update, notifications := s.applyInsertion(&msg)
	s.mu.Unlock()

	for _, n := range notifications {
		if err := s.Bus.Publish(ctx, n.topic, n.payload); err != nil {
			s.Log.Error("failed to publish completion", "topic", n.topic, "error", err)
		}
	}
	if update != nil {
		if err := s.Bus.Publish(ctx, bus.TopicProgressUpdated, *update); err != nil {
			s.Log.Error("failed to publish progress", "error", err)
		}
	}
}

type notification struct {
	topic   bus.Topic
	payload any
}

// applyInsertion marks the inserted indices and bubbles completion upward.
// Returns the progress update to publish and any completion notifications,
// in completion order.
func (s *Service) applyInsertion(msg *bus.IndicesInserted) (*bus.ProgressUpdated, []notification) {
	engram, ok := s.nodes[msg.EngramID]
	if !ok {
		s.Log.Error("indices inserted for unknown engram",
			"engram_id", msg.EngramID,
			"error", core.NewInvariantError("node %s missing from progress tree", msg.EngramID))
		return nil, nil
	}
	for _, indexID := range msg.IndexIDs {
		engram.Children[indexID] = true
	}

	bubble, ok := s.tracking[msg.TrackingID]
	if !ok {
		return nil, nil
	}
	bubble.CompletedIndices += len(msg.IndexIDs)

	var notifications []notification

	// Iterative bubble-up with a visited guard; traversal is by lookup,
	// nodes hold no parent pointers.
	visited := map[string]bool{}
	currentID := msg.EngramID
	for {
		if visited[currentID] {
			break
		}
		visited[currentID] = true

		current := s.nodes[currentID]
		if current == nil || !current.complete() {
			break
		}

		if n := completionNotification(currentID, current); n != nil {
			notifications = append(notifications, *n)
		}

		parentID, hasParent := s.parentOf[currentID]
		if !hasParent {
			bubble.IsComplete = true
			break
		}
		s.nodes[parentID].Children[currentID] = true
		currentID = parentID
	}

	root := s.nodes[bubble.RootID]
	if root == nil {
		return nil, notifications
	}

	percent := 0.0
	if bubble.TotalIndices > 0 {
		percent = float64(bubble.CompletedIndices) / float64(bubble.TotalIndices)
	}
	update := &bus.ProgressUpdated{
		ID:              bubble.RootID,
		TargetID:        root.TargetID,
		ProgressType:    string(root.ItemType),
		PercentComplete: percent,
		TrackingID:      msg.TrackingID,
	}

	if bubble.IsComplete {
		s.deleteSubtree(bubble.RootID)
		delete(s.tracking, msg.TrackingID)
	}
	return update, notifications
}

func completionNotification(id string, node *Node) *notification {
	switch node.ItemType {
	case ItemDocument:
		return &notification{topic: bus.TopicDocumentInserted, payload: bus.DocumentInserted{
			DocumentID: id,
			TargetID:   node.TargetID,
			TrackingID: node.TrackingID,
		}}
	case ItemPrompt:
		return &notification{topic: bus.TopicPromptInserted, payload: bus.ProgressUpdated{
			ID:              id,
			TargetID:        node.TargetID,
			ProgressType:    string(ItemPrompt),
			PercentComplete: 1.0,
			TrackingID:      node.TrackingID,
		}}
	case ItemLesson:
		return &notification{topic: bus.TopicLessonCompleted, payload: bus.ProgressUpdated{
			ID:              id,
			TargetID:        node.TargetID,
			ProgressType:    string(ItemLesson),
			PercentComplete: 1.0,
			TrackingID:      node.TrackingID,
		}}
	default:
		return nil
	}
}

// deleteSubtree removes a completed root and every descendant.
func (s *Service) deleteSubtree(rootID string) {
	node, ok := s.nodes[rootID]
	if !ok {
		return
	}
	for childID := range node.Children {
		s.deleteSubtree(childID)
		delete(s.parentOf, childID)
	}
	delete(s.nodes, rootID)
}

// snapshot returns the tree sizes, for tests and debugging.
func (s *Service) snapshot() (nodes, parents, tracked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.parentOf), len(s.tracking)
}
