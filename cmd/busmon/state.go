package main

import (
	"sync"
	"time"

	"github.com/bosbase/go-sdk/bus"
)

// topicStats aggregates one topic's traffic. Window counters cover the
// current UI interval and reset on every snapshot; totals accumulate.
type topicStats struct {
	Total       int
	WindowCount int
	BytesTotal  int64

	Recent []bus.Message
}

type MonState struct {
	cfg Config

	mu    sync.Mutex
	dirty bool

	topics map[string]*topicStats

	connected    bool
	lastDropKeys []string
	lastDropTime time.Time
}

type ViewModel struct {
	Now       time.Time
	ServerURL string

	Connected    bool
	LastDropKeys []string
	LastDropTime time.Time

	// Ordered as configured.
	Topics []TopicView
}

type TopicView struct {
	Topic       string
	Total       int
	WindowCount int
	BytesTotal  int64
	Recent      []bus.Message
}

func NewMonState(cfg Config) *MonState {
	s := &MonState{
		cfg:    cfg,
		topics: make(map[string]*topicStats, len(cfg.Topics)),
	}
	for _, t := range cfg.Topics {
		s.topics[t] = &topicStats{}
	}
	return s
}

func (s *MonState) Record(msg bus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.topics[msg.Topic]
	if !ok {
		return
	}
	st.Total++
	st.WindowCount++
	st.BytesTotal += int64(len(msg.Data))

	st.Recent = append(st.Recent, msg)
	if max := s.cfg.Rows; max > 0 && len(st.Recent) > max {
		st.Recent = st.Recent[len(st.Recent)-max:]
	}
	s.dirty = true
}

func (s *MonState) SetConnected(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected != ok {
		s.connected = ok
		s.dirty = true
	}
}

func (s *MonState) RecordDrop(activeKeys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.lastDropKeys = append([]string(nil), activeKeys...)
	s.lastDropTime = time.Now()
	s.dirty = true
}

// SnapshotAndResetWindow returns (view, true) when anything changed
// since the last snapshot, and clears the per-interval counters.
func (s *MonState) SnapshotAndResetWindow() (ViewModel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return ViewModel{}, false
	}

	vm := ViewModel{
		Now:          time.Now(),
		ServerURL:    s.cfg.ServerURL,
		Connected:    s.connected,
		LastDropKeys: s.lastDropKeys,
		LastDropTime: s.lastDropTime,
	}
	for _, t := range s.cfg.Topics {
		st := s.topics[t]
		vm.Topics = append(vm.Topics, TopicView{
			Topic:       t,
			Total:       st.Total,
			WindowCount: st.WindowCount,
			BytesTotal:  st.BytesTotal,
			Recent:      append([]bus.Message(nil), st.Recent...),
		})
		st.WindowCount = 0
	}

	s.dirty = false
	return vm, true
}
