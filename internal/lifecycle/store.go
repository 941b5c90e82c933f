package lifecycle

import (
	"context"
	"sync"
	"time"

	"promoshot/internal/entity"

	"github.com/sirupsen/logrus"
)

const (
	defaultTTL    = 30 * time.Minute
	defaultBuffer = 16
)

// State is the in-memory projection of one generation request.
type State struct {
	RequestID    uint                    `json:"request_id"`
	OwnerID      uint                    `json:"owner_id"`
	Status       entity.GenerationStatus `json:"status"`
	Progress     float64                 `json:"progress"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Steps        []string                `json:"steps"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// ChangeType tells subscribers what moved.
type ChangeType string

const (
	ChangeStep       ChangeType = "step"
	ChangeStatus     ChangeType = "status"
	ChangeReconciled ChangeType = "reconciled"
)

// Change is delivered to subscribers of the request owner.
type Change struct {
	Type  ChangeType `json:"type"`
	Step  string     `json:"step,omitempty"`
	State State      `json:"state"`
}

// Options configures a Store.
type Options struct {
	// TTL is how long terminal slots are kept before eviction.
	TTL time.Duration
	// Buffer is the channel size handed to each subscriber.
	Buffer int
	Now    func() time.Time
}

type slot struct {
	state     State
	completed map[string]struct{}
}

// Store keeps request states keyed by request id. The persistent row stays the
// source of truth; Reconcile rebuilds a slot from it.
type Store struct {
	mu     sync.Mutex
	slots  map[uint]*slot
	subs   map[uint][]chan Change
	ttl    time.Duration
	buffer int
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		slots:  make(map[uint]*slot),
		subs:   make(map[uint][]chan Change),
		ttl:    ttl,
		buffer: buffer,
		now:    now,
	}
}

// Track registers a request. An existing slot is only moved forward.
func (s *Store) Track(requestID, ownerID uint, status entity.GenerationStatus) State {
	state, _ := s.Transition(requestID, ownerID, status, "")
	return state
}

// Transition moves a slot to status, creating it when missing. Backward or
// repeated transitions are ignored and reported with changed=false.
func (s *Store) Transition(requestID, ownerID uint, status entity.GenerationStatus, errMsg string) (State, bool) {
	if s == nil || requestID == 0 || !status.IsValid() {
		return State{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[requestID]
	if !ok {
		sl = &slot{
			state:     State{RequestID: requestID, OwnerID: ownerID, Status: status},
			completed: make(map[string]struct{}),
		}
		s.slots[requestID] = sl
		s.refresh(sl)
		if status == entity.GenerationStatusFailed {
			sl.state.ErrorMessage = errMsg
		}
		s.publish(Change{Type: ChangeStatus, State: sl.state.clone()})
		return sl.state.clone(), true
	}

	if !sl.state.Status.CanTransitionTo(status) {
		return sl.state.clone(), false
	}
	if sl.state.OwnerID == 0 {
		sl.state.OwnerID = ownerID
	}
	sl.state.Status = status
	if status == entity.GenerationStatusFailed {
		sl.state.ErrorMessage = errMsg
	}
	s.refresh(sl)
	s.publish(Change{Type: ChangeStatus, State: sl.state.clone()})
	return sl.state.clone(), true
}

// RecordStep notes a processing log entry. Only completed entries of known
// steps count towards progress. Unknown requests are ignored.
func (s *Store) RecordStep(requestID uint, step string, status entity.LogStatus) (State, bool) {
	if s == nil || step == "" {
		return State{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[requestID]
	if !ok {
		return State{}, false
	}
	if status == entity.LogStatusCompleted && isProgressStep(step) {
		if _, seen := sl.completed[step]; !seen {
			sl.completed[step] = struct{}{}
			sl.state.Steps = append(sl.state.Steps, step)
		}
	}
	s.refresh(sl)
	s.publish(Change{Type: ChangeStep, Step: step, State: sl.state.clone()})
	return sl.state.clone(), true
}

// Reconcile overwrites the slot with what the persistent row and its logs say.
func (s *Store) Reconcile(req *entity.DbGenerationRequest, logs []entity.DbProcessingLog) State {
	if s == nil || req == nil || req.ID == 0 {
		return State{}
	}

	sl := &slot{
		state: State{
			RequestID: req.ID,
			OwnerID:   req.UserID,
			Status:    req.Status,
		},
		completed: make(map[string]struct{}),
	}
	if req.Status == entity.GenerationStatusFailed {
		sl.state.ErrorMessage = req.ErrorMessage
	}
	for _, entry := range logs {
		if entry.Status != entity.LogStatusCompleted || !isProgressStep(entry.StepName) {
			continue
		}
		if _, seen := sl.completed[entry.StepName]; seen {
			continue
		}
		sl.completed[entry.StepName] = struct{}{}
		sl.state.Steps = append(sl.state.Steps, entry.StepName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[req.ID] = sl
	s.refresh(sl)
	s.publish(Change{Type: ChangeReconciled, State: sl.state.clone()})
	return sl.state.clone()
}

// Get returns a copy of the slot.
func (s *Store) Get(requestID uint) (State, bool) {
	if s == nil {
		return State{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[requestID]
	if !ok {
		return State{}, false
	}
	return sl.state.clone(), true
}

// Len returns the number of tracked requests.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Subscribe returns a channel of changes for requests owned by ownerID and a
// cancel func that unsubscribes and closes the channel.
func (s *Store) Subscribe(ownerID uint) (<-chan Change, func()) {
	ch := make(chan Change, s.buffer)

	s.mu.Lock()
	s.subs[ownerID] = append(s.subs[ownerID], ch)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			current := s.subs[ownerID]
			remaining := current[:0]
			for _, c := range current {
				if c == ch {
					continue
				}
				remaining = append(remaining, c)
			}
			if len(remaining) == 0 {
				delete(s.subs, ownerID)
			} else {
				s.subs[ownerID] = remaining
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Evict drops terminal slots older than the TTL and returns how many were removed.
func (s *Store) Evict() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, sl := range s.slots {
		if sl.state.Status.IsTerminal() && sl.state.UpdatedAt.Before(cutoff) {
			delete(s.slots, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired slots every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				logrus.WithField("evicted", n).Debug("lifecycle slots evicted")
			}
		}
	}
}

// refresh must be called with mu held.
func (s *Store) refresh(sl *slot) {
	sl.state.Progress = progress(sl.state.Status, len(sl.completed))
	sl.state.UpdatedAt = s.now()
}

// publish must be called with mu held; sends never block.
func (s *Store) publish(change Change) {
	for _, ch := range s.subs[change.State.OwnerID] {
		select {
		case ch <- change:
		default:
			logrus.WithFields(logrus.Fields{
				"request_id": change.State.RequestID,
				"user_id":    change.State.OwnerID,
				"type":       change.Type,
			}).Warn("dropping lifecycle change due to slow consumer")
		}
	}
}

func (st State) clone() State {
	if st.Steps != nil {
		st.Steps = append([]string(nil), st.Steps...)
	}
	return st
}

func progress(status entity.GenerationStatus, completedSteps int) float64 {
	if status == entity.GenerationStatusCompleted {
		return 1
	}
	total := len(entity.ProgressSteps)
	if total == 0 {
		return 0
	}
	p := float64(completedSteps) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

func isProgressStep(step string) bool {
	for _, known := range entity.ProgressSteps {
		if known == step {
			return true
		}
	}
	return false
}
