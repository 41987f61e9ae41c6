package scene

import "sync"

// EventType identifies a scene change.
type EventType int

const (
	EventRoomLoaded EventType = iota
	EventPlaced
	EventSelected
	EventMoved
	EventDeleted
	EventTextureApplied     // an instance finished binding its texture
	EventRoomTextureApplied // a room surface finished binding its texture
	EventCatalogChanged
)

var eventNames = [...]string{
	EventRoomLoaded:         "room-loaded",
	EventPlaced:             "placed",
	EventSelected:           "selected",
	EventMoved:              "moved",
	EventDeleted:            "deleted",
	EventTextureApplied:     "texture-applied",
	EventRoomTextureApplied: "room-texture-applied",
	EventCatalogChanged:     "catalog-changed",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event describes one change. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Instance InstanceID
	Surface  Surface
	Kind     Kind
	URL      string
	Message  string // room load failure shown with the placeholder
	Fallback bool   // the texture failed and the default material was bound
}

// Store fans events out to subscribers. Subscribers run synchronously on
// the goroutine that published the event, outside the store's lock.
type Store struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewStore creates a store with no subscribers.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber.
func (s *Store) Publish(e Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of subscribers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
