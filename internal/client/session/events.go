package session

import "sync"

// State описывает состояние сессии, о котором уведомляются подписчики
type State int

const (
	// StateValid сессия подтверждена сервером
	StateValid State = iota
	// StateExpired сервер сообщил об истечении сессии, учётные данные стёрты
	StateExpired
	// StateLoggedOut пользователь вышел явно
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event уведомление об изменении состояния сессии
type Event struct {
	State  State
	Reason string
}

// Subscription подписка на события сессии с явным временем жизни.
// Подписчик обязан вызвать Close, когда события больше не нужны.
type Subscription struct {
	C      <-chan Event
	id     int
	bus    *eventBus
	closed bool
	mu     sync.Mutex
}

// Close отписывает канал. Повторный вызов — no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.unsubscribe(s.id)
}

// eventBus рассылает события всем живым подпискам.
// Отправка неблокирующая: медленный подписчик теряет события,
// но никогда не задерживает валидацию.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 8)
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return &Subscription{C: ch, id: id, bus: b}
}

func (b *eventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
