package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mailbox defaults. Queues are bounded so an absent poller cannot grow
// memory without limit, and entries expire because a stale SDP offer is
// useless to a client that reconnects later.
const (
	DefaultTTL      = 60 * time.Second
	DefaultMaxDepth = 100
)

type entry struct {
	msg       *Message
	expiresAt time.Time
}

type queueKey struct {
	sessionID   uuid.UUID
	recipientID uuid.UUID
}

// queue is one recipient's FIFO of pending messages. seen retains the ids of
// every deposit until its TTL passes, so a redelivered message is a no-op
// even after the original has been drained.
type queue struct {
	mu      sync.Mutex
	entries []entry
	seen    map[uuid.UUID]time.Time
	retired bool
}

// Mailbox stores undelivered signaling messages per (session, recipient)
// until they are polled or expire. It is safe for concurrent use; distinct
// queues never contend on a shared lock.
type Mailbox struct {
	mu       sync.RWMutex
	queues   map[queueKey]*queue
	ttl      time.Duration
	maxDepth int
	now      func() time.Time
}

func NewMailbox(ttl time.Duration, maxDepth int) *Mailbox {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Mailbox{
		queues:   make(map[queueKey]*queue),
		ttl:      ttl,
		maxDepth: maxDepth,
		now:      time.Now,
	}
}

// lockQueue returns the recipient's queue with its mutex held, creating it
// on first use. A queue retired between the map lookup and the lock is
// re-resolved, so callers never operate on one that has left the map.
func (m *Mailbox) lockQueue(sessionID, recipientID uuid.UUID) (queueKey, *queue) {
	key := queueKey{sessionID: sessionID, recipientID: recipientID}
	for {
		m.mu.RLock()
		q, ok := m.queues[key]
		m.mu.RUnlock()
		if !ok {
			m.mu.Lock()
			if q, ok = m.queues[key]; !ok {
				q = &queue{seen: make(map[uuid.UUID]time.Time)}
				m.queues[key] = q
			}
			m.mu.Unlock()
		}
		q.mu.Lock()
		if !q.retired {
			return key, q
		}
		q.mu.Unlock()
	}
}

// retireIfEmpty drops the queue from the map once it holds neither pending
// entries nor live dedupe markers, so finished conversations do not leak a
// map slot per (session, recipient). Caller holds q.mu.
func (m *Mailbox) retireIfEmpty(key queueKey, q *queue) {
	if len(q.entries) != 0 || len(q.seen) != 0 {
		return
	}
	q.retired = true
	m.mu.Lock()
	if m.queues[key] == q {
		delete(m.queues, key)
	}
	m.mu.Unlock()
}

func (m *Mailbox) queueCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// Deposit appends msg to the recipient's queue. Depositing a message id the
// queue has already seen is a no-op, so retried sends never duplicate. When
// the queue is full the oldest non-hangup entry is evicted; hangups are
// never evicted because missing one strands the peer in a dead call.
func (m *Mailbox) Deposit(msg *Message) {
	_, q := m.lockQueue(msg.SessionID, msg.RecipientID)
	defer q.mu.Unlock()

	now := m.now()
	q.purge(now)

	if _, dup := q.seen[msg.ID]; dup {
		return
	}
	q.seen[msg.ID] = now.Add(m.ttl)

	if len(q.entries) >= m.maxDepth {
		if !q.evictOldest() {
			return // queue is all hangups; drop the newcomer
		}
	}
	q.entries = append(q.entries, entry{msg: msg, expiresAt: now.Add(m.ttl)})
}

// Drain removes and returns all pending messages for the recipient in
// deposit order. Expired entries are dropped, not returned.
func (m *Mailbox) Drain(sessionID, recipientID uuid.UUID) []*Message {
	key, q := m.lockQueue(sessionID, recipientID)
	defer q.mu.Unlock()
	defer m.retireIfEmpty(key, q)

	q.purge(m.now())
	if len(q.entries) == 0 {
		return nil
	}
	msgs := make([]*Message, len(q.entries))
	for i, e := range q.entries {
		msgs[i] = e.msg
	}
	q.entries = nil
	return msgs
}

// Depth reports the number of pending (unexpired) messages for a recipient.
func (m *Mailbox) Depth(sessionID, recipientID uuid.UUID) int {
	key, q := m.lockQueue(sessionID, recipientID)
	defer q.mu.Unlock()
	defer m.retireIfEmpty(key, q)

	q.purge(m.now())
	return len(q.entries)
}

// purge drops expired entries and forgets expired dedupe markers.
// Caller holds q.mu.
func (q *queue) purge(now time.Time) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.expiresAt.After(now) {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	for id, exp := range q.seen {
		if !exp.After(now) {
			delete(q.seen, id)
		}
	}
}

// evictOldest removes the oldest non-hangup entry, reporting whether a slot
// was freed. Caller holds q.mu.
func (q *queue) evictOldest() bool {
	for i, e := range q.entries {
		if e.msg.Kind != KindHangup {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
