package bot

import (
	"sync"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// conversationStep is where the user is inside a flow. Conversation
// state is presentation-only; the domain never sees a partial form.
type conversationStep string

const (
	stepIdle         conversationStep = "idle"
	stepAwaitingCPF  conversationStep = "awaiting_cpf"
	stepConflict     conversationStep = "conflict"
	stepCategory     conversationStep = "category"
	stepGame         conversationStep = "game"
	stepGameOther    conversationStep = "game_other"
	stepTiming       conversationStep = "timing"
	stepDescription  conversationStep = "description"
	stepAttachments  conversationStep = "attachments"
	stepConfirmation conversationStep = "confirmation"
)

// conversation is one user's in-flight flow: the intake draft plus the
// verification-conflict context. Held in memory only; a restart simply
// asks the user to begin again.
type conversation struct {
	Step      conversationStep
	UpdatedAt time.Time

	// Intake draft.
	Category    domain.TicketCategory
	Game        string
	Timing      domain.ProblemTiming
	Description string
	Attachments []domain.Attachment

	// Conflict context from a duplicate-CPF submission.
	VerificationID domain.VerificationID
	CPF            domain.CPF
	ExistingUserID domain.ChatUserID
}

// conversationTTL is how long an abandoned conversation survives.
const conversationTTL = 30 * time.Minute

// stateStore is the per-user conversation map plus the per-user
// handler locks that keep update handling serial for each user.
type stateStore struct {
	mu    sync.Mutex
	convs map[domain.ChatUserID]*conversation
	locks map[domain.ChatUserID]*sync.Mutex
}

func newStateStore() *stateStore {
	return &stateStore{
		convs: make(map[domain.ChatUserID]*conversation),
		locks: make(map[domain.ChatUserID]*sync.Mutex),
	}
}

// lockUser returns the user's handler lock. Updates are dispatched on
// separate goroutines; holding this lock across the handler means two
// rapid updates from the same user (a double-tapped button) cannot
// advance the same conversation step twice.
func (s *stateStore) lockUser(userID domain.ChatUserID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// get returns the user's live conversation, or a fresh idle one.
func (s *stateStore) get(userID domain.ChatUserID) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[userID]
	if !ok || time.Since(c.UpdatedAt) > conversationTTL {
		c = &conversation{Step: stepIdle, UpdatedAt: time.Now()}
		s.convs[userID] = c
	}
	return c
}

// put stores the conversation and stamps it.
func (s *stateStore) put(userID domain.ChatUserID, c *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now()
	s.convs[userID] = c
}

// reset drops the user's conversation.
func (s *stateStore) reset(userID domain.ChatUserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, userID)
}

// prune removes abandoned conversations and the handler locks of users
// with no live conversation. A lock currently held by a handler is
// left alone.
func (s *stateStore) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.convs {
		if time.Since(c.UpdatedAt) > conversationTTL {
			delete(s.convs, id)
		}
	}
	for id, l := range s.locks {
		if _, live := s.convs[id]; live {
			continue
		}
		if l.TryLock() {
			delete(s.locks, id)
			l.Unlock()
		}
	}
}
