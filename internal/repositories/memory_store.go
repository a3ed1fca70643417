package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/utils"
)

// MemoryStore is an in-process backend for local runs without DB_URL and
// for tests. It mirrors the SQL semantics of the pgx repositories,
// including the credential_id uniqueness constraint and row versions.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	credentials map[uuid.UUID]*models.PasskeyCredential
	challenges  map[uuid.UUID]*models.PasskeyChallenge
	subjects    map[uuid.UUID]*models.Subject
	rateLimits  map[string]*memoryCounter
	tokens      map[string]*models.RefreshToken
}

type memoryCounter struct {
	count     int
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		credentials: make(map[uuid.UUID]*models.PasskeyCredential),
		challenges:  make(map[uuid.UUID]*models.PasskeyChallenge),
		subjects:    make(map[uuid.UUID]*models.Subject),
		rateLimits:  make(map[string]*memoryCounter),
		tokens:      make(map[string]*models.RefreshToken),
	}
}

// SetClock replaces the wall clock used where the SQL uses NOW().
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutSubject seeds a subject; the passkey service never creates them.
func (m *MemoryStore) PutSubject(s *models.Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subjects[s.ID] = &cp
}

func (m *MemoryStore) DeleteSubject(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subjects, id)
}

func (m *MemoryStore) Credentials() PasskeyCredentialRepository { return &memoryCredentialRepo{m} }
func (m *MemoryStore) Challenges() PasskeyChallengeRepository { return &memoryChallengeRepo{m} }
func (m *MemoryStore) Subjects() SubjectRepository { return &memorySubjectRepo{m} }
func (m *MemoryStore) RateLimits() RateLimitRepository { return &memoryRateLimitRepo{m} }
func (m *MemoryStore) Tokens() SessionTokenRepository { return &memoryTokenRepo{m} }

// ChallengeCount and RefreshTokenCount are inspection helpers for tests.
func (m *MemoryStore) ChallengeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.challenges)
}

func (m *MemoryStore) RefreshTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// ----------------------------
// Credentials
// ----------------------------

type memoryCredentialRepo struct{ m *MemoryStore }

func (r *memoryCredentialRepo) Create(_ context.Context, c *models.PasskeyCredential) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.credentials {
		if existing.CredentialID == c.CredentialID {
			return ErrDuplicateCredentialID
		}
	}
	c.RowVersion = 1
	r.m.credentials[c.ID] = c.Clone()
	return nil
}

func (r *memoryCredentialRepo) GetByID(_ context.Context, id uuid.UUID) (*models.PasskeyCredential, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if c, ok := r.m.credentials[id]; ok {
		return c.Clone(), nil
	}
	return nil, nil
}

func (r *memoryCredentialRepo) GetByCredentialID(_ context.Context, credentialID string) (*models.PasskeyCredential, error) {
	return r.findOne(func(c *models.PasskeyCredential) bool {
		return c.CredentialID == credentialID
	}), nil
}

func (r *memoryCredentialRepo) GetActiveByCredentialID(_ context.Context, credentialID string) (*models.PasskeyCredential, error) {
	return r.findOne(func(c *models.PasskeyCredential) bool {
		return c.CredentialID == credentialID && c.IsActive()
	}), nil
}

func (r *memoryCredentialRepo) GetActiveByCredentialIDAndUser(
	_ context.Context,
	credentialID string,
	userID uuid.UUID,
) (*models.PasskeyCredential, error) {
	return r.findOne(func(c *models.PasskeyCredential) bool {
		return c.CredentialID == credentialID && c.UserID == userID && c.IsActive()
	}), nil
}

func (r *memoryCredentialRepo) ListActiveByUser(
	_ context.Context,
	userID uuid.UUID,
	limit, offset int,
) ([]*models.PasskeyCredential, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var matched []*models.PasskeyCredential
	for _, c := range r.m.credentials {
		if c.UserID == userID && c.IsActive() {
			matched = append(matched, c.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memoryCredentialRepo) UpdateIfVersion(
	_ context.Context,
	c *models.PasskeyCredential,
	expected int64,
) (pgconn.CommandTag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.credentials[c.ID]
	if !ok || existing.RowVersion != expected {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	updated := c.Clone()
	updated.CredentialID = existing.CredentialID
	updated.CreatedAt = existing.CreatedAt
	updated.RowVersion = expected + 1
	r.m.credentials[c.ID] = updated
	return pgconn.CommandTag("UPDATE 1"), nil
}

func (r *memoryCredentialRepo) UpdateWithRetry(
	ctx context.Context,
	id uuid.UUID,
	mutate func(*models.PasskeyCredential) error,
) error {
	get := func(ctx context.Context) (*models.PasskeyCredential, error) {
		return r.GetByID(ctx, id)
	}
	return WithRetry(ctx, defaultUpdateRetries, get, r.UpdateIfVersion, mutate)
}

func (r *memoryCredentialRepo) Revoke(_ context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.credentials[id]
	if !ok || !c.IsActive() {
		return false, nil
	}
	c.Revoke(reason, now)
	c.RowVersion++
	return true, nil
}

func (r *memoryCredentialRepo) RevokeInactive(_ context.Context, cutoff time.Time, reason string, now time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.credentials {
		if c.IsActive() && c.LastUsed.Before(cutoff) {
			c.Revoke(reason, now)
			c.RowVersion++
			n++
		}
	}
	return n, nil
}

func (r *memoryCredentialRepo) findOne(match func(*models.PasskeyCredential) bool) *models.PasskeyCredential {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.credentials {
		if match(c) {
			return c.Clone()
		}
	}
	return nil
}

// ----------------------------
// Challenges
// ----------------------------

type memoryChallengeRepo struct{ m *MemoryStore }

func (r *memoryChallengeRepo) Create(_ context.Context, c *models.PasskeyChallenge) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.challenges[c.ID]; exists {
		return fmt.Errorf("challenge %s already exists", c.ID)
	}
	cp := *c
	r.m.challenges[c.ID] = &cp
	return nil
}

func (r *memoryChallengeRepo) FindLatest(
	_ context.Context,
	kind models.ChallengeType,
	subjectID, fallbackSubjectID uuid.UUID,
	now time.Time,
) (*models.PasskeyChallenge, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var best *models.PasskeyChallenge
	for _, c := range r.m.challenges {
		if c.Type != kind || (c.UserID != subjectID && c.UserID != fallbackSubjectID) {
			continue
		}
		if best == nil || challengeOutranks(c, best, subjectID, now) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// challengeOutranks mirrors the ORDER BY of the SQL FindLatest.
func challengeOutranks(a, b *models.PasskeyChallenge, preferred uuid.UUID, now time.Time) bool {
	aLive, bLive := a.ExpiresAt.After(now), b.ExpiresAt.After(now)
	if aLive != bLive {
		return aLive
	}
	aPref, bPref := a.UserID == preferred, b.UserID == preferred
	if aPref != bPref {
		return aPref
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (r *memoryChallengeRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.challenges[id]; !ok {
		return false, nil
	}
	delete(r.m.challenges, id)
	return true, nil
}

func (r *memoryChallengeRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, c := range r.m.challenges {
		if c.ExpiresAt.Before(now) {
			delete(r.m.challenges, id)
			n++
		}
	}
	return n, nil
}

// ----------------------------
// Subjects
// ----------------------------

type memorySubjectRepo struct{ m *MemoryStore }

func (r *memorySubjectRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Subject, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.subjects[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// ----------------------------
// Rate limits
// ----------------------------

type memoryRateLimitRepo struct{ m *MemoryStore }

func (r *memoryRateLimitRepo) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := r.m.now()
	counter, ok := r.m.rateLimits[key]
	if !ok || counter.expiresAt.Before(now) {
		counter = &memoryCounter{expiresAt: now.Add(window)}
		r.m.rateLimits[key] = counter
	}
	counter.count++
	return counter.count <= limit, counter.count, nil
}

func (r *memoryRateLimitRepo) CleanupExpired(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := r.m.now()
	var n int64
	for key, counter := range r.m.rateLimits {
		if counter.expiresAt.Before(now) {
			delete(r.m.rateLimits, key)
			n++
		}
	}
	return n, nil
}

// ----------------------------
// Refresh tokens
// ----------------------------

type memoryTokenRepo struct{ m *MemoryStore }

func (r *memoryTokenRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *token
	cp.Token = utils.HashToken(token.Token)
	r.m.tokens[cp.Token] = &cp
	return nil
}

func (r *memoryTokenRepo) CleanupExpiredRefreshTokens(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := r.m.now()
	var n int64
	for key, t := range r.m.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.m.tokens, key)
			n++
		}
	}
	return n, nil
}
