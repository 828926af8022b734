package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/provider"
	"github.com/kursadbilgin/newswire-engine/internal/queue"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
)

// memStore mirrors the conditional-update semantics of the gorm repositories
// closely enough to exercise claims, cascades and state transitions.
type memStore struct {
	mu        sync.Mutex
	users     map[string]domain.User
	topics    map[string]domain.Topic
	phones    map[string]domain.PhoneNumber
	schedules map[string]domain.Schedule
	runs      []domain.DeliveryRun
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]domain.User{},
		topics:    map[string]domain.Topic{},
		phones:    map[string]domain.PhoneNumber{},
		schedules: map[string]domain.Schedule{},
	}
}

func (m *memStore) userRepo() *memUsers         { return &memUsers{m} }
func (m *memStore) topicRepo() *memTopics       { return &memTopics{m} }
func (m *memStore) phoneRepo() *memPhones       { return &memPhones{m} }
func (m *memStore) scheduleRepo() *memSchedules { return &memSchedules{m} }
func (m *memStore) runRepo() *memRuns           { return &memRuns{m} }

func (m *memStore) schedule(id string) domain.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id]
}

func (m *memStore) phone(id string) domain.PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phones[id]
}

func (m *memStore) allRuns() []domain.DeliveryRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DeliveryRun(nil), m.runs...)
}

type memUsers struct{ s *memStore }

var _ repository.UserRepository = (*memUsers)(nil)

func (r *memUsers) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return domain.ErrConflict
		}
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) UpdateTier(_ context.Context, id string, tier domain.Tier, changedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.TierChangedAt != nil && u.TierChangedAt.After(changedAt) {
		return false, nil
	}
	u.SubscriptionTier = tier
	u.TierChangedAt = &changedAt
	r.s.users[id] = u
	return true, nil
}

type memTopics struct{ s *memStore }

var _ repository.TopicRepository = (*memTopics)(nil)

func (r *memTopics) Create(_ context.Context, t *domain.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.topics[t.ID] = *t
	return nil
}

func (r *memTopics) GetByID(_ context.Context, id string) (*domain.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *memTopics) ListByOwner(_ context.Context, ownerID string) ([]domain.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Topic
	for _, t := range r.s.topics {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTopics) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	topics, _ := r.ListByOwner(ctx, ownerID)
	return int64(len(topics)), nil
}

func (r *memTopics) DeleteCascade(_ context.Context, ownerID string, id string, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok || t.OwnerID != ownerID {
		return 0, domain.ErrNotFound
	}
	delete(r.s.topics, id)

	var orphaned int64
	for sid, sched := range r.s.schedules {
		if sched.TopicID == id && sched.OrphanedAt == nil {
			sched.Active = false
			sched.OrphanedAt = &now
			r.s.schedules[sid] = sched
			orphaned++
		}
	}
	return orphaned, nil
}

type memPhones struct{ s *memStore }

var _ repository.PhoneNumberRepository = (*memPhones)(nil)

func (r *memPhones) Create(_ context.Context, p *domain.PhoneNumber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.phones {
		if existing.OwnerID == p.OwnerID && existing.E164 == p.E164 {
			return domain.ErrDuplicateNumber
		}
	}
	r.s.phones[p.ID] = *p
	return nil
}

func (r *memPhones) GetByID(_ context.Context, id string) (*domain.PhoneNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.phones[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *memPhones) ListByOwner(_ context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PhoneNumber
	for _, p := range r.s.phones {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].E164 < out[j].E164 })
	return out, nil
}

func (r *memPhones) ListVerifiedByOwner(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	all, _ := r.ListByOwner(ctx, ownerID)
	var out []domain.PhoneNumber
	for _, p := range all {
		if p.State == domain.PhoneStateVerified {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPhones) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	all, _ := r.ListByOwner(ctx, ownerID)
	var n int64
	for _, p := range all {
		if p.State != domain.PhoneStateRevoked {
			n++
		}
	}
	return n, nil
}

func (r *memPhones) pending(id string, fn func(p *domain.PhoneNumber)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.phones[id]
	if !ok || p.State != domain.PhoneStatePending {
		return domain.ErrConflict
	}
	fn(&p)
	r.s.phones[id] = p
	return nil
}

func (r *memPhones) IncrementAttempts(_ context.Context, id string, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.phones[id]
	if !ok || p.State != domain.PhoneStatePending {
		return 0, domain.ErrConflict
	}
	if p.AttemptCount >= domain.MaxVerificationAttempts {
		return 0, domain.ErrTooManyAttempts
	}
	p.AttemptCount++
	p.UpdatedAt = now
	r.s.phones[id] = p
	return p.AttemptCount, nil
}

func (r *memPhones) MarkVerified(_ context.Context, id string, code string, verifiedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.phones[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := p.AcceptsCode(verifiedAt); err != nil {
		return err
	}
	if p.VerificationCode != code {
		return domain.ErrCodeMismatch
	}
	p.State = domain.PhoneStateVerified
	p.VerifiedAt = &verifiedAt
	p.VerificationCode = ""
	p.CodeExpiresAt = nil
	p.UpdatedAt = verifiedAt
	r.s.phones[id] = p
	return nil
}

func (r *memPhones) ReissueCode(_ context.Context, id string, code string, expiresAt time.Time) error {
	return r.pending(id, func(p *domain.PhoneNumber) {
		p.VerificationCode = code
		p.CodeExpiresAt = &expiresAt
		p.AttemptCount = 0
	})
}

func (r *memPhones) Revoke(_ context.Context, id string, revokedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.phones[id]
	if !ok || p.State == domain.PhoneStateRevoked {
		return nil
	}
	p.State = domain.PhoneStateRevoked
	p.RevokedAt = &revokedAt
	p.VerificationCode = ""
	p.CodeExpiresAt = nil
	r.s.phones[id] = p
	return nil
}

type memSchedules struct{ s *memStore }

var _ repository.ScheduleRepository = (*memSchedules)(nil)

func (r *memSchedules) Create(_ context.Context, sched *domain.Schedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.schedules[sched.ID] = *sched
	return nil
}

func (r *memSchedules) GetByID(_ context.Context, id string) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sched, nil
}

func (r *memSchedules) ListByOwner(_ context.Context, ownerID string) ([]domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Schedule
	for _, sched := range r.s.schedules {
		if sched.OwnerID == ownerID {
			out = append(out, sched)
		}
	}
	return out, nil
}

func (r *memSchedules) CountByOwner(_ context.Context, ownerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sched := range r.s.schedules {
		if sched.OwnerID == ownerID && sched.OrphanedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *memSchedules) Update(_ context.Context, id string, update repository.ScheduleUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.schedules[id]
	if !ok || sched.OrphanedAt != nil {
		return domain.ErrNotFound
	}
	if update.Active != nil {
		sched.Active = *update.Active
	}
	if update.Frequency != nil {
		sched.Frequency = *update.Frequency
	}
	if update.TimeOfDay != nil {
		sched.TimeOfDay = *update.TimeOfDay
	}
	if update.NextDueAt != nil {
		sched.NextDueAt = *update.NextDueAt
	}
	r.s.schedules[id] = sched
	return nil
}

func claimable(sched domain.Schedule, staleBefore time.Time) bool {
	return sched.ClaimToken == nil || (sched.ClaimedAt != nil && sched.ClaimedAt.Before(staleBefore))
}

func (r *memSchedules) ListDue(_ context.Context, now time.Time, staleBefore time.Time, limit int) ([]domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Schedule
	for _, sched := range r.s.schedules {
		if sched.Active && sched.OrphanedAt == nil && !sched.NextDueAt.After(now) && claimable(sched, staleBefore) {
			out = append(out, sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(out[j].NextDueAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSchedules) Claim(_ context.Context, req repository.ClaimRequest) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.schedules[req.ScheduleID]
	if !ok || sched.OrphanedAt != nil || !claimable(sched, req.StaleBefore) {
		return false, nil
	}
	if req.RequireDue && (!sched.Active || sched.NextDueAt.After(req.Now)) {
		return false, nil
	}
	token := req.Token
	claimedAt := req.Now
	sched.ClaimToken = &token
	sched.ClaimedAt = &claimedAt
	r.s.schedules[req.ScheduleID] = sched
	return true, nil
}

func (r *memSchedules) releaseWith(id, token string, fn func(sched *domain.Schedule)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.schedules[id]
	if !ok || sched.ClaimToken == nil || *sched.ClaimToken != token {
		return domain.ErrClaimLost
	}
	fn(&sched)
	sched.ClaimToken = nil
	sched.ClaimedAt = nil
	r.s.schedules[id] = sched
	return nil
}

func (r *memSchedules) Complete(_ context.Context, id string, token string, lastRunAt time.Time, nextDueAt time.Time) error {
	return r.releaseWith(id, token, func(sched *domain.Schedule) {
		sched.LastRunAt = &lastRunAt
		sched.NextDueAt = nextDueAt
	})
}

func (r *memSchedules) Release(_ context.Context, id string, token string, nextDueAt *time.Time) error {
	return r.releaseWith(id, token, func(sched *domain.Schedule) {
		if nextDueAt != nil {
			sched.NextDueAt = *nextDueAt
		}
	})
}

func (r *memSchedules) DeactivateClaimed(_ context.Context, id string, token string) error {
	return r.releaseWith(id, token, func(sched *domain.Schedule) {
		sched.Active = false
	})
}

type memRuns struct{ s *memStore }

var _ repository.DeliveryRunRepository = (*memRuns)(nil)

func (r *memRuns) Create(_ context.Context, run *domain.DeliveryRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.runs = append(r.s.runs, *run)
	return nil
}

func (r *memRuns) ListBySchedule(_ context.Context, scheduleID string, limit int) ([]domain.DeliveryRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.DeliveryRun
	for i := len(r.s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.runs[i].ScheduleID == scheduleID {
			out = append(out, r.s.runs[i])
		}
	}
	return out, nil
}

type fakeContent struct {
	mu      sync.Mutex
	calls   int
	fetchFn func(ctx context.Context, q provider.ContentQuery) (*provider.ContentBundle, error)
}

func (f *fakeContent) Fetch(ctx context.Context, q provider.ContentQuery) (*provider.ContentBundle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fetchFn == nil {
		return &provider.ContentBundle{Articles: []provider.Article{{Title: "AI news", Source: "wire", Link: "https://n/1"}}}, nil
	}
	return f.fetchFn(ctx, q)
}

func (f *fakeContent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentMessage struct {
	Phone string
	Body  string
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, phone, body string) (*provider.SendResult, error)
}

func (f *fakeTransport) Send(ctx context.Context, phone, body string) (*provider.SendResult, error) {
	if f.sendFn != nil {
		if res, err := f.sendFn(ctx, phone, body); err != nil {
			return res, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Phone: phone, Body: body})
	return &provider.SendResult{StatusCode: 201, MessageID: "SM" + strings.TrimPrefix(phone, "+")}, nil
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeThrottle struct {
	mu    sync.Mutex
	waits []string
}

func (f *fakeThrottle) Wait(_ context.Context, sender string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, sender)
	return nil
}

type fakeRunPublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRunPublisher) PublishRun(_ context.Context, msg queue.RunEventMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, string(msg.Status))
	return nil
}

func (f *fakeRunPublisher) Close() error { return nil }

func (f *fakeRunPublisher) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func seedUser(store *memStore, id string, tier domain.Tier) domain.User {
	u := domain.User{ID: id, Email: id + "@example.com", SubscriptionTier: tier, Timezone: "UTC"}
	store.users[id] = u
	return u
}

func seedTopic(store *memStore, id, ownerID string) domain.Topic {
	t := domain.Topic{ID: id, OwnerID: ownerID, Name: "AI", Keywords: []string{"ai"}, CountryCode: "us", Language: "en"}
	store.topics[id] = t
	return t
}

func seedVerifiedPhone(store *memStore, id, ownerID, e164 string) domain.PhoneNumber {
	p := domain.PhoneNumber{ID: id, OwnerID: ownerID, E164: e164, State: domain.PhoneStateVerified}
	store.phones[id] = p
	return p
}

func noSleep(context.Context, time.Duration) error { return nil }
