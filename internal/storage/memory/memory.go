// Package memory is an in-process storage.Repository. It backs usecase tests
// that need real locking semantics across many goroutines, which mocks cannot
// provide.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage"
)

type Store struct {
	mu sync.Mutex

	projects   map[uint]model.Project
	operators  map[uint]model.Operator
	membership map[uint]map[uint]struct{}
	bots       map[uint]model.Bot
	counters   map[uint]int64

	leads    map[uint]*model.Lead
	byChat   map[int64]uint
	messages map[uint][]model.Message

	nextLeadID    uint
	nextMessageID uint
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		projects:   make(map[uint]model.Project),
		operators:  make(map[uint]model.Operator),
		membership: make(map[uint]map[uint]struct{}),
		bots:       make(map[uint]model.Bot),
		counters:   make(map[uint]int64),
		leads:      make(map[uint]*model.Lead),
		byChat:     make(map[int64]uint),
		messages:   make(map[uint][]model.Message),
	}
}

// --- seeding ---

func (s *Store) AddProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// AddOperator stores op and links it to the given projects.
func (s *Store) AddOperator(op model.Operator, projectIDs ...uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[op.ID] = op
	for _, pid := range projectIDs {
		if s.membership[pid] == nil {
			s.membership[pid] = make(map[uint]struct{})
		}
		s.membership[pid][op.ID] = struct{}{}
	}
}

func (s *Store) AddBot(b model.Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
}

// Counter reads the cursor without advancing it.
func (s *Store) Counter(projectID uint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[projectID]
}

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

// --- CounterRepo ---

func (s *Store) NextCounter(_ context.Context, projectID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[projectID]
	s.counters[projectID] = v + 1
	return v, nil
}

func (s *Store) ListEligibleOperators(_ context.Context, projectID uint) ([]model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Operator
	for id := range s.membership[projectID] {
		op, ok := s.operators[id]
		if ok && op.IsActive && op.Role == identity.RoleManager {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- DirectoryRepo ---

func (s *Store) FindBotByIdentifier(_ context.Context, identifier string) (*model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bots {
		if b.Identifier == identifier {
			bot := b
			return &bot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrBotNotFound, identifier)
}

func (s *Store) FindBotByID(_ context.Context, id uint) (*model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrBotNotFound, id)
	}
	return &b, nil
}

func (s *Store) ListActiveBots(context.Context) ([]model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Bot
	for _, b := range s.bots {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateBotWebhookURL(_ context.Context, botID uint, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return fmt.Errorf("%w: id %d", apperrors.ErrBotNotFound, botID)
	}
	b.WebhookURL = url
	s.bots[botID] = b
	return nil
}

func (s *Store) FindOperatorByID(_ context.Context, id uint) (*model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return nil, fmt.Errorf("%w: operator %d", apperrors.ErrNotFound, id)
	}
	return &op, nil
}

func (s *Store) FindOperatorByUsername(_ context.Context, username string) (*model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.operators {
		if op.Username == username {
			found := op
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: operator %s", apperrors.ErrNotFound, username)
}

func (s *Store) FindProjectByID(_ context.Context, id uint) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %d", apperrors.ErrNotFound, id)
	}
	return &p, nil
}

// --- LeadRepo ---

func (s *Store) CreateLeadWithMessage(_ context.Context, lead *model.Lead, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byChat[lead.TelegramChatID]; exists {
		return fmt.Errorf("%w: chat %d", apperrors.ErrDuplicateChatID, lead.TelegramChatID)
	}
	s.nextLeadID++
	lead.ID = s.nextLeadID
	stored := *lead
	s.leads[lead.ID] = &stored
	s.byChat[lead.TelegramChatID] = lead.ID
	if msg != nil {
		s.appendMessage(lead.ID, msg)
	}
	return nil
}

func (s *Store) appendMessage(leadID uint, msg *model.Message) {
	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.LeadID = leadID
	s.messages[leadID] = append(s.messages[leadID], *msg)
}

func (s *Store) FindLeadByID(_ context.Context, id uint) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrLeadNotFound, id)
	}
	out := *l
	return &out, nil
}

func (s *Store) FindLeadByChatID(_ context.Context, chatID int64) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChat[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %d", apperrors.ErrLeadNotFound, chatID)
	}
	out := *s.leads[id]
	return &out, nil
}

func (s *Store) ListLeads(_ context.Context, f storage.LeadFilter) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.OperatorID != 0 && l.AssignedOperatorID != f.OperatorID {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListMessages(_ context.Context, leadID uint) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages[leadID]...), nil
}

// MutateLead holds the store lock for the whole mutation, which gives the same
// per-lead serialisation as a row lock.
func (s *Store) MutateLead(_ context.Context, leadID uint, fn storage.LeadMutation) (*model.Lead, *model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.leads[leadID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: id %d", apperrors.ErrLeadNotFound, leadID)
	}
	working := *stored
	change, err := fn(&working)
	if err != nil {
		return nil, nil, err
	}
	if change.Updated {
		*stored = working
	}
	if change.Message != nil {
		s.appendMessage(leadID, change.Message)
	}
	out := *stored
	return &out, change.Message, nil
}

// --- StatsRepo ---

func (s *Store) visible(l *model.Lead, operatorID uint) bool {
	return operatorID == 0 || l.AssignedOperatorID == operatorID
}

func (s *Store) Overview(_ context.Context, operatorID uint) (model.OverviewStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st model.OverviewStats
	for id, l := range s.leads {
		if !s.visible(l, operatorID) {
			continue
		}
		st.TotalLeads++
		if l.Status.IsClosed() {
			st.ClosedLeads++
		} else {
			st.ActiveLeads++
		}
		st.TotalMessages += int64(len(s.messages[id]))
	}
	for _, op := range s.operators {
		if op.Role == identity.RoleManager && op.IsActive {
			st.OperatorsCount++
		}
	}
	return st, nil
}

func (s *Store) OperatorStats(context.Context) ([]model.OperatorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OperatorStats
	for _, op := range s.operators {
		if op.Role != identity.RoleManager || !op.IsActive {
			continue
		}
		name := op.FullName
		if name == "" {
			name = op.Username
		}
		row := model.OperatorStats{OperatorID: op.ID, OperatorName: name}
		for id, l := range s.leads {
			if l.AssignedOperatorID != op.ID {
				continue
			}
			row.TotalLeads++
			if l.Status.IsClosed() {
				row.ClosedLeads++
			} else {
				row.ActiveLeads++
			}
			row.TotalMessages += int64(len(s.messages[id]))
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorID < out[j].OperatorID })
	return out, nil
}

func (s *Store) WindowStats(_ context.Context, since time.Time, operatorID uint) (model.WindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st model.WindowStats
	for id, l := range s.leads {
		if !s.visible(l, operatorID) {
			continue
		}
		if !l.CreatedAt.Before(since) {
			st.NewLeads++
		}
		if l.ClosedAt != nil && !l.ClosedAt.Before(since) {
			st.ClosedLeads++
		}
		if !l.LastUpdatedAt.Before(since) && !l.Status.IsClosed() {
			st.ActiveConversations++
		}
		for _, m := range s.messages[id] {
			if !m.CreatedAt.Before(since) {
				st.MessagesCount++
			}
		}
	}
	return st, nil
}

func (s *Store) DailyStats(_ context.Context, from, to time.Time, operatorID uint) ([]model.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inRange := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	byDay := make(map[string]*model.DailyStats)
	day := func(t time.Time) *model.DailyStats {
		key := t.UTC().Format("2006-01-02")
		if byDay[key] == nil {
			byDay[key] = &model.DailyStats{Date: key}
		}
		return byDay[key]
	}
	for id, l := range s.leads {
		if !s.visible(l, operatorID) {
			continue
		}
		if inRange(l.CreatedAt) {
			day(l.CreatedAt).NewLeads++
		}
		if l.ClosedAt != nil && inRange(*l.ClosedAt) {
			day(*l.ClosedAt).ClosedLeads++
		}
		for _, m := range s.messages[id] {
			if inRange(m.CreatedAt) {
				day(m.CreatedAt).MessagesCount++
			}
		}
	}
	out := make([]model.DailyStats, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}
