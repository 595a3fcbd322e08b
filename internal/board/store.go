package board

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
)

type AnswerFetcher interface {
	ListAnswers(ctx context.Context, questionID ID) ([]Answer, error)
}

type NoticeKind int

const (
	NoticeQuestionAdded NoticeKind = iota
	NoticeQuestionUpdated
	NoticeQuestionsReplaced
	NoticeAnswerAdded
	NoticeBackgroundAnswer
	NoticeAnswersRefreshed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeQuestionAdded:
		return "question_added"
	case NoticeQuestionUpdated:
		return "question_updated"
	case NoticeQuestionsReplaced:
		return "questions_replaced"
	case NoticeAnswerAdded:
		return "answer_added"
	case NoticeBackgroundAnswer:
		return "background_answer"
	case NoticeAnswersRefreshed:
		return "answers_refreshed"
	}
	return "unknown"
}

type Notice struct {
	Kind       NoticeKind
	QuestionID ID
	AnswerID   ID
}

var ErrNoFetcher = errors.New("board: no answer fetcher configured")

// Store owns the question list, the per-question answer cache and the
// answer list of the active question. Every mutation holds the lock for
// its whole read-modify-write.
type Store struct {
	mu sync.Mutex

	questions []Question
	answers   map[ID][]Answer

	active    ID
	hasActive bool
	view      []Answer

	fetchSeq  map[ID]uint64
	committed map[ID]uint64

	fetcher AnswerFetcher
	notices chan Notice
	logger  *slog.Logger
}

type StoreOption func(*Store)

func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNoticeBuffer(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.notices = make(chan Notice, n)
		}
	}
}

func NewStore(fetcher AnswerFetcher, opts ...StoreOption) *Store {
	s := &Store{
		answers:   map[ID][]Answer{},
		fetchSeq:  map[ID]uint64{},
		committed: map[ID]uint64{},
		fetcher:   fetcher,
		notices:   make(chan Notice, 64),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notices delivers change hints to the renderer. Sends never block; when
// the buffer is full the notice is dropped and the next snapshot read
// still sees the change.
func (s *Store) Notices() <-chan Notice { return s.notices }

func (s *Store) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
	}
}

// ApplyNewQuestion inserts q at the front unless its id is already known.
func (s *Store) ApplyNewQuestion(q Question) bool {
	if q.ID == "" {
		return false
	}
	if q.Author == "" {
		q.Author = Anonymous
	}
	s.mu.Lock()
	if s.indexOfLocked(q.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.questions = append([]Question{q}, s.questions...)
	s.mu.Unlock()
	s.notify(Notice{Kind: NoticeQuestionAdded, QuestionID: q.ID})
	return true
}

// ApplyQuestionUpdate replaces the stored record with the same id, keeping
// the previous display name when the update carries none. Unknown ids are
// ignored.
func (s *Store) ApplyQuestionUpdate(q Question) bool {
	s.mu.Lock()
	i := s.indexOfLocked(q.ID)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("question update for unknown id ignored", "question_id", q.ID)
		return false
	}
	if q.Author == "" {
		q.Author = s.questions[i].Author
	}
	s.questions[i] = q
	s.mu.Unlock()
	s.notify(Notice{Kind: NoticeQuestionUpdated, QuestionID: q.ID})
	return true
}

// ApplyNewAnswer records a in the cache of its question, and in the view
// when that question is active. Duplicates by id are ignored in both.
func (s *Store) ApplyNewAnswer(a Answer) bool {
	if a.ID == "" || a.QuestionID == "" {
		return false
	}
	if a.Author == "" {
		a.Author = Anonymous
	}
	s.mu.Lock()
	cached, changed := appendAnswer(s.answers[a.QuestionID], a)
	if changed {
		s.answers[a.QuestionID] = cached
	}
	activeHit := s.hasActive && s.active == a.QuestionID
	if activeHit {
		var viewChanged bool
		s.view, viewChanged = appendAnswer(s.view, a)
		changed = changed || viewChanged
	}
	s.mu.Unlock()

	if !changed {
		return false
	}
	kind := NoticeBackgroundAnswer
	if activeHit {
		kind = NoticeAnswerAdded
	}
	s.notify(Notice{Kind: kind, QuestionID: a.QuestionID, AnswerID: a.ID})
	return true
}

// ReplaceQuestions swaps the whole list for a fetched snapshot, keeping the
// first record of any duplicated id.
func (s *Store) ReplaceQuestions(qs []Question) {
	seen := make(map[ID]struct{}, len(qs))
	next := make([]Question, 0, len(qs))
	for _, q := range qs {
		if q.ID == "" {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		if q.Author == "" {
			q.Author = Anonymous
		}
		next = append(next, q)
	}
	s.mu.Lock()
	s.questions = next
	s.mu.Unlock()
	s.notify(Notice{Kind: NoticeQuestionsReplaced})
}

// Refresh tracks the background refetch started by ActivateQuestion.
type Refresh struct {
	QuestionID ID
	done       chan struct{}
	err        error
}

// Wait blocks until the refetch lands or ctx ends.
func (r *Refresh) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActivateQuestion makes id the active question, serves its cached answers
// immediately and refetches the authoritative list in the background. The
// refetch always replaces the cache; it replaces the view only if id is
// still active when it lands.
func (s *Store) ActivateQuestion(ctx context.Context, id ID) ([]Answer, *Refresh) {
	s.mu.Lock()
	s.active = id
	s.hasActive = true
	s.view = cloneAnswers(s.answers[id])
	stale := cloneAnswers(s.view)
	s.fetchSeq[id]++
	seq := s.fetchSeq[id]
	s.mu.Unlock()

	r := &Refresh{QuestionID: id, done: make(chan struct{})}
	if s.fetcher == nil {
		r.err = ErrNoFetcher
		close(r.done)
		return stale, r
	}
	go s.refetch(ctx, id, seq, r)
	return stale, r
}

func (s *Store) refetch(ctx context.Context, id ID, seq uint64, r *Refresh) {
	defer close(r.done)
	fresh, err := s.fetcher.ListAnswers(ctx, id)
	if err != nil {
		s.logger.Warn("answer refetch failed", "question_id", id, "err", err)
		r.err = err
		return
	}
	fresh = dedupAnswers(fresh, id)

	s.mu.Lock()
	if seq < s.committed[id] {
		s.mu.Unlock()
		s.logger.Debug("stale answer refetch discarded", "question_id", id, "seq", seq)
		return
	}
	s.committed[id] = seq
	s.answers[id] = fresh
	stillActive := s.hasActive && s.active == id
	if stillActive {
		s.view = cloneAnswers(fresh)
	}
	s.mu.Unlock()

	if stillActive {
		s.notify(Notice{Kind: NoticeAnswersRefreshed, QuestionID: id})
	}
}

// DeactivateQuestion clears the active question. The cache is kept.
func (s *Store) DeactivateQuestion() {
	s.mu.Lock()
	s.active = ""
	s.hasActive = false
	s.view = nil
	s.mu.Unlock()
}

func (s *Store) ActiveQuestion() (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.hasActive
}

func (s *Store) ActiveAnswers() []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAnswers(s.view)
}

func (s *Store) CachedAnswers(id ID) []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAnswers(s.answers[id])
}

func (s *Store) Question(id ID) (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfLocked(id); i >= 0 {
		return s.questions[i], true
	}
	return Question{}, false
}

// SortedQuestions returns a copy ordered Escalated first, then newest first,
// then by id.
func (s *Store) SortedQuestions() []Question {
	s.mu.Lock()
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	s.mu.Unlock()
	SortQuestions(out)
	return out
}

func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		ae, be := a.Status == StatusEscalated, b.Status == StatusEscalated
		if ae != be {
			return ae
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.Less(b.ID)
	})
}

func (s *Store) indexOfLocked(id ID) int {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return i
		}
	}
	return -1
}

func appendAnswer(list []Answer, a Answer) ([]Answer, bool) {
	for _, existing := range list {
		if existing.ID == a.ID {
			return list, false
		}
	}
	return append(list, a), true
}

func dedupAnswers(list []Answer, questionID ID) []Answer {
	out := make([]Answer, 0, len(list))
	seen := make(map[ID]struct{}, len(list))
	for _, a := range list {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		if a.QuestionID == "" {
			a.QuestionID = questionID
		}
		if a.Author == "" {
			a.Author = Anonymous
		}
		out = append(out, a)
	}
	return out
}

func cloneAnswers(list []Answer) []Answer {
	if list == nil {
		return nil
	}
	out := make([]Answer, len(list))
	copy(out, list)
	return out
}
