package devserver

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/quiz"
)

const (
	pointsPerStep      = 10
	pointsPerMemorized = 50
)

// dailySet copies sentences and marks the ones u has memorized.
func (s *Server) dailySet(u *user, id learning.ID, date string, sentences []learning.Sentence) learning.DailySet {
	set := learning.DailySet{ID: id, Date: date, Sentences: make([]learning.Sentence, len(sentences))}
	copy(set.Sentences, sentences)
	for i := range set.Sentences {
		set.Sentences[i].Memorized = u.progress[set.Sentences[i].ID].Memorized()
	}
	return set
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	set := s.dailySet(u, s.todayID, s.opts.Now().Format("2006-01-02"), s.seed.Today)
	s.mu.Unlock()
	respondWithJSON(w, http.StatusOK, set)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 10)

	s.mu.Lock()
	yesterday := s.opts.Now().AddDate(0, 0, -1).Format("2006-01-02")
	all := []learning.DailySet{s.dailySet(u, s.yesterdayID, yesterday, s.seed.Yesterday)}
	s.mu.Unlock()

	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	respondWithJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"per_page": perPage,
		"total":    len(all),
		"history":  all[start:end],
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func (s *Server) handlePushProgress(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var upd learning.ProgressUpdate
	if err := decodeBody(w, r, &upd); err != nil || upd.SentenceID == "" {
		respondWithError(w, http.StatusBadRequest, "sentence_id is required")
		return
	}
	if _, ok := s.seed.find(upd.SentenceID); !ok {
		respondWithError(w, http.StatusNotFound, "unknown sentence")
		return
	}

	s.mu.Lock()
	p := s.applyUpdateLocked(u, upd)
	s.mu.Unlock()

	s.logger.Debug("progress pushed",
		zap.Int("user_id", u.id),
		zap.String("sentence_id", upd.SentenceID.String()),
		zap.Strings("fields", upd.Fields()),
	)
	respondWithJSON(w, http.StatusOK, record(upd.SentenceID, p))
}

// applyUpdateLocked merges the flags carried by upd. Memorized never reverts.
func (s *Server) applyUpdateLocked(u *user, upd learning.ProgressUpdate) learning.SentenceProgress {
	p, ok := u.progress[upd.SentenceID]
	if !ok {
		p = learning.NewProgress()
	}
	before := p
	set := func(dst *bool, v *bool) {
		if v != nil && !p.Memorized() {
			*dst = *v
		}
	}
	set(&p.Understand, upd.Understand)
	set(&p.Speak, upd.Speak)
	set(&p.Check, upd.Confirm)
	if upd.QuizCompleted != nil && *upd.QuizCompleted {
		p.QuizCompleted = true
	}
	if upd.Memorized != nil && *upd.Memorized {
		p.Status = learning.StatusMemorized
		p.Understand, p.Speak, p.Check = true, true, true
	}
	if !p.Memorized() {
		p.Status = learning.StatusNotStarted
		if p.Understand || p.Speak || p.Check || p.QuizCompleted {
			p.Status = learning.StatusInProgress
		}
	}

	for _, step := range learning.Steps {
		if p.Step(step) && !before.Step(step) {
			u.points += pointsPerStep
		}
	}
	if p.Memorized() && !before.Memorized() {
		u.points += pointsPerMemorized
	}
	u.progress[upd.SentenceID] = p
	return p
}

func record(id learning.ID, p learning.SentenceProgress) learning.ProgressRecord {
	return learning.ProgressRecord{
		SentenceID:    id,
		Understand:    p.Understand,
		Speak:         p.Speak,
		Confirm:       p.Check,
		Memorized:     p.Memorized(),
		QuizCompleted: p.QuizCompleted,
	}
}

func (s *Server) handleProgressSnapshot(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	sentences := s.seed.Today
	if learning.ID(r.URL.Query().Get("daily_set_id")) == s.yesterdayID {
		sentences = s.seed.Yesterday
	}

	s.mu.Lock()
	records := make([]learning.ProgressRecord, 0, len(sentences))
	for _, sen := range sentences {
		if p, ok := u.progress[sen.ID]; ok {
			records = append(records, record(sen.ID, p))
		}
	}
	s.mu.Unlock()
	respondWithJSON(w, http.StatusOK, map[string]any{"progress": records})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var sub learning.QuizSubmission
	if err := decodeBody(w, r, &sub); err != nil || sub.SentenceID == "" {
		respondWithError(w, http.StatusBadRequest, "sentence_id is required")
		return
	}
	sen, ok := s.seed.find(sub.SentenceID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "unknown sentence")
		return
	}
	if !sen.Quiz.HasAny() {
		respondWithError(w, http.StatusUnprocessableEntity, "sentence has no quiz")
		return
	}

	var res learning.QuizResult
	var fbOK, ordOK bool
	if sen.Quiz.FillBlank != nil {
		fbOK = quiz.EvaluateFillBlank(sen.Quiz.FillBlank, sub.FillBlankAnswer)
		res.FillBlankCorrect = &fbOK
	}
	if sen.Quiz.Ordering != nil {
		ordOK = quiz.EvaluateOrdering(sen.Quiz.Ordering, quiz.FragmentsAt(sen.Quiz.Ordering, sub.OrderingAnswer))
		res.OrderingCorrect = &ordOK
	}
	res.AllCorrect = quiz.IsFullyQuizzed(sen.Quiz, fbOK, ordOK)

	s.mu.Lock()
	if res.AllCorrect {
		done := true
		s.applyUpdateLocked(u, learning.ProgressUpdate{SentenceID: sen.ID, QuizCompleted: &done, Memorized: &done})
	}
	res.Memorized = u.progress[sen.ID].Memorized()
	s.mu.Unlock()

	respondWithJSON(w, http.StatusOK, res)
}
