package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/mentorship-hub/internal/application/command"
	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type requestMentorshipBody struct {
	StudentUID string   `json:"student_uid"`
	MentorUID  string   `json:"mentor_uid"`
	Goals      []string `json:"goals"`
}

type respondBody struct {
	Decision string `json:"decision"`
}

type terminateBody struct {
	Reason   string `json:"reason"`
	Graceful bool   `json:"graceful"`
}

type annotateBody struct {
	Goals []string `json:"goals"`
	Note  string   `json:"note"`
}

type saveUserBody struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio"`
	Skills    []string `json:"skills"`
	Interests []string `json:"interests"`
	IsActive  *bool    `json:"is_active"`

	ExpertiseCategories []string `json:"expertise_categories"`
	YearsOfExperience   int      `json:"years_of_experience"`
	MaxMentees          *int     `json:"max_mentees"`
	Rating              float64  `json:"rating"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

// mentorCapacity is the mentor's counter after a write.
type mentorCapacity struct {
	UID            string `json:"uid"`
	CurrentMentees int    `json:"current_mentees"`
	MaxMentees     int    `json:"max_mentees"`
	OpenSlots      int    `json:"open_slots"`
}

type mentorshipResponse struct {
	Mentorship query.EdgeDTO   `json:"mentorship"`
	Mentor     *mentorCapacity `json:"mentor,omitempty"`
}

func newMentorshipResponse(edge *mentorship.Edge, mentor *mentorship.UserNode) mentorshipResponse {
	resp := mentorshipResponse{Mentorship: query.NewEdgeDTO(edge)}
	if mentor != nil && mentor.Mentor != nil {
		resp.Mentor = &mentorCapacity{
			UID:            mentor.UID.String(),
			CurrentMentees: mentor.Mentor.CurrentMentees,
			MaxMentees:     mentor.Mentor.MaxMentees,
			OpenSlots:      mentor.Mentor.OpenSlots(),
		}
	}
	return resp
}

type userResponse struct {
	Profile        mentorship.ProfileSummary `json:"profile"`
	IsActive       bool                      `json:"is_active"`
	CurrentMentees *int                      `json:"current_mentees,omitempty"`
	MaxMentees     *int                      `json:"max_mentees,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MATCHING & QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleFindCandidates(w http.ResponseWriter, r *http.Request) {
	q := query.FindCandidatesQuery{
		StudentUID: chi.URLParam(r, "uid"),
		Category:   r.URL.Query().Get("category"),
		Exclude:    splitList(r.URL.Query().Get("exclude")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, r, http.StatusBadRequest, codeInvalidRequest, "limit must be a non-negative integer", nil)
			return
		}
		q.Limit = limit
	}

	res, err := s.deps.Candidates.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleListPendingForMentor(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pending.ListForMentor(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleListPendingForStudent(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pending.ListForStudent(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetMentorship(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Mentorship.Handle(r.Context(), query.GetMentorshipQuery{
		StudentUID: chi.URLParam(r, "studentUID"),
		MentorUID:  chi.URLParam(r, "mentorUID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRequestMentorship(w http.ResponseWriter, r *http.Request) {
	var body requestMentorshipBody
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.deps.Lifecycle.Request.Handle(r.Context(), command.RequestMentorshipCommand{
		StudentUID:    body.StudentUID,
		MentorUID:     body.MentorUID,
		Goals:         body.Goals,
		CorrelationID: requestID(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newMentorshipResponse(res.Edge, nil))
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body respondBody
	if !s.decode(w, r, &body) {
		return
	}
	student, mentor := chi.URLParam(r, "studentUID"), chi.URLParam(r, "mentorUID")

	res, err := s.deps.Lifecycle.Respond.Handle(r.Context(), command.RespondMentorshipCommand{
		StudentUID:    student,
		MentorUID:     mentor,
		Decision:      body.Decision,
		CorrelationID: requestID(r),
	})
	if err != nil {
		if shared.IsCapacityExceeded(err) {
			s.writeCapacityExceeded(w, r, err, student, mentor)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newMentorshipResponse(res.Edge, res.Mentor))
}

// writeCapacityExceeded adds the next-ranked mentor to the error. The
// student is only offered it; nothing is requested on their behalf.
func (s *Server) writeCapacityExceeded(w http.ResponseWriter, r *http.Request, err error, student, fullMentor string) {
	m := mapError(err)
	details := map[string]any{"mentor_uid": fullMentor}

	if s.deps.SuggestNextCandidate() {
		next, nextErr := s.deps.Candidates.NextCandidate(r.Context(), student, fullMentor)
		switch {
		case nextErr != nil:
			logger.FromContext(r.Context()).Warn("next candidate lookup failed",
				logger.StudentUID(student), logger.Err(nextErr))
		case next != nil:
			details["next_candidate"] = next
		default:
			details["next_candidate"] = nil
		}
	}
	writeJSONError(w, r, m.status, m.code, m.message, details)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var body terminateBody
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.deps.Lifecycle.Terminate.Handle(r.Context(), command.TerminateMentorshipCommand{
		StudentUID:    chi.URLParam(r, "studentUID"),
		MentorUID:     chi.URLParam(r, "mentorUID"),
		Reason:        body.Reason,
		Graceful:      body.Graceful,
		CorrelationID: requestID(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newMentorshipResponse(res.Edge, res.Mentor))
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var body annotateBody
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.deps.Lifecycle.Annotate.Handle(r.Context(), command.AnnotateMentorshipCommand{
		StudentUID: chi.URLParam(r, "studentUID"),
		MentorUID:  chi.URLParam(r, "mentorUID"),
		Goals:      body.Goals,
		Note:       body.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newMentorshipResponse(res.Edge, nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleSaveUser(w http.ResponseWriter, r *http.Request) {
	var body saveUserBody
	if !s.decode(w, r, &body) {
		return
	}

	params := mentorship.NewUserParams{
		UID:                 chi.URLParam(r, "uid"),
		Type:                mentorship.UserType(strings.TrimSpace(body.Type)),
		Name:                body.Name,
		Bio:                 body.Bio,
		Skills:              body.Skills,
		Interests:           body.Interests,
		IsActive:            true,
		ExpertiseCategories: body.ExpertiseCategories,
		YearsOfExperience:   body.YearsOfExperience,
		MaxMentees:          body.MaxMentees,
		Rating:              body.Rating,
	}
	if body.IsActive != nil {
		params.IsActive = *body.IsActive
	}

	user, err := s.deps.Lifecycle.SaveProfile.Handle(r.Context(), command.SaveProfileCommand{Profile: params})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := userResponse{Profile: user.Summary(), IsActive: user.IsActive}
	if user.Mentor != nil {
		resp.CurrentMentees = &user.Mentor.CurrentMentees
		resp.MaxMentees = &user.Mentor.MaxMentees
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	repair := false
	if raw := r.URL.Query().Get("repair"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, codeInvalidRequest, "repair must be a boolean", nil)
			return
		}
		repair = v
	}

	res, err := s.deps.Lifecycle.Reconcile.Handle(r.Context(), command.ReconcileCapacityCommand{Repair: repair})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body. An empty body decodes to the zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, codeInvalidRequest, "request body too large", nil)
		return false
	}
	writeJSONError(w, r, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body", nil)
	return false
}

// writeError maps a domain error and logs what the client cannot see.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	m := mapError(err)
	if m.status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("code", m.code),
			logger.Err(err),
		)
	}
	writeJSONError(w, r, m.status, m.code, m.message, nil)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
