package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convhub/convhub/job"
	"github.com/convhub/convhub/user"
)

// wsUpgrader upgrades /ws connections, reusing the HTTP origin check.
func (s *HubServer) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (s *HubServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	userID := r.Header.Get("X-User-ID")
	client := newClient(conn, userID, s)
	s.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports liveness and the database's reachability.
func (s *HubServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"clients": s.clientCount(),
	})
}

func (s *HubServer) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Title       string   `json:"title"`
	Address     string   `json:"address"`
	Description string   `json:"description"`
	Price       int      `json:"price"`
	Categories  []string `json:"categories"`
	ImageRefs   []string `json:"image_refs"`
}

// HandleCreateJob creates an untaken job listed by the acting user.
func (s *HubServer) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	j, err := job.NewJob(req.Title, req.Address, req.Description, req.Price, req.Categories, actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	j.ImageRefs = req.ImageRefs

	id, err := s.store.Create(r.Context(), j)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Job created",
		"job_id", shortID(id),
		"lister", shortID(actor),
		"title", req.Title,
	)
	writeJSON(w, http.StatusCreated, j)
}

// HandleGetJob returns one job by id.
func (s *HubServer) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// HandleDeleteJob removes a job. Only its lister may delete it, and only
// while it is still untaken.
func (s *HubServer) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	jobID := r.PathValue("id")
	j, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if j.Lister != actor {
		writeError(w, http.StatusForbidden, "only the lister may delete a job")
		return
	}
	if j.Status != job.StatusUntaken {
		writeError(w, http.StatusUnprocessableEntity, "only untaken jobs can be deleted")
		return
	}

	if err := s.store.Delete(r.Context(), jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	// Best-effort cleanup of attached images
	for _, ref := range j.ImageRefs {
		if err := s.blobs.Delete(blobKey(ref)); err != nil {
			s.logger.Warnw("Failed to delete job image", "ref", ref, "error", err)
		}
	}

	s.logger.Infow("Job deleted", "job_id", shortID(jobID), "lister", shortID(actor))
	w.WriteHeader(http.StatusNoContent)
}

// HandleJobApplicants returns a job's applicant list with resolved profiles.
func (s *HubServer) HandleJobApplicants(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ids := make([]string, 0, len(j.Applicants))
	for _, a := range j.Applicants {
		ids = append(ids, a.UserID)
	}
	profiles, err := s.users.FetchApplicants(r.Context(), ids)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	byID := make(map[string]*user.User, len(profiles))
	for _, u := range profiles {
		byID[u.ID] = u
	}

	out := make([]applicantProfile, 0, len(j.Applicants))
	for _, a := range j.Applicants {
		p := applicantProfile{UserID: a.UserID, Status: string(a.Status)}
		if u, ok := byID[a.UserID]; ok {
			p.Username = u.Username
			p.PictureRef = u.PictureRef
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleApply records the acting user as a pending applicant.
func (s *HubServer) HandleApply(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	j, err := s.workflow.Apply(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// HandleUnapply withdraws the acting user's pending application.
func (s *HubServer) HandleUnapply(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	j, err := s.workflow.Unapply(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// acceptRequest is the POST /api/jobs/{id}/accept body.
type acceptRequest struct {
	ApplicantID string `json:"applicant_id"`
}

// HandleAccept accepts an applicant and assigns them as the job's taker.
func (s *HubServer) HandleAccept(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.ApplicantID == "" {
		writeError(w, http.StatusBadRequest, "applicant_id is required")
		return
	}

	j, err := s.workflow.Accept(r.Context(), r.PathValue("id"), req.ApplicantID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Applicant accepted",
		"job_id", shortID(j.ID),
		"taker", shortID(req.ApplicantID),
	)
	writeJSON(w, http.StatusOK, j)
}

// finishRequest is the POST /api/jobs/{id}/finish body. The payment proof
// is uploaded separately; only its reference travels here.
type finishRequest struct {
	PaymentProofRef string `json:"payment_proof_ref"`
}

// HandleFinish moves a taken job to finished with its payment proof.
func (s *HubServer) HandleFinish(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var req finishRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	j, err := s.workflow.Finish(r.Context(), r.PathValue("id"), req.PaymentProofRef, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Job finished", "job_id", shortID(j.ID))
	writeJSON(w, http.StatusOK, j)
}

// rateRequest is the POST /api/jobs/{id}/rate body.
type rateRequest struct {
	Rating float64 `json:"rating"`
}

// HandleRate records a rating on a finished job.
func (s *HubServer) HandleRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	j, err := s.workflow.Rate(r.Context(), r.PathValue("id"), req.Rating, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// HandleAvailableJobs lists the user's own listings still open for
// applications.
func (s *HubServer) HandleAvailableJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.queries.AvailableJobs(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, jobs)
}

// HandleTakenJobs lists jobs the user has taken or finished as taker.
func (s *HubServer) HandleTakenJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.queries.TakenJobs(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, jobs)
}

// HandlePreviousJobs lists the user's own listings past the untaken stage.
func (s *HubServer) HandlePreviousJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.queries.PreviousJobs(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, jobs)
}

// HandleJobsByDate lists jobs taken by the user on a calendar day.
// The day is interpreted in the server's local timezone and includes
// everything up to its last millisecond.
func (s *HubServer) HandleJobsByDate(w http.ResponseWriter, r *http.Request) {
	dateStr := r.URL.Query().Get("date")
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
		return
	}

	jobs := s.queries.JobsByDateAndTaker(r.Context(), date, r.PathValue("id"))
	writeJSON(w, http.StatusOK, jobs)
}

// HandleSuggestedJobs lists jobs whose category tags intersect the user's
// preferred fields, regardless of status. A user with no preferences sees
// everything.
func (s *HubServer) HandleSuggestedJobs(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.FetchByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jobs := s.queries.JobsByPreferredFields(r.Context(), u.PreferredFields)
	writeJSON(w, http.StatusOK, jobs)
}

// HandleCreateUser registers a user profile.
func (s *HubServer) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u user.User
	if err := readJSON(w, r, &u); err != nil {
		return
	}
	if u.ID == "" || u.Username == "" {
		writeError(w, http.StatusBadRequest, "id and username are required")
		return
	}

	if err := s.users.Create(r.Context(), &u); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleGetUser returns one user profile.
func (s *HubServer) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.FetchByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// preferredFieldsRequest is the PUT /api/users/{id}/preferred-fields body.
type preferredFieldsRequest struct {
	PreferredFields []string `json:"preferred_fields"`
}

// HandlePreferredFields replaces the user's preferred job categories.
func (s *HubServer) HandlePreferredFields(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")
	if actor != userID {
		writeError(w, http.StatusForbidden, "users may only update their own preferences")
		return
	}

	var req preferredFieldsRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if err := s.users.UpdatePreferredFields(r.Context(), userID, req.PreferredFields); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          userID,
		"preferred_fields": req.PreferredFields,
	})
}
