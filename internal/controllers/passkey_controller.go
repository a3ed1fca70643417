package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/dtos"
	"github.com/poofware/passkey-service/internal/middleware"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/services"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier"
)

type PasskeyController struct {
	passkeyService services.PasskeyService
	cfg            *config.Config
}

func NewPasskeyController(passkeyService services.PasskeyService, cfg *config.Config) *PasskeyController {
	return &PasskeyController{passkeyService: passkeyService, cfg: cfg}
}

var passkeyValidate = validator.New()

// statusByKind maps service error kinds to HTTP statuses. Anything not
// listed is a catch-all and answers 500.
var statusByKind = map[services.ErrorKind]int{
	services.KindSubjectNotFound:    http.StatusNotFound,
	services.KindUserNotFound:       http.StatusNotFound,
	services.KindCredentialNotFound: http.StatusNotFound,
	services.KindCredentialExists:   http.StatusConflict,
	services.KindInvalidCredential:  http.StatusUnauthorized,
	services.KindInvalidChallenge:   http.StatusBadRequest,
	services.KindVerificationFailed: http.StatusBadRequest,
	services.KindExpiredChallenge:   http.StatusGone,
}

func respondServiceError(w http.ResponseWriter, err error) {
	var pe *services.PasskeyError
	if !errors.As(err, &pe) {
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Internal server error", nil, err,
		)
		return
	}
	status, ok := statusByKind[pe.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	utils.RespondErrorWithCode(w, status, string(pe.Kind), pe.Message, nil, pe.Err)
}

// decodeAndValidate writes the 400 itself and reports whether to go on.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return false
	}
	if err := passkeyValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Request failed validation", validationDetails(err), err,
		)
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

// subjectFromToken returns the authenticated subject as a UUID.
func subjectFromToken(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Missing subject", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid subject", nil, err)
		return uuid.Nil, false
	}
	return id, true
}

// ---------------------------------------------------------------------
// POST /passkey/challenge
// ---------------------------------------------------------------------
func (c *PasskeyController) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req dtos.ChallengeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	kind := models.ChallengeType(req.Type)
	subjectID := models.DiscoverableSubjectID
	if req.SubjectID != "" {
		subjectID = uuid.MustParse(req.SubjectID)
	} else if kind == models.ChallengeTypeRegistration {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"subject_id is required for registration challenges", map[string]string{"SubjectID": "required"},
		)
		return
	}

	challenge, err := c.passkeyService.IssueChallenge(r.Context(), subjectID, kind, req.Options.ToModel())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := dtos.ChallengeResponse{
		Challenge: challenge.Challenge,
		ExpiresAt: challenge.ExpiresAt,
		RPID:      c.cfg.RPID,
		RPName:    c.cfg.RPName,
	}
	if kind == models.ChallengeTypeRegistration {
		resp.UserID = verifier.UserHandle(subjectID)
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------
// POST /passkey/register
// ---------------------------------------------------------------------
func (c *PasskeyController) Register(w http.ResponseWriter, r *http.Request) {
	var req dtos.RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = utils.GetClientPlatform(r).String()
	}

	outcome, err := c.passkeyService.Register(r.Context(), services.RegistrationInput{
		SubjectID: uuid.MustParse(req.SubjectID),
		Response:  req.Response,
		Platform:  platform,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Reactivated {
		status = http.StatusOK
	}
	utils.RespondWithJSON(w, status, dtos.RegisterResponse{
		Credential:  dtos.NewCredentialSummary(outcome.Credential),
		Reactivated: outcome.Reactivated,
		RPName:      outcome.RPName,
		RPID:        outcome.RPID,
	})
}

// ---------------------------------------------------------------------
// POST /passkey/authenticate
// ---------------------------------------------------------------------
func (c *PasskeyController) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req dtos.AuthenticateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	platform := utils.GetClientPlatform(r)
	outcome, err := c.passkeyService.Authenticate(r.Context(), services.AuthenticationInput{
		Response: req.Response,
		Metadata: req.Metadata,
		Client:   utils.GetClientIdentifier(r, platform),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.AuthenticateResponse{
		AccessToken:  outcome.Session.AccessToken,
		RefreshToken: outcome.Session.RefreshToken,
		ExpiresAt:    outcome.Session.ExpiresAt,
		Subject: dtos.SubjectSummary{
			ID:          outcome.Subject.ID,
			Email:       outcome.Subject.Email,
			DisplayName: outcome.Subject.DisplayName,
		},
		CredentialID: outcome.Credential.CredentialID,
	})
}

// ---------------------------------------------------------------------
// GET /passkey/list/{subjectId}
// ---------------------------------------------------------------------
func (c *PasskeyController) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := subjectFromToken(w, r)
	if !ok {
		return
	}
	subjectID, err := uuid.Parse(mux.Vars(r)["subjectId"])
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid subject id", nil, err)
		return
	}
	if subjectID != caller {
		utils.RespondErrorWithCode(
			w, http.StatusForbidden, utils.ErrCodeForbidden, "Cannot list another subject's passkeys", nil,
		)
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	page, err := c.passkeyService.List(r.Context(), subjectID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := dtos.ListCredentialsResponse{
		Credentials: make([]dtos.CredentialSummary, 0, len(page.Credentials)),
		Total:       page.Total,
		Limit:       page.Limit,
		Offset:      page.Offset,
	}
	for _, cred := range page.Credentials {
		resp.Credentials = append(resp.Credentials, dtos.NewCredentialSummary(cred))
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// queryInt reads an optional non-negative integer query parameter; zero
// means absent.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid "+name, map[string]string{name: raw}, err,
		)
		return 0, false
	}
	return v, true
}

// ---------------------------------------------------------------------
// POST /passkey/revoke
// ---------------------------------------------------------------------
func (c *PasskeyController) Revoke(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectFromToken(w, r)
	if !ok {
		return
	}
	var req dtos.RevokeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := c.passkeyService.Revoke(r.Context(), subjectID, req.CredentialID, req.Reason); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.RevokeResponse{Message: "Passkey revoked"})
}
