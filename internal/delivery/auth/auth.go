package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
	"clash_tracker/internal/domain/view"
	"clash_tracker/internal/httpresponse"
	"clash_tracker/internal/middleware"
	"clash_tracker/internal/usecase/workspace"
	"clash_tracker/internal/utils"
	"clash_tracker/internal/validation"
)

type Workspaces interface {
	Get(slot string) *workspace.Workspace
}

type AuthHandler struct {
	workspaces Workspaces
	validate   *validation.Validator
	log        *zap.SugaredLogger
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=32"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	PlayerTag string `json:"player_tag" validate:"omitempty,playertag"`
}

func NewAuthHandler(workspaces Workspaces, validate *validation.Validator, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		workspaces: workspaces,
		validate:   validate,
		log:        log,
	}
}

func (a *AuthHandler) workspace(r *http.Request) *workspace.Workspace {
	return a.workspaces.Get(middleware.SlotFrom(r.Context()))
}

// WriteView answers with the rendered view.
func WriteView(w http.ResponseWriter, log *zap.SugaredLogger, v view.View) {
	raw, err := view.MarshalView(v)
	if err != nil {
		log.Error("WriteView: marshal view: ", err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, json.RawMessage(raw))
}

// View godoc
// @Summary Current screen
// @Description Validates the stored session and returns the view the browser should show
// @Tags auth
// @Produce json
// @Success 200 {object} view.Render
// @Router /api/view [get]
func (a *AuthHandler) View(w http.ResponseWriter, r *http.Request) {
	WriteView(w, a.log, a.workspace(r).Start(r.Context()))
}

// Login godoc
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param login body LoginRequest true "Credentials"
// @Success 200 {object} view.Render
// @Failure 400 {object} httpresponse.ErrorResponse
// @Failure 401 {object} httpresponse.ErrorResponse
// @Failure 409 {object} httpresponse.ErrorResponse
// @Router /api/login [post]
func (a *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		a.log.Error("Login: malformed JSON: ", err)
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest,
			httpresponse.ErrorResponse{ErrorDescription: httpresponse.MALFORMEDJSON_errorDesc})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		httpresponse.WriteError(w, a.log, "Login", err)
		return
	}

	v, err := a.workspace(r).Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		httpresponse.WriteError(w, a.log, "Login", err)
		return
	}
	WriteView(w, a.log, v)
}

// Signup godoc
// @Summary Create an account and log into it
// @Description A pending invite of this browser is attached to the request
// @Tags auth
// @Accept json
// @Produce json
// @Param signup body SignupRequest true "Profile"
// @Success 200 {object} view.Render
// @Failure 400 {object} httpresponse.ErrorResponse
// @Failure 409 {object} httpresponse.ErrorResponse
// @Router /api/signup [post]
func (a *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		a.log.Error("Signup: malformed JSON: ", err)
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest,
			httpresponse.ErrorResponse{ErrorDescription: httpresponse.MALFORMEDJSON_errorDesc})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		httpresponse.WriteError(w, a.log, "Signup", err)
		return
	}

	profile := user.SignupProfile{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	}
	if req.PlayerTag != "" {
		tag := utils.FormatTag(req.PlayerTag)
		profile.PlayerTag = &tag
	}

	v, err := a.workspace(r).Signup(r.Context(), profile)
	if err != nil {
		httpresponse.WriteError(w, a.log, "Signup", err)
		return
	}
	WriteView(w, a.log, v)
}

func (a *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	v, err := a.workspace(r).Logout(r.Context())
	if err != nil {
		// the view is logged out either way
		a.log.Error("Logout: ", err)
	}
	WriteView(w, a.log, v)
}

func (a *AuthHandler) Screen(w http.ResponseWriter, r *http.Request) {
	screen := view.Screen(chi.URLParam(r, "screen"))
	v, err := a.workspace(r).ShowScreen(r.Context(), screen)
	if err != nil {
		httpresponse.WriteError(w, a.log, "Screen", err)
		return
	}
	WriteView(w, a.log, v)
}

// Invite is where invite links land. The invite is remembered for this
// browser and the user is sent to the app, which opens on the signup form.
func (a *AuthHandler) Invite(w http.ResponseWriter, r *http.Request) {
	p := invite.Pending{
		Token:       chi.URLParam(r, "token"),
		CreatorName: r.URL.Query().Get("from"),
	}
	if raw := r.URL.Query().Get("tag"); raw != "" {
		// a mangled tag in the link should not cost the friend their invite
		if tag, err := a.validate.Tag(raw); err != nil {
			a.log.Warnf("Invite: dropping target tag: %v", err)
		} else {
			p.TargetTag = &tag
		}
	}

	if _, err := a.workspace(r).AcceptInvite(r.Context(), p); err != nil {
		httpresponse.WriteError(w, a.log, "Invite", err)
		return
	}
	a.log.Infof("Invite: accepted invite from %q", p.CreatorName)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
