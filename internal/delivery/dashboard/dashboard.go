package dashboard

import (
	"net/http"

	"go.uber.org/zap"

	authDelivery "clash_tracker/internal/delivery/auth"
	"clash_tracker/internal/httpresponse"
	"clash_tracker/internal/middleware"
	"clash_tracker/internal/usecase/workspace"
	"clash_tracker/internal/utils"
	"clash_tracker/internal/validation"
)

type DashboardHandler struct {
	workspaces authDelivery.Workspaces
	validate   *validation.Validator
	log        *zap.SugaredLogger
}

type TagRequest struct {
	PlayerTag string `json:"player_tag" validate:"required,playertag"`
}

func NewDashboardHandler(workspaces authDelivery.Workspaces, validate *validation.Validator, log *zap.SugaredLogger) *DashboardHandler {
	return &DashboardHandler{
		workspaces: workspaces,
		validate:   validate,
		log:        log,
	}
}

func (d *DashboardHandler) workspace(r *http.Request) *workspace.Workspace {
	return d.workspaces.Get(middleware.SlotFrom(r.Context()))
}

func (d *DashboardHandler) decodeTag(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	var req TagRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		d.log.Errorf("%s: malformed JSON: %v", op, err)
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest,
			httpresponse.ErrorResponse{ErrorDescription: httpresponse.MALFORMEDJSON_errorDesc})
		return "", false
	}
	if err := d.validate.Struct(req); err != nil {
		httpresponse.WriteError(w, d.log, op, err)
		return "", false
	}
	return utils.FormatTag(req.PlayerTag), true
}

// Load godoc
// @Summary Dashboard data
// @Description Matches, friends and head-to-head standings of the logged-in user
// @Tags dashboard
// @Produce json
// @Success 200 {object} dashboard.Snapshot
// @Failure 401 {object} httpresponse.ErrorResponse
// @Router /api/dashboard [get]
func (d *DashboardHandler) Load(w http.ResponseWriter, r *http.Request) {
	snap, err := d.workspace(r).Load(r.Context())
	if err != nil {
		httpresponse.WriteError(w, d.log, "Load", err)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, snap)
}

// Sync godoc
// @Summary Pull new battles for the linked player tag
// @Tags dashboard
// @Produce json
// @Success 200 {object} dashboard.Snapshot
// @Failure 400 {object} httpresponse.ErrorResponse
// @Failure 409 {object} httpresponse.ErrorResponse
// @Failure 502 {object} httpresponse.ErrorResponse
// @Router /api/dashboard/sync [post]
func (d *DashboardHandler) Sync(w http.ResponseWriter, r *http.Request) {
	snap, err := d.workspace(r).Sync(r.Context())
	if err != nil {
		httpresponse.WriteError(w, d.log, "Sync", err)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, snap)
}

func (d *DashboardHandler) LinkTag(w http.ResponseWriter, r *http.Request) {
	tag, ok := d.decodeTag(w, r, "LinkTag")
	if !ok {
		return
	}

	v, err := d.workspace(r).LinkPlayerTag(r.Context(), tag)
	if err != nil {
		httpresponse.WriteError(w, d.log, "LinkTag", err)
		return
	}
	authDelivery.WriteView(w, d.log, v)
}

func (d *DashboardHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	tag, ok := d.decodeTag(w, r, "AddFriend")
	if !ok {
		return
	}

	snap, err := d.workspace(r).AddFriend(r.Context(), tag)
	if err != nil {
		httpresponse.WriteError(w, d.log, "AddFriend", err)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, snap)
}

func (d *DashboardHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	state, err := d.workspace(r).CreateInvite(r.Context())
	if err != nil {
		httpresponse.WriteError(w, d.log, "CreateInvite", err)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, state)
}

func (d *DashboardHandler) MarkInviteCopied(w http.ResponseWriter, r *http.Request) {
	state, err := d.workspace(r).MarkInviteCopied(r.Context())
	if err != nil {
		httpresponse.WriteError(w, d.log, "MarkInviteCopied", err)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, state)
}
