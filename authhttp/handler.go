// Package authhttp exposes the auth coordinator over HTTP with go-router.
package authhttp

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	auth "github.com/tradepulse/go-auth"
)

// Service is the coordinator surface the handlers need.
type Service interface {
	State() auth.AuthState
	Phase() auth.Phase
	IndustrySelected() bool
	IsAdmin() bool
	HasPermission(permission auth.Permission) bool
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error)
	Logout(ctx context.Context) error
	RefreshToken(ctx context.Context) error
	SetIndustry(ctx context.Context, industry string) error
	ClearError()
}

// Routes holds the mount paths, relative to the group prefix.
type Routes struct {
	State      string
	Login      string
	Register   string
	Logout     string
	Refresh    string
	Error      string
	Industry   string
	Permission string
	Claims     string
}

func DefaultRoutes() Routes {
	return Routes{
		State:      "/state",
		Login:      "/login",
		Register:   "/register",
		Logout:     "/logout",
		Refresh:    "/refresh",
		Error:      "/error",
		Industry:   "/industry",
		Permission: "/permissions/:permission",
		Claims:     "/claims",
	}
}

// Handler serves the auth endpoints.
type Handler struct {
	service        Service
	verifier       TokenVerifier
	logger         auth.Logger
	routes         Routes
	requestTimeout time.Duration
}

type HandlerOption func(*Handler)

func WithHandlerLogger(logger auth.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTokenVerifier enables the claims endpoint.
func WithTokenVerifier(v TokenVerifier) HandlerOption {
	return func(h *Handler) {
		h.verifier = v
	}
}

func WithRoutes(routes Routes) HandlerOption {
	return func(h *Handler) {
		h.routes = routes
	}
}

// WithRequestTimeout bounds every coordinator command. Zero disables it.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:        service,
		routes:         DefaultRoutes(),
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.logger == nil {
		h.logger = auth.NewLogger(auth.LoggerOptions{Name: "authhttp"})
	}
	return h
}

// RegisterRoutes mounts the handler routes on app.
func RegisterRoutes[T any](app router.Router[T], h *Handler) {
	app.Get(h.routes.State, h.GetState).SetName("auth.state")
	app.Post(h.routes.Login, h.PostLogin).SetName("auth.login")
	app.Post(h.routes.Register, h.PostRegister).SetName("auth.register")
	app.Post(h.routes.Logout, h.PostLogout).SetName("auth.logout")
	app.Post(h.routes.Refresh, h.PostRefresh).SetName("auth.refresh")
	app.Delete(h.routes.Error, h.DeleteError).SetName("auth.error.clear")
	app.Put(h.routes.Industry, h.PutIndustry).SetName("auth.industry")
	app.Get(h.routes.Permission, h.GetPermission).SetName("auth.permission")
	if h.verifier != nil {
		app.Get(h.routes.Claims, h.GetClaims, RequireToken(TokenConfig{Verifier: h.verifier})).
			SetName("auth.claims")
	}
}

// StateResponse is the public view of the coordinator state.
type StateResponse struct {
	auth.AuthState
	Phase            auth.Phase `json:"phase"`
	Authenticated    bool       `json:"authenticated"`
	IndustrySelected bool       `json:"industry_selected"`
	IsAdmin          bool       `json:"is_admin"`
}

func (h *Handler) snapshot() StateResponse {
	state := h.service.State()
	return StateResponse{
		AuthState:        state,
		Phase:            h.service.Phase(),
		Authenticated:    state.User != nil,
		IndustrySelected: h.service.IndustrySelected(),
		IsAdmin:          h.service.IsAdmin(),
	}
}

func (h *Handler) GetState(ctx router.Context) error {
	return ctx.JSON(fiber.StatusOK, h.snapshot())
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) PostLogin(ctx router.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, err)
	}

	cmdCtx, cancel := h.commandContext(ctx)
	defer cancel()

	if err := h.service.Login(cmdCtx, req.Email, req.Password); err != nil {
		h.logger.Debug("login rejected", "code", auth.AuthErrorCode(err))
		return writeError(ctx, err)
	}
	return ctx.JSON(fiber.StatusOK, h.snapshot())
}

type registerResponse struct {
	StateResponse
	ConfirmationRequired bool   `json:"confirmation_required"`
	Message              string `json:"message,omitempty"`
}

func (h *Handler) PostRegister(ctx router.Context) error {
	var in auth.RegisterInput
	if err := ctx.Bind(&in); err != nil {
		return badRequest(ctx, err)
	}

	cmdCtx, cancel := h.commandContext(ctx)
	defer cancel()

	result, err := h.service.Register(cmdCtx, in)
	if err != nil {
		h.logger.Debug("registration rejected", "code", auth.AuthErrorCode(err))
		return writeError(ctx, err)
	}

	status := fiber.StatusCreated
	if result.ConfirmationRequired {
		status = fiber.StatusAccepted
	}
	return ctx.JSON(status, registerResponse{
		StateResponse:        h.snapshot(),
		ConfirmationRequired: result.ConfirmationRequired,
		Message:              result.Message,
	})
}

func (h *Handler) PostLogout(ctx router.Context) error {
	cmdCtx, cancel := h.commandContext(ctx)
	defer cancel()

	if err := h.service.Logout(cmdCtx); err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(fiber.StatusOK, h.snapshot())
}

func (h *Handler) PostRefresh(ctx router.Context) error {
	cmdCtx, cancel := h.commandContext(ctx)
	defer cancel()

	if err := h.service.RefreshToken(cmdCtx); err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(fiber.StatusOK, h.snapshot())
}

func (h *Handler) DeleteError(ctx router.Context) error {
	h.service.ClearError()
	return ctx.Status(fiber.StatusNoContent).SendString("")
}

type industryRequest struct {
	Industry string `json:"industry"`
}

func (h *Handler) PutIndustry(ctx router.Context) error {
	var req industryRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, err)
	}

	cmdCtx, cancel := h.commandContext(ctx)
	defer cancel()

	if err := h.service.SetIndustry(cmdCtx, req.Industry); err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(fiber.StatusOK, h.snapshot())
}

type permissionResponse struct {
	Permission auth.Permission `json:"permission"`
	Allowed    bool            `json:"allowed"`
}

func (h *Handler) GetPermission(ctx router.Context) error {
	perm := ctx.Param("permission")
	return ctx.JSON(fiber.StatusOK, permissionResponse{
		Permission: perm,
		Allowed:    h.service.HasPermission(perm),
	})
}

func (h *Handler) GetClaims(ctx router.Context) error {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return writeError(ctx, auth.ErrInvalidToken)
	}
	return ctx.JSON(fiber.StatusOK, claims)
}

// commandContext bounds a coordinator command by the request timeout.
func (h *Handler) commandContext(ctx router.Context) (context.Context, context.CancelFunc) {
	parent := ctx.Context()
	if h.requestTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, h.requestTimeout)
}
