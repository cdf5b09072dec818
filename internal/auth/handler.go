package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/edulite/auth-service/internal/user"

	"github.com/gin-gonic/gin"
)

const currentUserKey = "auth.user"

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Language string `json:"language" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	useJSONFieldNames()
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the auth endpoints and the authenticated profile endpoint.
func (h *Handler) Routes(r gin.IRouter) {
	g := r.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.GET("/session", h.Session)

	r.GET("/users/me", h.RequireAuth(), h.Me)
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	u, err := h.svc.Register(c.Request.Context(), RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Language: req.Language,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created successfully",
		"user":    u,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	u, pair, err := h.svc.Login(c.Request.Context(), LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Login successful",
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"user":         u,
	})
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshTokenRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"message":      "Token refreshed successfully",
	})
}

func (h *Handler) Logout(c *gin.Context) {
	var req refreshTokenRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	revoked, err := h.svc.Logout(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	message := "Logged out successfully"
	if !revoked {
		message = "Already logged out or invalid token"
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// Session never says why a token was refused.
func (h *Handler) Session(c *gin.Context) {
	u, ok := h.authenticate(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil, "isAuthenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "isAuthenticated": true})
}

func (h *Handler) Me(c *gin.Context) {
	u, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// RequireAuth rejects requests without a valid bearer access token and
// stores the resolved user for CurrentUser.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := h.authenticate(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
			return
		}
		c.Set(currentUserKey, u)
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (*user.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok
}

func (h *Handler) authenticate(c *gin.Context) (*user.User, bool) {
	raw, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		return nil, false
	}

	u, err := h.svc.Authenticate(c.Request.Context(), raw)
	if err != nil {
		if e := AsError(err); e.Kind == KindInternal {
			h.logger.ErrorContext(c.Request.Context(), "authenticate", "path", c.FullPath(), "error", err)
		}
		return nil, false
	}
	return u, true
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(header[7:])
	return raw, raw != ""
}

func (h *Handler) fail(c *gin.Context, err error) {
	e := AsError(err)
	if e.Kind == KindInternal {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	body := gin.H{"error": e.Message}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), body)
}
