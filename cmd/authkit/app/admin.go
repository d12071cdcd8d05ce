package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/audit"
	"github.com/chimerakang/authkit-go/backend/local"
	"github.com/chimerakang/authkit-go/middleware/ginmw"
)

const adminRealm = `Basic realm="authkit admin"`

// userView is the admin API representation of a stored account.
type userView struct {
	Username  string   `json:"username"`
	Enabled   bool     `json:"enabled"`
	Groups    []string `json:"groups"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

type createUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Password string   `json:"password" binding:"required"`
	Groups   []string `json:"groups"`
}

type groupsRequest struct {
	Groups []string `json:"groups"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type admin struct {
	provider *local.Provider
	master   *local.MasterAuth
	audit    *audit.Logger
}

// mountAdmin adds the user-management routes under /admin, rate limited
// on the authentication ceiling and guarded by the master credentials.
func mountAdmin(r *gin.Engine, client *authkit.Client, a *admin) {
	g := r.Group("/admin", ginmw.RateLimit(client, authkit.LimitAuth), a.requireMaster)
	g.GET("/users", a.listUsers)
	g.POST("/users", a.createUser)
	g.DELETE("/users/:username", a.deleteUser)
	g.PUT("/users/:username/groups", a.setGroups)
	g.PUT("/users/:username/enabled", a.setEnabled)
}

func (a *admin) requireMaster(c *gin.Context) {
	user, pass, ok := c.Request.BasicAuth()
	if !ok || a.master.Validate(user, pass) != nil {
		a.audit.LogContext(c.Request.Context(), audit.Event{
			Subject:   user,
			Action:    audit.ActionAccess,
			Resource:  c.FullPath(),
			Result:    audit.ResultDenied,
			ClientKey: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Header("WWW-Authenticate", adminRealm)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ginmw.ErrorResponse{
			Error: "invalid_credentials", Message: "invalid credentials",
		})
		return
	}
	c.Next()
	a.audit.LogContext(c.Request.Context(), audit.Event{
		Subject:   user,
		Action:    audit.ActionAccess,
		Resource:  c.Request.Method + " " + c.Request.URL.Path,
		Result:    audit.ResultSuccess,
		ClientKey: c.ClientIP(),
	})
}

func (a *admin) listUsers(c *gin.Context) {
	users, err := a.provider.Store().ListUsers(c.Request.Context())
	if err != nil {
		storeError(c, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		groups := u.Groups
		if groups == nil {
			groups = []string{}
		}
		out = append(out, userView{
			Username:  u.Username,
			Enabled:   u.Enabled,
			Groups:    groups,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (a *admin) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	if err := a.provider.AddUser(c.Request.Context(), req.Username, req.Password, req.Groups...); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (a *admin) deleteUser(c *gin.Context) {
	if err := a.provider.Store().DeleteUser(c.Request.Context(), c.Param("username")); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *admin) setGroups(c *gin.Context) {
	var req groupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "groups must be a list of strings")
		return
	}
	if err := a.provider.Store().UpdateGroups(c.Request.Context(), c.Param("username"), req.Groups); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *admin) setEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "enabled is required")
		return
	}
	if err := a.provider.Store().SetEnabled(c.Request.Context(), c.Param("username"), *req.Enabled); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ginmw.ErrorResponse{Error: "invalid_request", Message: msg})
}

func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, local.ErrUserNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, ginmw.ErrorResponse{Error: "not_found", Message: "user not found"})
	case errors.Is(err, local.ErrUserExists):
		c.AbortWithStatusJSON(http.StatusConflict, ginmw.ErrorResponse{Error: "user_exists", Message: "user already exists"})
	case errors.Is(err, local.ErrInvalidPassword):
		badRequest(c, "password must be 1 to 128 bytes")
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ginmw.ErrorResponse{Error: "internal", Message: "internal error"})
	}
}
