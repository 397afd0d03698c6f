package authflow

import (
	"net/http"

	"collabflow/internal/apierror"
	"collabflow/internal/auth"

	"github.com/gin-gonic/gin"
)

// RefreshCookieName holds the internal refresh token. HttpOnly and Strict:
// the browser never reads it, and cross-site requests never send it.
const RefreshCookieName = "internal_refresh_token"

// SIDCookieName tracks the session row for logout and touch.
const SIDCookieName = "collabflow.sid"

// Handlers exposes the auth endpoints. Keep these thin: parse/validate
// input, call the service, shape the response.
type Handlers struct {
	Service *Service

	// Secure marks cookies Secure; true in production.
	Secure bool

	// CookieMaxAge bounds the refresh and sid cookies, in seconds.
	CookieMaxAge int
}

type tokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
}

// Token handles POST /auth/token: the one-time code exchange.
func (h Handlers) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Write(c, apierror.BadRequest("Invalid JSON body"))
		return
	}
	if req.Code == "" || req.CodeVerifier == "" {
		apierror.Write(c, apierror.BadRequest("Missing code or codeVerifier"))
		return
	}

	res, err := h.Service.Login(c.Request.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		apierror.Write(c, err)
		return
	}

	h.setSessionCookies(c, res)
	c.JSON(http.StatusOK, tokenResponse(res))
}

// Refresh handles POST /auth/refresh: rotation of the internal refresh token.
func (h Handlers) Refresh(c *gin.Context) {
	cookieToken, err := c.Cookie(RefreshCookieName)
	if err != nil || cookieToken == "" {
		apierror.Write(c, apierror.BadRequest("Missing refresh_token"))
		return
	}
	sid, _ := c.Cookie(SIDCookieName)

	res, err := h.Service.Refresh(c.Request.Context(), cookieToken, sid)
	if err != nil {
		apierror.Write(c, err)
		return
	}

	h.setSessionCookies(c, res)
	c.JSON(http.StatusOK, tokenResponse(res))
}

// Logout handles POST /auth/logout. Always 204: a missing or already
// invalid token is not a failure.
func (h Handlers) Logout(c *gin.Context) {
	cookieToken, _ := c.Cookie(RefreshCookieName)
	sid, _ := c.Cookie(SIDCookieName)

	h.Service.Logout(c.Request.Context(), cookieToken, sid)

	h.clearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

// LogoutEverywhere handles POST /auth/logout-all. Runs behind the access
// token middleware; destroys every session the caller owns.
func (h Handlers) LogoutEverywhere(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		apierror.Write(c, apierror.Unauthorized("Invalid or expired token"))
		return
	}

	cookieToken, _ := c.Cookie(RefreshCookieName)
	sid, _ := c.Cookie(SIDCookieName)

	if err := h.Service.LogoutEverywhere(c.Request.Context(), userID, cookieToken, sid); err != nil {
		apierror.Write(c, err)
		return
	}

	h.clearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

// Me handles GET /auth/me: the "who am I" check. Clients treat a 401 here
// as "not logged in", not as a refresh trigger.
func (h Handlers) Me(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		apierror.Write(c, apierror.Unauthorized("Invalid or expired token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "email": id.Email, "name": id.Name})
}

// tokenResponse never includes upstream tokens or the internal refresh
// token value; those live in the store and the cookie respectively.
func tokenResponse(res TokenResult) gin.H {
	return gin.H{
		"internal_access_token": res.AccessToken,
		"expires_in":            res.ExpiresIn,
		"expires_at":            res.ExpiresAt.Unix(),
	}
}

func (h Handlers) setSessionCookies(c *gin.Context, res TokenResult) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, res.RefreshToken, h.CookieMaxAge, "/", "", h.Secure, true)
	c.SetCookie(SIDCookieName, res.SID, h.CookieMaxAge, "/", "", h.Secure, true)
}

func (h Handlers) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1, "/", "", h.Secure, true)
	c.SetCookie(SIDCookieName, "", -1, "/", "", h.Secure, true)
}
