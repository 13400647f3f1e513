package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/redis"
	"github.com/gin-gonic/gin"
)

// UserSessionService manages user sessions backed by Redis.
type UserSessionService struct {
	store         redis.Store
	cookieOptions sessions.Options
}

// Session keys used internally by UserSessionService methods like
// SetUserSession, GetUserID and Touch.
const (
	sessionKeyUserID    = "uid"
	sessionKeyLastTouch = "last_touch"
)

// NewUserSessionService creates a new UserSessionService.
// The `isDev` flag controls whether cookies are marked Secure.
func NewUserSessionService(isDev bool, redisAddr string) (*UserSessionService, error) {
	// Create Redis session store
	store, err := redis.NewStoreWithDB(10, "tcp", redisAddr, "", "0",
		[]byte("qLhK0T6vNDeXIcu1D3XZkaQe77uyJCnZ9N/06qxW42o=") /* TODO(security): rotate key */)
	if err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}

	cookieOptions := sessions.Options{
		Path:     "/api",
		MaxAge:   4 * 3600,
		Secure:   !isDev,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	store.Options(cookieOptions)

	return &UserSessionService{store: store, cookieOptions: cookieOptions}, nil
}

// Middleware attaches session handling.
func (s *UserSessionService) Middleware() gin.HandlerFunc {
	return sessions.Sessions("sid" /* Cookie name */, s.store)
}

// SetUserSession stores the given user ID in the session, stamps the touch
// time and persists it.
func (s *UserSessionService) SetUserSession(session sessions.Session, uid string) error {
	session.Set(sessionKeyUserID, uid)
	session.Set(sessionKeyLastTouch, time.Now().Unix())

	if err := session.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearUserSession clears all session data and expires the cookie.
func (s *UserSessionService) ClearUserSession(session sessions.Session) error {
	session.Clear()

	opts := s.cookieOptions
	opts.MaxAge = -1
	session.Options(opts)

	if err := session.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetUserID returns the user ID from the given session.
// It reports false if no valid user ID is present.
func (s *UserSessionService) GetUserID(session sessions.Session) (string, bool) {
	uid, ok := session.Get(sessionKeyUserID).(string)
	if !ok || uid == "" {
		return "", false
	}
	return uid, true
}

// Touch refreshes the session's touch timestamp when it is older than 15
// minutes. Writing at most once per window keeps authenticated traffic from
// issuing a session Save on every request.
func (s *UserSessionService) Touch(session sessions.Session) {
	const touchWindow = 15 * 60 // seconds
	now := time.Now().Unix()
	lastTouch, _ := session.Get(sessionKeyLastTouch).(int64)
	if lastTouch == 0 || now-lastTouch > touchWindow {
		session.Set(sessionKeyLastTouch, now)
		_ = session.Save()
	}
}
