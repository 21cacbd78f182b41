package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionUserKey   = "uid"
	sessionTouchKey  = "last_touch"
	sessionTTLSecond = 15 * 60
)

// Credentials are the single admin login kacchiOS's debug surface exposes.
// There is no user table to back — this kernel has one operator.
type Credentials struct {
	Username string
	Password string
}

// CredentialsFromEnv reads KACCHI_ADMIN_USERNAME/KACCHI_ADMIN_PASSWORD,
// defaulting to "admin"/"kacchi" for local use.
func CredentialsFromEnv() Credentials {
	c := Credentials{Username: "admin", Password: "kacchi"}
	if v := os.Getenv("KACCHI_ADMIN_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("KACCHI_ADMIN_PASSWORD"); v != "" {
		c.Password = v
	}
	return c
}

// Authentication admits a request via either HTTP Basic auth (checked
// against creds) or an established session cookie. Anything else gets 401.
func Authentication(creds Credentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isBasicAuthenticated(c, creds) || isSessionAuthenticated(c) {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func isBasicAuthenticated(c *gin.Context, creds Credentials) bool {
	user, pass, ok := c.Request.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) == 1
	return userMatch && passMatch
}

func isSessionAuthenticated(c *gin.Context) bool {
	session := sessions.Default(c)
	uid, _ := session.Get(sessionUserKey).(string)
	if uid == "" {
		return false
	}

	now := time.Now().Unix()
	lastTouch, _ := session.Get(sessionTouchKey).(int64)
	if lastTouch == 0 || now-lastTouch > sessionTTLSecond {
		session.Set(sessionTouchKey, now)
		_ = session.Save()
	}
	return true
}
