package config

import (
	"net/url"
	"regexp"
	"strings"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	s := *cfg

	s.Security.TokenSecret = maskSecret(s.Security.TokenSecret)
	s.Security.AuthSecret = maskSecret(s.Security.AuthSecret)
	if len(cfg.Security.PreviousTokenSecrets) > 0 {
		s.Security.PreviousTokenSecrets = make([]string, len(cfg.Security.PreviousTokenSecrets))
		for i, p := range cfg.Security.PreviousTokenSecrets {
			s.Security.PreviousTokenSecrets[i] = maskSecret(p)
		}
	}
	s.Notify.Webhook.Secret = maskSecret(s.Notify.Webhook.Secret)
	s.Storage.Redis.Password = maskSecret(s.Storage.Redis.Password)
	s.Storage.Postgres.DSN = maskDSN(s.Storage.Postgres.DSN)
	s.Storage.Redis.Addr = maskDSN(s.Storage.Redis.Addr)

	return &s
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

var dsnPassword = regexp.MustCompile(`(password=)(\S+)`)

// maskDSN hides the password of a URL or key=value connection string.
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
			return u.String()
		}
		return dsn
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}****")
}
