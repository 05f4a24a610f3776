package config

import (
	"net/url"
	"strings"
)

// maskSecret маскирует секрет, оставляя только первые 4 и последние 4 символа
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}

	// Если секрет слишком короткий, маскируем полностью
	if len(secret) < 8 {
		return "***"
	}

	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// MaskDSN hides the password of a connection string so it can be logged.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}

	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		// key=value форма: маскируем password=...
		fields := strings.Fields(dsn)
		for i, f := range fields {
			if strings.HasPrefix(f, "password=") {
				fields[i] = "password=" + maskSecret(strings.TrimPrefix(f, "password="))
			}
		}
		return strings.Join(fields, " ")
	}

	if pass, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), maskSecret(pass))
	}
	return u.String()
}
