package prompt

import (
	stderrors "errors"
	"net"
	"path"
	"regexp"
	"strings"
)

var (
	hostnameRe = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	userRe     = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*\$?$`)
)

// ValidateHost accepts an IPv4/IPv6 address or a DNS host name.
func ValidateHost(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return stderrors.New("server address is required")
	}
	if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
		return nil
	}
	if len(s) > 253 || !hostnameRe.MatchString(s) {
		return stderrors.New("not an IP address or host name")
	}
	return nil
}

func ValidateUser(s string) error {
	if strings.TrimSpace(s) == "" {
		return stderrors.New("username is required")
	}
	if !userRe.MatchString(s) {
		return stderrors.New("username contains invalid characters")
	}
	return nil
}

func ValidateRemotePath(s string) error {
	if s == "" {
		return stderrors.New("remote path is required")
	}
	if !path.IsAbs(s) {
		return stderrors.New("remote path must be absolute")
	}
	if strings.ContainsAny(s, "\n\x00") {
		return stderrors.New("remote path contains control characters")
	}
	return nil
}
