package entity

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Identity is the network egress used for one fetch attempt: an optional
// proxy endpoint plus the user agent presented to the target.
// Identities are values; the rotator hands out copies and never mutates them.
type Identity struct {
	Address   string
	Port      int
	Username  string
	Password  string
	Protocol  string // "http", "https", "socks5"
	UserAgent string
}

// Direct reports whether the identity routes without a proxy.
func (i Identity) Direct() bool {
	return i.Address == ""
}

// HasCredentials reports whether the proxy requires authentication.
func (i Identity) HasCredentials() bool {
	return i.Username != ""
}

// Key identifies the proxy endpoint. Two identities with the same endpoint
// but different user agents share health state.
func (i Identity) Key() string {
	if i.Direct() {
		return "direct"
	}
	return fmt.Sprintf("%s://%s", i.Protocol, i.hostPort())
}

// ProxyURL returns the proxy URL including credentials, or nil for a direct identity.
func (i Identity) ProxyURL() *url.URL {
	if i.Direct() {
		return nil
	}
	u := &url.URL{Scheme: i.Protocol, Host: i.hostPort()}
	if i.HasCredentials() {
		u.User = url.UserPassword(i.Username, i.Password)
	}
	return u
}

// ProxyServer returns the proxy address without credentials, as browsers expect it.
func (i Identity) ProxyServer() string {
	if i.Direct() {
		return ""
	}
	return i.Key()
}

// WithUserAgent returns a copy of the identity presenting the given user agent.
func (i Identity) WithUserAgent(ua string) Identity {
	i.UserAgent = ua
	return i
}

// String is safe to log: credentials are never included.
func (i Identity) String() string {
	return i.Key()
}

func (i Identity) hostPort() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}
