package browser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// State is a portable browser storage snapshot. The JSON layout matches the
// storage-state files produced by Playwright so sessions authorized by the
// earlier deployment can be replayed.
type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Cookie is one stored cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Origin holds the localStorage entries of one origin
type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// StorageItem is one localStorage entry
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParseState decodes a storage-state document
func ParseState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse storage state: %w", err)
	}
	return &st, nil
}

// HasCookie reports whether the snapshot contains a non-empty cookie
func (s *State) HasCookie(name string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.Cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

// cookieParams converts the snapshot into CDP cookie parameters
func (s *State) cookieParams() []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		// Playwright writes -1 for session cookies
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			expires := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// fromNetworkCookies converts CDP cookies into the portable form
func fromNetworkCookies(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// localStorageScript returns JS that writes items into the page's localStorage
func localStorageScript(items []StorageItem) (string, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => { for (const it of %s) { localStorage.setItem(it.name, it.value); } return true; })()`, data), nil
}

// readLocalStorageScript returns the current origin and its localStorage
const readLocalStorageScript = `JSON.stringify({
  origin: location.origin,
  localStorage: Object.keys(localStorage).map(k => ({name: k, value: localStorage.getItem(k)}))
})`

// validOrigin accepts http(s) origins only
func validOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" && strings.Trim(u.Path, "/") == ""
}
