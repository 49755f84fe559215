package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playwrightState = `{
  "cookies": [
    {"name": "z_c0", "value": "token", "domain": ".zhihu.com", "path": "/", "expires": 1893456000.5, "httpOnly": true, "secure": true, "sameSite": "Lax"},
    {"name": "session", "value": "abc", "domain": "www.zhihu.com", "path": "", "expires": -1, "httpOnly": false, "secure": false, "sameSite": "None"}
  ],
  "origins": [
    {"origin": "https://www.zhihu.com", "localStorage": [{"name": "theme", "value": "dark"}]}
  ]
}`

func TestParseState(t *testing.T) {
	st, err := ParseState([]byte(playwrightState))
	require.NoError(t, err)
	require.Len(t, st.Cookies, 2)
	assert.Equal(t, "z_c0", st.Cookies[0].Name)
	assert.True(t, st.Cookies[0].HTTPOnly)
	require.Len(t, st.Origins, 1)
	assert.Equal(t, "dark", st.Origins[0].LocalStorage[0].Value)

	assert.True(t, st.HasCookie("z_c0"))
	assert.False(t, st.HasCookie("missing"))

	_, err = ParseState([]byte("not json"))
	assert.Error(t, err)
}

func TestHasCookie_NilAndEmpty(t *testing.T) {
	var st *State
	assert.False(t, st.HasCookie("z_c0"))

	st = &State{Cookies: []Cookie{{Name: "z_c0", Value: ""}}}
	assert.False(t, st.HasCookie("z_c0"))
}

func TestCookieParams(t *testing.T) {
	st, err := ParseState([]byte(playwrightState))
	require.NoError(t, err)

	params := st.cookieParams()
	require.Len(t, params, 2)

	persistent := params[0]
	assert.Equal(t, ".zhihu.com", persistent.Domain)
	assert.Equal(t, network.CookieSameSiteLax, persistent.SameSite)
	require.NotNil(t, persistent.Expires)
	assert.Equal(t, int64(1893456000), persistent.Expires.Time().Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(persistent.Expires.Time().Nanosecond()))

	session := params[1]
	assert.Equal(t, "/", session.Path)
	assert.Nil(t, session.Expires)
	assert.Equal(t, network.CookieSameSiteNone, session.SameSite)
}

func TestFromNetworkCookies(t *testing.T) {
	cookies := []*network.Cookie{
		{Name: "z_c0", Value: "token", Domain: ".zhihu.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true, SameSite: network.CookieSameSiteLax},
		{Name: "tmp", Value: "1", Domain: "www.zhihu.com", Path: "/", Session: true},
	}

	out := fromNetworkCookies(cookies)
	require.Len(t, out, 2)
	assert.Equal(t, Cookie{Name: "z_c0", Value: "token", Domain: ".zhihu.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true, SameSite: "Lax"}, out[0])
	assert.Equal(t, float64(-1), out[1].Expires)

	// Converting back keeps the expiry
	params := (&State{Cookies: out}).cookieParams()
	assert.Equal(t, cdp.TimeSinceEpoch(time.Unix(1893456000, 0)).Time().Unix(), params[0].Expires.Time().Unix())
	assert.Nil(t, params[1].Expires)
}

func TestLocalStorageScript(t *testing.T) {
	script, err := localStorageScript([]StorageItem{{Name: "a", Value: `quote"d`}})
	require.NoError(t, err)
	assert.Contains(t, script, `[{"name":"a","value":"quote\"d"}]`)
	assert.Contains(t, script, "localStorage.setItem")
}

func TestValidOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://www.zhihu.com", true},
		{"http://localhost:8080", true},
		{"https://www.zhihu.com/", true},
		{"https://www.zhihu.com/write", false},
		{"file:///etc/passwd", false},
		{"about:blank", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, validOrigin(tt.origin))
		})
	}
}
