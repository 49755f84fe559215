package session

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/publisher"
)

// extractAccount finds the logged-in display name in the page markup. It
// falls back to "<platform>_User" when no selector matches.
func extractAccount(html string, platform publisher.Platform) string {
	fallback := platform.ID + "_User"
	if html == "" {
		return fallback
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fallback
	}

	for _, sel := range platform.AccountSelectors {
		name := strings.TrimSpace(doc.Find(sel).First().Text())
		if name != "" {
			return name
		}
	}
	return fallback
}

// loggedIn reports whether a session snapshot carries a logged-in identity
func loggedIn(state *browser.State, platform publisher.Platform) bool {
	if platform.LoginCookie != "" {
		return state.HasCookie(platform.LoginCookie)
	}
	return state != nil && len(state.Cookies) > 5
}
