package domain

import (
	"regexp"
)

// Shortcode uniquely identifies an Instagram post or reel.
type Shortcode string

func (s Shortcode) String() string {
	return string(s)
}

// shortcodePattern matches the two known post-path shapes:
// instagram.com/p/<shortcode> and instagram.com/reel/<shortcode>.
var shortcodePattern = regexp.MustCompile(`instagram\.com/(?:reel|p)/([^/?#&]+)`)

// ExtractShortcode parses the post shortcode out of a post or reel URL.
// Returns ErrInvalidPostURL if the URL does not match either shape.
func ExtractShortcode(postURL string) (Shortcode, error) {
	m := shortcodePattern.FindStringSubmatch(postURL)
	if m == nil {
		return "", ErrInvalidPostURL
	}
	return Shortcode(m[1]), nil
}

// Post holds the metadata returned alongside a fetched video.
type Post struct {
	Shortcode      Shortcode
	Caption        string
	AuthorUsername string
}
