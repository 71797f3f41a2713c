package pkg

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var ugcPolicy = bluemonday.UGCPolicy()

// Sanitize strips unsafe markup from user supplied content.
func Sanitize(s string) string {
	return strings.TrimSpace(ugcPolicy.Sanitize(s))
}
