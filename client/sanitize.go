package client

import "regexp"

var reStripControl = regexp.MustCompile("[[:cntrl:]]")

// SanitizeText returns s without control characters, so text relayed from
// other users cannot move the cursor or recolor the terminal.
func SanitizeText(s string) string {
	return reStripControl.ReplaceAllString(s, "")
}
