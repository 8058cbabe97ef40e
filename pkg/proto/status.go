package proto

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// StatusLine renders an integer status code as a "<code> <reason>"
// line. Unknown codes still yield a plausible line; this never fails.
func StatusLine(code int) string {
	text := http.StatusText(code)
	if text == "" {
		text = "Unknown Status"
	}
	return fmt.Sprintf("%d %s", code, text)
}

// ParseStatusLine extracts the integer code from a "<code> <reason>"
// status line.
func ParseStatusLine(status string) (int, error) {
	codePart, _, _ := strings.Cut(strings.TrimSpace(status), " ")
	code, err := strconv.Atoi(codePart)
	if err != nil {
		return 0, Violationf("malformed status line %q", status)
	}
	return code, nil
}
