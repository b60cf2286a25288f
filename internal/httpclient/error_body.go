package httpclient

import (
	"io"
	"strings"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4 << 10

// ReadErrorBody reads at most maxErrorBody bytes of body, closes it and
// returns the trimmed text. Read failures yield whatever was read.
func ReadErrorBody(body io.ReadCloser) string {
	if body == nil {
		return ""
	}
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(data))
}
