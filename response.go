package offlinecache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	cachecontrol "github.com/invincit/offline-cache/pkg/cache-control"
)

const defaultUnavailableBody = "Offline"

// IsSuccessful reports whether a response status may be stored.
// Only 2xx responses are; errors are never cached and replayed.
// 206 is excluded since a partial body would be replayed as the whole resource.
func IsSuccessful(res *http.Response) bool {
	return res != nil && res.StatusCode >= 200 && res.StatusCode < 300 &&
		res.StatusCode != http.StatusPartialContent
}

// IsStorable reports whether the response to req may be stored and later
// replayed to any client of the worker.
func IsStorable(req *http.Request, res *http.Response) bool {
	if !IsSuccessful(res) || req.Header.Get("Range") != "" {
		return false
	}
	return cachecontrol.MayShare(req, res)
}

// Unavailable builds the synthetic response returned when neither the cache
// nor the network can answer a request.
func Unavailable(req *http.Request, body string) *http.Response {
	if body == "" {
		body = defaultUnavailableBody
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        "503 " + http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
