package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The response body is consumed and replaced with an equivalent in-memory body,
// so the response can still be sent to the client afterwards.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}
	out := *res
	out.ProtoMajor, out.ProtoMinor, out.Proto = 1, 1, "HTTP/1.1"
	out.ContentLength = int64(len(body))
	out.TransferEncoding = nil
	out.Close = false
	out.Uncompressed = false
	out.Trailer = nil
	out.Body = bodyReader(body)
	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	res.Body = bodyReader(body)
	res.ContentLength = int64(len(body))
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice created by ResponseToBytes back to a http.Response.
// The request, if given, is attached to the response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read stored response")
		return nil, err
	}
	// read the body now so the stored response does not depend on the reader
	if _, err := readBody(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Buffer reads the whole response body into memory and replaces the body with a re-readable copy.
// It returns the body bytes.
func Buffer(res *http.Response) ([]byte, error) {
	return readBody(res)
}

func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = bodyReader(body)
	res.ContentLength = int64(len(body))
	return body, nil
}

func bodyReader(body []byte) io.ReadCloser {
	if len(body) == 0 {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(body))
}
