package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestStoredResponseRoundTrip(t *testing.T) {
	res := &http.Response{
		StatusCode: 201,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("created")),
	}
	res.Header.Add("Test", "-ing")
	res.Header.Add("Content-Type", "text/plain")

	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
	if res2.Header.Get("Test") != "-ing" || res2.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("Headers wrong %+v", res2.Header)
	}
	body, _ := io.ReadAll(res2.Body)
	if string(body) != "created" {
		t.Fatalf("Body is %q", body)
	}
}

func TestEmptyBody(t *testing.T) {
	res := &http.Response{StatusCode: 204, Header: http.Header{}}
	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	res2, err := BytesToResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if res2.StatusCode != 204 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
}
