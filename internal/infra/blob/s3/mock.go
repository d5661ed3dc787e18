package s3

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store whose client talks to an in-process fake
// bucket. It understands the HEAD, GET, PUT, DELETE and ListObjectsV2 calls
// the Store makes.
func NewMockForTests() *Store {
	rt := &mockRoundTripper{objects: make(map[string]mockObject)}
	awsCfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
	}
	cfg := Config{Bucket: "mock-bucket", Endpoint: "https://mock.s3.local", PathStyle: true}
	return newWithConfig(awsCfg, cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

type mockRoundTripper struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Path-style: /<bucket>/<key>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return respond(http.StatusNotFound, nil, nil), nil
			}
			body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return respond(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}}, body), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"` + etagOf(obj.body) + `"`},
			"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			h.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, h, nil), nil
		}
		return respond(http.StatusOK, h, obj.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if decoded, ok := decodeChunked(body); ok {
				body = decoded
			}
		}
		md := make(map[string]string)
		for name, vals := range req.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") && len(vals) > 0 {
				md[strings.TrimPrefix(lower, "x-amz-meta-")] = vals[0]
			}
		}
		m.objects[key] = mockObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			metadata:    md,
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		return respond(http.StatusOK, http.Header{"Etag": {`"` + etagOf(body) + `"`}}, nil), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (m *mockRoundTripper) list(prefix string) *http.Response {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), etagOf(obj.body), obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

func etagOf(body []byte) string {
	var sum uint32
	for _, c := range body {
		sum = sum*31 + uint32(c)
	}
	return fmt.Sprintf("%08x", sum)
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" frames
// ending with a zero-size frame and optional trailers.
func decodeChunked(b []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		sizeField := strings.TrimSpace(line)
		if i := strings.IndexByte(sizeField, ';'); i >= 0 {
			sizeField = sizeField[:i]
		}
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, false
		}
		if size == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, false
		}
		if _, err := r.ReadString('\n'); err != nil {
			return nil, false
		}
	}
}
