package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// File is a binary payload attached to an upload operation.
type File struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// UploadRequest is a mutation whose variables carry files. Files is keyed by
// the dotted variable path the file binds to, e.g. "input.file".
type UploadRequest struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Files         map[string]File
}

// Uploader sends operations that carry binary files. It is kept apart from
// Executor so the multipart convention does not leak into query code.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest, out any) error
}

// MultipartUploader implements the GraphQL multipart request convention:
// an "operations" field with the files nulled out, a "map" field binding
// part names to variable paths, then one part per file.
type MultipartUploader struct {
	endpoint string
	http     *http.Client
	tokens   TokenSource
	logger   *zap.SugaredLogger
}

// NewMultipartUploader creates an uploader posting to endpoint
func NewMultipartUploader(endpoint string, tokens TokenSource, opts ...Option) *MultipartUploader {
	o := buildOptions(opts)
	return &MultipartUploader{endpoint: endpoint, http: o.httpClient, tokens: tokens, logger: o.logger}
}

// Upload sends req and decodes the response data into out.
func (u *MultipartUploader) Upload(ctx context.Context, req UploadRequest, out any) error {
	op := req.OperationName
	if op == "" {
		op = OperationKind(req.Query)
	}

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return &Error{Kind: KindBadUserInput, Op: op, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return &Error{Kind: KindInternal, Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	// Apollo Server refuses multipart requests without a preflight header.
	httpReq.Header.Set("Apollo-Require-Preflight", "true")
	if err := authorize(ctx, u.tokens, httpReq); err != nil {
		return &Error{Kind: KindUnauthenticated, Op: op, Err: err}
	}

	resp, err := u.http.Do(httpReq)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	u.logger.Debugw("GraphQL upload", "operation", op, "files", len(req.Files), "status", resp.StatusCode)
	return decodeResponse(op, resp, out)
}

func encodeMultipart(req UploadRequest) (*bytes.Buffer, string, error) {
	variables := cloneMap(req.Variables)

	paths := make([]string, 0, len(req.Files))
	for path := range req.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	fileMap := make(map[string][]string, len(paths))
	for i, path := range paths {
		if err := setPath(variables, path); err != nil {
			return nil, "", err
		}
		fileMap[strconv.Itoa(i)] = []string{"variables." + path}
	}

	operations, err := json.Marshal(Request{
		Query:         req.Query,
		Variables:     variables,
		OperationName: req.OperationName,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encode operations: %w", err)
	}
	mapping, err := json.Marshal(fileMap)
	if err != nil {
		return nil, "", fmt.Errorf("encode map: %w", err)
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("operations", string(operations)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("map", string(mapping)); err != nil {
		return nil, "", err
	}

	for i, path := range paths {
		file := req.Files[path]
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%d"; filename="%s"`, i, escapeQuotes(file.Filename)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if file.Body != nil {
			if _, err := io.Copy(part, file.Body); err != nil {
				return nil, "", fmt.Errorf("read %s: %w", file.Filename, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// setPath sets the variable at a dotted path to null, creating intermediate
// objects as needed.
func setPath(vars map[string]any, path string) error {
	keys := strings.Split(path, ".")
	cur := vars
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key]
		if !ok || next == nil {
			child := map[string]any{}
			cur[key] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("variable path %q crosses a non-object at %q", path, key)
		}
		cur = child
	}
	cur[keys[len(keys)-1]] = nil
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if child, ok := v.(map[string]any); ok {
			v = cloneMap(child)
		}
		out[k] = v
	}
	return out
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
