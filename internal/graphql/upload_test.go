package graphql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipartUploader_FollowsMultipartConvention(t *testing.T) {
	var (
		operations map[string]any
		fileMap    map[string][]string
		fileBody   string
		fileName   string
		fileType   string
		auth       string
		preflight  string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		preflight = r.Header.Get("Apollo-Require-Preflight")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("operations")), &operations))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("map")), &fileMap))

		f, header, err := r.FormFile("0")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		fileBody = string(b)
		fileName = header.Filename
		fileType = header.Header.Get("Content-Type")

		_, _ = w.Write([]byte(`{"data":{"uploadMissionDocument":{"id":"d1","filename":"constat.pdf","size":11}}}`))
	}))
	defer srv.Close()

	u := NewMultipartUploader(srv.URL, StaticToken("secret"))

	var out struct {
		Doc struct {
			ID       string `json:"id"`
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"uploadMissionDocument"`
	}
	err := u.Upload(context.Background(), UploadRequest{
		Query:         `mutation Upload($input: UploadDocumentInput!) { uploadMissionDocument(input: $input) { id filename size } }`,
		OperationName: "Upload",
		Variables: map[string]any{
			"input": map[string]any{"missionId": "m1", "description": "constat"},
		},
		Files: map[string]File{
			"input.file": {Filename: "constat.pdf", ContentType: "application/pdf", Body: strings.NewReader("hello world")},
		},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "true", preflight)
	assert.Equal(t, map[string][]string{"0": {"variables.input.file"}}, fileMap)

	vars := operations["variables"].(map[string]any)
	input := vars["input"].(map[string]any)
	assert.Equal(t, "m1", input["missionId"])
	assert.Contains(t, input, "file")
	assert.Nil(t, input["file"])

	assert.Equal(t, "hello world", fileBody)
	assert.Equal(t, "constat.pdf", fileName)
	assert.Equal(t, "application/pdf", fileType)
	assert.Equal(t, "d1", out.Doc.ID)
	assert.Equal(t, int64(11), out.Doc.Size)
}

func TestMultipartUploader_DoesNotMutateCallerVariables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	input := map[string]any{"missionId": "m1"}
	err := NewMultipartUploader(srv.URL, nil).Upload(context.Background(), UploadRequest{
		Query:     `mutation { upload }`,
		Variables: map[string]any{"input": input},
		Files:     map[string]File{"input.file": {Filename: "a.txt", Body: strings.NewReader("a")}},
	}, nil)
	require.NoError(t, err)
	assert.NotContains(t, input, "file")
}

func TestMultipartUploader_TypedErrorOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte("Request Entity Too Large"))
	}))
	defer srv.Close()

	err := NewMultipartUploader(srv.URL, nil).Upload(context.Background(), UploadRequest{
		Query: `mutation { upload }`,
		Files: map[string]File{"file": {Filename: "big.bin", Body: strings.NewReader("x")}},
	}, nil)
	require.Error(t, err)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, gerr.Status)
	assert.Equal(t, KindInternal, gerr.Kind)
}

func TestSetPath_RejectsNonObject(t *testing.T) {
	vars := map[string]any{"input": "scalar"}
	assert.Error(t, setPath(vars, "input.file"))

	vars = map[string]any{}
	require.NoError(t, setPath(vars, "a.b.c"))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": nil}}}, vars)
}
