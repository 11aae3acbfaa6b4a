package httpclient

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readParts decodes a multipart payload into field name -> content, with
// file parts keyed as "name:filename".
func readParts(t *testing.T, body *MultipartBody) map[string]string {
	t.Helper()

	_, params, err := mime.ParseMediaType(body.ContentType)
	require.NoError(t, err)

	out := make(map[string]string)
	reader := multipart.NewReader(bytes.NewReader(body.Data), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)

		data, err := io.ReadAll(part)
		require.NoError(t, err)

		key := part.FormName()
		if part.FileName() != "" {
			key += ":" + part.FileName()
		}
		out[key] = string(data)
	}
}

func TestFileFromPath(t *testing.T) {
	f := FileFromPath("document", "/var/data/report.pdf")

	assert.Equal(t, "document", f.FieldName)
	assert.Equal(t, "report.pdf", f.FileName)
	assert.Equal(t, "/var/data/report.pdf", f.Path)
	assert.Nil(t, f.Reader)
}

func TestRequestBuilder_MultipartState(t *testing.T) {
	reader := strings.NewReader("avatar bytes")

	rb := New().Request("UploadProfile").
		File("document", "/tmp/cv.pdf").
		FileReader("avatar", "me.png", reader).
		FormField("title", "CV").
		FormField("lang", "en")

	require.Len(t, rb.fileUploads, 2)
	assert.Equal(t, "cv.pdf", rb.fileUploads[0].FileName)
	assert.Equal(t, "/tmp/cv.pdf", rb.fileUploads[0].Path)
	assert.Equal(t, "me.png", rb.fileUploads[1].FileName)
	assert.Same(t, reader, rb.fileUploads[1].Reader)
	assert.Equal(t, map[string]string{"title": "CV", "lang": "en"}, rb.formFields)
}

func TestEncodeMultipart(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(onDisk, []byte("from disk"), 0o600))

	tests := []struct {
		name      string
		upload    UploadOptions
		wantParts map[string]string
		wantErr   string
	}{
		{
			name: "given fields and a reader, then encodes both",
			upload: UploadOptions{
				FormFields: map[string]string{"b": "2", "a": "1"},
				Files:      []FileUpload{{FieldName: "file", FileName: "x.bin", Reader: strings.NewReader("payload")}},
			},
			wantParts: map[string]string{"a": "1", "b": "2", "file:x.bin": "payload"},
		},
		{
			name:      "given a file path, then reads it from disk",
			upload:    UploadOptions{Files: []FileUpload{FileFromPath("doc", onDisk)}},
			wantParts: map[string]string{"doc:notes.txt": "from disk"},
		},
		{
			name:      "given nothing, then encodes an empty form",
			upload:    UploadOptions{},
			wantParts: map[string]string{},
		},
		{
			name:    "given a missing file, then fails",
			upload:  UploadOptions{Files: []FileUpload{FileFromPath("doc", filepath.Join(dir, "missing.txt"))}},
			wantErr: "missing.txt",
		},
		{
			name:    "given neither reader nor path, then fails",
			upload:  UploadOptions{Files: []FileUpload{{FieldName: "empty"}}},
			wantErr: `file "empty" has neither reader nor path`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := encodeMultipart(&tt.upload)

			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(body.ContentType, "multipart/form-data; boundary="))
			assert.Equal(t, tt.wantParts, readParts(t, body))
		})
	}
}

func TestEncodeMultipart_FieldsBeforeFiles(t *testing.T) {
	body, err := encodeMultipart(&UploadOptions{
		FormFields: map[string]string{"zeta": "z", "alpha": "a"},
		Files:      []FileUpload{{FieldName: "file", FileName: "f.txt", Reader: strings.NewReader("f")}},
	})
	require.NoError(t, err)

	raw := string(body.Data)
	alpha := strings.Index(raw, `name="alpha"`)
	zeta := strings.Index(raw, `name="zeta"`)
	file := strings.Index(raw, `name="file"`)

	assert.Less(t, alpha, zeta)
	assert.Less(t, zeta, file)
}

func TestMultipartBody_ReaderIsRepeatable(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []Progress
	)
	body := &MultipartBody{
		Data: []byte("0123456789"),
		OnProgress: func(p Progress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		},
	}

	for range 2 {
		got, err := io.ReadAll(body.Reader())
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(got))
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, Progress{Loaded: 10, Total: 10}, updates[len(updates)-1])
}

func TestProgressWriter(t *testing.T) {
	var (
		buf     bytes.Buffer
		updates []Progress
	)
	pw := &progressWriter{w: &buf, total: -1, onProgress: func(p Progress) { updates = append(updates, p) }}

	_, err := pw.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("de"))
	require.NoError(t, err)

	assert.Equal(t, "abcde", buf.String())
	assert.Equal(t, []Progress{{Loaded: 3, Total: -1}, {Loaded: 5, Total: -1}}, updates)
}

func TestNewProgressReader_NilCallback(t *testing.T) {
	r := strings.NewReader("x")

	assert.Same(t, r, newProgressReader(r, 1, nil))
}

func TestClient_UploadEncodesForm(t *testing.T) {
	upstream := NewMockAdapter().StubJSON(201, `{"id":"doc-1"}`)
	client := newTestClient(upstream)

	var last Progress
	resp, err := client.Upload(context.Background(), "/documents", UploadOptions{
		Files:      []FileUpload{{FieldName: "file", FileName: "q4.csv", Reader: strings.NewReader("a,b\n1,2\n")}},
		FormFields: map[string]string{"title": "Q4"},
		OnProgress: func(p Progress) { last = p },
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	req := upstream.LastRequest()
	assert.Equal(t, MethodPost, req.Method)
	assert.True(t, strings.HasPrefix(req.Header("Content-Type"), "multipart/form-data"))

	uploads := upstream.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, map[string]string{"title": "Q4", "file:q4.csv": "a,b\n1,2\n"}, readParts(t, uploads[0]))
	assert.Equal(t, int64(len(uploads[0].Data)), last.Loaded)
}

func TestClient_UploadMethodOverride(t *testing.T) {
	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream)

	_, err := client.Upload(context.Background(), "/avatar", UploadOptions{
		Files: []FileUpload{{FieldName: "avatar", FileName: "me.png", Reader: strings.NewReader("png")}},
	}, &RequestOptions{Method: "put"})

	require.NoError(t, err)
	assert.Equal(t, MethodPut, upstream.LastRequest().Method)
}

func TestClient_UploadMissingFile(t *testing.T) {
	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream)

	_, err := client.Upload(context.Background(), "/documents", UploadOptions{
		Files: []FileUpload{FileFromPath("doc", filepath.Join(t.TempDir(), "gone.pdf"))},
	}, nil)

	require.Error(t, err)
	assert.Zero(t, upstream.RequestCount())
}

func TestClient_UploadOverHTTP(t *testing.T) {
	type received struct {
		title, file, name string
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, header, err := r.FormFile("report")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		got <- received{title: r.FormValue("title"), file: string(data), name: header.Filename}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(
		WithPlatform(PlatformHTTP),
		WithBaseURL(server.URL),
		WithGlobalRegistry(NewRegistry()),
	)

	resp, err := client.Request("UploadReport").
		FileReader("report", "r.txt", strings.NewReader("quarterly numbers")).
		FormField("title", "Q4").
		Upload(context.Background(), "/reports")

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, received{title: "Q4", file: "quarterly numbers", name: "r.txt"}, <-got)
}
