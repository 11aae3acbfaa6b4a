package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
)

// FileUpload represents a file to be uploaded in a multipart request.
//
// Example - Upload from path:
//
//	resp, err := client.Upload(ctx, "/upload", httpclient.UploadOptions{
//	    Files: []httpclient.FileUpload{httpclient.FileFromPath("document", "/path/to/file.pdf")},
//	})
//
// Example - Upload from reader:
//
//	resp, err := client.Upload(ctx, "/avatar", httpclient.UploadOptions{
//	    Files: []httpclient.FileUpload{{
//	        FieldName: "avatar",
//	        FileName:  "profile.png",
//	        Reader:    bytes.NewReader(imageBytes),
//	    }},
//	})
type FileUpload struct {
	// FieldName is the form field name for the file.
	//
	// Example: "document", "avatar", "attachment"
	FieldName string

	// FileName is the name of the file as it appears in the upload.
	//
	// Example: "report.pdf", "profile.jpg"
	FileName string

	// Reader provides the file content. It is read once per call.
	Reader io.Reader

	// Path is opened when the call starts if Reader is nil.
	Path string
}

// FileFromPath returns a FileUpload reading from path, named after its base
// name.
func FileFromPath(fieldName, path string) FileUpload {
	return FileUpload{
		FieldName: fieldName,
		FileName:  filepath.Base(path),
		Path:      path,
	}
}

// MultipartBody is an encoded multipart/form-data payload.
type MultipartBody struct {
	ContentType string
	Data        []byte

	// OnProgress receives upload progress for each attempt.
	OnProgress ProgressFunc
}

// Reader returns a fresh reader over the payload that reports progress.
func (b *MultipartBody) Reader() io.Reader {
	return newProgressReader(bytes.NewReader(b.Data), int64(len(b.Data)), b.OnProgress)
}

// encodeMultipart reads every file once and encodes the form. Fields are
// written in key order, before the files.
func encodeMultipart(upload *UploadOptions) (*MultipartBody, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	keys := make([]string, 0, len(upload.FormFields))
	for k := range upload.FormFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := writer.WriteField(key, upload.FormFields[key]); err != nil {
			return nil, err
		}
	}

	for _, file := range upload.Files {
		if err := writeFilePart(writer, file); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return &MultipartBody{
		ContentType: writer.FormDataContentType(),
		Data:        body.Bytes(),
		OnProgress:  upload.OnProgress,
	}, nil
}

func writeFilePart(writer *multipart.Writer, file FileUpload) error {
	reader := file.Reader
	if reader == nil {
		if file.Path == "" {
			return fmt.Errorf("httpclient: file %q has neither reader nor path", file.FieldName)
		}
		f, err := os.Open(file.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		reader = f
	}

	part, err := writer.CreateFormFile(file.FieldName, file.FileName)
	if err != nil {
		return err
	}

	_, err = io.Copy(part, reader)
	return err
}

// progressReader reports bytes read to a ProgressFunc.
type progressReader struct {
	r          io.Reader
	loaded     int64
	total      int64
	onProgress ProgressFunc
}

// newProgressReader wraps r, or returns it unchanged when onProgress is nil.
// total is -1 when unknown.
func newProgressReader(r io.Reader, total int64, onProgress ProgressFunc) io.Reader {
	if onProgress == nil {
		return r
	}
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		p.onProgress(Progress{Loaded: p.loaded, Total: p.total})
	}
	return n, err
}

// progressWriter reports bytes written to a ProgressFunc.
type progressWriter struct {
	w          io.Writer
	written    int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	n, err := p.w.Write(buf)
	if n > 0 {
		p.written += int64(n)
		if p.onProgress != nil {
			p.onProgress(Progress{Loaded: p.written, Total: p.total})
		}
	}
	return n, err
}
