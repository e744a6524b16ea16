package patient

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// MaxUploadSize is the largest attachment accepted, in bytes (10 MB).
const MaxUploadSize = 10 << 20

var (
	ErrFileTooLarge   = errors.New("File size must be less than 10 MB.")
	ErrInvalidDataURL = errors.New("data must be a base64 data URL")
)

// EncodeDataURL renders content as "data:<mime>;base64,<payload>", the
// self-describing form attachments are stored in.
func EncodeDataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into its mime type and payload.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mimeType, data, nil
}

// ReadUpload reads a multipart file part fully into memory and returns its
// name and data URL. Files larger than maxSize fail with ErrFileTooLarge.
func ReadUpload(fh *multipart.FileHeader, maxSize int64) (string, string, error) {
	if maxSize <= 0 {
		maxSize = MaxUploadSize
	}
	if fh.Size > maxSize {
		return "", "", ErrFileTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return "", "", fmt.Errorf("read uploaded file: %w", err)
	}
	if int64(len(data)) > maxSize {
		return "", "", ErrFileTooLarge
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return fh.Filename, EncodeDataURL(contentType, data), nil
}
