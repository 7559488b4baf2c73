package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type contentType int

const (
	contentBinary contentType = iota
	contentPlain
	contentHTML
	contentCSS
	contentMarkdown
	contentPDF
	contentSVG
)

func contentTypeOf(name string) contentType {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return contentHTML
	case ".txt":
		return contentPlain
	case ".css":
		return contentCSS
	case ".md":
		return contentMarkdown
	case ".pdf":
		return contentPDF
	case ".svg":
		return contentSVG
	default:
		return contentBinary
	}
}

func (c contentType) String() string {
	switch c {
	case contentPlain:
		return "text/plain; charset=utf-8"
	case contentHTML:
		return "text/html; charset=utf-8"
	case contentCSS:
		return "text/css; charset=utf-8"
	case contentMarkdown:
		return "text/markdown; charset=utf-8"
	case contentPDF:
		return "application/pdf"
	case contentSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// mayContainScripts reports whether files of this type are assembled.
func (c contentType) mayContainScripts() bool {
	return c == contentHTML || c == contentMarkdown
}

type file struct {
	name        string
	contents    []byte
	contentType contentType
}

// requestError carries the status a failed lookup should be answered with.
type requestError struct {
	status int
	msg    string
	err    error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

// readFileOrIndex resolves a request path under root: the exact file, then
// the same path with ".html" appended, and for paths ending in "/" the
// directory's index.html. A directory requested without its trailing slash
// is not found, with a hint pointing at the slash form.
func readFileOrIndex(root, urlPath string) (*file, error) {
	clean := path.Clean("/" + urlPath)
	local := filepath.Join(root, filepath.FromSlash(clean))

	if strings.HasSuffix(urlPath, "/") {
		return readRegular(filepath.Join(local, "index.html"), clean)
	}

	f, err := readRegular(local, clean)
	if err == nil || !isNotFound(err) {
		return f, err
	}
	f, err = readRegular(local+".html", clean)
	if err == nil || !isNotFound(err) {
		return f, err
	}

	if info, statErr := os.Stat(local); statErr == nil && info.IsDir() {
		return nil, &requestError{
			status: http.StatusNotFound,
			msg:    fmt.Sprintf("%s is a directory, try %s/", clean, clean),
		}
	}
	return nil, &requestError{status: http.StatusNotFound, msg: clean + " not found"}
}

func readRegular(name, requested string) (*file, error) {
	info, err := os.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &requestError{status: http.StatusNotFound, msg: requested + " not found", err: err}
	case errors.Is(err, fs.ErrPermission):
		return nil, &requestError{status: http.StatusForbidden, msg: requested + " is not readable", err: err}
	case err != nil:
		return nil, err
	case !info.Mode().IsRegular():
		return nil, &requestError{status: http.StatusNotFound, msg: requested + " not found", err: fs.ErrNotExist}
	}

	contents, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &requestError{status: http.StatusForbidden, msg: requested + " is not readable", err: err}
		}
		return nil, err
	}
	return &file{name: name, contents: contents, contentType: contentTypeOf(name)}, nil
}

func isNotFound(err error) bool {
	var re *requestError
	return errors.As(err, &re) && re.status == http.StatusNotFound
}
