package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"invoiceflow/internal/model"

	"github.com/gabriel-vasile/mimetype"
)

// Supported document MIME types
const (
	MIMEPDF  = "application/pdf"
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

var supported = map[string]bool{MIMEPDF: true, MIMEPNG: true, MIMEJPEG: true}

// Document is a file handed to an Extractor.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Extractor turns a document into structured invoice data.
// Failures are returned as *Error.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (model.InvoiceData, error)
}

// Error marks a document as unreadable or unsupported.
type Error struct {
	File   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction of %s failed: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction of %s failed: %s", e.File, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewDocument sniffs the content type of data.
func NewDocument(name string, data []byte) Document {
	return Document{Name: filepath.Base(name), MIMEType: DetectMIME(data), Data: data}
}

// DetectMIME returns the sniffed MIME type without parameters.
func DetectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// Supported reports whether the extractor pipeline accepts the MIME type.
func Supported(mime string) bool {
	return supported[mime]
}

// Unconfigured fails every document. It stands in when no extraction backend is set up,
// so files are parked instead of silently skipped.
type Unconfigured struct{}

func (Unconfigured) Extract(_ context.Context, doc Document) (model.InvoiceData, error) {
	return model.InvoiceData{}, &Error{File: doc.Name, Reason: "no extraction backend configured"}
}
