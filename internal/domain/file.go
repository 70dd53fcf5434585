package domain

// FileFormat narrows a File's content_type to a modality the adapters need
// to branch on (image vs audio vs document encoding rules differ per vendor).
type FileFormat string

const (
	FormatImage    FileFormat = "image"
	FormatAudio    FileFormat = "audio"
	FormatPDF      FileFormat = "pdf"
	FormatDocument FileFormat = "document"
)

// File references an attachment either inline (base64 Data) or by URL.
// At least one of Data or URL must be set; both may be set once a runner
// has downloaded a URL file to embed it inline for a vendor that requires it.
type File struct {
	Data        string     `json:"data,omitempty"`
	URL         string     `json:"url,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Format      FileFormat `json:"format,omitempty"`
}

// Valid reports whether the file carries enough information to be sent
// anywhere: at least one of Data or URL.
func (f File) Valid() bool {
	return f.Data != "" || f.URL != ""
}

// NeedsContentTypeSniff reports whether the content type is missing and
// must be sniffed from the bytes (inline data) or a HEAD/byte-range probe
// (URL) before an adapter can decide how to encode it.
func (f File) NeedsContentTypeSniff() bool {
	return f.ContentType == ""
}

// RequiresDownload decides whether a file must be downloaded rather than
// passed by reference: when the provider cannot consume URLs directly,
// when the format is audio (no vendor accepts audio by URL), or when the
// content type is unknown and must be sniffed from the bytes.
func RequiresDownload(f File, providerAcceptsURL bool) bool {
	if f.Data != "" {
		return false
	}
	if !providerAcceptsURL {
		return true
	}
	if f.Format == FormatAudio {
		return true
	}
	if f.NeedsContentTypeSniff() {
		return true
	}
	return false
}
