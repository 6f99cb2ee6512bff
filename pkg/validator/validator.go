// Package validator gates all inbound bytes with layered checks: extension,
// size, MIME sniff, magic bytes, content shape, and a script-injection scan.
// Every rejection carries one of the closed outcome codes.
package validator

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	pdf "github.com/dslipak/pdf"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

const mib = 1 << 20

// policy is the per-extension validation policy.
type policy struct {
	fileType domain.FileType
	maxSize  int64
}

var policies = map[string]policy{
	".pdf": {domain.FileTypePDF, 10 * mib},

	".docx": {domain.FileTypeOffice, 25 * mib},
	".xlsx": {domain.FileTypeOffice, 25 * mib},
	".pptx": {domain.FileTypeOffice, 25 * mib},
	".docm": {domain.FileTypeOffice, 10 * mib},
	".xlsm": {domain.FileTypeOffice, 10 * mib},

	".jpg":  {domain.FileTypeImage, 10 * mib},
	".jpeg": {domain.FileTypeImage, 10 * mib},
	".png":  {domain.FileTypeImage, 10 * mib},
	".gif":  {domain.FileTypeImage, 5 * mib},
	".webp": {domain.FileTypeImage, 5 * mib},

	".mp4": {domain.FileTypeVideo, 100 * mib},
	".mov": {domain.FileTypeVideo, 100 * mib},
	".avi": {domain.FileTypeVideo, 50 * mib},

	".wav": {domain.FileTypeAudio, 25 * mib},
	".mp3": {domain.FileTypeAudio, 10 * mib},
	".m4a": {domain.FileTypeAudio, 10 * mib},

	".txt": {domain.FileTypeText, 5 * mib},
	".md":  {domain.FileTypeText, 5 * mib},
	".csv": {domain.FileTypeText, 1 * mib},
}

// Script-injection patterns rejected in non-executable formats.
var injectionPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("onload="),
	[]byte("onerror="),
	[]byte("eval("),
	[]byte("exec("),
}

var safeFilename = regexp.MustCompile(`^[A-Za-z0-9._\-\s()]+$`)

// Validator runs the layered check pipeline.
type Validator struct{}

func New() *Validator { return &Validator{} }

// Validate runs the checks in order: filename safety, extension, size,
// MIME consistency, content shape, security scan. The first failure wins.
func (v *Validator) Validate(filename string, data []byte) domain.ValidationResult {
	if err := CheckFilename(filename); err != nil {
		log.Audit("unsafe filename rejected", "filename", filename)
		return reject(domain.ValidationSecurityRisk, err.Error())
	}

	ext := strings.ToLower(filepath.Ext(filename))
	pol, ok := policies[ext]
	if !ok {
		return reject(domain.ValidationInvalidType, fmt.Sprintf("unsupported extension %q", ext))
	}

	if len(data) == 0 {
		return reject(domain.ValidationInvalidSize, "empty file")
	}
	if int64(len(data)) > pol.maxSize {
		return reject(domain.ValidationInvalidSize,
			fmt.Sprintf("file is %d bytes, limit for %s is %d", len(data), ext, pol.maxSize))
	}

	mime := http.DetectContentType(data)

	res := domain.ValidationResult{
		Valid:    true,
		Code:     domain.ValidationOK,
		FileType: pol.fileType,
		MIME:     mime,
	}

	var bad *domain.ValidationResult
	switch pol.fileType {
	case domain.FileTypePDF:
		bad = v.checkPDF(data, &res)
	case domain.FileTypeOffice:
		bad = v.checkOffice(data, mime)
	case domain.FileTypeImage:
		bad = v.checkImage(ext, data)
	case domain.FileTypeVideo:
		bad = v.checkVideo(ext, data)
	case domain.FileTypeAudio:
		bad = v.checkAudio(ext, data)
	case domain.FileTypeText:
		bad = v.checkText(data, &res)
	}
	if bad != nil {
		return *bad
	}

	// Executable container formats (video, audio, images) carry arbitrary
	// binary data; the scan applies to document-like formats.
	if pol.fileType == domain.FileTypePDF || pol.fileType == domain.FileTypeText || pol.fileType == domain.FileTypeOffice {
		if pat := scanInjection(data); pat != "" {
			log.Audit("script injection pattern rejected", "filename", filename, "pattern", pat)
			return reject(domain.ValidationSecurityRisk, fmt.Sprintf("suspicious content pattern %q", pat))
		}
	}

	return res
}

// CheckFilename rejects names containing path separators, traversal, or
// characters outside the safe set. Names are URL-decoded first so an
// encoded traversal cannot slip through.
func CheckFilename(name string) error {
	if name == "" {
		return fmt.Errorf("empty filename")
	}
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("filename contains path traversal")
	}
	if !safeFilename.MatchString(name) {
		return fmt.Errorf("filename contains unsafe characters")
	}
	return nil
}

// SafeFilename returns a sanitized form usable in blob paths.
func SafeFilename(name string) string {
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-', r == '(', r == ')':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

func (v *Validator) checkPDF(data []byte, res *domain.ValidationResult) (bad *domain.ValidationResult) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return rejectPtr(domain.ValidationCorrupted, "missing %PDF header")
	}

	// The PDF parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			bad = rejectPtr(domain.ValidationCorrupted, "unreadable PDF structure")
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return rejectPtr(domain.ValidationCorrupted, "unreadable PDF structure")
	}
	res.PageCount = r.NumPage()

	// Text from the first few pages decides whether downstream extraction
	// has anything to work with.
	var sample strings.Builder
	for i := 1; i <= r.NumPage() && i <= 5; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		if text, err := p.GetPlainText(nil); err == nil {
			sample.WriteString(text)
		}
	}
	res.TextExtracted = strings.TrimSpace(sample.String()) != ""
	if !res.TextExtracted {
		return rejectPtr(domain.ValidationInvalidContent, "PDF yields no extractable text")
	}
	return nil
}

func (v *Validator) checkOffice(data []byte, mime string) *domain.ValidationResult {
	if !bytes.HasPrefix(data, []byte("PK")) {
		return rejectPtr(domain.ValidationCorrupted, "missing OOXML zip header")
	}
	// Office files are allowed to sniff as generic zip.
	if mime != "application/zip" && !strings.Contains(mime, "officedocument") && mime != "application/octet-stream" {
		return rejectPtr(domain.ValidationInvalidContent, fmt.Sprintf("MIME %q inconsistent with Office extension", mime))
	}
	return nil
}

var imageMagic = map[string][][]byte{
	".jpg":  {{0xFF, 0xD8, 0xFF}},
	".jpeg": {{0xFF, 0xD8, 0xFF}},
	".png":  {{0x89, 0x50, 0x4E, 0x47}},
	".gif":  {[]byte("GIF87a"), []byte("GIF89a")},
	".webp": {[]byte("RIFF")},
}

func (v *Validator) checkImage(ext string, data []byte) *domain.ValidationResult {
	for _, magic := range imageMagic[ext] {
		if bytes.HasPrefix(data, magic) {
			if ext == ".webp" && (len(data) < 12 || !bytes.Equal(data[8:12], []byte("WEBP"))) {
				continue
			}
			return nil
		}
	}
	return rejectPtr(domain.ValidationCorrupted, fmt.Sprintf("magic bytes disagree with %s extension", ext))
}

func (v *Validator) checkVideo(ext string, data []byte) *domain.ValidationResult {
	switch ext {
	case ".mp4", ".mov":
		// ftyp box sits at offset 4 of the first box.
		if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
			return nil
		}
	case ".avi":
		if bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("AVI ")) {
			return nil
		}
	}
	return rejectPtr(domain.ValidationCorrupted, fmt.Sprintf("missing format header for %s", ext))
}

func (v *Validator) checkAudio(ext string, data []byte) *domain.ValidationResult {
	switch ext {
	case ".wav":
		if bytes.HasPrefix(data, []byte("RIFF")) {
			return nil
		}
	case ".mp3":
		// ID3 tag or an MPEG frame sync.
		if bytes.HasPrefix(data, []byte("ID3")) {
			return nil
		}
		if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
			return nil
		}
	case ".m4a":
		if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
			return nil
		}
	}
	return rejectPtr(domain.ValidationCorrupted, fmt.Sprintf("missing audio header for %s", ext))
}

func (v *Validator) checkText(data []byte, res *domain.ValidationResult) *domain.ValidationResult {
	// Text files are permitted to sniff as binary as long as they decode.
	if !utf8.Valid(data) {
		return rejectPtr(domain.ValidationInvalidContent, "not valid UTF-8")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return rejectPtr(domain.ValidationInvalidContent, "text file is empty")
	}
	res.LineCount = bytes.Count(data, []byte("\n")) + 1
	return nil
}

func scanInjection(data []byte) string {
	lower := bytes.ToLower(data)
	for _, pat := range injectionPatterns {
		if bytes.Contains(lower, pat) {
			return string(pat)
		}
	}
	return ""
}

func reject(code, detail string) domain.ValidationResult {
	return domain.ValidationResult{Valid: false, Code: code, Detail: detail}
}

func rejectPtr(code, detail string) *domain.ValidationResult {
	r := reject(code, detail)
	return &r
}
