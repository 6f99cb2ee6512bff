package validator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linecook-ai/linecook/pkg/domain"
)

func TestValidateRejectsUnknownExtension(t *testing.T) {
	res := New().Validate("malware.exe", []byte("MZ"))
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ValidationInvalidType, res.Code)
}

func TestValidateRejectsEmptyAndOversize(t *testing.T) {
	v := New()

	res := v.Validate("notes.txt", nil)
	assert.Equal(t, domain.ValidationInvalidSize, res.Code)

	big := bytes.Repeat([]byte("a"), 5*(1<<20)+1)
	res = v.Validate("notes.txt", big)
	assert.Equal(t, domain.ValidationInvalidSize, res.Code)
}

func TestValidateText(t *testing.T) {
	v := New()

	res := v.Validate("manual.txt", []byte("clean the fryer daily\nrinse the vat\n"))
	assert.True(t, res.Valid)
	assert.Equal(t, domain.FileTypeText, res.FileType)
	assert.Equal(t, 3, res.LineCount)

	res = v.Validate("manual.txt", []byte{0xFF, 0xFE, 0x41})
	assert.Equal(t, domain.ValidationInvalidContent, res.Code)

	res = v.Validate("manual.txt", []byte("   \n  \n"))
	assert.Equal(t, domain.ValidationInvalidContent, res.Code)
}

func TestValidateMagicBytes(t *testing.T) {
	v := New()
	tests := []struct {
		name  string
		data  []byte
		valid bool
	}{
		{"photo.png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, true},
		{"photo.png", []byte("not a png"), false},
		{"photo.jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, true},
		{"anim.gif", []byte("GIF89a...."), true},
		{"anim.gif", []byte("GIF00a...."), false},
		{"clip.mp4", append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...), true},
		{"clip.mp4", []byte("RIFF1234AVI "), false},
		{"clip.avi", []byte("RIFF1234AVI "), true},
		{"sound.wav", []byte("RIFF1234WAVE"), true},
		{"song.mp3", []byte("ID3\x04data"), true},
		{"song.mp3", []byte{0xFF, 0xFB, 0x90, 0x00}, true},
		{"song.mp3", []byte("nope"), false},
	}
	for _, tt := range tests {
		res := v.Validate(tt.name, tt.data)
		assert.Equal(t, tt.valid, res.Valid, "%s %q", tt.name, tt.data)
		if !tt.valid {
			assert.Equal(t, domain.ValidationCorrupted, res.Code, tt.name)
		}
	}
}

func TestValidateOfficeSniffsAsZip(t *testing.T) {
	v := New()
	data := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 64)...)
	res := v.Validate("roster.xlsx", data)
	assert.True(t, res.Valid)
	assert.Equal(t, domain.FileTypeOffice, res.FileType)

	res = v.Validate("roster.xlsx", []byte("plain old text, no zip"))
	assert.Equal(t, domain.ValidationCorrupted, res.Code)
}

func TestValidatePDFHeader(t *testing.T) {
	res := New().Validate("fryer-manual.pdf", []byte("not a pdf at all"))
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ValidationCorrupted, res.Code)

	// Valid header but garbage structure.
	res = New().Validate("fryer-manual.pdf", []byte("%PDF-1.7 garbage"))
	assert.False(t, res.Valid)
	assert.Equal(t, domain.ValidationCorrupted, res.Code)
}

func TestValidateSecurityScan(t *testing.T) {
	v := New()
	for _, payload := range []string{
		"harmless <script>alert(1)</script>",
		"click javascript:doEvil()",
		"x onload=run()",
		"eval(atob('...'))",
	} {
		res := v.Validate("notes.txt", []byte(payload))
		assert.False(t, res.Valid, payload)
		assert.Equal(t, domain.ValidationSecurityRisk, res.Code, payload)
	}
}

func TestCheckFilename(t *testing.T) {
	assert.NoError(t, CheckFilename("fryer-manual (rev 2).pdf"))

	bad := []string{
		"",
		"../../etc/passwd",
		"a/b.txt",
		`a\b.txt`,
		"%2e%2e%2fescape.txt",
		"weird\x00name.txt",
		"emoji🍟.txt",
	}
	for _, name := range bad {
		assert.Error(t, CheckFilename(name), name)
	}
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "fryer_manual_v2.pdf", SafeFilename("fryer manual v2.pdf"))
	assert.Equal(t, "upload", SafeFilename("🍟🍟🍟"))
	assert.False(t, strings.Contains(SafeFilename("../../x.pdf"), ".."))
}
