package release

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxNotesLength is the number of characters kept from release notes.
	MaxNotesLength = 2000

	sha256HexLength     = 64
	thumbprintHexLength = 40
	notesEllipsis       = "..."
)

var (
	errVersionRequired   = errors.New("version is required")
	errAssetNameRequired = errors.New("asset name is required")
	errBadSHA256         = errors.New("sha256 must be 64 hexadecimal characters")
	errBadDownloadURL    = errors.New("download url must be absolute")
	errBadThumbprint     = errors.New("signing thumbprint must be 40 hexadecimal characters")
	errPublishedRequired = errors.New("publish timestamp is required")
)

// Manifest describes one published release artifact. It is immutable once
// published; SigningThumbprints is never modified after parsing, so copies may
// share it.
type Manifest struct {
	Version           Version
	AssetName         string
	DownloadURL       string
	SHA256            string
	PublishedAt       time.Time
	Notes             string
	SigningThumbprint string

	// SigningThumbprints are further pins read from older manifests. Pins only
	// narrow the trusted key bundle, they never add a key to it.
	SigningThumbprints []string
}

// ManifestInput is the raw publish-time data a Manifest is built from.
type ManifestInput struct {
	Version           string
	AssetName         string
	DownloadURL       string
	SHA256            string
	PublishedAt       time.Time
	Notes             string
	SigningThumbprint string
}

// manifestJSON is the wire form. Field order here is the canonical order.
type manifestJSON struct {
	Version           string `json:"version"`
	AssetName         string `json:"asset_name"`
	DownloadURL       string `json:"download_url"`
	SHA256            string `json:"sha256"`
	PublishedAt       string `json:"published_at"`
	Notes             string `json:"notes"`
	SigningThumbprint string `json:"signing_thumbprint,omitempty"`

	SigningThumbprints []string `json:"signing_thumbprints,omitempty"`
}

// legacyManifestJSON accepts manifests published before asset_name existed
// and "signing_thumbprints" given as a single string or a list.
type legacyManifestJSON struct {
	manifestJSON

	Asset       string          `json:"asset"`
	Thumbprints json.RawMessage `json:"signing_thumbprints"`
}

// BuildManifest normalises and validates publish-time input.
func BuildManifest(in ManifestInput) (*Manifest, error) {
	v, err := ParseVersion(in.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}

	publishedAt := in.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	m := &Manifest{
		Version:           v,
		AssetName:         strings.TrimSpace(in.AssetName),
		DownloadURL:       strings.TrimSpace(in.DownloadURL),
		SHA256:            strings.ToLower(strings.TrimSpace(in.SHA256)),
		PublishedAt:       publishedAt.UTC().Truncate(time.Second),
		Notes:             TruncateNotes(in.Notes),
		SigningThumbprint: NormalizeThumbprint(in.SigningThumbprint),
	}

	if err = m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks every field of the manifest. All failures wrap ErrManifestMalformed.
func (m *Manifest) Validate() error {
	var err error

	switch {
	case m.Version.IsZero():
		err = errVersionRequired
	case m.AssetName == "":
		err = errAssetNameRequired
	case !isHex(m.SHA256, sha256HexLength):
		err = errBadSHA256
	case !isAbsoluteURL(m.DownloadURL):
		err = errBadDownloadURL
	case m.PublishedAt.IsZero():
		err = errPublishedRequired
	case m.SigningThumbprint != "" && !isHex(m.SigningThumbprint, thumbprintHexLength):
		err = errBadThumbprint
	default:
		for _, thumbprint := range m.SigningThumbprints {
			if !isHex(thumbprint, thumbprintHexLength) {
				err = errBadThumbprint

				break
			}
		}
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}

	return nil
}

// Marshal renders the canonical JSON form: two-space indent, fixed field
// order, trailing newline.
func (m *Manifest) Marshal() ([]byte, error) {
	wire := manifestJSON{
		Version:           m.Version.String(),
		AssetName:         m.AssetName,
		DownloadURL:       m.DownloadURL,
		SHA256:            m.SHA256,
		PublishedAt:       m.PublishedAt.UTC().Format(time.RFC3339),
		Notes:             m.Notes,
		SigningThumbprint: m.SigningThumbprint,

		SigningThumbprints: m.SigningThumbprints,
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(wire); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseManifest decodes a manifest document and normalises its fields.
// The version, download URL and publish time are not required here because
// the release host may supply them; call Validate once they are resolved.
func ParseManifest(data []byte) (*Manifest, error) {
	var wire legacyManifestJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}

	var (
		v   Version
		err error
	)

	if wire.Version != "" {
		v, err = ParseVersion(wire.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
		}
	}

	assetName := wire.AssetName
	if assetName == "" {
		assetName = wire.Asset
	}

	var publishedAt time.Time
	if wire.PublishedAt != "" {
		publishedAt, err = time.Parse(time.RFC3339, wire.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: published_at: %w", ErrManifestMalformed, err)
		}
	}

	thumbprints, err := parseThumbprints(wire.Thumbprints)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:           v,
		AssetName:         strings.TrimSpace(assetName),
		DownloadURL:       strings.TrimSpace(wire.DownloadURL),
		SHA256:            strings.ToLower(strings.TrimSpace(wire.SHA256)),
		PublishedAt:       publishedAt.UTC(),
		Notes:             wire.Notes,
		SigningThumbprint: NormalizeThumbprint(wire.SigningThumbprint),

		SigningThumbprints: thumbprints,
	}

	if m.AssetName == "" {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, errAssetNameRequired)
	}

	if !isHex(m.SHA256, sha256HexLength) {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, errBadSHA256)
	}

	return m, nil
}

// Pins returns every thumbprint the manifest pins the signer to, without
// duplicates. An empty result means any trusted key may sign.
func (m *Manifest) Pins() []string {
	var pins []string

	for _, thumbprint := range append([]string{m.SigningThumbprint}, m.SigningThumbprints...) {
		if thumbprint != "" && !slices.Contains(pins, thumbprint) {
			pins = append(pins, thumbprint)
		}
	}

	return pins
}

// parseThumbprints decodes "signing_thumbprints", which older manifests
// publish either as one string or as a list.
func parseThumbprints(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var values []string

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		values = []string{single}
	} else if err = json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: signing_thumbprints: %w", ErrManifestMalformed, err)
	}

	var thumbprints []string

	for _, value := range values {
		if normalized := NormalizeThumbprint(value); normalized != "" {
			thumbprints = append(thumbprints, normalized)
		}
	}

	return thumbprints, nil
}

// NormalizeThumbprint upper-cases a certificate thumbprint and strips separators.
func NormalizeThumbprint(s string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(strings.TrimSpace(s)))
}

// TruncateNotes trims release notes and caps them at MaxNotesLength characters.
func TruncateNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) <= MaxNotesLength {
		return notes
	}

	runes := []rune(notes)

	return string(runes[:MaxNotesLength-len(notesEllipsis)]) + notesEllipsis
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.IsAbs() && u.Host != ""
}
