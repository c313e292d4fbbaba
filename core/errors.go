package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for common failure conditions.
var (
	// ErrNotFound indicates the requested image or blob was not found.
	ErrNotFound = errors.New("dockerpull: not found")

	// ErrUnauthorized indicates the registry rejected the token.
	ErrUnauthorized = errors.New("dockerpull: unauthorized")

	// ErrInvalidRef indicates the image reference is unusable.
	ErrInvalidRef = errors.New("dockerpull: invalid reference")

	// ErrUnsupportedManifest indicates the registry returned a manifest list or index.
	ErrUnsupportedManifest = errors.New("dockerpull: unsupported manifest type")

	// ErrDigestMismatch indicates downloaded content does not match its digest.
	ErrDigestMismatch = errors.New("dockerpull: digest mismatch")

	// ErrPathTraversal indicates an archive member name escapes the archive root.
	ErrPathTraversal = errors.New("dockerpull: path traversal detected")

	// ErrBrokenChain indicates the layer records do not form a single lineage.
	ErrBrokenChain = errors.New("dockerpull: broken layer chain")
)

// UsageError reports a bad or missing command-line argument.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Msg
}

// AuthError reports a failed token acquisition.
type AuthError struct {
	Repository string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	msg := "cannot get token for " + e.Repository
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RegistryError reports a non-success response from a manifest or blob endpoint.
// StatusCode is zero when the request never produced a response (timeouts,
// connection failures).
type RegistryError struct {
	// Op is "manifest", "config" or "blob".
	Op         string
	Repository string
	// Digest is set for blob requests.
	Digest     digest.Digest
	StatusCode int
	// Codes lists the error codes of a JSON error body, such as MANIFEST_UNKNOWN.
	Codes []string
	// Body is the response body as sent, truncated to a bounded prefix.
	Body []byte
	Err  error
}

func (e *RegistryError) Error() string {
	target := e.Repository
	if e.Digest != "" {
		target = ShortDigest(e.Digest)
	}
	msg := fmt.Sprintf("cannot fetch %s for %s", e.Op, target)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause and maps auth and not-found statuses
// to the package sentinels. Registries that answer 400 with a DENIED or
// *_UNKNOWN code map the same way through Codes.
func (e *RegistryError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	notFound, unauthorized := false, false
	switch e.StatusCode {
	case http.StatusNotFound:
		notFound = true
	case http.StatusUnauthorized, http.StatusForbidden:
		unauthorized = true
	}
	for _, code := range e.Codes {
		switch code {
		case "NAME_UNKNOWN", "MANIFEST_UNKNOWN", "BLOB_UNKNOWN":
			notFound = true
		case "UNAUTHORIZED", "DENIED":
			unauthorized = true
		}
	}
	if notFound {
		errs = append(errs, ErrNotFound)
	}
	if unauthorized {
		errs = append(errs, ErrUnauthorized)
	}
	return errs
}

// LayerDecodeError reports a layer blob whose compressed stream is malformed.
type LayerDecodeError struct {
	Digest digest.Digest
	Err    error
}

func (e *LayerDecodeError) Error() string {
	return fmt.Sprintf("cannot decode layer %s: %v", ShortDigest(e.Digest), e.Err)
}

func (e *LayerDecodeError) Unwrap() error {
	return e.Err
}

// ShortDigest returns the first 12 hex characters of d, the form used in
// progress lines and diagnostics.
func ShortDigest(d digest.Digest) string {
	_, enc, ok := strings.Cut(string(d), ":")
	if !ok {
		enc = string(d)
	}
	if len(enc) > 12 {
		return enc[:12]
	}
	return enc
}
