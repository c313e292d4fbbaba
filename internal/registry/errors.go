package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/dockerpull/core"
)

// mapError converts ORAS registry errors to a *core.RegistryError carrying
// the HTTP status and the error body. body is the raw response body captured
// by the transport; it is stored as sent, whatever its content type.
func mapError(op string, ref core.Reference, dgst digest.Digest, body []byte, err error) error {
	if err == nil {
		return nil
	}

	regErr := &core.RegistryError{
		Op:         op,
		Repository: ref.Repository(),
		Digest:     dgst,
		Body:       body,
		Err:        err,
	}

	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		regErr.StatusCode = errResp.StatusCode
		for _, e := range errResp.Errors {
			regErr.Codes = append(regErr.Codes, e.Code)
		}
		if len(regErr.Body) == 0 {
			regErr.Body = errorBody(errResp.Errors)
		}
		return regErr
	}

	// ORAS reports 404 responses as errdef.ErrNotFound without the response.
	if errors.Is(err, errdef.ErrNotFound) {
		regErr.StatusCode = http.StatusNotFound
	}
	return regErr
}

// errorBody re-encodes the registry error list in its wire form.
func errorBody(errs errcode.Errors) []byte {
	if len(errs) == 0 {
		return nil
	}
	body, err := json.Marshal(struct {
		Errors errcode.Errors `json:"errors"`
	}{errs})
	if err != nil {
		return nil
	}
	return body
}
