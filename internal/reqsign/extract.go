// SPDX-License-Identifier: LGPL-3.0-or-later

package reqsign

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// ErrMissingSignature is returned when a relayed request carries none, or
// only some, of the four signature fields.
var ErrMissingSignature = errors.New("reqsign: missing or incomplete signature fields")

// SignatureInput is everything extracted from a relayed request needed to
// rebuild its canonical message and verify its signature.
type SignatureInput struct {
	SigningSessionID uuid.UUID
	Timestamp        int64
	Nonce            string
	SignatureB64     string
	PathAndQuery     string
}

// Extract pulls the four signature fields from r, preferring headers and
// falling back to query parameters. Headers and query parameters are each
// all-or-nothing: a request with some but not all of the four fields in a
// given location is rejected rather than silently falling through.
func Extract(r *http.Request) (SignatureInput, error) {
	if input, ok, err := fromHeaders(r); err != nil {
		return SignatureInput{}, err
	} else if ok {
		return input, nil
	}

	if input, ok, err := fromQuery(r); err != nil {
		return SignatureInput{}, err
	} else if ok {
		return input, nil
	}

	return SignatureInput{}, ErrMissingSignature
}

func fromHeaders(r *http.Request) (SignatureInput, bool, error) {
	session := r.Header.Get(SigningSessionHeader)
	ts := r.Header.Get(TimestampHeader)
	nonce := r.Header.Get(NonceHeader)
	sig := r.Header.Get(RequestSignatureHeader)

	anyPresent := session != "" || ts != "" || nonce != "" || sig != ""
	allPresent := session != "" && ts != "" && nonce != "" && sig != ""

	if anyPresent && !allPresent {
		return SignatureInput{}, false, ErrMissingSignature
	}
	if !allPresent {
		return SignatureInput{}, false, nil
	}

	sessionID, timestamp, err := parseSessionAndTimestamp(session, ts)
	if err != nil {
		return SignatureInput{}, false, err
	}

	return SignatureInput{
		SigningSessionID: sessionID,
		Timestamp:        timestamp,
		Nonce:            nonce,
		SignatureB64:     sig,
		PathAndQuery:     pathAndQuery(r.URL),
	}, true, nil
}

func fromQuery(r *http.Request) (SignatureInput, bool, error) {
	query := r.URL.Query()

	session := query.Get(SigningSessionHeader)
	ts := query.Get(TimestampHeader)
	nonce := query.Get(NonceHeader)
	sig := query.Get(RequestSignatureHeader)

	anyPresent := session != "" || ts != "" || nonce != "" || sig != ""
	allPresent := session != "" && ts != "" && nonce != "" && sig != ""

	if anyPresent && !allPresent {
		return SignatureInput{}, false, ErrMissingSignature
	}
	if !anyPresent {
		return SignatureInput{}, false, nil
	}

	sessionID, timestamp, err := parseSessionAndTimestamp(session, ts)
	if err != nil {
		return SignatureInput{}, false, err
	}

	filtered := url.Values{}
	for key, values := range query {
		switch key {
		case SigningSessionHeader, TimestampHeader, NonceHeader, RequestSignatureHeader:
			continue
		default:
			filtered[key] = values
		}
	}

	pathAndQuery := r.URL.Path
	if encoded := filtered.Encode(); encoded != "" {
		pathAndQuery += "?" + encoded
	}

	return SignatureInput{
		SigningSessionID: sessionID,
		Timestamp:        timestamp,
		Nonce:            nonce,
		SignatureB64:     sig,
		PathAndQuery:     pathAndQuery,
	}, true, nil
}

func parseSessionAndTimestamp(session, ts string) (uuid.UUID, int64, error) {
	sessionID, err := uuid.Parse(session)
	if err != nil {
		return uuid.Nil, 0, ErrMissingSignature
	}
	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return uuid.Nil, 0, ErrMissingSignature
	}
	return sessionID, timestamp, nil
}

func pathAndQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}
