// Package validation provides credential-length checking and the
// per-provider request content rule engine (§4.6).
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	jvalidation "github.com/jellydator/validation"

	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/forwarder"
	"github.com/portablestew/key-commune/internal/provider"
)

const (
	minCredentialLength = 16
	maxCredentialLength = 256
)

// ValidateLength rejects credential material shorter than 16 or longer than
// 256 characters.
func ValidateLength(material string) error {
	err := jvalidation.Validate(material, jvalidation.Length(minCredentialLength, maxCredentialLength))
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrCredentialLengthInvalid, "%s", err.Error())
	}
	return nil
}

// ValidateForImport applies the same length check used on the hot path, for
// the bulk import collaborator.
func ValidateForImport(material string) error {
	return ValidateLength(material)
}

// ValidateRequest checks body, path, and query against a provider's
// configured rules. An empty rule set accepts unconditionally.
func ValidateRequest(rules []provider.Rule, body []byte, path string, query url.Values) error {
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regexp)
		if err != nil {
			return apperrors.Wrapf(apperrors.ErrValidationFailed, "rule %q has invalid regexp: %s", rule.Key, err.Error())
		}

		var value string
		switch rule.Type {
		case "body-json":
			v, ok := jsonDotPath(body, rule.Key)
			if !ok {
				return apperrors.Wrapf(apperrors.ErrValidationFailed, "body missing required key %q", rule.Key)
			}
			value = v
		case "path":
			value = path
		case "query":
			if !query.Has(rule.Key) {
				return apperrors.Wrapf(apperrors.ErrValidationFailed, "query missing required parameter %q", rule.Key)
			}
			value = query.Get(rule.Key)
		default:
			return apperrors.Wrapf(apperrors.ErrValidationFailed, "unknown validation rule type %q", rule.Type)
		}

		if !re.MatchString(value) {
			return apperrors.Wrapf(apperrors.ErrValidationFailed, "%s %q does not match required pattern", rule.Type, rule.Key)
		}
	}
	return nil
}

// jsonDotPath extracts the value at a dot-separated path ("a.b.c") from a
// JSON object body, stringifying the result. Returns false if any segment
// is missing or the body does not parse as an object.
func jsonDotPath(body []byte, path string) (string, bool) {
	doc, ok := forwarder.DecodeJSON(body)
	if !ok {
		return "", false
	}

	cur := doc
	for _, segment := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := obj[segment]
		if !ok {
			return "", false
		}
		cur = v
	}

	switch v := cur.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}
