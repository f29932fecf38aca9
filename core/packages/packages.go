// Package packages shapes package and version requests for the control plane.
// Uniqueness, storage and manifest semantics belong to the control plane; this
// layer only rejects input that can never be valid.
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/inactu/inactu-web/core/infra/schema"
	"github.com/inactu/inactu-web/core/upstream"
)

// Visibility of a package.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

var (
	ErrValidation = upstream.ErrValidation
	// ErrAlreadyDeprecated is returned by DeprecateOnce when the version
	// already carries a deprecation timestamp.
	ErrAlreadyDeprecated = errors.New("version already deprecated")
)

// Package is a package summary as listed by the control plane.
type Package struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Visibility  Visibility `json:"visibility"`
	Description *string    `json:"description"`
}

// Version is a published package version. DeprecatedAt only ever moves from
// nil to a timestamp.
type Version struct {
	Version        string  `json:"version"`
	ArtifactDigest string  `json:"artifact_digest"`
	PublishedAt    string  `json:"published_at"`
	DeprecatedAt   *string `json:"deprecated_at"`
}

func (v Version) Deprecated() bool {
	return v.DeprecatedAt != nil && *v.DeprecatedAt != ""
}

// CreateInput is the caller's package creation request.
type CreateInput struct {
	Name        string `json:"name"`
	Visibility  string `json:"visibility"`
	Description string `json:"description"`
}

type createBody struct {
	Name        string     `json:"name"`
	Visibility  Visibility `json:"visibility"`
	Description *string    `json:"description"`
}

// Service issues package operations on behalf of a user.
type Service struct {
	caller upstream.Caller
}

func NewService(caller upstream.Caller) *Service {
	return &Service{caller: caller}
}

// CreatePackage validates in and posts it to /v1/packages.
func (s *Service) CreatePackage(ctx context.Context, userID string, in CreateInput) (*upstream.Response, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, upstream.Invalid("Package name is required")
	}
	visibility, err := parseVisibility(in.Visibility)
	if err != nil {
		return nil, err
	}
	body := createBody{Name: name, Visibility: visibility}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		body.Description = &desc
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   "/v1/packages",
		UserID: userID,
		Body:   data,
	}), nil
}

// ListPackages returns the package list with its packages sorted by name.
func (s *Service) ListPackages(ctx context.Context, userID string) *upstream.Response {
	resp := s.caller.Call(ctx, upstream.Request{Method: http.MethodGet, Path: "/v1/packages", UserID: userID})
	if !resp.OK() {
		return resp
	}
	if sorted, err := SortPackages(resp.Body); err == nil {
		resp.Body = sorted
	}
	return resp
}

// PublishVersion posts manifest as {"manifest": ...}. manifest may be a JSON
// object or a JSON string containing one.
func (s *Service) PublishVersion(ctx context.Context, userID, name string, manifest json.RawMessage) (*upstream.Response, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, upstream.Invalid("Package name is required")
	}
	obj, err := ParseManifest(manifest)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(struct {
		Manifest json.RawMessage `json:"manifest"`
	}{Manifest: obj})
	if err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   versionsPath(name),
		UserID: userID,
		Body:   data,
	}), nil
}

// ListVersions returns versions in the order the control plane sent them.
func (s *Service) ListVersions(ctx context.Context, userID, name string) (*upstream.Response, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, upstream.Invalid("Package name is required")
	}
	return s.caller.Call(ctx, upstream.Request{Method: http.MethodGet, Path: versionsPath(name), UserID: userID}), nil
}

// DeprecateVersion requests the one-way deprecation of a version. Repeats
// are resolved by the control plane.
func (s *Service) DeprecateVersion(ctx context.Context, userID, name, version string) (*upstream.Response, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return nil, upstream.Invalid("Package name is required")
	}
	if version == "" {
		return nil, upstream.Invalid("Version is required")
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   versionsPath(name) + "/" + url.PathEscape(version) + "/deprecate",
		UserID: userID,
	}), nil
}

// DeprecateOnce lists versions first and refuses with ErrAlreadyDeprecated
// when version is already deprecated, so one flow never deprecates twice.
// A non-2xx listing is returned as is.
func (s *Service) DeprecateOnce(ctx context.Context, userID, name, version string) (*upstream.Response, error) {
	listing, err := s.ListVersions(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if !listing.OK() {
		return listing, nil
	}
	versions, err := DecodeVersions(listing.Body)
	if err != nil {
		return upstream.Local(http.StatusBadGateway, upstream.UnexpectedResponse), nil
	}
	for _, v := range versions {
		if v.Version == strings.TrimSpace(version) && v.Deprecated() {
			return nil, ErrAlreadyDeprecated
		}
	}
	return s.DeprecateVersion(ctx, userID, name, version)
}

// ParseManifest accepts an object or a string holding an object and returns
// the object bytes.
func ParseManifest(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, upstream.Invalid("Manifest is required")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, upstream.Invalid("Manifest must be valid JSON.")
		}
		trimmed = strings.TrimSpace(inner)
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, upstream.Invalid("Manifest must be valid JSON.")
	}
	if err := schema.RequireObject("manifest", []byte(trimmed)); err != nil {
		return nil, upstream.Invalid("Manifest must be a JSON object.")
	}
	return json.RawMessage(trimmed), nil
}

// DecodeVersions reads {"versions": [...]}.
func DecodeVersions(body []byte) ([]Version, error) {
	var payload struct {
		Versions []Version `json:"versions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Versions, nil
}

// DecodePackages reads {"packages": [...]}.
func DecodePackages(body []byte) ([]Package, error) {
	var payload struct {
		Packages []Package `json:"packages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Packages, nil
}

func parseVisibility(raw string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case "":
		return VisibilityPrivate, nil
	case VisibilityPrivate, VisibilityPublic:
		return v, nil
	default:
		return "", upstream.Invalid("Visibility must be private or public")
	}
}

func versionsPath(name string) string {
	return "/v1/packages/" + url.PathEscape(name) + "/versions"
}
