package upstream

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Fault classifies responses synthesized by the client instead of relayed
// from the control plane.
type Fault string

const (
	FaultNone        Fault = ""
	FaultConfig      Fault = "config"
	FaultUnreachable Fault = "unreachable"
	FaultTimeout     Fault = "timeout"
	FaultCanceled    Fault = "canceled"
	FaultUnexpected  Fault = "unexpected"
)

// UnexpectedResponse is the payload used when the control plane answers with
// something that is not JSON.
const UnexpectedResponse = "Unexpected response"

// Response is either a relayed control-plane response or a synthesized fault.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Fault      Fault
}

// ErrorBody is the shape of every error payload the gateway writes.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func faultResponse(status int, fault Fault, msg string) *Response {
	body, _ := json.Marshal(ErrorBody{Error: msg})
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
		Fault:      fault,
	}
}

// OK reports a relayed 2xx response.
func (r *Response) OK() bool {
	return r != nil && r.Fault == FaultNone && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

// Payload returns the body when it is JSON and the unexpected-response error
// object otherwise. Statuses that forbid a body return nil.
func (r *Response) Payload() []byte {
	if r == nil {
		return nil
	}
	switch r.StatusCode {
	case http.StatusNoContent, http.StatusResetContent, http.StatusNotModified:
		return nil
	}
	trimmed := strings.TrimSpace(string(r.Body))
	if trimmed != "" && json.Valid(r.Body) {
		return r.Body
	}
	body, _ := json.Marshal(ErrorBody{Error: UnexpectedResponse})
	return body
}

// ErrorMessage extracts {"error"} or {"message"} from the body.
func (r *Response) ErrorMessage(fallback string) string {
	if r == nil {
		return fallback
	}
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &payload); err == nil {
		if s, ok := payload.Error.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fallback
}

func (r *Response) outcome() string {
	switch {
	case r.Fault != FaultNone:
		return string(r.Fault)
	case r.OK():
		return "ok"
	default:
		return "http_error"
	}
}

// Local builds a response for a fault detected before any upstream call.
func Local(status int, msg string) *Response {
	body, _ := json.Marshal(ErrorBody{Error: msg})
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}
}
