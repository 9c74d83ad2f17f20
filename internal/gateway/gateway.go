package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/marksync/internal/entity"
)

// Response is the envelope returned by every gateway call.
type Response struct {
	Status     int             `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
	StatusText string          `json:"statusText"`
}

// OK reports whether the call succeeded (status 200 exactly).
func (r Response) OK() bool {
	return r.Status == http.StatusOK
}

// Err returns nil for a successful response and an *HTTPError otherwise.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return &HTTPError{Status: r.Status, StatusText: r.StatusText, Body: string(r.Data)}
}

// Decode unmarshals Data into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("decode response: empty body")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPError describes a non-200 response.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.StatusText != "" {
		return fmt.Sprintf("remote status %d: %s", e.Status, e.StatusText)
	}
	return fmt.Sprintf("remote status %d", e.Status)
}

// Gateway is the contract the sync core consumes.
type Gateway interface {
	// FetchAll lists every record of kind under scope (all records when
	// scope is empty).
	FetchAll(ctx context.Context, kind entity.Kind, scope string) (Response, error)

	// Mutate applies op to payload. Payload is a single record for
	// create/update/delete and a slice for the _many variants.
	Mutate(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (Response, error)
}

// errorBody is the JSON body written with non-200 responses.
type errorBody struct {
	Error string `json:"error"`
}

func failure(status int, msg string) Response {
	data, _ := json.Marshal(errorBody{Error: msg})
	return Response{Status: status, Data: data, StatusText: http.StatusText(status)}
}

func success(data []byte) Response {
	return Response{Status: http.StatusOK, Data: data, StatusText: http.StatusText(http.StatusOK)}
}

type originKey struct{}

// WithOrigin tags ctx with the identifier of the client issuing a call.
// Memory passes it through to commit hooks so feed listeners can skip
// their own echoes.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin stored by WithOrigin.
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
