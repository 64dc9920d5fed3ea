package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
)

type GraphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName,omitempty"`
	Variables     any    `json:"variables,omitempty"`
}

type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// GraphQL posts req to endpoint and returns the raw data field. Errors in the
// response body are mapped to typed errors by their extensions.code.
func GraphQL(ctx context.Context, c *Client, endpoint string, req GraphQLRequest, headers map[string]string) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode graphql request", err)
	}
	var resp graphQLResponse
	if _, err := DoBodyJSON(ctx, c, http.MethodPost, endpoint, body, headers, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, graphQLError(resp.Errors)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, clierr.New(clierr.CodeUnavailable, "graphql response has no data")
	}
	return resp.Data, nil
}

func graphQLError(errs []GraphQLError) error {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, strings.TrimSpace(e.Message))
	}
	msg := "graphql: " + strings.Join(messages, "; ")

	code, _ := errs[0].Extensions["code"].(string)
	switch strings.ToUpper(code) {
	case "UNAUTHENTICATED", "FORBIDDEN":
		return clierr.New(clierr.CodeAuth, msg)
	case "BAD_USER_INPUT", "GRAPHQL_VALIDATION_FAILED":
		return clierr.New(clierr.CodeUsage, msg)
	case "RATE_LIMITED", "TOO_MANY_REQUESTS":
		return clierr.New(clierr.CodeRateLimited, msg)
	default:
		return clierr.New(clierr.CodeUnavailable, msg)
	}
}
