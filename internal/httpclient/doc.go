// Package httpclient provides HTTP client utilities for chorus backends.
//
// The httpclient package handles request construction and execution with support for:
//   - Configurable timeouts and connection pooling
//   - Credential injection through an [AuthProvider]
//   - JSON request bodies that can be replayed on retry
//
// # Request Building
//
// Use [NewRequestBuilder] to describe a POST endpoint once and build a fresh
// request for each call:
//
//	builder, err := httpclient.NewRequestBuilder(http.MethodPost, url, headers)
//	if err != nil {
//		return err
//	}
//	req, err := builder.WithAuth(provider).BuildJSON(ctx, payload)
//
// # HTTP Client
//
// [NewClient] creates a client tuned for long-lived streaming responses. The
// overall timeout is left to the caller's context so a stream is never cut
// off mid-answer by the client itself:
//
//	client := httpclient.NewClient(0)
//	resp, err := client.Do(req)
//
// Non-2xx responses can be summarised with [ReadErrorBody].
package httpclient
