// Package runtimeclient builds authenticated WebSocket connection descriptors
// for hosted agent runtimes.
//
// Three authentication modes are supported:
//
//   - SignedConnection signs the upgrade request with AWS SigV4 and returns
//     the signature as headers.
//   - PresignedURL embeds the SigV4 signature in the URL query string for
//     clients, such as browsers, that cannot set headers.
//   - BearerConnection authenticates with an OAuth bearer token and never
//     touches AWS credentials.
//
// Every method validates the runtime ARN before doing anything else.
//
//	c, _ := runtimeclient.New()
//	conn, err := c.SignedConnection(ctx, "arn:aws:bedrock-agentcore:us-west-2:123456789012:runtime/my-agent")
//	if err != nil { ... }
//	ws, _, err := conn.Dial(ctx, nil)
package runtimeclient
