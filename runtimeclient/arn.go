package runtimeclient

import (
	"fmt"
	"strings"
)

const (
	arnPartition      = "aws"
	arnService        = "bedrock-agentcore"
	arnResourcePrefix = "runtime/"
)

// RuntimeARN identifies a hosted agent runtime.
type RuntimeARN struct {
	Partition string
	Region    string
	AccountID string
	RuntimeID string
}

// InvalidARNError reports which part of an ARN failed to parse.
type InvalidARNError struct {
	ARN    string
	Part   string
	Reason string
}

func (e *InvalidARNError) Error() string {
	return fmt.Sprintf("runtimeclient: invalid runtime ARN %q: %s %s", e.ARN, e.Part, e.Reason)
}

// ParseARN parses arn:aws:bedrock-agentcore:{region}:{account}:runtime/{id}.
func ParseARN(s string) (RuntimeARN, error) {
	bad := func(part, reason string) (RuntimeARN, error) {
		return RuntimeARN{}, &InvalidARNError{ARN: s, Part: part, Reason: reason}
	}

	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 {
		return bad("format", "must have six colon-separated fields")
	}
	if parts[0] != "arn" {
		return bad("prefix", `must be "arn"`)
	}
	if parts[1] != arnPartition {
		return bad("partition", fmt.Sprintf("must be %q", arnPartition))
	}
	if parts[2] != arnService {
		return bad("service", fmt.Sprintf("must be %q", arnService))
	}
	if parts[3] == "" {
		return bad("region", "is empty")
	}
	if parts[4] == "" {
		return bad("account", "is empty")
	}
	for _, r := range parts[4] {
		if r < '0' || r > '9' {
			return bad("account", "must be numeric")
		}
	}
	id, ok := strings.CutPrefix(parts[5], arnResourcePrefix)
	if !ok {
		return bad("resource", fmt.Sprintf("must start with %q", arnResourcePrefix))
	}
	if id == "" || strings.Contains(id, "/") {
		return bad("runtime id", "must be a single non-empty path segment")
	}

	return RuntimeARN{
		Partition: parts[1],
		Region:    parts[3],
		AccountID: parts[4],
		RuntimeID: id,
	}, nil
}

func (a RuntimeARN) String() string {
	return "arn:" + a.Partition + ":" + arnService + ":" + a.Region + ":" + a.AccountID + ":" + arnResourcePrefix + a.RuntimeID
}
