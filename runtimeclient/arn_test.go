package runtimeclient_test

import (
	"errors"
	"testing"

	"github.com/ggoodman/agentcore-runtime-go/runtimeclient"
)

func TestParseARN(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		a, err := runtimeclient.ParseARN(testARN)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if a.Region != "us-west-2" || a.AccountID != "123456789012" || a.RuntimeID != "my-agent" {
			t.Fatalf("unexpected arn: %+v", a)
		}
		if a.String() != testARN {
			t.Fatalf("round trip: %s", a.String())
		}
	})

	cases := []struct {
		in   string
		part string
	}{
		{"", "format"},
		{"arn:aws:bedrock-agentcore:us-west-2:123456789012", "format"},
		{"urn:aws:bedrock-agentcore:us-west-2:123456789012:runtime/x", "prefix"},
		{"arn::bedrock-agentcore:us-west-2:123456789012:runtime/x", "partition"},
		{"arn:foo:bedrock-agentcore:us-west-2:123456789012:runtime/x", "partition"},
		{"arn:aws-cn:bedrock-agentcore:cn-north-1:123456789012:runtime/x", "partition"},
		{"arn:aws:s3:us-west-2:123456789012:runtime/x", "service"},
		{"arn:aws:bedrock-agentcore::123456789012:runtime/x", "region"},
		{"arn:aws:bedrock-agentcore:us-west-2::runtime/x", "account"},
		{"arn:aws:bedrock-agentcore:us-west-2:12345abc:runtime/x", "account"},
		{"arn:aws:bedrock-agentcore:us-west-2:123456789012:agent/x", "resource"},
		{"arn:aws:bedrock-agentcore:us-west-2:123456789012:runtime/", "runtime id"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			_, err := runtimeclient.ParseARN(tc.in)
			var ae *runtimeclient.InvalidARNError
			if !errors.As(err, &ae) {
				t.Fatalf("want InvalidARNError got %v", err)
			}
			if ae.Part != tc.part {
				t.Fatalf("want part %q got %q", tc.part, ae.Part)
			}
		})
	}
}
