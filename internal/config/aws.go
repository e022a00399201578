package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadAWSConfig resolves credentials and region the SDK way (env, shared
// files, instance role).
func LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return cfg, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// EndpointOverride returns the custom endpoint (LocalStack) for service
// clients, nil when AWS_ENDPOINT is unset.
func (e Env) EndpointOverride() *string {
	if e.AWSEndpoint == "" {
		return nil
	}
	return aws.String(e.AWSEndpoint)
}
