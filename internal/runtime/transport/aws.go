package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/drblury/logtower/internal/runtime/config"
	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/logging"
)

var (
	AWSDefaultConfigLoader      = awsconfig.LoadDefaultConfig
	CloudWatchLogsClientFactory = func(cfg aws.Config, optFns ...func(*cloudwatchlogs.Options)) cwlogs.API {
		return cloudwatchlogs.NewFromConfig(cfg, optFns...)
	}
)

// LocalStack accepts any credentials, but the SDK refuses to sign without
// some.
const localstackCredential = "test"

func awsClient(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (cwlogs.API, error) {
	cfg, err := createAWSConfig(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	endpoint, err := awsEndpointURL(conf)
	if err != nil {
		logger.Error("Failed to parse AWS endpoint", err, logging.LogFields{"endpoint": conf.AWSEndpoint})
		return nil, err
	}

	var optFns []func(*cloudwatchlogs.Options)
	if endpoint != nil {
		endpointStr := endpoint.String()
		optFns = append(optFns, func(o *cloudwatchlogs.Options) {
			o.BaseEndpoint = aws.String(endpointStr)
		})
	}

	logger.Info("Created CloudWatch Logs client", logging.LogFields{
		"region":          safeAWSRegion(cfg),
		"custom_endpoint": endpoint != nil,
	})
	return CloudWatchLogsClientFactory(*cfg, optFns...), nil
}

func createAWSConfig(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if conf != nil {
		if conf.AWSRegion != "" {
			logger.Debug("Setting AWS region from config", logging.LogFields{"region": conf.AWSRegion})
			opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
		}
		if conf.AWSProfile != "" {
			logger.Debug("Using shared AWS profile", logging.LogFields{"profile": conf.AWSProfile})
			opts = append(opts, awsconfig.WithSharedConfigProfile(conf.AWSProfile))
		}
		switch {
		case conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "":
			logger.Debug("Using static AWS credentials from config", nil)
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey, conf.AWSSessionToken)))
		case conf.AWSEndpoint != "" && conf.AWSProfile == "":
			logger.Info("Custom endpoint without credentials; using LocalStack defaults", nil)
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(localstackCredential, localstackCredential, "")))
		}
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		fields := logging.LogFields{}
		if conf != nil && conf.AWSRegion != "" {
			fields["requested_region"] = conf.AWSRegion
		}
		logger.Error("Failed to load AWS default config", err, fields)
		return nil, err
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests)
	if conf != nil && conf.AWSRegion != "" {
		cfg.Region = conf.AWSRegion
	}
	return &cfg, nil
}

func awsEndpointURL(conf *config.Config) (*url.URL, error) {
	if conf == nil || conf.AWSEndpoint == "" {
		return nil, nil
	}
	parsedURL, err := url.Parse(conf.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsedURL, nil
}

func safeAWSRegion(cfg *aws.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Region
}

func staticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
			Source:          "logtower",
		}, nil
	})
}
