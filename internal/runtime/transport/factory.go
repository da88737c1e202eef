// Package transport builds the CloudWatch Logs client a handler ships to.
package transport

import (
	"context"
	"errors"

	"github.com/drblury/logtower/internal/runtime/config"
	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/logging"
)

// Factory abstracts how the remote API client is created.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (cwlogs.API, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (cwlogs.API, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (cwlogs.API, error) {
	return f(ctx, conf, logger)
}

// Static returns a Factory that always hands out api.
func Static(api cwlogs.API) Factory {
	return FactoryFunc(func(context.Context, *config.Config, logging.ServiceLogger) (cwlogs.API, error) {
		if api == nil {
			return nil, errors.New("transport: static client is nil")
		}
		return api, nil
	})
}

// DefaultFactory builds a *cloudwatchlogs.Client from the AWS settings in
// the configuration and the standard SDK credential chain.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (cwlogs.API, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	return awsClient(ctx, conf, logger)
}
