package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// SecretsAPI is the subset of the Secrets Manager client used by SecretStore
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ErrSecretEmpty is returned when a secret exists but holds no string value
var ErrSecretEmpty = errors.New("secret has no string value")

// SecretStore reads deployment secrets from Secrets Manager
type SecretStore struct {
	client SecretsAPI
	region string
	logger zerolog.Logger
}

// NewSecretStore creates a secret store for the config's region
func NewSecretStore(cfg aws.Config, logger zerolog.Logger) *SecretStore {
	return NewSecretStoreWithClient(secretsmanager.NewFromConfig(cfg), cfg.Region, logger)
}

// NewSecretStoreWithClient creates a secret store on an existing client
func NewSecretStoreWithClient(client SecretsAPI, region string, logger zerolog.Logger) *SecretStore {
	return &SecretStore{
		client: client,
		region: region,
		logger: logger.With().Str("component", "secrets").Logger(),
	}
}

// Get returns the current string value of a secret
func (s *SecretStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("error reading secret %s in region %s: %w", key, s.region, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s: %w", key, ErrSecretEmpty)
	}
	return *out.SecretString, nil
}

// Preflight reads every key and reports all that cannot be read. Values are discarded.
func (s *SecretStore) Preflight(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if _, err := s.Get(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug().Str("secret", key).Msg("secret readable")
	}
	return errors.Join(errs...)
}
