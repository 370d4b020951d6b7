package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// configKeychain resolves credentials from the tool configuration and from
// registry-specific environment variables.
type configKeychain struct {
	config types.RegistryConfig
}

// NewKeychain returns a keychain that tries, in order, the configured
// credentials, <HOST>_USERNAME/_PASSWORD/_TOKEN environment variables and
// finally the docker config and credential helpers.
func NewKeychain(config types.RegistryConfig) authn.Keychain {
	return authn.NewMultiKeychain(&configKeychain{config: config}, authn.DefaultKeychain)
}

// Resolve implements authn.Keychain
func (k *configKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	registry := NormalizeRegistry(target.RegistryStr())

	if auth, err := k.getFromConfig(registry); err == nil {
		return auth, nil
	}
	if auth, err := getFromEnvironment(registry); err == nil {
		return auth, nil
	}

	return authn.Anonymous, nil
}

// getFromConfig gets credentials from the registry configuration
func (k *configKeychain) getFromConfig(registry string) (authn.Authenticator, error) {
	regAuth, exists := k.config.Registries[registry]
	if !exists && registry == DockerHubRegistry {
		regAuth, exists = k.config.Registries[DockerHubIndex]
	}
	if !exists {
		return nil, fmt.Errorf("registry %s not found in config", registry)
	}

	return authenticatorFor(regAuth.Username, regAuth.Password, regAuth.Token)
}

// getFromEnvironment gets credentials from environment variables
func getFromEnvironment(registry string) (authn.Authenticator, error) {
	envPrefix := strings.ToUpper(strings.ReplaceAll(registry, ".", "_"))
	envPrefix = strings.ReplaceAll(envPrefix, "-", "_")
	envPrefix = strings.ReplaceAll(envPrefix, ":", "_")

	auth, err := authenticatorFor(
		os.Getenv(envPrefix+"_USERNAME"),
		os.Getenv(envPrefix+"_PASSWORD"),
		os.Getenv(envPrefix+"_TOKEN"),
	)
	if err == nil {
		return auth, nil
	}

	if registry == DockerHubRegistry {
		return authenticatorFor(
			os.Getenv("DOCKER_USERNAME"),
			os.Getenv("DOCKER_PASSWORD"),
			os.Getenv("DOCKER_TOKEN"),
		)
	}

	return nil, err
}

func authenticatorFor(username, password, token string) (authn.Authenticator, error) {
	if username != "" && password != "" {
		return &authn.Basic{
			Username: username,
			Password: password,
		}, nil
	}

	if token != "" {
		return &authn.Bearer{Token: token}, nil
	}

	return nil, fmt.Errorf("no credentials")
}
