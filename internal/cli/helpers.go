package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/convergent-io/convergent/internal/engine"
	"github.com/convergent-io/convergent/internal/state"
	"github.com/convergent-io/convergent/providers/aws"
	"github.com/convergent-io/convergent/providers/docker"
	"github.com/convergent-io/convergent/providers/null"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openStore builds the state store selected by the backend flags. The
// returned closer releases backend resources and is safe to call always.
func openStore(ctx context.Context) (state.Store, func() error, error) {
	switch flagBackend {
	case "local":
		store, err := state.NewFileStore(flagStateDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	case "sqlite":
		store, err := state.NewSQLiteStore(flagDBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "s3":
		store, err := state.NewS3Store(ctx, state.S3Config{
			Bucket:        flagS3Bucket,
			Prefix:        flagS3Prefix,
			Region:        flagS3Region,
			DynamoDBTable: flagS3LockTable,
			Profile:       flagS3Profile,
			Encrypt:       flagS3Encrypt,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (expected local, sqlite, or s3)", flagBackend)
	}
}

// builtinRegistry registers every provider kind shipped with the binary.
// Destroy replays stored records through their original handlers, so the
// registry must cover all kinds that may appear in state.
func builtinRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	null.Register(reg)
	docker.New().Register(reg)
	// Region and credentials come from the standard AWS chain.
	aws.New(aws.Config{}).Register(reg)
	return reg
}

// newEngine wires a store and the builtin registry into an engine matching
// the app and stage flags.
func newEngine(store state.Store) (*engine.Engine, error) {
	return engine.New(engine.Options{
		App:      flagApp,
		Stage:    flagStage,
		Store:    store,
		Registry: builtinRegistry(),
	})
}

// parseAddress splits "scope/path/id" into a scope path and a logical id.
func parseAddress(addr string) ([]string, string, error) {
	parts := strings.Split(strings.Trim(addr, "/"), "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return nil, "", fmt.Errorf("invalid resource address %q, expected scope/path/id", addr)
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// parseScopePath splits a "scope/path" argument, where an empty argument
// addresses the root scope.
func parseScopePath(arg string) []string {
	trimmed := strings.Trim(arg, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func formatAddress(scopePath []string, id string) string {
	if len(scopePath) == 0 {
		return id
	}
	return strings.Join(scopePath, "/") + "/" + id
}
