package secrets

import (
	"context"
	"fmt"
	"strings"

	"autoblog/internal/apperr"
)

// Getter is satisfied by *ParamStore.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Resolver turns indirect configuration values into plaintext.
// Either source may be nil; a value that needs a missing source is an error.
type Resolver struct {
	Params  Getter
	Keyring *Keyring
}

// Resolve returns "ssm:" values from Parameter Store, opens "enc:" values
// with the keyring and returns everything else unchanged.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, SSMPrefix):
		if r == nil || r.Params == nil {
			return "", apperr.Config("secrets.resolve", "ssm: value given but parameter store is not configured")
		}
		v, err := r.Params.GetParameter(ctx, strings.TrimPrefix(value, SSMPrefix))
		if err != nil {
			return "", apperr.Wrap(apperr.KindConfig, "secrets.resolve", err)
		}
		return v, nil
	case strings.HasPrefix(value, EncPrefix):
		if r == nil || r.Keyring == nil {
			return "", apperr.Config("secrets.resolve", "enc: value given but no master key is configured")
		}
		v, err := r.Keyring.Open(value)
		if err != nil {
			return "", apperr.Wrap(apperr.KindConfig, "secrets.resolve", err)
		}
		return v, nil
	default:
		return value, nil
	}
}

// ResolveAll resolves each pointed-to string in place. Names are used only
// in error messages.
func (r *Resolver) ResolveAll(ctx context.Context, refs map[string]*string) error {
	for name, ref := range refs {
		if ref == nil || *ref == "" {
			continue
		}
		v, err := r.Resolve(ctx, *ref)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*ref = v
	}
	return nil
}
