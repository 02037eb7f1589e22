// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
)

type (
	// DigestResolver resolves an image reference to its registry digest.
	DigestResolver interface {
		Resolve(ctx context.Context, ref string) (string, error)
	}

	// Resolver resolves references with crane.
	Resolver struct {
		opts []crane.Option
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)
)

// WithCraneOptions passes options (transport, auth, insecure) to every lookup.
func WithCraneOptions(opts ...crane.Option) ResolverOption {
	return func(r *Resolver) {
		r.opts = append(r.opts, opts...)
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns "repository@sha256:..." for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	opts := append([]crane.Option{crane.WithContext(ctx)}, r.opts...)
	digest, err := crane.Digest(ref, opts...)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return parsed.Context().Digest(digest).String(), nil
}

// Identity returns the base image identity used as the root of the layer key
// chain: the resolved digest reference, or the reference as written when the
// registry cannot be reached. The second result reports whether it resolved.
func Identity(ctx context.Context, res DigestResolver, ref string) (string, bool) {
	if res != nil {
		if id, err := res.Resolve(ctx, ref); err == nil {
			return id, true
		}
	}
	return ref, false
}
