package tenant

import (
	"context"
)

type ctxKey string

const descriptorKey ctxKey = "COURIER_TENANT_DESCRIPTOR"

// WithDescriptor returns a derived context carrying the resolved tenant Descriptor.
func WithDescriptor(ctx context.Context, d Descriptor) context.Context {
	return context.WithValue(ctx, descriptorKey, d)
}

// FromContext extracts the tenant Descriptor and a boolean indicating presence.
func FromContext(ctx context.Context) (Descriptor, bool) {
	v := ctx.Value(descriptorKey)
	if v == nil {
		return Descriptor{}, false
	}

	d, ok := v.(Descriptor)
	return d, ok
}
