package identity

import "context"

type contextKey struct{}

var clusterKey = contextKey{}

// WithCluster returns a context carrying the resolved cluster ID
func WithCluster(ctx context.Context, clusterID string) context.Context {
	return context.WithValue(ctx, clusterKey, clusterID)
}

// FromContext returns the cluster ID stored by WithCluster
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(clusterKey).(string)
	return id, ok && id != ""
}
