package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

// EnsureNamespace registers the namespace the jobs run in, leaving an existing one alone.
func EnsureNamespace(ctx context.Context, cli workflowservice.WorkflowServiceClient, namespace string, retention time.Duration) error {
	_, err := cli.RegisterNamespace(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        namespace,
		WorkflowExecutionRetentionPeriod: durationpb.New(retention),
	})
	var exists *serviceerror.NamespaceAlreadyExists
	if errors.As(err, &exists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error registering namespace %q: %s", namespace, err)
	}

	return nil
}
