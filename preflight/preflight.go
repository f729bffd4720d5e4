// Package preflight verifies, before a worker starts consuming, that the
// caller's principal is actually allowed to receive and delete queue
// messages and read the referenced objects. Catching a permission problem
// here avoids burning a visibility timeout per message on AccessDenied.
package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	awsclient "github.com/gurre/sqs-s3-pipeline/aws"
)

// Action sets per resource scope. Each set is simulated only against the
// resource it targets: IAM aggregates an action's decision over every
// listed resource, so mixing scopes would report implicit denies for a
// correctly least-privilege principal (sqs:ReceiveMessage is never
// granted on a bucket).
var (
	queueActions  = []string{"sqs:ReceiveMessage", "sqs:DeleteMessage"}
	objectActions = []string{"s3:GetObject"}
)

// Checker simulates the pipeline's required actions against a principal's
// policies.
// Example:
//
//	checker := preflight.NewChecker(iamClient)
//	err := checker.Check(ctx, roleARN, queueARN, bucketARN)
type Checker struct {
	client awsclient.IAMClient
}

// NewChecker creates a Checker.
func NewChecker(client awsclient.IAMClient) *Checker {
	return &Checker{client: client}
}

// Check simulates the pipeline's actions for the given principal: the
// queue actions against the queue ARN and object reads against the
// bucket's keys. It returns an error listing every denied action, or nil
// when all actions are allowed.
func (c *Checker) Check(ctx context.Context, principalARN, queueARN, bucketARN string) error {
	if principalARN == "" {
		return fmt.Errorf("principal ARN is required")
	}

	scopes := []struct {
		actions   []string
		resources []string
	}{
		{actions: queueActions, resources: []string{queueARN}},
		{actions: objectActions, resources: []string{bucketARN + "/*"}},
	}

	var denied []string
	for _, scope := range scopes {
		out, err := c.client.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
			PolicySourceArn: &principalARN,
			ActionNames:     scope.actions,
			ResourceArns:    scope.resources,
		})
		if err != nil {
			return fmt.Errorf("simulating principal policy: %w", err)
		}

		for _, result := range out.EvaluationResults {
			if result.EvalDecision != iamtypes.PolicyEvaluationDecisionTypeAllowed {
				action := ""
				if result.EvalActionName != nil {
					action = *result.EvalActionName
				}
				denied = append(denied, fmt.Sprintf("%s (%s)", action, result.EvalDecision))
			}
		}
	}

	if len(denied) > 0 {
		return fmt.Errorf("principal %s is missing permissions: %s", principalARN, strings.Join(denied, ", "))
	}

	return nil
}
