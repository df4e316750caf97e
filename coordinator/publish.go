package coordinator

import (
	"context"
	"fmt"
)

// PublishChallenges upserts a set of (token, keyAuthorization) pairs onto
// the LB's HTTP-01 datagroup directly, independent of an in-flight Issue/
// Renew call (spec §6 publish_http01_challenges).
func (c *Coordinator) PublishChallenges(ctx context.Context, partition, datagroupName string, tokens map[string]string) error {
	if partition == "" {
		partition = c.datagroupPartition
	}
	if datagroupName == "" {
		datagroupName = c.datagroupName
	}
	if err := c.lb.DatagroupUpsert(ctx, partition, datagroupName, tokens); err != nil {
		return &Error{Kind: KindLBAPIError, Err: fmt.Errorf("publish_http01_challenges: %w", err)}
	}
	return nil
}
