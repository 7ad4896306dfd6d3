package testutil

import (
	"context"
	"sort"

	"github.com/Belphemur/TwinQuery/internal/models"
)

// CollectTwins consumes a twin stream and returns the twins received before the channel closed.
// On an in-band error the twins received so far are returned together with the error.
// This is a test helper and should not be used in production code.
func CollectTwins(ctx context.Context, stream <-chan models.StreamResult[models.TwinDocument]) ([]models.TwinDocument, error) {
	var twins []models.TwinDocument
	for {
		select {
		case result, ok := <-stream:
			if !ok {
				return twins, nil
			}
			if result.Err != nil {
				return twins, result.Err
			}
			twins = append(twins, result.Value)
		case <-ctx.Done():
			return twins, ctx.Err()
		}
	}
}

// TwinIDs returns the "device" or "device/module" ids of twins in stream order.
func TwinIDs(twins []models.TwinDocument) []string {
	ids := make([]string, 0, len(twins))
	for _, twin := range twins {
		ids = append(ids, twin.ID().String())
	}
	return ids
}

// SortedTwinIDs returns TwinIDs sorted, for comparisons that do not depend on hub order.
func SortedTwinIDs(twins []models.TwinDocument) []string {
	ids := TwinIDs(twins)
	sort.Strings(ids)
	return ids
}
