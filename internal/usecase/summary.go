package usecase

import (
	"context"
	"sort"
)

// StoreSummary represents aggregated face store insights.
type StoreSummary struct {
	TotalFaces     int      `json:"total_faces"`
	DistinctNames  int      `json:"distinct_names"`
	DuplicateNames []string `json:"duplicate_names"`
}

// GetStoreSummary counts stored faces and reports names registered more than once.
func (uc *FaceUseCase) GetStoreSummary(ctx context.Context) (*StoreSummary, error) {
	records, err := uc.ListEntries(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(records))
	for _, rec := range records {
		counts[rec.Name]++
	}

	summary := &StoreSummary{
		TotalFaces:     len(records),
		DistinctNames:  len(counts),
		DuplicateNames: []string{},
	}
	for name, n := range counts {
		if n > 1 {
			summary.DuplicateNames = append(summary.DuplicateNames, name)
		}
	}
	sort.Strings(summary.DuplicateNames)

	return summary, nil
}
